package service

import (
	"fmt"

	"github.com/jonny/sentinel/internal/domain/model"
)

// PolicyEvaluator decides whether an actor may approve a sensitive action in an
// environment. Environments without a policy admit any approver except the
// requester.
type PolicyEvaluator struct {
	policies map[model.Environment]model.ApprovalPolicy
}

func NewPolicyEvaluator(policies []model.ApprovalPolicy) *PolicyEvaluator {
	m := make(map[model.Environment]model.ApprovalPolicy, len(policies))
	for _, p := range policies {
		m[p.Environment] = p
	}
	return &PolicyEvaluator{policies: m}
}

// Policy returns the policy for env, or the default when none is configured.
func (e *PolicyEvaluator) Policy(env model.Environment) model.ApprovalPolicy {
	if p, ok := e.policies[env]; ok {
		return p
	}
	return model.ApprovalPolicy{Environment: env}
}

// CheckApprover returns a ValidationError when approver may not sign off on a
// request made by requestedBy.
func (e *PolicyEvaluator) CheckApprover(env model.Environment, requestedBy, approver string) error {
	p := e.Policy(env)
	if !p.PermitsApprover(approver) {
		return model.NewValidationError("approver",
			fmt.Sprintf("%s is not an approver for %s", approver, env))
	}
	if !p.AllowSelfApproval && requestedBy != "" && requestedBy == approver {
		return model.NewValidationError("approver",
			fmt.Sprintf("%s cannot approve their own request in %s", approver, env))
	}
	return nil
}
