package model

// ApprovalPolicy governs who may approve sensitive actions in one environment.
type ApprovalPolicy struct {
	Environment       Environment `json:"environment" yaml:"environment"`
	Approvers         []string    `json:"approvers" yaml:"approvers"`
	AllowSelfApproval bool        `json:"allow_self_approval" yaml:"allowSelfApproval"`
}

// PermitsApprover reports whether approver is on the allow-list. An empty list
// admits anyone.
func (p ApprovalPolicy) PermitsApprover(approver string) bool {
	if len(p.Approvers) == 0 {
		return true
	}
	for _, a := range p.Approvers {
		if a == approver {
			return true
		}
	}
	return false
}
