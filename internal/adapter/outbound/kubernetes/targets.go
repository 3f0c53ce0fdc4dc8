package kubernetes

import (
	"fmt"
	"strings"

	"github.com/jonny/sentinel/internal/domain/model"
)

// Target names the workload that runs an environment.
type Target struct {
	Namespace  string
	Deployment string
	Container  string
	// Image is the repository; the snapshot's commit becomes the tag.
	Image string
}

// Targets maps environments onto workloads and refuses protected namespaces.
type Targets struct {
	byEnv     map[model.Environment]Target
	blockedNS map[string]bool
}

// NewTargets builds a Targets set. Entries in a blocked namespace are rejected
// up front so a misconfiguration fails at startup, not during a rollback.
func NewTargets(targets map[model.Environment]Target, blockedNamespaces []string) (*Targets, error) {
	t := &Targets{
		byEnv:     make(map[model.Environment]Target, len(targets)),
		blockedNS: make(map[string]bool, len(blockedNamespaces)),
	}
	for _, ns := range blockedNamespaces {
		t.blockedNS[strings.ToLower(ns)] = true
	}
	for env, tgt := range targets {
		if tgt.Namespace == "" || tgt.Deployment == "" || tgt.Image == "" {
			return nil, fmt.Errorf("target for %s needs namespace, deployment and image", env)
		}
		if t.IsNamespaceBlocked(tgt.Namespace) {
			return nil, fmt.Errorf("target for %s is in blocked namespace %s", env, tgt.Namespace)
		}
		t.byEnv[env] = tgt
	}
	return t, nil
}

// IsNamespaceBlocked reports whether ns is protected.
func (t *Targets) IsNamespaceBlocked(ns string) bool {
	return t.blockedNS[strings.ToLower(ns)]
}

// For returns the target configured for env.
func (t *Targets) For(env model.Environment) (Target, bool) {
	tgt, ok := t.byEnv[env]
	return tgt, ok
}

// ImageRef returns repository:tag, replacing any tag already on the repository.
func (tg Target) ImageRef(tag string) string {
	repo := tg.Image
	if i := strings.LastIndex(repo, ":"); i > strings.LastIndex(repo, "/") {
		repo = repo[:i]
	}
	return repo + ":" + tag
}
