package capability

import (
	"fmt"
	"maps"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/cartable/model"
)

// policyFile is the on-disk policy. A role in inherits also receives the
// capabilities of the listed roles, transitively.
type policyFile struct {
	Roles    map[string][]string `yaml:"roles"`
	Inherits map[string][]string `yaml:"inherits"`
}

// DefaultRoles is the policy used when no policy file is configured.
var DefaultRoles = map[string][]string{
	"ADMIN": {"*"},
}

// StaticPolicyEvaluator grants capabilities by role from a YAML file.
// Role names compare case-insensitively.
type StaticPolicyEvaluator struct {
	path string

	mu     sync.RWMutex
	byRole map[string]model.CapabilitySet
}

// NewStaticPolicyEvaluator loads path, or DefaultRoles when path is empty.
func NewStaticPolicyEvaluator(path string) (*StaticPolicyEvaluator, error) {
	e := &StaticPolicyEvaluator{path: path}
	if err := e.Sync(); err != nil {
		return nil, err
	}
	return e, nil
}

// ResolveCapabilities returns a copy of the caller's role grants.
func (e *StaticPolicyEvaluator) ResolveCapabilities(rctx *model.RequestContext) (model.CapabilitySet, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return maps.Clone(e.byRole[strings.ToUpper(rctx.Role)]), nil
}

// Sync reloads the policy file. On error the previous policy stays active.
func (e *StaticPolicyEvaluator) Sync() error {
	p := policyFile{Roles: DefaultRoles}
	if e.path != "" {
		data, err := os.ReadFile(e.path)
		if err != nil {
			return fmt.Errorf("capability: read policy %s: %w", e.path, err)
		}
		p = policyFile{}
		if err := yaml.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("capability: parse policy %s: %w", e.path, err)
		}
	}

	byRole, err := flatten(p)
	if err != nil {
		return fmt.Errorf("capability: policy %s: %w", e.path, err)
	}
	e.mu.Lock()
	e.byRole = byRole
	e.mu.Unlock()
	return nil
}

// flatten expands inheritance into one capability set per role.
func flatten(p policyFile) (map[string]model.CapabilitySet, error) {
	direct := make(map[string][]string, len(p.Roles))
	for role, caps := range p.Roles {
		direct[strings.ToUpper(role)] = caps
	}
	parents := make(map[string][]string, len(p.Inherits))
	for role, from := range p.Inherits {
		for _, parent := range from {
			parents[strings.ToUpper(role)] = append(parents[strings.ToUpper(role)], strings.ToUpper(parent))
		}
	}

	out := make(map[string]model.CapabilitySet, len(direct)+len(parents))
	var expand func(role string, path []string) (model.CapabilitySet, error)
	expand = func(role string, path []string) (model.CapabilitySet, error) {
		if set, done := out[role]; done {
			return set, nil
		}
		for _, seen := range path {
			if seen == role {
				return nil, fmt.Errorf("inheritance cycle %s -> %s", strings.Join(path, " -> "), role)
			}
		}
		set := make(model.CapabilitySet)
		for _, c := range direct[role] {
			set[c] = true
		}
		for _, parent := range parents[role] {
			inherited, err := expand(parent, append(path, role))
			if err != nil {
				return nil, err
			}
			maps.Copy(set, inherited)
		}
		out[role] = set
		return set, nil
	}

	for role := range direct {
		if _, err := expand(role, nil); err != nil {
			return nil, err
		}
	}
	for role := range parents {
		if _, err := expand(role, nil); err != nil {
			return nil, err
		}
	}
	return out, nil
}
