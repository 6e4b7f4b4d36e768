package plan

import (
	"fmt"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// OwnershipRule maps a path glob to the approvers required when a plan
// touches a matching file. Patterns support * and ** with shell-glob
// semantics; escaping follows doublestar (backslash escapes a
// metacharacter).
type OwnershipRule struct {
	Pattern   string   `yaml:"pattern"`
	Approvers []string `yaml:"approvers"`
}

// OwnershipRules is an ordered rule list loaded from owners.yaml
type OwnershipRules struct {
	Rules []OwnershipRule `yaml:"rules"`
}

// LoadOwnershipRules reads rules from a YAML file. A missing file is
// not an error: it means no path requires designated approvers.
func LoadOwnershipRules(path string) (*OwnershipRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &OwnershipRules{}, nil
		}
		return nil, err
	}

	var rules OwnershipRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parsing ownership rules: %w", err)
	}
	for _, r := range rules.Rules {
		if !doublestar.ValidatePattern(r.Pattern) {
			return nil, fmt.Errorf("invalid ownership pattern: %q", r.Pattern)
		}
	}
	return &rules, nil
}

// RequiredApprovers returns the deduplicated approver set for the
// given affected paths, sorted for stable output
func (o *OwnershipRules) RequiredApprovers(paths []string) []string {
	if o == nil || len(o.Rules) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var approvers []string
	for _, rule := range o.Rules {
		for _, p := range paths {
			match, err := doublestar.Match(rule.Pattern, p)
			if err != nil || !match {
				continue
			}
			for _, a := range rule.Approvers {
				if !seen[a] {
					seen[a] = true
					approvers = append(approvers, a)
				}
			}
			break
		}
	}
	sort.Strings(approvers)
	return approvers
}
