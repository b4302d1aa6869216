package toolexecutor

import (
	"path"
	"strings"
)

// ToolPolicy hides tools from the manifest and refuses to run them.
// Entries are exact names, glob patterns ("gmail_*"), or "family:<name>".
type ToolPolicy struct {
	Deny []string `json:"deny"`
}

// NewToolPolicy builds a policy from a deny list, ignoring blank entries.
func NewToolPolicy(deny []string) *ToolPolicy {
	p := &ToolPolicy{}
	for _, entry := range deny {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			p.Deny = append(p.Deny, entry)
		}
	}
	return p
}

// IsToolAllowed reports whether a tool of the given family may run.
// Federated tools pass an empty family.
func (tp *ToolPolicy) IsToolAllowed(name string, family Family) bool {
	if tp == nil {
		return true
	}
	for _, entry := range tp.Deny {
		if fam, ok := strings.CutPrefix(entry, "family:"); ok {
			if family != "" && Family(fam) == family {
				return false
			}
			continue
		}
		if entry == "*" || entry == name {
			return false
		}
		if matched, err := path.Match(entry, name); err == nil && matched {
			return false
		}
	}
	return true
}
