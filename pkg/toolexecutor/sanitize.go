package toolexecutor

import "strings"

// Namespace qualifiers models invent in front of tool names.
var hallucinatedPrefixes = []string{"default_api.", "functions.", "tools.", "tool."}

// SanitizeToolName strips a namespace prefix the model put in front of a tool
// name. A name that is already known is returned unchanged; otherwise a known
// qualifier is removed, then any dotted qualifier whose suffix is known.
func SanitizeToolName(name string, known func(string) bool) string {
	name = strings.TrimSpace(name)
	if known == nil {
		known = func(string) bool { return false }
	}
	if known(name) {
		return name
	}

	for _, prefix := range hallucinatedPrefixes {
		if stripped, ok := strings.CutPrefix(name, prefix); ok && stripped != "" {
			name = stripped
			break
		}
	}
	if known(name) {
		return name
	}

	if i := strings.LastIndex(name, "."); i >= 0 && i < len(name)-1 {
		if suffix := name[i+1:]; known(suffix) {
			return suffix
		}
	}
	return name
}
