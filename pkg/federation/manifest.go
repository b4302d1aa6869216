package federation

import (
	"sort"

	"github.com/diegosucaria/deedee-sub000/pkg/provider"
)

// Manifest is an immutable snapshot of the federated namespace.
type Manifest struct {
	tools []provider.Tool
	index map[string]int
}

func emptyManifest() *Manifest {
	return &Manifest{index: map[string]int{}}
}

// buildManifest resolves name collisions in favour of the lexically smaller
// provider id, independent of listing order.
func buildManifest(tools []provider.Tool, onCollision func(name, winner, loser string)) *Manifest {
	sorted := make([]provider.Tool, len(tools))
	copy(sorted, tools)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Provider != sorted[j].Provider {
			return sorted[i].Provider < sorted[j].Provider
		}
		return sorted[i].Name < sorted[j].Name
	})

	owner := make(map[string]provider.Tool, len(sorted))
	for _, tool := range sorted {
		if tool.Name == "" {
			continue
		}
		if existing, taken := owner[tool.Name]; taken {
			if existing.Provider != tool.Provider && onCollision != nil {
				onCollision(tool.Name, existing.Provider, tool.Provider)
			}
			continue
		}
		owner[tool.Name] = tool
	}

	m := &Manifest{
		tools: make([]provider.Tool, 0, len(owner)),
		index: make(map[string]int, len(owner)),
	}
	for _, tool := range owner {
		m.tools = append(m.tools, tool)
	}
	sort.Slice(m.tools, func(i, j int) bool { return m.tools[i].Name < m.tools[j].Name })
	for i, tool := range m.tools {
		m.index[tool.Name] = i
	}
	return m
}

// Lookup finds a tool by exact name.
func (m *Manifest) Lookup(name string) (provider.Tool, bool) {
	i, ok := m.index[name]
	if !ok {
		return provider.Tool{}, false
	}
	return m.tools[i], true
}

// Tools returns the descriptors sorted by name. The slice is a copy.
func (m *Manifest) Tools() []provider.Tool {
	out := make([]provider.Tool, len(m.tools))
	copy(out, m.tools)
	return out
}

func (m *Manifest) Len() int { return len(m.tools) }

func (m *Manifest) countByProvider() map[string]int {
	counts := make(map[string]int)
	for _, tool := range m.tools {
		counts[tool.Provider]++
	}
	return counts
}
