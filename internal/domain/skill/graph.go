package skill

import (
	"fmt"
	"sort"

	"github.com/skillforge/mastery-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PREREQUISITE GRAPH
// The graph is immutable after construction. Cycles and dangling
// prerequisite references are rejected at build time, so selection
// never has to handle a malformed taxonomy.
// ══════════════════════════════════════════════════════════════════════════════

// Graph is a validated prerequisite DAG over a set of skills.
type Graph struct {
	skills     map[shared.SkillID]*Skill
	dependents map[shared.SkillID][]shared.SkillID
	topo       []shared.SkillID
}

// NewGraph builds a graph from the given skills. It fails with a
// configuration error if a prerequisite references an unknown skill
// or the edges contain a cycle.
func NewGraph(skills []*Skill) (*Graph, error) {
	byID := make(map[shared.SkillID]*Skill, len(skills))
	for _, s := range skills {
		if _, dup := byID[s.ID]; dup {
			return nil, shared.WrapError("skill", "BuildGraph", shared.ErrConfiguration,
				fmt.Sprintf("duplicate skill %q", s.ID), nil)
		}
		byID[s.ID] = s
	}

	dependents := make(map[shared.SkillID][]shared.SkillID, len(skills))
	indegree := make(map[shared.SkillID]int, len(skills))
	for _, s := range skills {
		indegree[s.ID] += 0
		for _, prereq := range s.Prerequisites {
			if _, ok := byID[prereq]; !ok {
				return nil, shared.WrapError("skill", "BuildGraph", shared.ErrConfiguration,
					fmt.Sprintf("skill %q requires unknown skill %q", s.ID, prereq), nil)
			}
			dependents[prereq] = append(dependents[prereq], s.ID)
			indegree[s.ID]++
		}
	}

	// Kahn's algorithm. Anything left unvisited sits on a cycle.
	queue := make([]shared.SkillID, 0, len(skills))
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Slice(queue, func(i, j int) bool { return queue[i] < queue[j] })

	topo := make([]shared.SkillID, 0, len(skills))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		topo = append(topo, id)

		next := append([]shared.SkillID(nil), dependents[id]...)
		sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
		for _, dep := range next {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(topo) != len(skills) {
		remaining := make([]string, 0)
		for id, deg := range indegree {
			if deg > 0 {
				remaining = append(remaining, id.String())
			}
		}
		sort.Strings(remaining)
		return nil, shared.WrapError("skill", "BuildGraph", shared.ErrConfiguration,
			fmt.Sprintf("prerequisite cycle involving %v", remaining), nil)
	}

	return &Graph{
		skills:     byID,
		dependents: dependents,
		topo:       topo,
	}, nil
}

// Get returns the skill with the given ID.
func (g *Graph) Get(id shared.SkillID) (*Skill, bool) {
	s, ok := g.skills[id]
	return s, ok
}

// Contains reports whether the skill is part of the graph.
func (g *Graph) Contains(id shared.SkillID) bool {
	_, ok := g.skills[id]
	return ok
}

// Size returns the number of skills.
func (g *Graph) Size() int {
	return len(g.skills)
}

// Prerequisites returns the direct prerequisites of a skill.
func (g *Graph) Prerequisites(id shared.SkillID) []shared.SkillID {
	s, ok := g.skills[id]
	if !ok {
		return nil
	}
	return append([]shared.SkillID(nil), s.Prerequisites...)
}

// Dependents returns the skills that list id as a prerequisite.
func (g *Graph) Dependents(id shared.SkillID) []shared.SkillID {
	return append([]shared.SkillID(nil), g.dependents[id]...)
}

// TopoOrder returns skill IDs in a prerequisite-respecting order.
// Ties are broken lexicographically so the order is deterministic.
func (g *Graph) TopoOrder() []shared.SkillID {
	return append([]shared.SkillID(nil), g.topo...)
}

// IsUnlocked reports whether every direct prerequisite of the skill
// meets the mastery floor. Missing profiles count as mastery 0.
func (g *Graph) IsUnlocked(id shared.SkillID, mastery func(shared.SkillID) float64, floor float64) bool {
	s, ok := g.skills[id]
	if !ok {
		return false
	}
	for _, prereq := range s.Prerequisites {
		if mastery(prereq) < floor {
			return false
		}
	}
	return true
}

// UnlockedSkills returns every skill whose prerequisites all meet the
// mastery floor, in topological order.
func (g *Graph) UnlockedSkills(mastery func(shared.SkillID) float64, floor float64) []shared.SkillID {
	out := make([]shared.SkillID, 0, len(g.topo))
	for _, id := range g.topo {
		if g.IsUnlocked(id, mastery, floor) {
			out = append(out, id)
		}
	}
	return out
}
