// Package inference derives additional relationships from the ontology
// mappings attached to a preset. Derivation is a pure function of a
// document snapshot: there is no cache, and an identical snapshot always
// yields an identical derived-edge set.
package inference

import (
	"fmt"
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.uber.org/zap"

	"github.com/threatcanvas/core/domain/graph"
	"github.com/threatcanvas/core/domain/preset"
)

// DefaultMaxPasses caps rule application per recompute. If the derived set
// has not stabilized by the cap, the engine stops and reports
// non-convergence rather than looping indefinitely.
const DefaultMaxPasses = 3

// Warning is a non-fatal condition raised during a recompute
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (w Warning) String() string {
	return w.Code + ": " + w.Message
}

// rule is a compiled ontology mapping
type rule struct {
	mapping   preset.OntologyMapping
	condition *vm.Program // nil means always derive
}

// Engine evaluates a preset's ontology mappings over document snapshots.
// Rule conditions are compiled once at construction and reused for every
// recompute; the engine itself holds no derived state.
type Engine struct {
	preset *preset.Preset
	rules  []rule
	passes int
	logger *zap.Logger
}

// New compiles the preset's ontology mappings into an engine. A mapping
// whose condition fails to compile is rejected here rather than silently
// skipped at derive time.
func New(p *preset.Preset, maxPasses int, logger *zap.Logger) (*Engine, error) {
	if maxPasses <= 0 {
		maxPasses = DefaultMaxPasses
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	rules := make([]rule, 0, len(p.Ontology))
	for _, mapping := range p.Ontology {
		r := rule{mapping: mapping}
		if mapping.Condition != "" {
			program, err := expr.Compile(mapping.Condition,
				expr.AsBool(),
				expr.AllowUndefinedVariables())
			if err != nil {
				return nil, fmt.Errorf("ontology mapping %q: compile condition: %w", mapping.ID, err)
			}
			r.condition = program
		}
		rules = append(rules, r)
	}

	// Ascending priority so the highest-priority rule applies last and
	// wins conflicts for a node pair; ties break on mapping id to keep
	// evaluation order deterministic.
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].mapping.Priority != rules[j].mapping.Priority {
			return rules[i].mapping.Priority < rules[j].mapping.Priority
		}
		return rules[i].mapping.ID < rules[j].mapping.ID
	})

	return &Engine{
		preset: p,
		rules:  rules,
		passes: maxPasses,
		logger: logger,
	}, nil
}

// entry tracks which rule (by evaluation index) derived a pair's edge, so
// higher-priority rules override and lower-priority ones never claw back.
type entry struct {
	edge    graph.Edge
	ruleIdx int
}

// Derive recomputes the full derived-edge set for a snapshot. Derived edges
// are tagged Inferred and never enter the store or its history; callers
// overlay them on the snapshot for display.
//
// The recompute is a monotone fixpoint: each pass sees the previous pass's
// derived edges (enabling transitive rules) and the set only grows or has
// pairs overridden by higher-priority rules, so identical snapshots always
// converge to identical sets.
func (e *Engine) Derive(snapshot *graph.Document) ([]graph.Edge, []Warning) {
	if len(e.rules) == 0 {
		return nil, nil
	}

	derived := make(map[string]entry)
	var warnings []Warning

	converged := false
	for pass := 0; pass < e.passes; pass++ {
		if !e.runPass(snapshot, derived) {
			converged = true
			break
		}
	}

	if !converged && e.wouldChange(snapshot, derived) {
		warnings = append(warnings, Warning{
			Code:    "INFERENCE_NON_CONVERGENCE",
			Message: fmt.Sprintf("derived set did not stabilize within %d passes", e.passes),
		})
		e.logger.Warn("inference did not converge", zap.Int("passes", e.passes))
	}

	edges := make([]graph.Edge, 0, len(derived))
	for _, ent := range derived {
		edges = append(edges, ent.edge)
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })

	return edges, warnings
}

// runPass applies every rule once over the snapshot plus the edges derived
// so far, reporting whether the derived set changed. A rule only writes a
// pair that is unclaimed or claimed by a rule of lower or equal priority
// order, which is what makes repeated passes settle.
func (e *Engine) runPass(snapshot *graph.Document, derived map[string]entry) bool {
	changed := false

	nodeIDs := sortedNodeIDs(snapshot)
	for ruleIdx, r := range e.rules {
		rel, ok := e.preset.Relationship(r.mapping.Derive)
		if !ok {
			continue // preset validation rejects this; belt and braces
		}

		sources := e.matchClass(snapshot, nodeIDs, r.mapping.Class)
		targets := e.matchClass(snapshot, nodeIDs, r.mapping.TargetClass)

		for _, srcID := range sources {
			src := snapshot.Nodes[srcID]
			for _, tgtID := range targets {
				if srcID == tgtID {
					continue
				}
				tgt := snapshot.Nodes[tgtID]

				if !rel.AllowsSource(src.TypeID) || !rel.AllowsTarget(tgt.TypeID) {
					continue
				}

				key := srcID + "\x00" + tgtID
				if cur, claimed := derived[key]; claimed && cur.ruleIdx > ruleIdx {
					continue
				}
				if !e.conditionHolds(r, snapshot, derived, src, tgt) {
					continue
				}

				edge := derivedEdge(r.mapping, srcID, tgtID)
				if cur, claimed := derived[key]; !claimed || cur.edge.ID != edge.ID {
					derived[key] = entry{edge: edge, ruleIdx: ruleIdx}
					changed = true
				}
			}
		}
	}

	return changed
}

// wouldChange checks whether one more pass would still change the derived
// set, without keeping its effects
func (e *Engine) wouldChange(snapshot *graph.Document, derived map[string]entry) bool {
	probe := make(map[string]entry, len(derived))
	for k, v := range derived {
		probe[k] = v
	}
	return e.runPass(snapshot, probe)
}

// matchClass returns the ids of nodes whose type declares the class, in
// sorted order
func (e *Engine) matchClass(snapshot *graph.Document, sortedIDs []string, class string) []string {
	typeIDs := e.preset.NodeTypesByClass(class)
	allowed := make(map[string]bool, len(typeIDs))
	for _, id := range typeIDs {
		allowed[id] = true
	}

	matched := make([]string, 0)
	for _, id := range sortedIDs {
		if allowed[snapshot.Nodes[id].TypeID] {
			matched = append(matched, id)
		}
	}
	return matched
}

// conditionHolds evaluates the rule's compiled condition against the
// candidate pair. Evaluation failures count as non-matches: a rule that
// cannot be evaluated derives nothing rather than poisoning the recompute.
func (e *Engine) conditionHolds(r rule, snapshot *graph.Document, derived map[string]entry, src, tgt graph.Node) bool {
	if r.condition == nil {
		return true
	}

	env := map[string]interface{}{
		"source":       nodeEnv(src),
		"target":       tgtEnv(tgt),
		"nodeCount":    len(snapshot.Nodes),
		"edgeCount":    len(snapshot.Edges),
		"linked":       linked(snapshot, derived, src.ID, tgt.ID),
		"sharedValues": sharedValues(src, tgt),
	}

	out, err := expr.Run(r.condition, env)
	if err != nil {
		e.logger.Debug("condition evaluation failed",
			zap.String("mapping", r.mapping.ID),
			zap.Error(err))
		return false
	}

	holds, _ := out.(bool)
	return holds
}

func nodeEnv(n graph.Node) map[string]interface{} {
	return map[string]interface{}{
		"id":         n.ID,
		"typeId":     n.TypeID,
		"properties": n.Properties,
	}
}

// tgtEnv mirrors nodeEnv; kept separate so the two halves of the pair can
// diverge independently if the env grows.
func tgtEnv(n graph.Node) map[string]interface{} {
	return nodeEnv(n)
}

// linked reports whether any edge, authored or derived so far, already
// connects the pair in either direction
func linked(snapshot *graph.Document, derived map[string]entry, a, b string) bool {
	for _, edge := range snapshot.Edges {
		if (edge.SourceID == a && edge.TargetID == b) || (edge.SourceID == b && edge.TargetID == a) {
			return true
		}
	}
	for _, ent := range derived {
		if (ent.edge.SourceID == a && ent.edge.TargetID == b) || (ent.edge.SourceID == b && ent.edge.TargetID == a) {
			return true
		}
	}
	return false
}

// sharedValues counts scalar property values the pair has in common, a
// cheap affinity signal usable from rule conditions
func sharedValues(a, b graph.Node) int {
	count := 0
	for _, av := range a.Properties {
		switch av.(type) {
		case string, float64, bool:
		default:
			continue
		}
		for _, bv := range b.Properties {
			if av == bv {
				count++
				break
			}
		}
	}
	return count
}

// derivedEdge builds the edge a mapping derives for a pair. The id is a
// deterministic function of (mapping, source, target) so recomputes agree.
func derivedEdge(m preset.OntologyMapping, srcID, tgtID string) graph.Edge {
	props := make(map[string]interface{}, len(m.SetAttributes)+1)
	for k, v := range m.SetAttributes {
		props[k] = v
	}
	props["derivedBy"] = m.ID

	return graph.Edge{
		ID:         fmt.Sprintf("inferred--%s--%s--%s", m.ID, srcID, tgtID),
		TypeID:     m.Derive,
		SourceID:   srcID,
		TargetID:   tgtID,
		Properties: props,
		Inferred:   true,
	}
}

func sortedNodeIDs(doc *graph.Document) []string {
	ids := make([]string, 0, len(doc.Nodes))
	for id := range doc.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
