// Package visualize renders a document.Model's state tree and current
// configuration as Graphviz DOT source, for operator dashboards and
// debugging demos. One cluster per compound/parallel state, active
// states highlighted, edges labeled by the transitions' event
// descriptors.
package visualize

import (
	"bytes"
	"fmt"

	"github.com/comalice/scxml-core/document"
)

// ExportDOT renders model's state tree, highlighting every id in active.
func ExportDOT(model document.Model, active map[string]bool) string {
	var buf bytes.Buffer
	buf.WriteString("digraph Statechart {\n  rankdir=LR;\n  node [shape=box, fontsize=10, style=rounded];\n  edge [fontsize=9];\n")

	renderState(&buf, model, model.RootState(), active)

	for _, id := range model.AllStates() {
		node, ok := model.GetState(id)
		if !ok {
			continue
		}
		for _, t := range node.Transitions {
			label := transitionLabel(t)
			for _, target := range t.Targets {
				fmt.Fprintf(&buf, "  %q -> %q [label=%q];\n", id, target, label)
			}
		}
	}

	buf.WriteString("}\n")
	return buf.String()
}

func transitionLabel(t *document.Transition) string {
	if len(t.Events) == 0 {
		return "ε"
	}
	label := ""
	for i, d := range t.Events {
		if i > 0 {
			label += " "
		}
		label += string(d)
	}
	return label
}

func renderState(buf *bytes.Buffer, model document.Model, id document.StateID, active map[string]bool) {
	node, ok := model.GetState(id)
	if !ok {
		return
	}
	if len(node.Children) > 0 {
		fmt.Fprintf(buf, "  subgraph cluster_%s {\n", id)
		style := ""
		if active[string(id)] {
			style = " style=filled fillcolor=orange"
		}
		fmt.Fprintf(buf, "    label=%q%s;\n", fmt.Sprintf("%s (%s)", id, kindLabel(node.Kind)), style)
		for _, c := range node.Children {
			renderState(buf, model, c, active)
		}
		buf.WriteString("  }\n")
		return
	}
	style := ""
	if active[string(id)] {
		style = " style=filled fillcolor=lightgreen"
	}
	fmt.Fprintf(buf, "  %q [label=%q%s];\n", id, fmt.Sprintf("%s (%s)", id, kindLabel(node.Kind)), style)
}

func kindLabel(k document.StateKind) string {
	switch k {
	case document.Compound:
		return "compound"
	case document.Parallel:
		return "parallel"
	case document.Final:
		return "final"
	case document.HistoryShallow:
		return "history-shallow"
	case document.HistoryDeep:
		return "history-deep"
	default:
		return "atomic"
	}
}
