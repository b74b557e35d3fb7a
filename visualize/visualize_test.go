package visualize

import (
	"strings"
	"testing"

	"github.com/comalice/scxml-core/document"
	"github.com/comalice/scxml-core/document/memdoc"
)

func TestExportDOTHighlightsActiveStates(t *testing.T) {
	m, err := memdoc.NewBuilder("traffic", "", document.EarlyBinding).
		Compound("traffic").WithInitial("red").
		Atomic("red").Transition([]string{"timer"}, "", []string{"green"}, document.External).
		Atomic("green").
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	dot := ExportDOT(m, map[string]bool{"traffic": true, "red": true})
	if !strings.Contains(dot, "digraph Statechart") {
		t.Fatal("want a digraph header")
	}
	if !strings.Contains(dot, `"red"`) || !strings.Contains(dot, "lightgreen") {
		t.Fatalf("want active leaf red highlighted, got:\n%s", dot)
	}
	if !strings.Contains(dot, `"red" -> "green"`) {
		t.Fatalf("want an edge for the timer transition, got:\n%s", dot)
	}
}
