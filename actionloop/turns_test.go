package actionloop

import (
	"strings"
	"testing"
)

func TestTurnSummary(t *testing.T) {
	turn := &Turn{
		Actions: []Action{
			writeAction("a.go", "x"),
			writeAction("b.go", "y"),
			editAction("c.go", false, "1", "2"),
		},
		Verification: []*VerificationOutcome{
			{Kind: VerifyLint, Passed: true},
			{Kind: VerifyCompile, Passed: false},
		},
	}
	got := turn.Summary()
	for _, want := range []string{"Wrote: a.go, b.go", "Edited: c.go", "lint: passed", "compile: failed"} {
		if !strings.Contains(got, want) {
			t.Errorf("Summary() = %q, missing %q", got, want)
		}
	}
}

func TestTurnSummaryParseError(t *testing.T) {
	turn := &Turn{ParseErr: "unknown action tag \"delete_file\""}
	if got := turn.Summary(); !strings.Contains(got, "delete_file") {
		t.Errorf("Summary() = %q", got)
	}
}
