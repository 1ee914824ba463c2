package actionloop

import "testing"

func turnWithActions(actions ...Action) *Turn {
	return &Turn{Actions: actions}
}

func TestDetectLoopRepeatedSingleAction(t *testing.T) {
	a := writeAction("same.txt", "same content")
	history := []*Turn{
		turnWithActions(a), turnWithActions(a), turnWithActions(a),
		turnWithActions(a), turnWithActions(a), turnWithActions(a),
	}
	if !DetectLoop(history, 6) {
		t.Error("six identical actions should register as a loop")
	}
}

func TestDetectLoopAlternatingPair(t *testing.T) {
	a := writeAction("a.txt", "x")
	b := editAction("b.txt", false, "1", "2")
	history := []*Turn{
		turnWithActions(a, b), turnWithActions(a, b), turnWithActions(a, b),
	}
	if !DetectLoop(history, 6) {
		t.Error("an a/b/a/b pattern should register as a loop")
	}
}

func TestDetectLoopNoRepeat(t *testing.T) {
	history := []*Turn{
		turnWithActions(writeAction("a.txt", "1")),
		turnWithActions(writeAction("b.txt", "2")),
		turnWithActions(writeAction("c.txt", "3")),
		turnWithActions(writeAction("d.txt", "4")),
		turnWithActions(writeAction("e.txt", "5")),
		turnWithActions(writeAction("f.txt", "6")),
	}
	if DetectLoop(history, 6) {
		t.Error("distinct actions must not register as a loop")
	}
}

func TestDetectLoopInsufficientHistory(t *testing.T) {
	a := writeAction("a.txt", "x")
	history := []*Turn{turnWithActions(a), turnWithActions(a)}
	if DetectLoop(history, 6) {
		t.Error("short history must not register as a loop")
	}
}

func TestDetectLoopSamePathDifferentContent(t *testing.T) {
	history := []*Turn{
		turnWithActions(writeAction("a.txt", "v1")),
		turnWithActions(writeAction("a.txt", "v2")),
		turnWithActions(writeAction("a.txt", "v3")),
		turnWithActions(writeAction("a.txt", "v4")),
		turnWithActions(writeAction("a.txt", "v5")),
		turnWithActions(writeAction("a.txt", "v6")),
	}
	if DetectLoop(history, 6) {
		t.Error("iterating on one file with new content is progress, not a loop")
	}
}
