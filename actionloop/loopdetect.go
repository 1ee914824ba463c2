package actionloop

import (
	"crypto/sha256"
	"fmt"
)

// actionSignature computes a deterministic signature for one action
// (kind + target + hash of its payload).
func actionSignature(a Action) string {
	h := sha256.New()
	switch a.Kind {
	case ActionWriteFile:
		h.Write([]byte(a.WriteFile.Path))
		h.Write([]byte(a.WriteFile.Content))
	case ActionEditFile:
		h.Write([]byte(a.EditFile.Path))
		for _, e := range a.EditFile.Edits {
			h.Write([]byte(e.Old))
			h.Write([]byte(e.New))
		}
	case ActionNeedContext:
		for _, r := range a.NeedContext.Requests {
			h.Write([]byte(r.Describe()))
		}
	case ActionDone:
		h.Write([]byte(a.Done.Summary))
	}
	return fmt.Sprintf("%s:%x", a.Kind, h.Sum(nil)[:8])
}

// extractActionSignatures extracts signatures from the most recent actions
// in the history, in chronological order.
func extractActionSignatures(history []*Turn, count int) []string {
	var sigs []string
	for i := len(history) - 1; i >= 0 && len(sigs) < count; i-- {
		turn := history[i]
		for j := len(turn.Actions) - 1; j >= 0 && len(sigs) < count; j-- {
			sigs = append(sigs, actionSignature(turn.Actions[j]))
		}
	}
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// DetectLoop checks if the last windowSize actions follow a repeating
// pattern of length 1, 2, or 3. A model re-requesting the same context or
// re-applying the same edit is the classic stall.
func DetectLoop(history []*Turn, windowSize int) bool {
	sigs := extractActionSignatures(history, windowSize)
	if len(sigs) < windowSize {
		return false
	}

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if windowSize%patternLen != 0 {
			continue
		}
		pattern := sigs[:patternLen]
		allMatch := true
		for i := patternLen; i < windowSize && allMatch; i += patternLen {
			for j := 0; j < patternLen; j++ {
				if sigs[i+j] != pattern[j] {
					allMatch = false
					break
				}
			}
		}
		if allMatch {
			return true
		}
	}

	return false
}
