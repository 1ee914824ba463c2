package actionloop

import (
	"strings"
	"time"

	"github.com/martinemde/tagloop/textgen"
)

// Turn is one request/response cycle in a session. Turns are appended to
// the history and never mutated afterward, except to attach the mutation
// report and verification outcomes once they exist.
type Turn struct {
	Index        int                    `json:"index"`
	Timestamp    time.Time              `json:"timestamp"`
	Prompt       string                 `json:"prompt"`
	Response     string                 `json:"response"`
	Actions      []Action               `json:"actions,omitempty"`
	ParseErr     string                 `json:"parse_error,omitempty"`
	Mutation     *MutationReport        `json:"mutation,omitempty"`
	Verification []*VerificationOutcome `json:"verification,omitempty"`
	Usage        textgen.Usage          `json:"usage"`
}

// NewTurn creates a turn for the given prompt/response pair.
func NewTurn(index int, prompt, response string, usage textgen.Usage) *Turn {
	return &Turn{
		Index:     index,
		Timestamp: time.Now(),
		Prompt:    prompt,
		Response:  response,
		Usage:     usage,
	}
}

// Summary returns the short per-turn digest folded into the next prompt.
func (t *Turn) Summary() string {
	var parts []string
	var wrote, edited []string
	for _, a := range t.Actions {
		switch a.Kind {
		case ActionWriteFile:
			wrote = append(wrote, a.WriteFile.Path)
		case ActionEditFile:
			edited = append(edited, a.EditFile.Path)
		}
	}
	if len(wrote) > 0 {
		parts = append(parts, "Wrote: "+strings.Join(wrote, ", "))
	}
	if len(edited) > 0 {
		parts = append(parts, "Edited: "+strings.Join(edited, ", "))
	}
	if t.Mutation != nil && t.Mutation.Err != nil {
		parts = append(parts, "Mutation failed: "+t.Mutation.Err.Error())
	}
	for _, v := range t.Verification {
		switch {
		case v.TimedOut:
			parts = append(parts, string(v.Kind)+": timed out")
		case v.Passed:
			parts = append(parts, string(v.Kind)+": passed")
		default:
			parts = append(parts, string(v.Kind)+": failed")
		}
	}
	if t.ParseErr != "" {
		parts = append(parts, "Response could not be parsed: "+t.ParseErr)
	}
	if len(parts) == 0 {
		return "No changes."
	}
	return strings.Join(parts, " ")
}
