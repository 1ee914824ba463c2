package actionloop

import (
	"regexp"
	"strings"
)

// DefaultSystemPrompt is used when no system prompt is configured. It
// defines the role and the hard rule that every reply is action XML.
const DefaultSystemPrompt = `You are a coding agent that edits files in a project.
You cannot run commands or call functions. Your ONLY way to act is to reply
with XML action tags in the documented format. Reply with actions only, no
other commentary. Request context before editing files you have not seen.
When the task is complete and verification passes, reply with <done>.`

// OutputFormat documents the action vocabulary for the model. It travels
// with every prompt because small models forget formats that are stated
// once.
const OutputFormat = `<output_format>
To create or fully overwrite a file:
  <write_file path="src/main.c">
  full file content here
  </write_file>

To edit an existing file (old must match exactly one region):
  <edit_file path="src/main.c">
    <old>exact text to replace</old>
    <new>replacement text</new>
  </edit_file>

To request more context:
  <need_context>
    <file path="src/main.c" />
    <grep pattern="some_function" scope="src" />
    <list_dir path="." />
    <api_overview header="driver/gpio.h" />
  </need_context>

When the task is complete:
  <done>short summary of what was done</done>
</output_format>`

// PromptInput collects everything that feeds one outbound prompt.
type PromptInput struct {
	Task        string
	TurnSummary string // digest of the previous turn
	ContextXML  string // rendered ContextBundle, if the last turn requested context
	Feedback    string // corrective feedback: parse errors, mutation failures, diagnostics
}

// BuildUserMessage assembles the user message for a turn. Every prompt is
// deterministically derivable from the session history plus the latest
// bundle and outcomes; there is no hidden state.
func BuildUserMessage(in PromptInput) string {
	var sb strings.Builder

	sb.WriteString("## Task\n")
	sb.WriteString(strings.TrimSpace(in.Task))
	sb.WriteString("\n")

	if in.TurnSummary != "" {
		sb.WriteString("\n## Previous turn\n")
		sb.WriteString(strings.TrimSpace(in.TurnSummary))
		sb.WriteString("\n")
	}

	if in.Feedback != "" {
		sb.WriteString("\n## Feedback\n")
		sb.WriteString(strings.TrimSpace(in.Feedback))
		sb.WriteString("\n")
	}

	if strings.TrimSpace(in.ContextXML) != "" {
		sb.WriteString("\n## Context\n")
		sb.WriteString(in.ContextXML)
		sb.WriteString("\n")
	}

	sb.WriteString("\n## Your response\n")
	sb.WriteString("Output your actions as XML using the format below.\n")
	sb.WriteString(OutputFormat)
	sb.WriteString("\n")

	return sb.String()
}

var atMentionRE = regexp.MustCompile(`(?:^|\s)@([\w./-]+)`)

// ExtractAtMentions returns the @path/to/file references in a task
// description, in order, deduplicated. The caller preloads them into the
// first prompt's context.
func ExtractAtMentions(task string) []string {
	var paths []string
	seen := make(map[string]bool)
	for _, m := range atMentionRE.FindAllStringSubmatch(task, -1) {
		p := strings.TrimRight(m[1], ".")
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		paths = append(paths, p)
	}
	return paths
}
