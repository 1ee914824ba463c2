package actionloop

import (
	"fmt"
	"strings"
)

// Render serializes the bundle as the XML context block folded into the
// next prompt. Successes carry their payloads (CDATA-wrapped where content
// may contain markup); failures are reported per-request with their
// specific reason so the model can adapt.
func (b *ContextBundle) Render() string {
	if len(b.Entries) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("<context>\n")
	for _, entry := range b.Entries {
		if entry.Err != nil {
			fmt.Fprintf(&sb, "  <context_error request=\"%s\" reason=\"%s\" />\n",
				xmlEscape(entry.Request.Describe()), xmlEscape(entry.Err.Error()))
			continue
		}
		switch entry.Request.Kind {
		case RequestFile:
			fmt.Fprintf(&sb, "  <file path=\"%s\">%s</file>\n",
				xmlEscape(entry.Request.File.Path), cdata(entry.Payload))
		case RequestGrep:
			fmt.Fprintf(&sb, "  <search pattern=\"%s\" scope=\"%s\">\n%s\n  </search>\n",
				xmlEscape(entry.Request.Grep.Pattern), xmlEscape(entry.Request.Grep.Scope),
				xmlEscape(entry.Payload))
		case RequestListDir:
			fmt.Fprintf(&sb, "  <list_dir path=\"%s\">\n%s\n  </list_dir>\n",
				xmlEscape(entry.Request.ListDir.Path), xmlEscape(entry.Payload))
		case RequestAPIOverview:
			fmt.Fprintf(&sb, "  <api_overview header=\"%s\">%s</api_overview>\n",
				xmlEscape(entry.Request.APIOverview.Header), cdata(entry.Payload))
		}
	}
	sb.WriteString("</context>")
	return sb.String()
}

// Render serializes the mutation report for next-turn feedback: which
// actions landed (with diff stats) and, on failure, what failed and why.
func (r *MutationReport) Render() string {
	var sb strings.Builder
	for _, res := range r.Applied {
		fmt.Fprintf(&sb, "applied %s %s (+%d -%d lines)\n",
			res.Action.Kind, res.Action.Path(), res.Additions, res.Deletions)
	}
	if r.Err != nil {
		path := ""
		if r.Failed != nil {
			path = r.Failed.Path()
		}
		sb.WriteString("<edit_failures>\n")
		fmt.Fprintf(&sb, "FAILED at %s: %v\n", path, r.Err)
		fmt.Fprintf(&sb, "%d action(s) were applied before the failure; the rest of the batch was skipped.\n",
			len(r.Applied))
		sb.WriteString("</edit_failures>\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

func xmlEscape(s string) string {
	return xmlEscaper.Replace(s)
}

// cdata wraps content in a CDATA section, splitting any "]]>" the content
// itself contains.
func cdata(s string) string {
	s = strings.ReplaceAll(s, "]]>", "]]]]><![CDATA[>")
	return "<![CDATA[\n" + s + "\n]]>"
}
