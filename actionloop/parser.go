package actionloop

import (
	"regexp"
	"sort"
	"strings"
)

// ParsedTurn holds the ordered action sequence decoded from one model
// response.
type ParsedTurn struct {
	Actions []Action
}

// NeedContext returns the turn's context request, or nil.
func (p *ParsedTurn) NeedContext() *NeedContextAction {
	for _, a := range p.Actions {
		if a.Kind == ActionNeedContext {
			return a.NeedContext
		}
	}
	return nil
}

// Mutations returns the turn's mutation actions in emission order.
func (p *ParsedTurn) Mutations() []Action {
	var ms []Action
	for _, a := range p.Actions {
		if a.IsMutation() {
			ms = append(ms, a)
		}
	}
	return ms
}

// Done returns the turn's done action, or nil.
func (p *ParsedTurn) Done() *DoneAction {
	for _, a := range p.Actions {
		if a.Kind == ActionDone {
			return a.Done
		}
	}
	return nil
}

// Recognized tag vocabulary. write_file and edit_file bodies are matched
// with content-safe regexes so raw &, <, > in code never break decoding;
// the remaining tags are light enough for attribute-level regexes too.
var (
	writeFileRE = regexp.MustCompile(`(?is)<write_file\b([^>]*)>(.*?)</write_file>`)
	editFileRE  = regexp.MustCompile(`(?is)<edit_file\b([^>]*)>(.*?)</edit_file>`)
	oldNewRE    = regexp.MustCompile(`(?is)<old>(.*?)</old>\s*<new>(.*?)</new>`)

	needContextRE = regexp.MustCompile(`(?is)<need_context\b[^>]*>(.*?)</need_context>`)
	subRequestRE  = regexp.MustCompile(`(?i)<([a-z_]+)\b([^>]*?)/?>`)

	doneBlockRE = regexp.MustCompile(`(?is)<done\b[^>]*>(.*?)</done>`)
	doneSelfRE  = regexp.MustCompile(`(?i)<done\s*/>`)
	doneOpenRE  = regexp.MustCompile(`(?i)<done\b`)

	openTagRE = map[string]*regexp.Regexp{
		"write_file":   regexp.MustCompile(`(?i)<write_file\b`),
		"edit_file":    regexp.MustCompile(`(?i)<edit_file\b`),
		"need_context": regexp.MustCompile(`(?i)<need_context\b`),
	}

	attrRE = regexp.MustCompile(`([a-zA-Z_][a-zA-Z0-9_-]*)\s*=\s*"([^"]*)"`)

	// Lowercase tag-shaped tokens only, so prose like "a<b" or "<stdio.h>"
	// does not trip the unknown-tag check.
	tagTokenRE = regexp.MustCompile(`</?([a-z_][a-z0-9_]*)\s*(?:/?>|\s[^>]*>)`)
)

var knownTags = map[string]bool{
	"write_file": true, "edit_file": true, "need_context": true, "done": true,
	"old": true, "new": true,
	"file": true, "read_file": true, "grep": true, "list_dir": true, "api_overview": true,
}

// Parse decodes a raw model response into an ordered action sequence.
// It returns a protocol error (EmptyActionError, UnknownTagError,
// MalformedActionError, MixedTurnError) when the response does not fit the
// closed action vocabulary; the error text is suitable for feeding back to
// the model verbatim.
func Parse(response string) (*ParsedTurn, error) {
	block := extractTagBlock(response)
	if block == "" {
		return nil, &EmptyActionError{}
	}

	type positioned struct {
		offset int
		action Action
	}
	var mutations []positioned

	// write_file actions.
	writeMatches := writeFileRE.FindAllStringSubmatchIndex(block, -1)
	for _, m := range writeMatches {
		attrs := parseAttrs(block[m[2]:m[3]])
		path := strings.TrimSpace(attrs["path"])
		if path == "" {
			return nil, &MalformedActionError{
				Tag:     "write_file",
				Reason:  "missing required attribute path",
				Snippet: snippet(block[m[0]:m[1]]),
			}
		}
		mutations = append(mutations, positioned{m[0], Action{
			Kind:      ActionWriteFile,
			WriteFile: &WriteFileAction{Path: path, Content: trimBody(block[m[4]:m[5]])},
		}})
	}
	if err := checkUnterminated(block, "write_file", len(writeMatches)); err != nil {
		return nil, err
	}

	// edit_file actions.
	editMatches := editFileRE.FindAllStringSubmatchIndex(block, -1)
	for _, m := range editMatches {
		raw := block[m[0]:m[1]]
		attrs := parseAttrs(block[m[2]:m[3]])
		path := strings.TrimSpace(attrs["path"])
		if path == "" {
			return nil, &MalformedActionError{
				Tag:     "edit_file",
				Reason:  "missing required attribute path",
				Snippet: snippet(raw),
			}
		}
		body := block[m[4]:m[5]]
		var edits []EditInstruction
		for _, em := range oldNewRE.FindAllStringSubmatch(body, -1) {
			edits = append(edits, EditInstruction{Old: trimBody(em[1]), New: trimBody(em[2])})
		}
		if len(edits) == 0 {
			return nil, &MalformedActionError{
				Tag:     "edit_file",
				Reason:  "body must contain one or more <old>/<new> instruction pairs",
				Snippet: snippet(raw),
			}
		}
		mutations = append(mutations, positioned{m[0], Action{
			Kind: ActionEditFile,
			EditFile: &EditFileAction{
				Path:       path,
				Edits:      edits,
				ReplaceAll: strings.EqualFold(attrs["replace_all"], "true"),
			},
		}})
	}
	if err := checkUnterminated(block, "edit_file", len(editMatches)); err != nil {
		return nil, err
	}

	// Strip the content-heavy blocks before looking at the rest.
	residue := writeFileRE.ReplaceAllString(block, "")
	residue = editFileRE.ReplaceAllString(residue, "")

	// need_context actions. Multiple blocks merge into one request list.
	var contextReqs []ContextRequest
	ncMatches := needContextRE.FindAllStringSubmatch(residue, -1)
	for _, m := range ncMatches {
		reqs, err := parseSubRequests(m[1])
		if err != nil {
			return nil, err
		}
		contextReqs = append(contextReqs, reqs...)
	}
	if len(ncMatches) > 0 && len(contextReqs) == 0 {
		return nil, &MalformedActionError{
			Tag:    "need_context",
			Reason: "body must contain one or more file, grep, list_dir, or api_overview sub-requests",
		}
	}
	if err := checkUnterminated(residue, "need_context", len(ncMatches)); err != nil {
		return nil, err
	}
	residue = needContextRE.ReplaceAllString(residue, "")

	// done action.
	var done *DoneAction
	if m := doneBlockRE.FindStringSubmatch(residue); m != nil {
		done = &DoneAction{Summary: strings.TrimSpace(xmlUnescape(m[1]))}
		residue = doneBlockRE.ReplaceAllString(residue, "")
	} else if doneSelfRE.MatchString(residue) {
		done = &DoneAction{}
		residue = doneSelfRE.ReplaceAllString(residue, "")
	} else if m := doneOpenRE.FindStringIndex(residue); m != nil {
		return nil, &MalformedActionError{
			Tag:     "done",
			Reason:  "unterminated tag",
			Snippet: snippet(residue[m[0]:]),
		}
	}

	// Anything still tag-shaped is outside the closed vocabulary.
	for _, m := range tagTokenRE.FindAllStringSubmatch(residue, -1) {
		if !knownTags[m[1]] {
			return nil, &UnknownTagError{Tag: m[1]}
		}
	}

	if len(contextReqs) > 0 && (len(mutations) > 0 || done != nil) {
		return nil, &MixedTurnError{}
	}
	if len(contextReqs) == 0 && len(mutations) == 0 && done == nil {
		return nil, &EmptyActionError{}
	}

	sort.SliceStable(mutations, func(i, j int) bool {
		return mutations[i].offset < mutations[j].offset
	})

	turn := &ParsedTurn{}
	for _, p := range mutations {
		turn.Actions = append(turn.Actions, p.action)
	}
	if len(contextReqs) > 0 {
		turn.Actions = append(turn.Actions, Action{
			Kind:        ActionNeedContext,
			NeedContext: &NeedContextAction{Requests: contextReqs},
		})
	}
	if done != nil {
		turn.Actions = append(turn.Actions, Action{Kind: ActionDone, Done: done})
	}
	return turn, nil
}

// parseSubRequests decodes the body of a need_context block.
func parseSubRequests(body string) ([]ContextRequest, error) {
	var reqs []ContextRequest
	for _, m := range subRequestRE.FindAllStringSubmatch(body, -1) {
		tag := strings.ToLower(m[1])
		attrs := parseAttrs(m[2])
		switch tag {
		case "file", "read_file":
			path := strings.TrimSpace(attrs["path"])
			if path == "" {
				return nil, &MalformedActionError{Tag: tag, Reason: "missing required attribute path", Snippet: snippet(m[0])}
			}
			reqs = append(reqs, ContextRequest{Kind: RequestFile, File: &FileRequest{Path: path}})
		case "grep":
			pattern := attrs["pattern"]
			if pattern == "" {
				return nil, &MalformedActionError{Tag: tag, Reason: "missing required attribute pattern", Snippet: snippet(m[0])}
			}
			scope := strings.TrimSpace(attrs["scope"])
			if scope == "" {
				scope = strings.TrimSpace(attrs["path"])
			}
			if scope == "" {
				scope = "."
			}
			reqs = append(reqs, ContextRequest{Kind: RequestGrep, Grep: &GrepRequest{Pattern: pattern, Scope: scope}})
		case "list_dir":
			path := strings.TrimSpace(attrs["path"])
			if path == "" {
				path = "."
			}
			reqs = append(reqs, ContextRequest{Kind: RequestListDir, ListDir: &ListDirRequest{Path: path}})
		case "api_overview":
			header := strings.TrimSpace(attrs["header"])
			if header == "" {
				return nil, &MalformedActionError{Tag: tag, Reason: "missing required attribute header", Snippet: snippet(m[0])}
			}
			reqs = append(reqs, ContextRequest{Kind: RequestAPIOverview, APIOverview: &APIOverviewRequest{Header: header}})
		default:
			return nil, &UnknownTagError{Tag: tag}
		}
	}
	return reqs, nil
}

// extractTagBlock trims surrounding prose: models often wrap actions in
// explanation, so only the span from the first "<" to the last ">" is
// considered.
func extractTagBlock(text string) string {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "<")
	end := strings.LastIndex(text, ">")
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// checkUnterminated reports a malformed error when more opening tags exist
// than complete blocks were matched.
func checkUnterminated(text, tag string, matched int) error {
	opens := openTagRE[tag].FindAllStringIndex(text, -1)
	if len(opens) > matched {
		last := opens[len(opens)-1]
		return &MalformedActionError{
			Tag:     tag,
			Reason:  "unterminated tag",
			Snippet: snippet(text[last[0]:]),
		}
	}
	return nil
}

// parseAttrs decodes key="value" pairs; ordering and surrounding whitespace
// are insignificant. Values get standard entity decoding.
func parseAttrs(s string) map[string]string {
	attrs := make(map[string]string)
	for _, m := range attrRE.FindAllStringSubmatch(s, -1) {
		attrs[strings.ToLower(m[1])] = xmlUnescape(m[2])
	}
	return attrs
}

var entityReplacer = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&amp;", "&",
)

func xmlUnescape(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	return entityReplacer.Replace(s)
}

// trimBody strips the single newline that the tag itself introduces on each
// side of a block body, leaving inner whitespace intact.
func trimBody(s string) string {
	s = strings.TrimPrefix(s, "\r\n")
	s = strings.TrimPrefix(s, "\n")
	s = strings.TrimSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\r")
	return s
}

const maxSnippetLen = 120

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxSnippetLen {
		return s[:maxSnippetLen] + "..."
	}
	return s
}
