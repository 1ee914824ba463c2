package actionloop

// ActionKind discriminates between action types.
type ActionKind string

const (
	ActionWriteFile   ActionKind = "write_file"
	ActionEditFile    ActionKind = "edit_file"
	ActionNeedContext ActionKind = "need_context"
	ActionDone        ActionKind = "done"
)

// Action is one structured instruction decoded from a model response.
// Exactly one of the pointer fields matching Kind is set.
type Action struct {
	Kind        ActionKind         `json:"kind"`
	WriteFile   *WriteFileAction   `json:"write_file,omitempty"`
	EditFile    *EditFileAction    `json:"edit_file,omitempty"`
	NeedContext *NeedContextAction `json:"need_context,omitempty"`
	Done        *DoneAction        `json:"done,omitempty"`
}

// IsMutation reports whether the action changes the working tree.
func (a Action) IsMutation() bool {
	return a.Kind == ActionWriteFile || a.Kind == ActionEditFile
}

// Path returns the target path for mutation actions, or "".
func (a Action) Path() string {
	switch a.Kind {
	case ActionWriteFile:
		if a.WriteFile != nil {
			return a.WriteFile.Path
		}
	case ActionEditFile:
		if a.EditFile != nil {
			return a.EditFile.Path
		}
	}
	return ""
}

// WriteFileAction replaces the full content of a file, creating it and any
// parent directories as needed.
type WriteFileAction struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// EditInstruction is one locator/replacement pair inside an edit_file action.
type EditInstruction struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// EditFileAction applies one or more localized replacements to a file.
// Instructions are applied strictly left-to-right against the current file
// state; the action is all-or-nothing.
type EditFileAction struct {
	Path       string            `json:"path"`
	Edits      []EditInstruction `json:"edits"`
	ReplaceAll bool              `json:"replace_all,omitempty"`
}

// NeedContextAction asks the orchestrator to resolve information requests
// before the next turn. A turn carrying one performs no mutation.
type NeedContextAction struct {
	Requests []ContextRequest `json:"requests"`
}

// DoneAction signals task completion with an optional free-text summary.
type DoneAction struct {
	Summary string `json:"summary,omitempty"`
}

// RequestKind discriminates between context sub-request types.
type RequestKind string

const (
	RequestFile        RequestKind = "file"
	RequestGrep        RequestKind = "grep"
	RequestListDir     RequestKind = "list_dir"
	RequestAPIOverview RequestKind = "api_overview"
)

// ContextRequest is one sub-request inside a need_context action.
type ContextRequest struct {
	Kind        RequestKind         `json:"kind"`
	File        *FileRequest        `json:"file,omitempty"`
	Grep        *GrepRequest        `json:"grep,omitempty"`
	ListDir     *ListDirRequest     `json:"list_dir,omitempty"`
	APIOverview *APIOverviewRequest `json:"api_overview,omitempty"`
}

// FileRequest asks for the content of one file under the working tree.
type FileRequest struct {
	Path string `json:"path"`
}

// GrepRequest asks for a text search bounded to Scope ("." = whole root).
type GrepRequest struct {
	Pattern string `json:"pattern"`
	Scope   string `json:"scope"`
}

// ListDirRequest asks for a directory listing.
type ListDirRequest struct {
	Path string `json:"path"`
}

// APIOverviewRequest asks the external summarizer for condensed
// documentation keyed by header name.
type APIOverviewRequest struct {
	Header string `json:"header"`
}

// Describe returns a short human-readable form used in logs and summaries.
func (r ContextRequest) Describe() string {
	switch r.Kind {
	case RequestFile:
		if r.File != nil {
			return "file " + r.File.Path
		}
	case RequestGrep:
		if r.Grep != nil {
			return "grep " + r.Grep.Pattern + " in " + r.Grep.Scope
		}
	case RequestListDir:
		if r.ListDir != nil {
			return "list_dir " + r.ListDir.Path
		}
	case RequestAPIOverview:
		if r.APIOverview != nil {
			return "api_overview " + r.APIOverview.Header
		}
	}
	return string(r.Kind)
}
