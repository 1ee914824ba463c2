package actionloop

import (
	"errors"
	"fmt"
)

// Protocol errors: the model's response failed to decode into actions.
// These are recovered by feeding the failure reason back as corrective
// context, bounded by the session's retry budget.

// EmptyActionError means the response contained no recognized action at all.
// It is distinct from malformed syntax so the orchestrator can use a
// different corrective message.
type EmptyActionError struct{}

func (e *EmptyActionError) Error() string {
	return "response contained no recognized actions"
}

// UnknownTagError means the response used a tag outside the closed action
// vocabulary. The message names the offending tag so it can be fed back.
type UnknownTagError struct {
	Tag string
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("unknown action tag %q", e.Tag)
}

// MalformedActionError identifies a recognized tag that could not be
// decoded: unterminated block, missing required attribute, or an invalid
// body. Snippet carries the exact text that failed to match.
type MalformedActionError struct {
	Tag     string
	Reason  string
	Snippet string
}

func (e *MalformedActionError) Error() string {
	return fmt.Sprintf("malformed <%s> action: %s", e.Tag, e.Reason)
}

// MixedTurnError means a single turn combined a need_context request with
// other actions. A turn requesting information performs no mutation.
type MixedTurnError struct{}

func (e *MixedTurnError) Error() string {
	return "a need_context request cannot be combined with other actions in the same turn"
}

// IsProtocolError reports whether err is one of the parse-level failures
// that count against the session's consecutive-retry budget.
func IsProtocolError(err error) bool {
	var empty *EmptyActionError
	var unknown *UnknownTagError
	var malformed *MalformedActionError
	var mixed *MixedTurnError
	return errors.As(err, &empty) || errors.As(err, &unknown) ||
		errors.As(err, &malformed) || errors.As(err, &mixed)
}

// Context and mutation errors: per-request or per-action failures that are
// reported to the model as feedback, never fatal to the session.

// PathOutsideRootError means a path escaped the working-tree root, either
// via an absolute path or ..-traversal. Rejected, never clamped.
type PathOutsideRootError struct {
	Path string
}

func (e *PathOutsideRootError) Error() string {
	return fmt.Sprintf("path outside working tree: %s", e.Path)
}

// FileNotFoundError means a requested file does not exist under the root.
type FileNotFoundError struct {
	Path string
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("file not found: %s", e.Path)
}

// LocatorNotFoundError means an edit locator matched nothing in the target
// file, even under whitespace-normalized comparison.
type LocatorNotFoundError struct {
	Path string
}

func (e *LocatorNotFoundError) Error() string {
	return fmt.Sprintf("old text not found in %s", e.Path)
}

// AmbiguousEditError means an edit locator matched more than one region and
// replace_all was not set. The file is left byte-for-byte unchanged.
type AmbiguousEditError struct {
	Path    string
	Matches int
}

func (e *AmbiguousEditError) Error() string {
	return fmt.Sprintf("old text matches %d regions in %s; add surrounding context or set replace_all", e.Matches, e.Path)
}

// ContextUnavailableError means an api_overview request could not be served:
// no summarizer is configured or the header cannot be resolved. Relayed to
// the model as-is rather than fabricating content.
type ContextUnavailableError struct {
	Header string
	Cause  error
}

func (e *ContextUnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("api overview unavailable for %q: %v", e.Header, e.Cause)
	}
	return fmt.Sprintf("api overview unavailable for %q", e.Header)
}

func (e *ContextUnavailableError) Unwrap() error { return e.Cause }
