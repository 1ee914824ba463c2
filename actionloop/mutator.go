package actionloop

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/zap"
)

// ActionResult describes one successfully applied mutation.
type ActionResult struct {
	Action    Action `json:"action"`
	Detail    string `json:"detail"`
	Additions int    `json:"additions"` // lines added
	Deletions int    `json:"deletions"` // lines removed
}

// MutationReport is the outcome of applying one turn's mutation batch.
// Actions are applied strictly in emission order; on the first failure the
// rest of the batch is skipped and Applied records what landed before it.
type MutationReport struct {
	Applied []ActionResult `json:"applied"`
	Failed  *Action        `json:"failed,omitempty"`
	Err     error          `json:"-"`
}

// AllApplied reports whether the whole batch landed.
func (r *MutationReport) AllApplied() bool { return r.Err == nil }

// FileMutator applies write_file and edit_file actions to the working tree.
// All paths are relative to the root; absolute paths and ..-traversal are
// rejected. Writes are atomic (temp file + rename) and edits are
// all-or-nothing per action.
type FileMutator struct {
	root   string
	logger *zap.Logger
}

// NewFileMutator creates a mutator rooted at the given working tree.
func NewFileMutator(root string, logger *zap.Logger) *FileMutator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileMutator{root: root, logger: logger}
}

// Apply executes the batch in order, stopping at the first failure.
func (m *FileMutator) Apply(batch []Action) *MutationReport {
	report := &MutationReport{}
	for i := range batch {
		action := batch[i]
		var result ActionResult
		var err error
		switch action.Kind {
		case ActionWriteFile:
			result, err = m.applyWrite(action)
		case ActionEditFile:
			result, err = m.applyEdit(action)
		default:
			continue
		}
		if err != nil {
			m.logger.Warn("mutation failed",
				zap.String("path", action.Path()),
				zap.String("kind", string(action.Kind)),
				zap.Error(err))
			report.Failed = &batch[i]
			report.Err = err
			return report
		}
		m.logger.Info("mutation applied",
			zap.String("path", action.Path()),
			zap.String("kind", string(action.Kind)),
			zap.String("detail", result.Detail))
		report.Applied = append(report.Applied, result)
	}
	return report
}

func (m *FileMutator) applyWrite(action Action) (ActionResult, error) {
	w := action.WriteFile
	target, err := resolveUnderRoot(m.root, w.Path)
	if err != nil {
		return ActionResult{}, err
	}

	var before string
	if data, err := os.ReadFile(target); err == nil {
		before = string(data)
	}

	if err := atomicWrite(target, w.Content); err != nil {
		return ActionResult{}, err
	}

	adds, dels := diffLineStats(before, w.Content)
	return ActionResult{
		Action:    action,
		Detail:    fmt.Sprintf("wrote %d bytes to %s", len(w.Content), w.Path),
		Additions: adds,
		Deletions: dels,
	}, nil
}

func (m *FileMutator) applyEdit(action Action) (ActionResult, error) {
	e := action.EditFile
	target, err := resolveUnderRoot(m.root, e.Path)
	if err != nil {
		return ActionResult{}, err
	}

	data, readErr := os.ReadFile(target)
	content := string(data)
	exists := readErr == nil

	// Instructions run left-to-right against the in-memory content; nothing
	// touches disk until every instruction has succeeded.
	replacements := 0
	for _, edit := range e.Edits {
		if strings.TrimSpace(edit.Old) == "" {
			// An empty locator means "create this file".
			if exists {
				return ActionResult{}, fmt.Errorf("cannot create %s via empty old text: file already exists", e.Path)
			}
			content = edit.New
			exists = true
			replacements++
			continue
		}
		if !exists {
			return ActionResult{}, &FileNotFoundError{Path: e.Path}
		}
		next, n, err := applyReplacement(content, edit.Old, edit.New, e.ReplaceAll, e.Path)
		if err != nil {
			return ActionResult{}, err
		}
		content = next
		replacements += n
	}

	if err := atomicWrite(target, content); err != nil {
		return ActionResult{}, err
	}

	before := string(data)
	adds, dels := diffLineStats(before, content)
	return ActionResult{
		Action:    action,
		Detail:    fmt.Sprintf("replaced %d occurrence(s) in %s", replacements, e.Path),
		Additions: adds,
		Deletions: dels,
	}, nil
}

// applyReplacement locates old in content and substitutes new. Exact
// substring match is tried first; failing that, a line-window comparison
// under whitespace normalization. Zero matches is LocatorNotFound; multiple
// matches without replaceAll is AmbiguousEdit.
func applyReplacement(content, old, repl string, replaceAll bool, path string) (string, int, error) {
	if count := strings.Count(content, old); count > 0 {
		if count > 1 && !replaceAll {
			return "", 0, &AmbiguousEditError{Path: path, Matches: count}
		}
		if replaceAll {
			return strings.ReplaceAll(content, old, repl), count, nil
		}
		return strings.Replace(content, old, repl, 1), 1, nil
	}

	// Whitespace-tolerant fallback: compare normalized line windows.
	oldLines := strings.Split(strings.Trim(old, "\n"), "\n")
	contentLines := strings.Split(content, "\n")
	matches := findWindowMatches(contentLines, oldLines)

	if len(matches) == 0 {
		return "", 0, &LocatorNotFoundError{Path: path}
	}
	if len(matches) > 1 && !replaceAll {
		return "", 0, &AmbiguousEditError{Path: path, Matches: len(matches)}
	}

	newLines := strings.Split(repl, "\n")
	// Replace bottom-to-top so earlier window indices stay valid.
	for i := len(matches) - 1; i >= 0; i-- {
		at := matches[i]
		rebuilt := make([]string, 0, len(contentLines)-len(oldLines)+len(newLines))
		rebuilt = append(rebuilt, contentLines[:at]...)
		rebuilt = append(rebuilt, newLines...)
		rebuilt = append(rebuilt, contentLines[at+len(oldLines):]...)
		contentLines = rebuilt
	}
	return strings.Join(contentLines, "\n"), len(matches), nil
}

// findWindowMatches returns the starting line indices where the normalized
// window of contentLines equals the normalized oldLines.
func findWindowMatches(contentLines, oldLines []string) []int {
	if len(oldLines) == 0 || len(oldLines) > len(contentLines) {
		return nil
	}
	oldNorm := normalizeLines(oldLines)
	var matches []int
	for i := 0; i+len(oldLines) <= len(contentLines); i++ {
		if normalizeLines(contentLines[i:i+len(oldLines)]) == oldNorm {
			matches = append(matches, i)
		}
	}
	return matches
}

// normalizeLines trims trailing whitespace and collapses inner space runs
// while preserving each line's leading indentation.
func normalizeLines(lines []string) string {
	normalized := make([]string, len(lines))
	for i, line := range lines {
		stripped := strings.TrimRight(line, " \t")
		if stripped == "" {
			continue
		}
		trimmed := strings.TrimLeft(stripped, " \t")
		indent := stripped[:len(stripped)-len(trimmed)]
		normalized[i] = indent + strings.Join(strings.Fields(trimmed), " ")
	}
	return strings.Join(normalized, "\n")
}

// atomicWrite writes content to a temp file in the target directory and
// renames it into place, so a crash mid-write never leaves a partial file.
func atomicWrite(target, content string) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tagloop-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// resolveUnderRoot joins path to root, rejecting absolute paths and any
// ..-traversal that would escape the root.
func resolveUnderRoot(root, path string) (string, error) {
	if path == "" || filepath.IsAbs(path) {
		return "", &PathOutsideRootError{Path: path}
	}
	clean := filepath.Clean(path)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", &PathOutsideRootError{Path: path}
	}
	return filepath.Join(root, clean), nil
}

// diffLineStats counts added and removed lines between two versions.
func diffLineStats(before, after string) (additions, deletions int) {
	if before == after {
		return 0, 0
	}
	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)
	for _, d := range diffs {
		lines := strings.Count(d.Text, "\n")
		if !strings.HasSuffix(d.Text, "\n") && d.Text != "" {
			lines++
		}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			additions += lines
		case diffmatchpatch.DiffDelete:
			deletions += lines
		}
	}
	return additions, deletions
}
