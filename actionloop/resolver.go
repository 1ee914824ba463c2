package actionloop

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
	"go.uber.org/zap"

	"github.com/martinemde/tagloop/overview"
)

// Default caps keeping resolved context inside a reasonable prompt size.
const (
	DefaultMaxGrepResults = 50
	DefaultMaxDirEntries  = 100
)

// ContextEntry is one resolved sub-request: either a text payload or the
// specific failure that prevented resolution.
type ContextEntry struct {
	Request ContextRequest `json:"request"`
	Payload string         `json:"payload,omitempty"`
	Err     error          `json:"-"`
}

// ContextBundle maps a turn's sub-requests to their resolved payloads. It
// is assembled once per context turn and folded into the next prompt.
type ContextBundle struct {
	Entries []ContextEntry `json:"entries"`
}

// Failures counts entries that could not be resolved.
func (b *ContextBundle) Failures() int {
	n := 0
	for _, e := range b.Entries {
		if e.Err != nil {
			n++
		}
	}
	return n
}

// ResolverOption configures a ContextResolver.
type ResolverOption func(*ContextResolver)

// WithMaxGrepResults caps search results per grep request.
func WithMaxGrepResults(n int) ResolverOption {
	return func(r *ContextResolver) {
		if n > 0 {
			r.maxGrep = n
		}
	}
}

// WithOverviewProvider sets the api_overview collaborator.
func WithOverviewProvider(p overview.Provider) ResolverOption {
	return func(r *ContextResolver) {
		r.overview = p
	}
}

// ContextResolver executes need_context sub-requests against the working
// tree without mutating it. Searches honor .gitignore so vendored and
// generated trees stay out of the prompt.
type ContextResolver struct {
	root     string
	overview overview.Provider
	ignore   *ignore.GitIgnore
	maxGrep  int
	maxDir   int
	logger   *zap.Logger
}

// Directories never worth searching, on top of .gitignore rules.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true,
	"__pycache__": true, ".venv": true, "venv": true,
}

// NewContextResolver creates a resolver rooted at the working tree.
func NewContextResolver(root string, logger *zap.Logger, opts ...ResolverOption) *ContextResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &ContextResolver{
		root:    root,
		maxGrep: DefaultMaxGrepResults,
		maxDir:  DefaultMaxDirEntries,
		logger:  logger,
	}
	if gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore")); err == nil {
		r.ignore = gi
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve executes each sub-request independently: one failure never aborts
// the others, and every result (success or the specific failure kind) is
// reported in the bundle.
func (r *ContextResolver) Resolve(ctx context.Context, reqs []ContextRequest) *ContextBundle {
	bundle := &ContextBundle{}
	for _, req := range reqs {
		entry := ContextEntry{Request: req}
		switch req.Kind {
		case RequestFile:
			entry.Payload, entry.Err = r.readFile(req.File.Path)
		case RequestGrep:
			entry.Payload, entry.Err = r.grep(req.Grep.Pattern, req.Grep.Scope)
		case RequestListDir:
			entry.Payload, entry.Err = r.listDir(req.ListDir.Path)
		case RequestAPIOverview:
			entry.Payload, entry.Err = r.apiOverview(ctx, req.APIOverview.Header)
		default:
			entry.Err = fmt.Errorf("unsupported request kind %q", req.Kind)
		}
		if entry.Err != nil {
			r.logger.Debug("context request failed",
				zap.String("request", req.Describe()),
				zap.Error(entry.Err))
		}
		bundle.Entries = append(bundle.Entries, entry)
	}
	return bundle
}

func (r *ContextResolver) readFile(path string) (string, error) {
	target, err := resolveUnderRoot(r.root, path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		if os.IsNotExist(err) {
			return "", &FileNotFoundError{Path: path}
		}
		return "", err
	}
	return string(data), nil
}

func (r *ContextResolver) grep(pattern, scope string) (string, error) {
	base := r.root
	if scope != "" && scope != "." {
		resolved, err := resolveUnderRoot(r.root, scope)
		if err != nil {
			return "", err
		}
		base = resolved
	}
	if info, err := os.Stat(base); err != nil || !info.IsDir() {
		return "", &FileNotFoundError{Path: scope}
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		// Treat an invalid expression as a literal search.
		re = regexp.MustCompile(regexp.QuoteMeta(pattern))
	}

	var lines []string
	total := 0
	walkErr := filepath.WalkDir(base, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if skipDirs[name] || (strings.HasPrefix(name, ".") && path != base) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		rel, relErr := filepath.Rel(r.root, path)
		if relErr != nil {
			return nil
		}
		if r.ignore != nil && r.ignore.MatchesPath(rel) {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil || bytes.IndexByte(data, 0) >= 0 {
			return nil
		}
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				total++
				if total <= r.maxGrep {
					lines = append(lines, fmt.Sprintf("%s:%d: %s", rel, i+1, strings.TrimSpace(line)))
				}
			}
		}
		return nil
	})
	if walkErr != nil {
		return "", walkErr
	}

	if total == 0 {
		return "(no matches)", nil
	}
	if total > r.maxGrep {
		lines = append(lines, fmt.Sprintf("... %d more matches omitted", total-r.maxGrep))
	}
	return strings.Join(lines, "\n"), nil
}

func (r *ContextResolver) listDir(path string) (string, error) {
	base := r.root
	if path != "" && path != "." {
		resolved, err := resolveUnderRoot(r.root, path)
		if err != nil {
			return "", err
		}
		base = resolved
	}
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return "", &FileNotFoundError{Path: path}
		}
		return "", err
	}

	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) == 0 {
		return "(empty)", nil
	}
	if len(names) > r.maxDir {
		omitted := len(names) - r.maxDir
		names = append(names[:r.maxDir], fmt.Sprintf("... %d more entries omitted", omitted))
	}
	return strings.Join(names, "\n"), nil
}

func (r *ContextResolver) apiOverview(ctx context.Context, header string) (string, error) {
	if r.overview == nil {
		return "", &ContextUnavailableError{Header: header}
	}
	text, err := r.overview.Overview(ctx, header)
	if err != nil {
		return "", &ContextUnavailableError{Header: header, Cause: err}
	}
	return text, nil
}
