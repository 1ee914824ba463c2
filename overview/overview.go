// Package overview defines the API-overview collaborator boundary: a
// summarizer keyed by header or module name that returns condensed textual
// documentation. How a provider condenses a header is its own business;
// consumers only see text or ErrUnavailable.
package overview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrUnavailable is returned when a header cannot be resolved or no
// provider is configured. Callers must relay it rather than fabricating
// content.
var ErrUnavailable = errors.New("api overview unavailable")

// Provider resolves a header name to condensed documentation text.
type Provider interface {
	Overview(ctx context.Context, header string) (string, error)
}

// DirProvider serves pre-generated overview files from a directory. A
// header "driver/gpio.h" resolves to <root>/driver/gpio.h.txt, falling back
// to the bare file name so flat layouts work too.
type DirProvider struct {
	root string
}

// NewDirProvider creates a DirProvider rooted at dir.
func NewDirProvider(dir string) *DirProvider {
	return &DirProvider{root: dir}
}

func (p *DirProvider) Overview(_ context.Context, header string) (string, error) {
	if p.root == "" {
		return "", ErrUnavailable
	}
	candidates := []string{
		filepath.Join(p.root, header+".txt"),
		filepath.Join(p.root, filepath.Base(header)+".txt"),
	}
	for _, path := range candidates {
		// Header names come from the model; keep lookups inside the root.
		rel, err := filepath.Rel(p.root, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		data, err := os.ReadFile(path)
		if err == nil {
			return string(data), nil
		}
	}
	return "", fmt.Errorf("%w: no overview for %q", ErrUnavailable, header)
}

// CommandProvider shells out to a configured summarizer, passing the header
// name as the final argument. A non-zero exit or empty output maps to
// ErrUnavailable.
type CommandProvider struct {
	command string
	args    []string
	dir     string
}

// NewCommandProvider creates a CommandProvider. dir may be empty to run in
// the current directory.
func NewCommandProvider(command string, args []string, dir string) *CommandProvider {
	return &CommandProvider{command: command, args: args, dir: dir}
}

func (p *CommandProvider) Overview(ctx context.Context, header string) (string, error) {
	if p.command == "" {
		return "", ErrUnavailable
	}
	args := append(append([]string{}, p.args...), header)
	cmd := exec.CommandContext(ctx, p.command, args...)
	cmd.Dir = p.dir
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: summarizer failed for %q: %v", ErrUnavailable, header, err)
	}
	text := strings.TrimSpace(stdout.String())
	if text == "" {
		return "", fmt.Errorf("%w: summarizer produced no output for %q", ErrUnavailable, header)
	}
	return text, nil
}
