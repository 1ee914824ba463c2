package actionloop

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// VerificationKind labels which configured check produced an outcome.
type VerificationKind string

const (
	VerifyLint    VerificationKind = "lint"
	VerifyCompile VerificationKind = "compile"
)

// VerificationOutcome captures one run of an external lint/build command.
// TimedOut is distinct from an ordinary non-zero exit. Attached to a Turn
// after mutations run; never recomputed.
type VerificationOutcome struct {
	Kind        VerificationKind `json:"kind"`
	Passed      bool             `json:"passed"`
	TimedOut    bool             `json:"timed_out"`
	ExitCode    int              `json:"exit_code"`
	Diagnostics []string         `json:"diagnostics,omitempty"`
	DurationMs  int64            `json:"duration_ms"`
}

// Render serializes the outcome for next-turn feedback.
func (o *VerificationOutcome) Render() string {
	if o.TimedOut {
		return fmt.Sprintf("<%s_output>\nverification timed out\n</%s_output>", o.Kind, o.Kind)
	}
	if o.Passed {
		return fmt.Sprintf("<%s_output>passed</%s_output>", o.Kind, o.Kind)
	}
	return fmt.Sprintf("<%s_output>%s</%s_output>", o.Kind, cdata(strings.Join(o.Diagnostics, "\n")), o.Kind)
}

// Verifier runs one externally configured check command against the working
// tree. It is read-only with respect to the mutator's output: it only
// observes exit status and captured text.
type Verifier struct {
	kind    VerificationKind
	command string
	dir     string
	timeout time.Duration
	logger  *zap.Logger
}

// NewVerifier creates a verifier running command (a shell command line) in
// dir with the given timeout.
func NewVerifier(kind VerificationKind, command, dir string, timeout time.Duration, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Verifier{kind: kind, command: command, dir: dir, timeout: timeout, logger: logger}
}

// Run invokes the command and captures its outcome. Success is a zero exit
// status; everything written to stdout/stderr becomes diagnostics.
func (v *Verifier) Run(ctx context.Context) *VerificationOutcome {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	shell, shellArg := "/bin/bash", "-c"
	if runtime.GOOS == "windows" {
		shell, shellArg = "cmd.exe", "/c"
	}

	cmd := exec.CommandContext(ctx, shell, shellArg, v.command)
	cmd.Dir = v.dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	outcome := &VerificationOutcome{
		Kind:       v.kind,
		DurationMs: duration.Milliseconds(),
	}

	combined := strings.TrimSpace(stdout.String() + "\n" + stderr.String())
	if combined != "" {
		outcome.Diagnostics = strings.Split(combined, "\n")
	}

	switch {
	case ctx.Err() == context.DeadlineExceeded:
		outcome.TimedOut = true
		outcome.ExitCode = -1
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		v.logger.Warn("verification timed out",
			zap.String("kind", string(v.kind)),
			zap.Duration("timeout", v.timeout))
	case err == nil:
		outcome.Passed = true
	default:
		if exitErr, ok := err.(*exec.ExitError); ok {
			outcome.ExitCode = exitErr.ExitCode()
		} else {
			outcome.ExitCode = -1
			outcome.Diagnostics = append(outcome.Diagnostics, err.Error())
		}
	}

	v.logger.Info("verification finished",
		zap.String("kind", string(v.kind)),
		zap.Bool("passed", outcome.Passed),
		zap.Bool("timed_out", outcome.TimedOut),
		zap.Int64("duration_ms", outcome.DurationMs))
	return outcome
}
