package actionloop

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/martinemde/tagloop/textgen"
)

// SessionState represents the current lifecycle state of a session.
type SessionState string

const (
	StateRunning         SessionState = "running"
	StateAwaitingContext SessionState = "awaiting_context"
	StateDone            SessionState = "done"
	StateFailed          SessionState = "failed"
)

// SessionConfig holds configuration for a session.
type SessionConfig struct {
	MaxTurns            int    `json:"max_turns"`        // whole-session turn budget
	ProtocolRetries     int    `json:"protocol_retries"` // consecutive parse-failure budget
	Model               string `json:"model,omitempty"`
	Provider            string `json:"provider,omitempty"`
	SystemPrompt        string `json:"system_prompt,omitempty"`
	EnableLoopDetection bool   `json:"enable_loop_detection"`
	LoopDetectionWindow int    `json:"loop_detection_window"`
}

// DefaultSessionConfig returns the default configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxTurns:            10,
		ProtocolRetries:     3,
		SystemPrompt:        DefaultSystemPrompt,
		EnableLoopDetection: true,
		LoopDetectionWindow: 6,
	}
}

// Report is the terminal summary returned to the caller.
type Report struct {
	SessionID string        `json:"session_id"`
	State     SessionState  `json:"state"`
	Turns     int           `json:"turns"`
	Summary   string        `json:"summary,omitempty"`
	Usage     textgen.Usage `json:"usage"`
}

// Session drives one task through the multi-turn action loop. It owns the
// only mutable state; the parser, resolver, mutator, and verifiers are
// stateless with respect to it and are invoked synchronously, one at a
// time, per turn.
type Session struct {
	id        string
	root      string
	config    SessionConfig
	client    *textgen.Client
	resolver  *ContextResolver
	mutator   *FileMutator
	verifiers []*Verifier
	emitter   *EventEmitter
	logger    *zap.Logger

	history []*Turn
	state   SessionState
	mu      sync.Mutex
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *zap.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithResolver replaces the default context resolver.
func WithResolver(r *ContextResolver) SessionOption {
	return func(s *Session) {
		s.resolver = r
	}
}

// WithMutator replaces the default file mutator.
func WithMutator(m *FileMutator) SessionOption {
	return func(s *Session) {
		s.mutator = m
	}
}

// WithVerifiers sets the verification steps run after mutations.
func WithVerifiers(vs ...*Verifier) SessionOption {
	return func(s *Session) {
		s.verifiers = append(s.verifiers, vs...)
	}
}

// NewSession creates a session working on the tree rooted at root, talking
// to the model through client.
func NewSession(root string, client *textgen.Client, config *SessionConfig, opts ...SessionOption) *Session {
	cfg := DefaultSessionConfig()
	if config != nil {
		cfg = *config
		if cfg.MaxTurns <= 0 {
			cfg.MaxTurns = 10
		}
		if cfg.ProtocolRetries <= 0 {
			cfg.ProtocolRetries = 3
		}
		if cfg.SystemPrompt == "" {
			cfg.SystemPrompt = DefaultSystemPrompt
		}
		if cfg.LoopDetectionWindow <= 0 {
			cfg.LoopDetectionWindow = 6
		}
	}

	id := uuid.New().String()
	s := &Session{
		id:      id,
		root:    root,
		config:  cfg,
		client:  client,
		emitter: NewEventEmitter(id, 256),
		logger:  zap.NewNop(),
		state:   StateRunning,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.resolver == nil {
		s.resolver = NewContextResolver(root, s.logger)
	}
	if s.mutator == nil {
		s.mutator = NewFileMutator(root, s.logger)
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns a copy of the turn history.
func (s *Session) History() []*Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := make([]*Turn, len(s.history))
	copy(h, s.history)
	return h
}

// Events returns the event channel for the host application.
func (s *Session) Events() <-chan SessionEvent {
	return s.emitter.Events()
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run drives the task to a terminal state. It returns the terminal report;
// err is non-nil when the session failed (budget exhaustion, cancellation,
// or an unrecoverable model/working-tree error).
func (s *Session) Run(ctx context.Context, task string) (*Report, error) {
	defer func() {
		s.emitter.Emit(EventSessionEnd, map[string]interface{}{"state": string(s.State())})
		s.emitter.Close()
	}()

	if info, err := os.Stat(s.root); err != nil || !info.IsDir() {
		return s.fail("working tree root missing: " + s.root)
	}

	s.setState(StateRunning)
	s.emitter.Emit(EventSessionStart, map[string]interface{}{"task": task})
	s.logger.Info("session started",
		zap.String("session_id", s.id),
		zap.String("root", s.root))

	var totalUsage textgen.Usage
	pendingContext := s.preloadMentions(ctx, task)
	feedback := ""
	turnSummary := ""
	protocolFailures := 0

	for turnIndex := 0; turnIndex < s.config.MaxTurns; turnIndex++ {
		select {
		case <-ctx.Done():
			// The working tree stays at the last atomically committed
			// state; nothing is half-applied across this boundary.
			s.setState(StateFailed)
			rep := s.report("cancelled")
			rep.Usage = totalUsage
			return rep, ctx.Err()
		default:
		}

		prompt := BuildUserMessage(PromptInput{
			Task:        task,
			TurnSummary: turnSummary,
			ContextXML:  pendingContext,
			Feedback:    feedback,
		})
		pendingContext, feedback = "", ""

		s.emitter.Emit(EventTurnStart, map[string]interface{}{"turn": turnIndex})

		resp, err := s.client.Complete(ctx, textgen.Request{
			Model:    s.config.Model,
			Provider: s.config.Provider,
			Messages: []textgen.Message{
				textgen.SystemMessage(s.config.SystemPrompt),
				textgen.UserMessage(prompt),
			},
		})
		if err != nil {
			// The client already applied its retry policy; whatever
			// reaches here is terminal for the session.
			s.emitter.Emit(EventError, map[string]interface{}{"error": err.Error()})
			s.setState(StateFailed)
			rep := s.report("model call failed: " + err.Error())
			rep.Usage = totalUsage
			return rep, err
		}
		totalUsage = totalUsage.Add(resp.Usage)

		turn := NewTurn(turnIndex, prompt, resp.Text, resp.Usage)
		s.mu.Lock()
		s.history = append(s.history, turn)
		s.mu.Unlock()
		s.emitter.Emit(EventModelResponse, map[string]interface{}{
			"turn": turnIndex,
			"text": resp.Text,
		})

		parsed, parseErr := Parse(resp.Text)
		if parseErr != nil {
			turn.ParseErr = parseErr.Error()
			protocolFailures++
			s.emitter.Emit(EventProtocolError, map[string]interface{}{
				"turn":  turnIndex,
				"error": parseErr.Error(),
			})
			s.logger.Warn("protocol error",
				zap.Int("turn", turnIndex),
				zap.Int("consecutive", protocolFailures),
				zap.Error(parseErr))
			if protocolFailures >= s.config.ProtocolRetries {
				s.setState(StateFailed)
				rep := s.report(fmt.Sprintf("protocol retry budget exhausted after %d consecutive failures: %s",
					protocolFailures, parseErr.Error()))
				rep.Usage = totalUsage
				s.emitter.Emit(EventFailed, map[string]interface{}{"reason": rep.Summary})
				return rep, fmt.Errorf("protocol retry budget exhausted: %w", parseErr)
			}
			feedback = correctiveFeedback(parseErr)
			turnSummary = turn.Summary()
			continue
		}
		protocolFailures = 0
		turn.Actions = parsed.Actions
		s.emitter.Emit(EventActionsParsed, map[string]interface{}{
			"turn":    turnIndex,
			"actions": len(parsed.Actions),
		})

		// Context turn: resolve and fold into the next prompt. No mutation,
		// no verification.
		if nc := parsed.NeedContext(); nc != nil {
			s.setState(StateAwaitingContext)
			bundle := s.resolver.Resolve(ctx, nc.Requests)
			s.emitter.Emit(EventContextResolved, map[string]interface{}{
				"turn":     turnIndex,
				"requests": len(nc.Requests),
				"failures": bundle.Failures(),
			})
			pendingContext = bundle.Render()
			turnSummary = fmt.Sprintf("Requested context (%d item(s), %d unavailable).",
				len(nc.Requests), bundle.Failures())
			s.setState(StateRunning)
			continue
		}

		// Mutation turn.
		var feedbackParts []string
		mutations := parsed.Mutations()
		if len(mutations) > 0 {
			report := s.mutator.Apply(mutations)
			turn.Mutation = report
			if report.Err != nil {
				s.emitter.Emit(EventMutationFailed, map[string]interface{}{
					"turn":    turnIndex,
					"applied": len(report.Applied),
					"error":   report.Err.Error(),
				})
				feedbackParts = append(feedbackParts, report.Render())
			} else {
				s.emitter.Emit(EventMutationApplied, map[string]interface{}{
					"turn":    turnIndex,
					"applied": len(report.Applied),
				})
			}
		}

		// Verification runs when the batch fully landed, and as a final
		// gate when the model claims done without editing anything.
		mutationOK := turn.Mutation == nil || turn.Mutation.Err == nil
		runVerify := (len(mutations) > 0 && mutationOK) ||
			(parsed.Done() != nil && len(mutations) == 0)
		verificationPassed := true
		if runVerify {
			for _, v := range s.verifiers {
				outcome := v.Run(ctx)
				turn.Verification = append(turn.Verification, outcome)
				s.emitter.Emit(EventVerificationDone, map[string]interface{}{
					"turn":   turnIndex,
					"kind":   string(outcome.Kind),
					"passed": outcome.Passed,
				})
				if !outcome.Passed {
					verificationPassed = false
					feedbackParts = append(feedbackParts, outcome.Render())
				}
			}
		}

		// Lint failures and protocol failures are tracked independently:
		// verification feedback never counts against the retry budget.
		if done := parsed.Done(); done != nil && mutationOK && verificationPassed {
			s.setState(StateDone)
			s.emitter.Emit(EventDone, map[string]interface{}{"summary": done.Summary})
			s.logger.Info("session done",
				zap.Int("turns", turnIndex+1),
				zap.String("summary", done.Summary))
			rep := s.report(done.Summary)
			rep.Usage = totalUsage
			return rep, nil
		}

		if s.config.EnableLoopDetection && DetectLoop(s.History(), s.config.LoopDetectionWindow) {
			warning := fmt.Sprintf("Loop detected: the last %d actions repeat. Try a different approach.",
				s.config.LoopDetectionWindow)
			feedbackParts = append(feedbackParts, warning)
			s.emitter.Emit(EventLoopDetection, map[string]interface{}{"message": warning})
		}

		feedback = strings.Join(feedbackParts, "\n\n")
		turnSummary = turn.Summary()
	}

	s.emitter.Emit(EventTurnLimit, map[string]interface{}{"turns": s.config.MaxTurns})
	s.setState(StateFailed)
	rep := s.report(fmt.Sprintf("turn limit reached (%d) without done", s.config.MaxTurns))
	rep.Usage = totalUsage
	s.emitter.Emit(EventFailed, map[string]interface{}{"reason": rep.Summary})
	return rep, fmt.Errorf("turn limit reached (%d) without done", s.config.MaxTurns)
}

// preloadMentions resolves @path/to/file references in the task so their
// content rides along in the first prompt.
func (s *Session) preloadMentions(ctx context.Context, task string) string {
	mentions := ExtractAtMentions(task)
	if len(mentions) == 0 {
		return ""
	}
	reqs := make([]ContextRequest, 0, len(mentions))
	for _, path := range mentions {
		reqs = append(reqs, ContextRequest{Kind: RequestFile, File: &FileRequest{Path: path}})
	}
	bundle := s.resolver.Resolve(ctx, reqs)
	s.logger.Info("preloaded task mentions",
		zap.Int("mentions", len(mentions)),
		zap.Int("unavailable", bundle.Failures()))
	return bundle.Render()
}

func (s *Session) fail(reason string) (*Report, error) {
	s.setState(StateFailed)
	s.emitter.Emit(EventFailed, map[string]interface{}{"reason": reason})
	s.logger.Error("session failed", zap.String("reason", reason))
	return s.report(reason), fmt.Errorf("%s", reason)
}

func (s *Session) report(summary string) *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Report{
		SessionID: s.id,
		State:     s.state,
		Turns:     len(s.history),
		Summary:   summary,
	}
}

// correctiveFeedback turns a protocol error into the message appended to
// the next prompt. Empty responses get a different nudge than malformed
// ones.
func correctiveFeedback(err error) string {
	if _, ok := err.(*EmptyActionError); ok {
		return "Your previous response contained no recognized actions. " +
			"Reply using ONLY the XML tags in the output format: write_file, edit_file, need_context, or done."
	}
	return fmt.Sprintf("Your previous response could not be parsed: %s. "+
		"Reply using ONLY the XML tags in the output format.", err.Error())
}
