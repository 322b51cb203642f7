package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hupe1980/agenttrace/core"
	"github.com/hupe1980/agenttrace/logging"
	"github.com/hupe1980/agenttrace/parser"
)

const (
	// DefaultGracePeriod separates SIGTERM from the SIGKILL escalation.
	DefaultGracePeriod = 5 * time.Second
	// DefaultStderrTail bounds the retained stderr bytes per run.
	DefaultStderrTail = 8 * 1024
)

// TurnRequest describes one orchestrator invocation.
type TurnRequest struct {
	// Prompt is the user's message for this turn.
	Prompt string
	// WorkflowID spans every turn of the conversation.
	WorkflowID string
	// TraceID correlates the run with remote telemetry.
	TraceID string
	// TurnNumber starts at 1.
	TurnNumber int
	// Context carries the prior direct-channel transcript. Nil on the first
	// turn; the flag is omitted entirely then.
	Context *core.ConversationContext
}

// Options holds configuration overrides passed to New().
type Options struct {
	// Workdir is the subprocess working directory. Empty inherits the
	// runner's own.
	Workdir string
	// Env appends to the inherited environment.
	Env []string
	// GracePeriod between SIGTERM and SIGKILL when stopping a run.
	GracePeriod time.Duration
	// StderrTail bounds the retained stderr bytes per run.
	StderrTail int
	// Buffer sets the event channel capacity.
	Buffer int
	// MaxLineBytes caps one stdout event line.
	MaxLineBytes int
	// Logger receives run lifecycle diagnostics.
	Logger logging.Logger
}

// Runner launches orchestrator subprocesses and adapts their stdout streams.
// Public methods are safe for concurrent use.
type Runner struct {
	command []string
	opts    Options

	mu         sync.Mutex
	activeRuns map[string]context.CancelFunc
}

// New constructs a Runner for the given orchestrator argv.
func New(command []string, optFns ...func(o *Options)) *Runner {
	opts := Options{
		GracePeriod:  DefaultGracePeriod,
		StderrTail:   DefaultStderrTail,
		Buffer:       parser.DefaultBuffer,
		MaxLineBytes: parser.DefaultMaxLineBytes,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Runner{
		command:    command,
		opts:       opts,
		activeRuns: make(map[string]context.CancelFunc),
	}
}

// Run launches one orchestrator turn. It returns the run identifier for
// cancellation plus the event and error channels, which close after the
// process exits and the trailing StreamEnd is delivered. Callers must drain
// both channels until close.
func (r *Runner) Run(ctx context.Context, req TurnRequest) (string, <-chan core.Event, <-chan error, error) {
	if len(r.command) == 0 {
		return "", nil, nil, errors.New("runner: empty orchestrator command")
	}
	if req.TurnNumber < 1 {
		return "", nil, nil, fmt.Errorf("runner: turn number %d out of range", req.TurnNumber)
	}

	args, err := buildArgs(req)
	if err != nil {
		return "", nil, nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)

	argv := append(append([]string{}, r.command[1:]...), args...)
	cmd := exec.Command(r.command[0], argv...)
	cmd.Dir = r.opts.Workdir
	if len(r.opts.Env) > 0 {
		cmd.Env = append(os.Environ(), r.opts.Env...)
	}
	setProcGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return "", nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}
	tail := newTailBuffer(r.opts.StderrTail)
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		cancel()
		return "", nil, nil, fmt.Errorf("start orchestrator: %w", err)
	}

	runID := core.NewID()
	r.mu.Lock()
	r.activeRuns[runID] = cancel
	r.mu.Unlock()

	r.opts.Logger.Info("orchestrator started",
		"run_id", runID, "workflow_id", req.WorkflowID, "turn", req.TurnNumber, "pid", cmd.Process.Pid)

	p := parser.New(stdout, func(o *parser.Options) {
		o.Buffer = r.opts.Buffer
		o.MaxLineBytes = r.opts.MaxLineBytes
		o.Logger = r.opts.Logger
	})

	events := make(chan core.Event, r.opts.Buffer)
	errs := make(chan error, 8)
	done := make(chan struct{})

	// Kill ladder: SIGTERM the group on cancellation, SIGKILL after grace.
	go func() {
		select {
		case <-done:
			return
		case <-runCtx.Done():
		}
		signalGroup(cmd, syscall.SIGTERM)
		select {
		case <-done:
		case <-time.After(r.opts.GracePeriod):
			signalGroup(cmd, syscall.SIGKILL)
		}
	}()

	go func() {
		defer close(errs)
		defer close(events)
		defer func() {
			close(done)
			r.mu.Lock()
			delete(r.activeRuns, runID)
			r.mu.Unlock()
			cancel()
		}()

		// The parser stops at stdout EOF, which the process exit closes;
		// its context is background so cancellation still drains whatever
		// the dying process managed to flush.
		parseDone := p.Go(context.Background())

		sawTerminal := false
		evCh, parseErrCh := p.Events(), p.Errors()
		for evCh != nil || parseErrCh != nil {
			select {
			case ev, ok := <-evCh:
				if !ok {
					evCh = nil
					continue
				}
				switch ev.(type) {
				case core.WorkflowComplete, core.WorkflowError:
					sawTerminal = true
				}
				events <- ev
			case perr, ok := <-parseErrCh:
				if !ok {
					parseErrCh = nil
					continue
				}
				errs <- perr
			}
		}
		<-parseDone

		waitErr := cmd.Wait()
		code := exitCode(waitErr)
		r.opts.Logger.Info("orchestrator exited",
			"run_id", runID, "workflow_id", req.WorkflowID, "exit_code", code, "terminal_seen", sawTerminal)

		if code != 0 && !sawTerminal {
			events <- synthesizeError(req, runCtx.Err() != nil, code, tail.String())
			sawTerminal = true
		}
		events <- core.StreamEnd{Meta: synthMeta(req), ExitCode: code, SawTerminal: sawTerminal}
	}()

	return runID, events, errs, nil
}

// Cancel requests cooperative termination of an in-flight run. Cancelling an
// unknown or finished run returns an error describing the condition.
func (r *Runner) Cancel(runID string) error {
	r.mu.Lock()
	cancel, exists := r.activeRuns[runID]
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("run %s not found", runID)
	}
	cancel()
	return nil
}

// CancelAll terminates every in-flight run. Idempotent.
func (r *Runner) CancelAll() {
	r.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(r.activeRuns))
	for _, c := range r.activeRuns {
		cancels = append(cancels, c)
	}
	r.mu.Unlock()

	for _, c := range cancels {
		c()
	}
}

// ActiveRuns reports the number of runs still in flight.
func (r *Runner) ActiveRuns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.activeRuns)
}

// buildArgs assembles the orchestrator flags from the turn request. The
// conversation context is omitted entirely on the first turn.
func buildArgs(req TurnRequest) ([]string, error) {
	args := []string{
		"--prompt", req.Prompt,
		"--workflow-id", req.WorkflowID,
		"--trace-id", req.TraceID,
		"--turn-number", strconv.Itoa(req.TurnNumber),
	}
	if req.TurnNumber > 1 && req.Context != nil {
		payload, err := json.Marshal(req.Context)
		if err != nil {
			return nil, fmt.Errorf("encode conversation context: %w", err)
		}
		args = append(args, "--conversation-context", string(payload))
	}
	return args, nil
}

func synthMeta(req TurnRequest) core.Meta {
	return core.Meta{
		WorkflowID: req.WorkflowID,
		Timestamp:  time.Now().UTC(),
		TurnNumber: req.TurnNumber,
		TraceID:    req.TraceID,
		Source:     core.SourceLocal,
	}
}

func synthesizeError(req TurnRequest, interrupted bool, code int, stderrTail string) core.WorkflowError {
	status := "failed"
	detail := strings.TrimSpace(stderrTail)
	if detail == "" {
		detail = fmt.Sprintf("orchestrator exited with code %d", code)
	}
	if interrupted {
		status = "interrupted"
		detail = ""
	}
	return core.WorkflowError{Meta: synthMeta(req), Error: detail, Status: status}
}

func exitCode(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(waitErr, &ee) {
		return ee.ExitCode()
	}
	return -1
}
