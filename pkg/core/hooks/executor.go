package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cexll/taskdeck/pkg/config"
	"github.com/cexll/taskdeck/pkg/core/events"
	"github.com/cexll/taskdeck/pkg/tasks"
)

const (
	defaultHookTimeout = 30 * time.Second
	queueSize          = 64
)

// Result captures the full outcome of executing a shell hook.
type Result struct {
	Event    events.Event
	Hook     string
	ExitCode int
	Stdout   string
	Stderr   string
}

// Selector filters hooks by task text and/or raw payload pattern.
type Selector struct {
	Text    *regexp.Regexp
	Pattern *regexp.Regexp
}

// NewSelector compiles optional regex patterns. Empty strings and "*" are
// treated as wildcards.
func NewSelector(textPattern, payloadPattern string) (Selector, error) {
	sel := Selector{}
	if p := strings.TrimSpace(textPattern); p != "" && p != "*" {
		re, err := regexp.Compile(p)
		if err != nil {
			return sel, fmt.Errorf("hooks: compile text matcher: %w", err)
		}
		sel.Text = re
	}
	if p := strings.TrimSpace(payloadPattern); p != "" {
		re, err := regexp.Compile(p)
		if err != nil {
			return sel, fmt.Errorf("hooks: compile payload matcher: %w", err)
		}
		sel.Pattern = re
	}
	return sel, nil
}

// Match returns true when the event satisfies all configured selectors.
// Events without task text never match a text selector.
func (s Selector) Match(evt events.Event) bool {
	if s.Text != nil {
		text, ok := taskText(evt.Payload)
		if !ok || !s.Text.MatchString(text) {
			return false
		}
	}
	if s.Pattern != nil {
		payload, err := json.Marshal(envelope(evt))
		if err != nil || !s.Pattern.Match(payload) {
			return false
		}
	}
	return true
}

// ShellHook describes a single shell command bound to an event type.
type ShellHook struct {
	Event    events.EventType
	Command  string
	Selector Selector
	Timeout  time.Duration
	Env      map[string]string
	Name     string // optional label for logs
}

// Subscriber is the part of a task store the executor listens to.
type Subscriber interface {
	Subscribe(fn func(tasks.Change)) (cancel func())
}

// Executor runs shell hooks with the event encoded as JSON on stdin.
type Executor struct {
	hooks   []ShellHook
	hooksMu sync.RWMutex

	timeout time.Duration
	errFn   func(events.EventType, error)
	workDir string

	mu        sync.RWMutex
	queue     chan events.Event
	done      chan struct{}
	cancels   []func()
	closed    bool
	closeOnce sync.Once
}

// ExecutorOption configures optional behaviour.
type ExecutorOption func(*Executor)

// WithTimeout sets the default timeout per hook run. Zero uses the default budget.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = d
	}
}

// WithErrorHandler installs a sink for failures of attached hook runs.
func WithErrorHandler(fn func(events.EventType, error)) ExecutorOption {
	return func(e *Executor) {
		e.errFn = fn
	}
}

// WithWorkDir sets the working directory for hook command execution.
func WithWorkDir(dir string) ExecutorOption {
	return func(e *Executor) {
		e.workDir = dir
	}
}

// NewExecutor constructs a shell-based hook executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	exe := &Executor{timeout: defaultHookTimeout, errFn: func(events.EventType, error) {}}
	for _, opt := range opts {
		opt(exe)
	}
	if exe.timeout <= 0 {
		exe.timeout = defaultHookTimeout
	}
	return exe
}

// FromConfig converts configured hooks into ShellHooks, sorted by event and
// matcher so runs are deterministic. The returned duration is the configured
// per-command timeout, or zero.
func FromConfig(cfg *config.HooksConfig) ([]ShellHook, time.Duration, error) {
	if cfg == nil {
		return nil, 0, nil
	}
	var timeout time.Duration
	if t := strings.TrimSpace(cfg.Timeout); t != "" {
		d, err := time.ParseDuration(t)
		if err != nil {
			return nil, 0, fmt.Errorf("hooks: timeout: %w", err)
		}
		timeout = d
	}

	byEvent := cfg.ByEvent()
	names := make([]string, 0, len(byEvent))
	for name := range byEvent {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []ShellHook
	for _, name := range names {
		matchers := make([]string, 0, len(byEvent[name]))
		for m := range byEvent[name] {
			matchers = append(matchers, m)
		}
		sort.Strings(matchers)
		for _, m := range matchers {
			sel, err := NewSelector(m, "")
			if err != nil {
				return nil, 0, err
			}
			out = append(out, ShellHook{
				Event:    events.EventType(name),
				Command:  byEvent[name][m],
				Selector: sel,
				Name:     fmt.Sprintf("%s[%s]", name, m),
			})
		}
	}
	return out, timeout, nil
}

// Register adds shell hooks to the executor.
func (e *Executor) Register(hooks ...ShellHook) {
	e.hooksMu.Lock()
	defer e.hooksMu.Unlock()
	e.hooks = append(e.hooks, hooks...)
}

// Len reports how many hooks are registered.
func (e *Executor) Len() int {
	e.hooksMu.RLock()
	defer e.hooksMu.RUnlock()
	return len(e.hooks)
}

// Execute runs every matching hook for evt in registration order. A failing
// hook does not stop the rest; all failures are joined.
func (e *Executor) Execute(ctx context.Context, evt events.Event) ([]Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := validateEvent(evt.Type); err != nil {
		return nil, err
	}
	hooks := e.matchingHooks(evt)
	if len(hooks) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(envelope(evt))
	if err != nil {
		return nil, fmt.Errorf("hooks: marshal payload: %w", err)
	}

	var (
		results []Result
		errs    []error
	)
	for _, hook := range hooks {
		res, err := e.executeHook(ctx, hook, payload, evt)
		results = append(results, res)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return results, errors.Join(errs...)
}

// Attach runs matching hooks for every event store publishes. Hooks run on a
// single background worker in notification order so slow commands never
// block the store's mutex.
func (e *Executor) Attach(store Subscriber) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("hooks: executor is closed")
	}
	if e.queue == nil {
		e.queue = make(chan events.Event, queueSize)
		e.done = make(chan struct{})
		go e.worker()
	}
	cancel := store.Subscribe(func(c tasks.Change) {
		e.mu.RLock()
		defer e.mu.RUnlock()
		if e.closed {
			return
		}
		e.queue <- c.Event
	})
	e.cancels = append(e.cancels, cancel)
	return nil
}

// Close detaches from every store and waits for queued hooks to finish.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		for _, cancel := range e.cancels {
			cancel()
		}
		e.closed = true
		queue, done := e.queue, e.done
		e.mu.Unlock()
		if queue != nil {
			close(queue)
			<-done
		}
	})
}

func (e *Executor) worker() {
	defer close(e.done)
	for evt := range e.queue {
		if _, err := e.Execute(context.Background(), evt); err != nil {
			e.report(evt.Type, err)
		}
	}
}

func (e *Executor) matchingHooks(evt events.Event) []ShellHook {
	e.hooksMu.RLock()
	defer e.hooksMu.RUnlock()

	var matches []ShellHook
	for _, hook := range e.hooks {
		if hook.Event != evt.Type {
			continue
		}
		if hook.Selector.Match(evt) {
			matches = append(matches, hook)
		}
	}
	return matches
}

func (e *Executor) executeHook(ctx context.Context, hook ShellHook, payload []byte, evt events.Event) (Result, error) {
	res := Result{Event: evt, Hook: hook.Name}

	cmdStr := strings.TrimSpace(hook.Command)
	if cmdStr == "" {
		return res, errors.New("hooks: missing command")
	}

	deadline := effectiveTimeout(hook.Timeout, e.timeout)
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", cmdStr)
	cmd.Env = mergeEnv(os.Environ(), eventEnv(evt), hook.Env)
	if e.workDir != "" {
		cmd.Dir = e.workDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Stdin = bytes.NewReader(payload)
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.ExitCode = -1
		return res, fmt.Errorf("hooks: %s timed out after %s", label(hook), deadline)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, fmt.Errorf("hooks: %s exited with code %d: %s", label(hook), res.ExitCode, strings.TrimSpace(res.Stderr))
		}
		res.ExitCode = -1
		return res, fmt.Errorf("hooks: %s: %w", label(hook), err)
	}
	return res, nil
}

func label(hook ShellHook) string {
	if hook.Name != "" {
		return hook.Name
	}
	return string(hook.Event)
}

func effectiveTimeout(hookTimeout, defaultTimeout time.Duration) time.Duration {
	if hookTimeout > 0 {
		return hookTimeout
	}
	if defaultTimeout > 0 {
		return defaultTimeout
	}
	return defaultHookTimeout
}

// envelope is the JSON document written to a hook's stdin.
func envelope(evt events.Event) map[string]any {
	env := map[string]any{
		"hook_event_name": evt.Type,
		"event_id":        evt.ID,
		"timestamp":       evt.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	switch p := evt.Payload.(type) {
	case events.TaskPayload:
		env["task"] = map[string]any{"id": p.TaskID, "text": p.Text, "completed": p.Completed}
	case events.ClearedPayload:
		env["cleared"] = map[string]any{"ids": p.TaskIDs}
	case events.LoadPayload:
		env["loaded"] = map[string]any{"key": p.Key, "count": p.Count}
	case events.PersistPayload:
		failed := map[string]any{"key": p.Key}
		if p.Err != nil {
			failed["error"] = p.Err.Error()
		}
		env["persist_failed"] = failed
	}
	return env
}

// eventEnv exposes the most useful fields to commands that do not parse stdin.
func eventEnv(evt events.Event) map[string]string {
	env := map[string]string{"TASKDECK_EVENT": string(evt.Type)}
	if p, ok := evt.Payload.(events.TaskPayload); ok {
		env["TASKDECK_TASK_ID"] = p.TaskID
		env["TASKDECK_TASK_TEXT"] = p.Text
	}
	return env
}

func mergeEnv(base []string, extra ...map[string]string) []string {
	env := append([]string(nil), base...)
	for _, m := range extra {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			env = append(env, fmt.Sprintf("%s=%s", k, m[k]))
		}
	}
	return env
}

func taskText(payload any) (string, bool) {
	if p, ok := payload.(events.TaskPayload); ok {
		return p.Text, true
	}
	return "", false
}

func validateEvent(t events.EventType) error {
	switch t {
	case events.TasksLoaded, events.TaskAdded, events.TaskToggled, events.TaskRemoved,
		events.CompletedCleared, events.PersistFailed:
		return nil
	default:
		return fmt.Errorf("hooks: unsupported event %s", t)
	}
}

func (e *Executor) report(t events.EventType, err error) {
	if e.errFn != nil && err != nil {
		e.errFn(t, err)
	}
}
