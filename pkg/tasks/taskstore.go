package tasks

import (
	"context"
	"fmt"
	"log"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cexll/taskdeck/pkg/core/events"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/cexll/taskdeck/pkg/tasks"

// Storage is the key-value collaborator a TaskStore persists through.
// Read reports ok=false when nothing is stored under key.
type Storage interface {
	Read(key string) (value string, ok bool, err error)
	Write(key, value string) error
}

// Change is delivered to subscribers after every effective mutation and
// after a Reload that changes the collection.
type Change struct {
	Event events.Event
	Tasks []Task
}

// Option configures a TaskStore.
type Option func(*TaskStore)

// WithKey overrides the storage key (DefaultKey).
func WithKey(key string) Option {
	return func(s *TaskStore) {
		if k := strings.TrimSpace(key); k != "" {
			s.key = k
		}
	}
}

// WithClock injects the time source used for CreatedAt and event stamps.
func WithClock(now func() time.Time) Option {
	return func(s *TaskStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator replaces the UUID generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *TaskStore) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithTracer sets the tracer used for mutation spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *TaskStore) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithLogger routes load and persistence warnings.
func WithLogger(logger *log.Logger) Option {
	return func(s *TaskStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// TaskStore owns the ordered task collection (newest first) and keeps the
// persisted copy equal to it after every effective mutation.
//
// All methods are safe for concurrent use; a single mutex serializes them.
// Storage failures never escape. A bad or missing persisted value starts the
// store empty and a failed write leaves the in-memory mutation in place;
// Reload never discards the collection it already holds.
type TaskStore struct {
	mu      sync.Mutex
	storage Storage
	key     string
	tasks   []Task

	now    func() time.Time
	newID  func() string
	tracer trace.Tracer
	logger *log.Logger

	// notifyMu is taken before mu is released so subscribers observe
	// changes in mutation order.
	notifyMu sync.Mutex
	subsMu   sync.Mutex
	subs     map[uint64]func(Change)
	nextSub  uint64
}

// NewTaskStore builds a store and adopts whatever storage holds under the
// key. It never fails and publishes nothing; a nil storage yields a purely
// in-memory store.
func NewTaskStore(storage Storage, opts ...Option) *TaskStore {
	s := &TaskStore{
		storage: storage,
		key:     DefaultKey,
		now:     time.Now,
		newID:   uuid.NewString,
		tracer:  otel.Tracer(tracerName),
		logger:  log.Default(),
		subs:    make(map[uint64]func(Change)),
	}
	for _, opt := range opts {
		opt(s)
	}
	list, err := s.load()
	if err != nil {
		s.logger.Printf("tasks: %v; starting empty", err)
	}
	s.tasks = list
	return s
}

// Key returns the storage key the store reads and writes.
func (s *TaskStore) Key() string { return s.key }

// load returns the persisted list. A missing value is an empty list; a read
// failure or malformed value is an error.
func (s *TaskStore) load() ([]Task, error) {
	if s.storage == nil {
		return nil, nil
	}
	raw, ok, err := s.storage.Read(s.key)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", s.key, err)
	}
	if !ok {
		return nil, nil
	}
	list, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("ignoring persisted %q: %w", s.key, err)
	}
	return list, nil
}

// Reload re-reads storage and adopts the result, notifying subscribers with
// TasksLoaded. The current collection is kept, and nothing is published, when
// storage cannot be read or decoded or when it already matches memory.
func (s *TaskStore) Reload() {
	_, span := s.tracer.Start(context.Background(), "tasks.Reload")
	defer span.End()

	s.mu.Lock()
	list, err := s.load()
	if err != nil {
		s.logger.Printf("tasks: reload: %v; keeping %d tasks", err, len(s.tasks))
		span.RecordError(err)
		span.SetStatus(codes.Error, "reload failed")
		s.mu.Unlock()
		return
	}
	if sameTasks(list, s.tasks) {
		span.SetAttributes(attribute.Bool("tasks.unchanged", true))
		s.mu.Unlock()
		return
	}
	s.tasks = list
	evt := events.New(events.TasksLoaded, s.now(), events.LoadPayload{Key: s.key, Count: len(list)})
	span.SetAttributes(attribute.Int("tasks.len", len(list)))
	s.publishLocked(evt, nil)
}

func sameTasks(a, b []Task) bool {
	return slices.EqualFunc(a, b, func(x, y Task) bool {
		return x.ID == y.ID && x.Text == y.Text && x.Completed == y.Completed && x.CreatedAt.Equal(y.CreatedAt)
	})
}

// Add prepends a task built from the trimmed text. Blank text is ignored
// and reports ok=false.
func (s *TaskStore) Add(raw string) (Task, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Task{}, false
	}
	_, span := s.tracer.Start(context.Background(), "tasks.Add")
	defer span.End()

	s.mu.Lock()
	task := Task{ID: s.newID(), Text: text, CreatedAt: s.now()}
	if s.indexLocked(task.ID) >= 0 {
		s.mu.Unlock()
		panic(fmt.Sprintf("tasks: generated id %q collides with an existing task", task.ID))
	}
	next := make([]Task, 0, len(s.tasks)+1)
	next = append(next, task)
	s.tasks = append(next, s.tasks...)

	span.SetAttributes(attribute.String("task.id", task.ID))
	s.commitLocked(span, events.New(events.TaskAdded, s.now(), events.TaskPayload{
		TaskID: task.ID,
		Text:   task.Text,
	}))
	return task, true
}

// Toggle flips Completed on the task with id. Unknown ids are a no-op.
func (s *TaskStore) Toggle(id string) bool {
	_, span := s.tracer.Start(context.Background(), "tasks.Toggle")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", id))

	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	next := slices.Clone(s.tasks)
	updated := next[idx]
	updated.Completed = !updated.Completed
	next[idx] = updated
	s.tasks = next

	s.commitLocked(span, events.New(events.TaskToggled, s.now(), events.TaskPayload{
		TaskID:    updated.ID,
		Text:      updated.Text,
		Completed: updated.Completed,
	}))
	return true
}

// Remove deletes the task with id. Unknown ids are a no-op.
func (s *TaskStore) Remove(id string) bool {
	_, span := s.tracer.Start(context.Background(), "tasks.Remove")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", id))

	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	removed := s.tasks[idx]
	next := make([]Task, 0, len(s.tasks)-1)
	next = append(next, s.tasks[:idx]...)
	s.tasks = append(next, s.tasks[idx+1:]...)

	s.commitLocked(span, events.New(events.TaskRemoved, s.now(), events.TaskPayload{
		TaskID:    removed.ID,
		Text:      removed.Text,
		Completed: removed.Completed,
	}))
	return true
}

// ClearCompleted drops every completed task and returns how many went.
// Nothing is written when no task was completed.
func (s *TaskStore) ClearCompleted() int {
	_, span := s.tracer.Start(context.Background(), "tasks.ClearCompleted")
	defer span.End()

	s.mu.Lock()
	keep := make([]Task, 0, len(s.tasks))
	var cleared []string
	for _, task := range s.tasks {
		if task.Completed {
			cleared = append(cleared, task.ID)
			continue
		}
		keep = append(keep, task)
	}
	if len(cleared) == 0 {
		s.mu.Unlock()
		return 0
	}
	s.tasks = keep

	span.SetAttributes(attribute.Int("tasks.cleared", len(cleared)))
	s.commitLocked(span, events.New(events.CompletedCleared, s.now(), events.ClearedPayload{TaskIDs: cleared}))
	return len(cleared)
}

// Tasks returns a copy of the full collection, newest first.
func (s *TaskStore) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.tasks)
}

// Active returns incomplete tasks in collection order.
func (s *TaskStore) Active() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return FilterActive.Apply(s.tasks)
}

// Completed returns completed tasks in collection order.
func (s *TaskStore) Completed() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return FilterCompleted.Apply(s.tasks)
}

// View returns the tasks selected by f.
func (s *TaskStore) View(f Filter) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return f.Apply(s.tasks)
}

func (s *TaskStore) Get(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return Task{}, false
	}
	return s.tasks[idx], true
}

func (s *TaskStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *TaskStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CountStats(s.tasks)
}

// Subscribe registers fn for change notifications. Callbacks run
// synchronously on the mutating goroutine after the state lock is released;
// they may read the store but must not mutate it. The returned cancel func
// is idempotent.
func (s *TaskStore) Subscribe(fn func(Change)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
		})
	}
}

func (s *TaskStore) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(s.tasks, func(t Task) bool { return t.ID == id })
}

// commitLocked persists the collection, then releases mu and notifies.
func (s *TaskStore) commitLocked(span trace.Span, evt events.Event) {
	span.SetAttributes(attribute.Int("tasks.len", len(s.tasks)))
	err := s.persistLocked()
	if err != nil {
		s.logger.Printf("tasks: persist %q failed: %v", s.key, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
	}
	s.publishLocked(evt, err)
}

func (s *TaskStore) persistLocked() error {
	if s.storage == nil {
		return nil
	}
	data, err := Encode(s.tasks)
	if err != nil {
		return err
	}
	if err := s.storage.Write(s.key, data); err != nil {
		return fmt.Errorf("write %q: %w", s.key, err)
	}
	return nil
}

func (s *TaskStore) publishLocked(evt events.Event, persistErr error) {
	snapshot := slices.Clone(s.tasks)
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	subs := s.subscribers()
	if len(subs) == 0 {
		return
	}
	change := Change{Event: evt, Tasks: snapshot}
	for _, fn := range subs {
		fn(change)
	}
	if persistErr != nil {
		failed := Change{
			Event: events.New(events.PersistFailed, evt.Timestamp, events.PersistPayload{Key: s.key, Err: persistErr}),
			Tasks: snapshot,
		}
		for _, fn := range subs {
			fn(failed)
		}
	}
}

func (s *TaskStore) subscribers() []func(Change) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	out := make([]func(Change), 0, len(s.subs))
	for _, id := range slices.Sorted(maps.Keys(s.subs)) {
		out = append(out, s.subs[id])
	}
	return out
}
