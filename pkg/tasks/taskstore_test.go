package tasks

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/cexll/taskdeck/pkg/core/events"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type fakeStorage struct {
	mu       sync.Mutex
	data     map[string]string
	reads    []string
	writes   int
	readErr  error
	writeErr error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{data: map[string]string{}}
}

func (f *fakeStorage) Read(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, key)
	if f.readErr != nil {
		return "", false, f.readErr
	}
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeStorage) Write(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes++
	f.data[key] = value
	return nil
}

func (f *fakeStorage) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func quietLogger() *log.Logger {
	return log.New(&bytes.Buffer{}, "", 0)
}

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newTestStore(t *testing.T, st *fakeStorage, opts ...Option) *TaskStore {
	t.Helper()
	base := []Option{WithLogger(quietLogger())}
	return NewTaskStore(st, append(base, opts...)...)
}

func seed(t *testing.T, st *fakeStorage, list []Task) {
	t.Helper()
	data, err := Encode(list)
	require.NoError(t, err)
	st.data[DefaultKey] = data
}

func texts(list []Task) []string {
	out := make([]string, 0, len(list))
	for _, task := range list {
		out = append(out, task.Text)
	}
	return out
}

func ids(list []Task) []string {
	out := make([]string, 0, len(list))
	for _, task := range list {
		out = append(out, task.ID)
	}
	return out
}

func TestNewTaskStoreStartsEmptyWithoutData(t *testing.T) {
	st := newFakeStorage()
	store := newTestStore(t, st)
	require.Empty(t, store.Tasks())
	require.Equal(t, []string{DefaultKey}, st.reads)
	require.Zero(t, st.writeCount())
}

func TestNewTaskStoreAdoptsPersistedTasks(t *testing.T) {
	st := newFakeStorage()
	st.data[DefaultKey] = `[{"id":"1","text":"Test todo","completed":false,"createdAt":"2023-01-01T00:00:00.000Z"}]`
	store := newTestStore(t, st)

	got := store.Tasks()
	require.Len(t, got, 1)
	require.Equal(t, "1", got[0].ID)
	require.Equal(t, "Test todo", got[0].Text)
	require.False(t, got[0].Completed)
	require.True(t, got[0].CreatedAt.Equal(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestNewTaskStoreRecoversFromBadStorage(t *testing.T) {
	cases := map[string]string{
		"invalid json":    "{not json",
		"not an array":    `{"id":"1"}`,
		"null":            "null",
		"missing fields":  `[{"id":"1"}]`,
		"blank text":      `[{"id":"1","text":"   ","completed":false,"createdAt":"2023-01-01T00:00:00Z"}]`,
		"bad timestamp":   `[{"id":"1","text":"a","completed":false,"createdAt":"yesterday"}]`,
		"duplicate ids":   `[{"id":"1","text":"a","completed":false,"createdAt":"2023-01-01T00:00:00Z"},{"id":"1","text":"b","completed":true,"createdAt":"2023-01-01T00:00:00Z"}]`,
		"wrong type flag": `[{"id":"1","text":"a","completed":"yes","createdAt":"2023-01-01T00:00:00Z"}]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			st := newFakeStorage()
			st.data[DefaultKey] = raw
			var store *TaskStore
			require.NotPanics(t, func() { store = newTestStore(t, st) })
			require.Empty(t, store.Tasks())
		})
	}
}

func TestNewTaskStoreRecoversFromReadError(t *testing.T) {
	st := newFakeStorage()
	st.readErr = errors.New("disk gone")
	store := newTestStore(t, st)
	require.Empty(t, store.Tasks())
}

func TestNewTaskStoreWithNilStorage(t *testing.T) {
	store := NewTaskStore(nil, WithLogger(quietLogger()))
	task, ok := store.Add("in memory")
	require.True(t, ok)
	require.Equal(t, []Task{task}, store.Tasks())
}

func TestAddPrependsNewestFirst(t *testing.T) {
	st := newFakeStorage()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newTestStore(t, st, WithIDGenerator(seqIDs()), WithClock(func() time.Time { return now }))

	inputs := []string{"one", "two", "three", "four"}
	for i, text := range inputs {
		task, ok := store.Add(text)
		require.True(t, ok)
		require.Equal(t, text, task.Text)
		require.False(t, task.Completed)
		require.Equal(t, now, task.CreatedAt)
		require.Equal(t, i+1, store.Len())
		require.Equal(t, text, store.Tasks()[0].Text)
	}
	require.Equal(t, []string{"four", "three", "two", "one"}, texts(store.Tasks()))
	require.Equal(t, len(inputs), st.writeCount())
}

func TestAddTrimsText(t *testing.T) {
	store := newTestStore(t, newFakeStorage())
	task, ok := store.Add("  padded task \t")
	require.True(t, ok)
	require.Equal(t, "padded task", task.Text)
	require.NotEmpty(t, task.ID)
}

func TestAddIgnoresBlankText(t *testing.T) {
	st := newFakeStorage()
	store := newTestStore(t, st)
	for _, raw := range []string{"", "   ", "\t\n"} {
		_, ok := store.Add(raw)
		require.False(t, ok)
	}
	require.Zero(t, store.Len())
	require.Zero(t, st.writeCount())
}

func TestAddGeneratesUniqueIDs(t *testing.T) {
	store := newTestStore(t, newFakeStorage())
	seen := map[string]struct{}{}
	for i := 0; i < 200; i++ {
		task, ok := store.Add(fmt.Sprintf("task %d", i))
		require.True(t, ok)
		_, dup := seen[task.ID]
		require.False(t, dup, "duplicate id %s", task.ID)
		seen[task.ID] = struct{}{}
	}
}

func TestAddPanicsOnIDCollision(t *testing.T) {
	store := newTestStore(t, newFakeStorage(), WithIDGenerator(func() string { return "same" }))
	_, ok := store.Add("first")
	require.True(t, ok)
	require.Panics(t, func() { store.Add("second") })
	require.Equal(t, 1, store.Len())
	// The store stays usable after the panic.
	require.True(t, store.Toggle("same"))
}

func TestToggleFlipsOnlyTarget(t *testing.T) {
	st := newFakeStorage()
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	seed(t, st, []Task{
		{ID: "1", Text: "Task 1", CreatedAt: created},
		{ID: "2", Text: "Task 2", Completed: true, CreatedAt: created},
		{ID: "3", Text: "Task 3", CreatedAt: created},
	})
	store := newTestStore(t, st)
	before := store.Tasks()

	require.True(t, store.Toggle("1"))
	after := store.Tasks()
	require.True(t, after[0].Completed)
	require.Equal(t, before[1:], after[1:])

	require.True(t, store.Toggle("2"))
	got, ok := store.Get("2")
	require.True(t, ok)
	require.False(t, got.Completed)

	require.True(t, store.Toggle("1"))
	got, _ = store.Get("1")
	require.Equal(t, before[0], got)
	require.Equal(t, 3, st.writeCount())
}

func TestToggleUnknownIDIsNoop(t *testing.T) {
	st := newFakeStorage()
	seed(t, st, []Task{{ID: "1", Text: "Task 1", CreatedAt: time.Now().UTC()}})
	store := newTestStore(t, st)
	before := store.Tasks()

	require.False(t, store.Toggle("missing"))
	require.False(t, store.Toggle(""))
	require.Equal(t, before, store.Tasks())
	require.Zero(t, st.writeCount())
}

func TestRemove(t *testing.T) {
	st := newFakeStorage()
	now := time.Now().UTC()
	seed(t, st, []Task{
		{ID: "1", Text: "Task 1", CreatedAt: now},
		{ID: "2", Text: "Task 2", Completed: true, CreatedAt: now},
	})
	store := newTestStore(t, st)

	require.False(t, store.Remove("nope"))
	require.Equal(t, 2, store.Len())
	require.Zero(t, st.writeCount())

	require.True(t, store.Remove("1"))
	require.Equal(t, []string{"2"}, ids(store.Tasks()))
	_, ok := store.Get("1")
	require.False(t, ok)
	require.Equal(t, 1, st.writeCount())

	require.False(t, store.Remove("1"))
	require.Equal(t, 1, store.Len())
}

func TestClearCompleted(t *testing.T) {
	st := newFakeStorage()
	now := time.Now().UTC()
	seed(t, st, []Task{
		{ID: "1", Text: "Task 1", Completed: true, CreatedAt: now},
		{ID: "2", Text: "Task 2", CreatedAt: now},
		{ID: "3", Text: "Task 3", Completed: true, CreatedAt: now},
		{ID: "4", Text: "Task 4", CreatedAt: now},
	})
	store := newTestStore(t, st)

	require.Equal(t, 2, store.ClearCompleted())
	require.Equal(t, []string{"2", "4"}, ids(store.Tasks()))
	for _, task := range store.Tasks() {
		require.False(t, task.Completed)
	}
	require.Equal(t, 1, st.writeCount())

	require.Zero(t, store.ClearCompleted())
	require.Equal(t, 1, st.writeCount())
}

func TestActiveAndCompletedPartitionCollection(t *testing.T) {
	store := newTestStore(t, newFakeStorage(), WithIDGenerator(seqIDs()))
	for i := 0; i < 6; i++ {
		store.Add(fmt.Sprintf("task %d", i))
	}
	store.Toggle("id-2")
	store.Toggle("id-5")
	store.Toggle("id-6")
	store.Toggle("id-6")

	active := ids(store.Active())
	completed := ids(store.Completed())
	require.Equal(t, []string{"id-6", "id-4", "id-3", "id-1"}, active)
	require.Equal(t, []string{"id-5", "id-2"}, completed)

	all := map[string]bool{}
	for _, id := range active {
		all[id] = true
	}
	for _, id := range completed {
		require.False(t, all[id], "%s in both views", id)
		all[id] = true
	}
	require.Len(t, all, store.Len())
	require.Equal(t, Stats{Total: 6, Active: 4, Completed: 2}, store.Stats())
	require.Equal(t, store.Active(), store.View(FilterActive))
	require.Equal(t, store.Tasks(), store.View(FilterAll))
}

func TestPersistedStateMatchesMemoryAfterEachMutation(t *testing.T) {
	st := newFakeStorage()
	store := newTestStore(t, st)
	check := func() {
		t.Helper()
		decoded, err := Decode(st.data[DefaultKey])
		require.NoError(t, err)
		require.Equal(t, ids(store.Tasks()), ids(decoded))
		require.Equal(t, texts(store.Tasks()), texts(decoded))
	}
	a, _ := store.Add("alpha")
	check()
	store.Add("beta")
	check()
	store.Toggle(a.ID)
	check()
	store.ClearCompleted()
	check()
	b := store.Tasks()[0]
	store.Remove(b.ID)
	check()
	require.Equal(t, "[]", st.data[DefaultKey])
}

func TestRestartRoundTrip(t *testing.T) {
	st := newFakeStorage()
	first := newTestStore(t, st)
	first.Add("Buy milk")
	report, _ := first.Add("Write report")
	first.Add("Call mom")
	first.Toggle(report.ID)

	second := newTestStore(t, st)
	want := first.Tasks()
	got := second.Tasks()
	require.Equal(t, ids(want), ids(got))
	require.Equal(t, texts(want), texts(got))
	for i := range want {
		require.Equal(t, want[i].Completed, got[i].Completed)
		require.WithinDuration(t, want[i].CreatedAt, got[i].CreatedAt, time.Millisecond)
	}
}

func TestCustomKey(t *testing.T) {
	st := newFakeStorage()
	store := newTestStore(t, st, WithKey("work"))
	store.Add("x")
	require.Equal(t, "work", store.Key())
	_, ok := st.data["work"]
	require.True(t, ok)
	_, ok = st.data[DefaultKey]
	require.False(t, ok)
}

func TestWriteFailureKeepsMutation(t *testing.T) {
	st := newFakeStorage()
	st.writeErr = errors.New("quota exceeded")
	var logs bytes.Buffer
	store := NewTaskStore(st, WithLogger(log.New(&logs, "", 0)))

	var failures []events.Event
	store.Subscribe(func(c Change) {
		if c.Event.Type == events.PersistFailed {
			failures = append(failures, c.Event)
		}
	})

	var task Task
	require.NotPanics(t, func() { task, _ = store.Add("survives") })
	require.Equal(t, []string{"survives"}, texts(store.Tasks()))
	require.True(t, store.Toggle(task.ID))
	require.True(t, store.Tasks()[0].Completed)
	require.Contains(t, logs.String(), "quota exceeded")
	require.Len(t, failures, 2)
	payload, ok := failures[0].Payload.(events.PersistPayload)
	require.True(t, ok)
	require.Equal(t, DefaultKey, payload.Key)
	require.ErrorContains(t, payload.Err, "quota exceeded")
}

func TestSubscribeReceivesChanges(t *testing.T) {
	store := newTestStore(t, newFakeStorage(), WithIDGenerator(seqIDs()))
	var got []Change
	cancel := store.Subscribe(func(c Change) {
		// Reading from inside the callback must not deadlock.
		require.Equal(t, len(c.Tasks), store.Len())
		got = append(got, c)
	})

	store.Add("a")
	store.Add("   ")
	store.Toggle("id-1")
	store.Toggle("missing")
	store.ClearCompleted()
	store.Remove("missing")

	require.Len(t, got, 3)
	require.Equal(t, events.TaskAdded, got[0].Event.Type)
	require.Equal(t, events.TaskToggled, got[1].Event.Type)
	require.Equal(t, events.CompletedCleared, got[2].Event.Type)
	require.Equal(t, events.ClearedPayload{TaskIDs: []string{"id-1"}}, got[2].Event.Payload)
	require.Empty(t, got[2].Tasks)
	for _, c := range got {
		require.NoError(t, c.Event.Validate())
	}

	cancel()
	cancel()
	store.Add("b")
	require.Len(t, got, 3)
}

func TestSubscribersCalledInRegistrationOrder(t *testing.T) {
	store := newTestStore(t, newFakeStorage())
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		store.Subscribe(func(Change) { order = append(order, i) })
	}
	store.Subscribe(nil)()
	store.Add("x")
	require.Equal(t, []int{0, 1, 2}, order)
}

func TestReloadAdoptsExternalWrites(t *testing.T) {
	st := newFakeStorage()
	store := newTestStore(t, st)
	var loaded []events.LoadPayload
	store.Subscribe(func(c Change) {
		if p, ok := c.Event.Payload.(events.LoadPayload); ok {
			loaded = append(loaded, p)
		}
	})

	seed(t, st, []Task{{ID: "ext", Text: "from elsewhere", CreatedAt: time.Now().UTC()}})
	store.Reload()
	require.Equal(t, []string{"ext"}, ids(store.Tasks()))

	seed(t, st, nil)
	store.Reload()
	require.Empty(t, store.Tasks())

	require.Equal(t, []events.LoadPayload{
		{Key: DefaultKey, Count: 1},
		{Key: DefaultKey, Count: 0},
	}, loaded)
	require.Zero(t, st.writeCount())
}

func TestReloadKeepsTasksWhenStorageFails(t *testing.T) {
	cases := map[string]func(st *fakeStorage){
		"read error": func(st *fakeStorage) { st.readErr = errors.New("transient EIO") },
		"malformed":  func(st *fakeStorage) { st.data[DefaultKey] = "garbage" },
	}
	for name, breakIt := range cases {
		t.Run(name, func(t *testing.T) {
			st := newFakeStorage()
			store := newTestStore(t, st)
			store.Add("one")
			store.Add("two")
			var got []Change
			store.Subscribe(func(c Change) { got = append(got, c) })

			st.mu.Lock()
			breakIt(st)
			st.mu.Unlock()
			store.Reload()
			require.Equal(t, []string{"two", "one"}, texts(store.Tasks()))
			require.Empty(t, got)

			st.mu.Lock()
			st.readErr = nil
			st.mu.Unlock()
			store.Add("three")
			persisted, err := Decode(st.data[DefaultKey])
			require.NoError(t, err)
			require.Equal(t, []string{"three", "two", "one"}, texts(persisted))
		})
	}
}

func TestReloadOfOwnWriteIsSilent(t *testing.T) {
	st := newFakeStorage()
	store := newTestStore(t, st)
	var got []events.EventType
	store.Subscribe(func(c Change) { got = append(got, c.Event.Type) })

	task, _ := store.Add("own write")
	store.Reload()
	store.Toggle(task.ID)
	store.Reload()
	require.Equal(t, []events.EventType{events.TaskAdded, events.TaskToggled}, got)
}

func TestNewTaskStorePublishesNothing(t *testing.T) {
	st := newFakeStorage()
	seed(t, st, []Task{{ID: "1", Text: "persisted", CreatedAt: time.Now().UTC()}})
	store := newTestStore(t, st)
	var got []Change
	store.Subscribe(func(c Change) { got = append(got, c) })
	require.Equal(t, 1, store.Len())
	require.Empty(t, got)
}

func TestConcurrentMutationsAreSerialized(t *testing.T) {
	st := newFakeStorage()
	store := newTestStore(t, st)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			task, _ := store.Add(fmt.Sprintf("task %d", i))
			store.Toggle(task.ID)
			_ = store.Active()
		}(i)
	}
	wg.Wait()
	require.Equal(t, 20, store.Len())
	require.Len(t, store.Completed(), 20)
	decoded, err := Decode(st.data[DefaultKey])
	require.NoError(t, err)
	require.Equal(t, ids(store.Tasks()), ids(decoded))
}

func TestMutationsEmitSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = provider.Shutdown(t.Context()) })

	store := newTestStore(t, newFakeStorage(), WithTracer(provider.Tracer("test")))
	task, _ := store.Add("traced")
	store.Toggle(task.ID)
	store.ClearCompleted()

	var names []string
	for _, span := range exporter.GetSpans() {
		names = append(names, span.Name)
	}
	require.Equal(t, []string{"tasks.Add", "tasks.Toggle", "tasks.ClearCompleted"}, names)
}

func TestScenarioBuyMilkWriteReport(t *testing.T) {
	store := newTestStore(t, newFakeStorage())
	milk, _ := store.Add("Buy milk")
	store.Add("Write report")
	require.Equal(t, []string{"Write report", "Buy milk"}, texts(store.Tasks()))
	for _, task := range store.Tasks() {
		require.False(t, task.Completed)
	}

	store.Toggle(milk.ID)
	require.Equal(t, []string{"Write report"}, texts(store.Active()))
	require.Equal(t, []string{"Buy milk"}, texts(store.Completed()))

	store.ClearCompleted()
	require.Equal(t, []string{"Write report"}, texts(store.Tasks()))
}

func TestScenarioInvalidJSONStartsEmpty(t *testing.T) {
	st := newFakeStorage()
	st.data[DefaultKey] = "this is { not json"
	var store *TaskStore
	require.NotPanics(t, func() { store = newTestStore(t, st) })
	require.Empty(t, store.Tasks())
	require.Zero(t, store.Len())
}
