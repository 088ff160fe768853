package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/cexll/taskdeck/pkg/config"
	"github.com/cexll/taskdeck/pkg/core/events"
	"github.com/cexll/taskdeck/pkg/core/hooks"
	"github.com/cexll/taskdeck/pkg/mcpserver"
	"github.com/cexll/taskdeck/pkg/storage"
	"github.com/cexll/taskdeck/pkg/tasks"
	"github.com/cexll/taskdeck/pkg/telemetry"
	"github.com/cexll/taskdeck/pkg/ui"
)

// Version is set via ldflags at build time.
var Version = "dev"

type globalFlags struct {
	configPath string
	backend    string
	dir        string
	key        string
}

// app bundles what every subcommand needs once settings are resolved.
type app struct {
	settings *config.Settings
	store    *tasks.TaskStore
	file     *storage.File // nil for the memory backend
	stdout   io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("taskdeck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var g globalFlags
	fs.StringVar(&g.configPath, "config", "", "Config file (yaml or toml); defaults to .taskdeck/config.*")
	fs.StringVar(&g.backend, "backend", "", "Storage backend (file|memory)")
	fs.StringVar(&g.dir, "dir", "", "Data directory for the file backend")
	fs.StringVar(&g.key, "key", "", "Storage key holding the task list")
	showVersion := fs.Bool("version", false, "Show version")
	fs.Usage = func() { printUsage(fs, stderr) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Fprintf(stdout, "taskdeck %s\n", Version)
		return nil
	}

	rest := fs.Args()
	subcommand := "list"
	if len(rest) > 0 {
		subcommand, rest = rest[0], rest[1:]
	}
	if subcommand == "help" {
		printUsage(fs, stdout)
		return nil
	}
	if subcommand == "version" {
		fmt.Fprintf(stdout, "taskdeck %s\n", Version)
		return nil
	}

	a, err := openApp(g, stdout)
	if err != nil {
		return err
	}

	shutdown, err := telemetry.Setup(ctx, a.settings)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			log.Printf("telemetry: shutdown: %v", err)
		}
	}()

	if a.settings.Hooks != nil {
		exe, err := startHooks(a)
		if err != nil {
			return err
		}
		defer exe.Close()
	}

	switch subcommand {
	case "add":
		return addCommand(a, rest)
	case "list", "ls":
		return listCommand(a, rest)
	case "toggle":
		return toggleCommand(a, rest)
	case "rm", "remove":
		return removeCommand(a, rest)
	case "clear":
		return clearCommand(a, rest)
	case "stats":
		return statsCommand(a, rest)
	case "tui":
		return tuiCommand(ctx, a, rest)
	case "watch":
		return watchCommand(ctx, a, rest)
	case "mcp":
		return mcpCommand(ctx, a, rest)
	default:
		printUsage(fs, stderr)
		return fmt.Errorf("unknown command: %s", subcommand)
	}
}

func openApp(g globalFlags, stdout io.Writer) (*app, error) {
	overrides := &config.Settings{}
	if g.backend != "" || g.dir != "" || g.key != "" {
		overrides.Storage = &config.StorageConfig{Backend: g.backend, Dir: g.dir, Key: g.key}
	}
	loader := config.SettingsLoader{ConfigPath: g.configPath, RuntimeOverrides: overrides}
	settings, err := loader.Load()
	if err != nil {
		return nil, err
	}

	a := &app{settings: settings, stdout: stdout}
	var backend tasks.Storage
	switch settings.Storage.Backend {
	case config.BackendMemory:
		backend = storage.NewMemory()
	default:
		file, err := storage.NewFile(settings.Storage.Dir)
		if err != nil {
			return nil, err
		}
		a.file = file
		backend = file
	}
	a.store = tasks.NewTaskStore(backend, tasks.WithKey(settings.Storage.Key))
	return a, nil
}

// startHooks attaches configured shell hooks to the store. Close waits for
// queued commands, so short-lived subcommands still run their hooks.
func startHooks(a *app) (*hooks.Executor, error) {
	list, timeout, err := hooks.FromConfig(a.settings.Hooks)
	if err != nil {
		return nil, err
	}
	exe := hooks.NewExecutor(
		hooks.WithTimeout(timeout),
		hooks.WithErrorHandler(func(typ events.EventType, err error) {
			log.Printf("hooks: %s: %v", typ, err)
		}),
	)
	exe.Register(list...)
	if err := exe.Attach(a.store); err != nil {
		return nil, err
	}
	return exe, nil
}

func noArgs(name string, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("%s: unexpected arguments: %v", name, args)
	}
	return nil
}

func oneID(name string, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: taskdeck %s <id>", name)
	}
	return args[0], nil
}

// Blank text is a benign no-op, matching the store.
func addCommand(a *app, args []string) error {
	if task, ok := a.store.Add(strings.Join(args, " ")); ok {
		fmt.Fprintf(a.stdout, "%s\n", task.ID)
	}
	return nil
}

func listCommand(a *app, args []string) error {
	fs := flag.NewFlagSet("taskdeck list", flag.ContinueOnError)
	raw := fs.String("filter", string(tasks.FilterAll), "Which tasks to show (all|active|completed)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := noArgs("list", fs.Args()); err != nil {
		return err
	}
	filter, err := tasks.ParseFilter(*raw)
	if err != nil {
		return err
	}
	printTasks(a.stdout, filter, a.store.View(filter))
	return nil
}

func toggleCommand(a *app, args []string) error {
	id, err := oneID("toggle", args)
	if err != nil {
		return err
	}
	if a.store.Toggle(id) {
		task, _ := a.store.Get(id)
		printTask(a.stdout, task)
	}
	return nil
}

func removeCommand(a *app, args []string) error {
	id, err := oneID("rm", args)
	if err != nil {
		return err
	}
	a.store.Remove(id)
	return nil
}

func clearCommand(a *app, args []string) error {
	if err := noArgs("clear", args); err != nil {
		return err
	}
	n := a.store.ClearCompleted()
	fmt.Fprintf(a.stdout, "Cleared %d completed\n", n)
	return nil
}

func statsCommand(a *app, args []string) error {
	if err := noArgs("stats", args); err != nil {
		return err
	}
	printStats(a.stdout, a.store.Stats())
	return nil
}

func tuiCommand(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("taskdeck tui", flag.ContinueOnError)
	raw := fs.String("filter", string(tasks.FilterAll), "Initial filter (all|active|completed)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	filter, err := tasks.ParseFilter(*raw)
	if err != nil {
		return err
	}

	// The alt screen owns the terminal; keep the standard logger off it.
	if a.file != nil {
		logFile, err := tea.LogToFile(filepath.Join(a.file.Dir(), "taskdeck.log"), "taskdeck")
		if err != nil {
			return err
		}
		defer logFile.Close()
	} else {
		log.SetOutput(io.Discard)
	}

	if a.file != nil {
		w, err := watchStore(a, nil)
		if err != nil {
			return err
		}
		defer w.Close()
	}

	return ui.Run(ctx, a.store,
		ui.WithTitle(a.settings.UI.Title),
		ui.WithStats(a.settings.ShowStats()),
		ui.WithFilter(filter),
	)
}

func watchCommand(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("taskdeck watch", flag.ContinueOnError)
	raw := fs.String("filter", string(tasks.FilterAll), "Which tasks to show (all|active|completed)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	filter, err := tasks.ParseFilter(*raw)
	if err != nil {
		return err
	}
	if a.file == nil {
		return errors.New("watch: requires the file backend")
	}

	render := func() {
		printTasks(a.stdout, filter, a.store.View(filter))
		printStats(a.stdout, a.store.Stats())
	}
	render()

	cancel := a.store.Subscribe(func(c tasks.Change) {
		printTasks(a.stdout, filter, filter.Apply(c.Tasks))
		printStats(a.stdout, tasks.CountStats(c.Tasks))
	})
	defer cancel()

	w, err := watchStore(a, func(err error) { log.Printf("watch: %v", err) })
	if err != nil {
		return err
	}
	defer w.Close()

	<-ctx.Done()
	return nil
}

// watchStore reloads the store whenever another process rewrites its key.
func watchStore(a *app, onError func(error)) (*storage.Watcher, error) {
	opts := []storage.WatcherOption{
		storage.OnChange(func(key string) {
			if key == a.store.Key() {
				a.store.Reload()
			}
		}),
	}
	if onError != nil {
		opts = append(opts, storage.OnError(onError))
	}
	w, err := storage.NewWatcher(a.file, opts...)
	if err != nil {
		return nil, err
	}
	if err := w.Start(a.store.Key()); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

func mcpCommand(ctx context.Context, a *app, args []string) error {
	if err := noArgs("mcp", args); err != nil {
		return err
	}
	if a.file != nil {
		w, err := watchStore(a, nil)
		if err != nil {
			return err
		}
		defer w.Close()
	}
	return mcpserver.Serve(ctx, a.store, Version)
}

func printTasks(w io.Writer, filter tasks.Filter, list []tasks.Task) {
	if len(list) == 0 {
		fmt.Fprintf(w, "%s: none\n", filter.Title())
		return
	}
	fmt.Fprintf(w, "%s (%d)\n", filter.Title(), len(list))
	for _, task := range list {
		printTask(w, task)
	}
}

func printTask(w io.Writer, task tasks.Task) {
	mark := " "
	if task.Completed {
		mark = "x"
	}
	fmt.Fprintf(w, "[%s] %s  %s\n", mark, task.ID, task.Text)
}

func printStats(w io.Writer, st tasks.Stats) {
	fmt.Fprintf(w, "Total: %d  Active: %d  Completed: %d\n", st.Total, st.Active, st.Completed)
}

func printUsage(fs *flag.FlagSet, w io.Writer) {
	fmt.Fprintln(w, "Usage: taskdeck [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  add <text...>        Add a task and print its id")
	fmt.Fprintln(w, "  list [-filter f]     List tasks, newest first (default command)")
	fmt.Fprintln(w, "  toggle <id>          Flip a task between active and completed")
	fmt.Fprintln(w, "  rm <id>              Remove a task")
	fmt.Fprintln(w, "  clear                Remove all completed tasks")
	fmt.Fprintln(w, "  stats                Print total, active and completed counts")
	fmt.Fprintln(w, "  tui [-filter f]      Interactive terminal UI")
	fmt.Fprintln(w, "  watch [-filter f]    Print the list whenever it changes on disk")
	fmt.Fprintln(w, "  mcp                  Serve the list as MCP tools over stdio")
	fmt.Fprintln(w, "  version              Show version")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	out := fs.Output()
	fs.SetOutput(w)
	fs.PrintDefaults()
	fs.SetOutput(out)
}
