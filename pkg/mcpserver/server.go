// Package mcpserver exposes a task store as Model Context Protocol tools so
// agents can manage the same list a user sees in the TUI.
package mcpserver

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cexll/taskdeck/pkg/tasks"
)

const (
	ServerName = "taskdeck"

	ToolAdd            = "task_add"
	ToolToggle         = "task_toggle"
	ToolRemove         = "task_remove"
	ToolClearCompleted = "task_clear_completed"
	ToolList           = "task_list"
)

// New builds an MCP server whose tools operate on store.
func New(store *tasks.TaskStore, version string) *mcp.Server {
	if strings.TrimSpace(version) == "" {
		version = "dev"
	}
	server := mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version}, nil)
	h := &handlers{store: store}

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolAdd,
		Description: "Add a task. Surrounding whitespace is trimmed; blank text changes nothing.",
	}, h.add)
	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolToggle,
		Description: "Flip the completed flag of a task by id. Unknown ids change nothing.",
	}, h.toggle)
	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolRemove,
		Description: "Delete a task by id. Unknown ids change nothing.",
	}, h.remove)
	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolClearCompleted,
		Description: "Delete every completed task.",
	}, h.clearCompleted)
	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolList,
		Description: "List tasks, newest first. filter is all, active or completed.",
	}, h.list)
	return server
}

// Serve runs the server over stdin/stdout until the client disconnects or
// ctx is cancelled.
func Serve(ctx context.Context, store *tasks.TaskStore, version string) error {
	log.Printf("mcpserver: serving %d tasks over stdio", store.Len())
	return New(store, version).Run(ctx, &mcp.StdioTransport{})
}

type AddInput struct {
	Text string `json:"text" jsonschema:"task text"`
}

type IDInput struct {
	ID string `json:"id" jsonschema:"task id"`
}

type ListInput struct {
	Filter string `json:"filter,omitempty" jsonschema:"all, active or completed; defaults to all"`
}

type Empty struct{}

// TaskView is the wire shape of a task; createdAt is RFC 3339 in UTC.
type TaskView struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
	CreatedAt string `json:"createdAt"`
}

func viewOf(task tasks.Task) TaskView {
	return TaskView{
		ID:        task.ID,
		Text:      task.Text,
		Completed: task.Completed,
		CreatedAt: task.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// TaskOutput reports the affected task; Task is omitted when Changed is
// false.
type TaskOutput struct {
	Changed bool      `json:"changed"`
	Task    *TaskView `json:"task,omitempty"`
}

func changed(task tasks.Task) TaskOutput {
	v := viewOf(task)
	return TaskOutput{Changed: true, Task: &v}
}

type ClearOutput struct {
	Removed int `json:"removed"`
}

type ListOutput struct {
	Filter tasks.Filter `json:"filter"`
	Tasks  []TaskView   `json:"tasks"`
	Stats  tasks.Stats  `json:"stats"`
}

type handlers struct {
	store *tasks.TaskStore
}

func (h *handlers) add(_ context.Context, _ *mcp.CallToolRequest, in AddInput) (*mcp.CallToolResult, TaskOutput, error) {
	task, ok := h.store.Add(in.Text)
	if !ok {
		return textResult("nothing added: text is blank"), TaskOutput{}, nil
	}
	return textResult(fmt.Sprintf("added %s: %s", task.ID, task.Text)), changed(task), nil
}

func (h *handlers) toggle(_ context.Context, _ *mcp.CallToolRequest, in IDInput) (*mcp.CallToolResult, TaskOutput, error) {
	if !h.store.Toggle(in.ID) {
		return textResult(fmt.Sprintf("nothing toggled: no task %q", in.ID)), TaskOutput{}, nil
	}
	task, _ := h.store.Get(in.ID)
	state := "active"
	if task.Completed {
		state = "completed"
	}
	return textResult(fmt.Sprintf("%s is now %s", task.ID, state)), changed(task), nil
}

func (h *handlers) remove(_ context.Context, _ *mcp.CallToolRequest, in IDInput) (*mcp.CallToolResult, TaskOutput, error) {
	task, ok := h.store.Get(in.ID)
	if !ok || !h.store.Remove(in.ID) {
		return textResult(fmt.Sprintf("nothing removed: no task %q", in.ID)), TaskOutput{}, nil
	}
	return textResult(fmt.Sprintf("removed %s", task.ID)), changed(task), nil
}

func (h *handlers) clearCompleted(_ context.Context, _ *mcp.CallToolRequest, _ Empty) (*mcp.CallToolResult, ClearOutput, error) {
	n := h.store.ClearCompleted()
	return textResult(fmt.Sprintf("removed %d completed tasks", n)), ClearOutput{Removed: n}, nil
}

func (h *handlers) list(_ context.Context, _ *mcp.CallToolRequest, in ListInput) (*mcp.CallToolResult, ListOutput, error) {
	filter, err := tasks.ParseFilter(in.Filter)
	if err != nil {
		return nil, ListOutput{}, err
	}
	all := h.store.Tasks()
	out := ListOutput{Filter: filter, Tasks: []TaskView{}, Stats: tasks.CountStats(all)}
	for _, task := range filter.Apply(all) {
		out.Tasks = append(out.Tasks, viewOf(task))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d)", filter.Title(), len(out.Tasks))
	for _, task := range out.Tasks {
		mark := " "
		if task.Completed {
			mark = "x"
		}
		fmt.Fprintf(&b, "\n[%s] %s %s", mark, task.ID, task.Text)
	}
	return textResult(b.String()), out, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}
