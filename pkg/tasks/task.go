package tasks

import (
	"fmt"
	"strings"
	"time"
)

// Task is a single to-do item. Only Completed changes after creation.
type Task struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"createdAt"`
}

// Filter selects which slice of the collection a caller wants to display.
// The store never tracks a current filter; presentation code owns that state.
type Filter string

const (
	FilterAll       Filter = "all"
	FilterActive    Filter = "active"
	FilterCompleted Filter = "completed"
)

// ParseFilter accepts the canonical names plus a few common aliases.
func ParseFilter(v string) (Filter, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "all":
		return FilterAll, nil
	case "active", "open", "pending", "todo":
		return FilterActive, nil
	case "completed", "complete", "done":
		return FilterCompleted, nil
	default:
		return "", fmt.Errorf("tasks: unknown filter %q", v)
	}
}

func (f Filter) Valid() bool {
	switch f {
	case FilterAll, FilterActive, FilterCompleted:
		return true
	default:
		return false
	}
}

// Apply returns the tasks matching f, preserving order.
func (f Filter) Apply(list []Task) []Task {
	out := make([]Task, 0, len(list))
	for _, task := range list {
		switch f {
		case FilterActive:
			if task.Completed {
				continue
			}
		case FilterCompleted:
			if !task.Completed {
				continue
			}
		}
		out = append(out, task)
	}
	return out
}

// Next cycles all -> active -> completed -> all.
func (f Filter) Next() Filter {
	switch f {
	case FilterAll:
		return FilterActive
	case FilterActive:
		return FilterCompleted
	default:
		return FilterAll
	}
}

// Title is the list heading shown for the filter.
func (f Filter) Title() string {
	switch f {
	case FilterActive:
		return "Active tasks"
	case FilterCompleted:
		return "Completed tasks"
	default:
		return "All tasks"
	}
}

// Stats summarises a collection for the footer line.
type Stats struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
}

func CountStats(list []Task) Stats {
	st := Stats{Total: len(list)}
	for _, task := range list {
		if task.Completed {
			st.Completed++
		} else {
			st.Active++
		}
	}
	return st
}
