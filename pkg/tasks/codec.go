package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// DefaultKey is the storage key the browser build used for its task list.
const DefaultKey = "todos"

// ErrMalformed marks persisted data that cannot be adopted as a task list.
var ErrMalformed = errors.New("tasks: malformed persisted data")

const taskListSchemaURL = "https://taskdeck.dev/schema/tasks.json"

const taskListSchemaJSON = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["id", "text", "completed", "createdAt"],
    "properties": {
      "id": {"type": "string", "minLength": 1},
      "text": {"type": "string", "pattern": "\\S"},
      "completed": {"type": "boolean"},
      "createdAt": {"type": "string", "minLength": 1}
    }
  }
}`

var taskListSchema = jsonschema.MustCompileString(taskListSchemaURL, taskListSchemaJSON)

type record struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
	CreatedAt string `json:"createdAt"`
}

// Encode serialises the collection in order. CreatedAt is written as UTC
// RFC 3339 with nanoseconds.
func Encode(list []Task) (string, error) {
	records := make([]record, 0, len(list))
	for _, task := range list {
		records = append(records, record{
			ID:        task.ID,
			Text:      task.Text,
			Completed: task.Completed,
			CreatedAt: task.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	data, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("tasks: encode: %w", err)
	}
	return string(data), nil
}

// Decode parses a persisted collection. A blank payload decodes to an empty
// list; anything else that is not a valid task list wraps ErrMalformed.
func Decode(data string) ([]Task, error) {
	if strings.TrimSpace(data) == "" {
		return nil, nil
	}
	var doc any
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := taskListSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, schemaMessage(err))
	}
	var records []record
	if err := json.Unmarshal([]byte(data), &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	out := make([]Task, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for i, rec := range records {
		if _, dup := seen[rec.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrMalformed, rec.ID)
		}
		seen[rec.ID] = struct{}{}
		created, err := time.Parse(time.RFC3339Nano, rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: item %d createdAt: %v", ErrMalformed, i, err)
		}
		out = append(out, Task{
			ID:        rec.ID,
			Text:      strings.TrimSpace(rec.Text),
			Completed: rec.Completed,
			CreatedAt: created,
		})
	}
	return out, nil
}

func schemaMessage(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	if ve.InstanceLocation == "" {
		return ve.Message
	}
	return ve.InstanceLocation + ": " + ve.Message
}
