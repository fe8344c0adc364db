package daemon

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// MessageSchema is the JSON Schema of Message. Consumers can use it to check
// what they receive.
const MessageSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["cpu_usage", "cpu_average", "memory", "processes", "timestamp", "history"],
  "properties": {
    "cpu_usage": {"type": "array", "items": {"type": "integer", "minimum": 0}},
    "cpu_average": {"type": "number", "minimum": 0},
    "memory": {
      "type": "object",
      "required": ["total", "used", "free", "cached", "available", "buffers",
                   "total_formatted", "used_formatted", "free_formatted"],
      "properties": {
        "total": {"type": "integer", "minimum": 0},
        "used": {"type": "integer", "minimum": 0},
        "free": {"type": "integer", "minimum": 0},
        "cached": {"type": "integer", "minimum": 0},
        "available": {"type": "integer", "minimum": 0},
        "buffers": {"type": "integer", "minimum": 0},
        "percent": {"type": "number"},
        "total_formatted": {"type": "string", "pattern": "^[0-9]+\\.[0-9]{2} (B|KB|MB|GB|TB)$"},
        "used_formatted": {"type": "string", "pattern": "^[0-9]+\\.[0-9]{2} (B|KB|MB|GB|TB)$"},
        "free_formatted": {"type": "string", "pattern": "^[0-9]+\\.[0-9]{2} (B|KB|MB|GB|TB)$"}
      }
    },
    "processes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["pid", "name", "cpu_usage", "memory_usage", "memory_formatted", "state", "priority", "nice"],
        "properties": {
          "pid": {"type": "integer"},
          "name": {"type": "string", "maxLength": 16},
          "cpu_usage": {"type": "integer", "minimum": 0},
          "memory_usage": {"type": "integer", "minimum": 0},
          "memory_formatted": {"type": "string"},
          "state": {"type": "string", "minLength": 1, "maxLength": 1},
          "priority": {"type": "integer", "minimum": 0},
          "nice": {"type": "integer", "minimum": 0}
        }
      }
    },
    "timestamp": {"type": "string", "format": "date-time"},
    "history": {
      "type": "object",
      "required": ["cpu", "memory", "timestamp"],
      "properties": {
        "cpu": {"type": "array", "items": {"type": "number"}},
        "memory": {"type": "array", "items": {"type": "number"}},
        "timestamp": {"type": "array", "items": {"type": "string", "format": "date-time"}}
      }
    }
  }
}`

var messageSchema = gojsonschema.NewStringLoader(MessageSchema)

// ValidateMessage checks a serialized message against MessageSchema. The
// equal length of the history arrays is checked separately since JSON Schema
// cannot express it.
func ValidateMessage(data []byte) error {
	result, err := gojsonschema.Validate(messageSchema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("validate message: %w", err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return fmt.Errorf("message does not match schema: %s", strings.Join(problems, "; "))
	}

	var doc struct {
		History HistoryInfo `json:"history"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode history: %w", err)
	}
	h := doc.History
	if len(h.CPU) != len(h.Memory) || len(h.CPU) != len(h.Timestamp) {
		return fmt.Errorf("history arrays differ in length: cpu=%d memory=%d timestamp=%d",
			len(h.CPU), len(h.Memory), len(h.Timestamp))
	}
	return nil
}
