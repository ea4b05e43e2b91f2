package job

import (
	"encoding/json"
	"time"
)

// Job is one journaled failed run, kept until it is retried.
type Job struct {
	ID        string          `json:"id"`
	Handler   string          `json:"handler"`
	Filename  string          `json:"filename,omitempty"`
	Stage     string          `json:"stage,omitempty"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	Retries   int             `json:"retries"`
	CreatedAt time.Time       `json:"created_at"`
}
