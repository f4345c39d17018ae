package entities

import "time"

// PipelineEvent is published on every state transition of a run
type PipelineEvent struct {
	RunID     string        `json:"run_id"`
	State     PipelineState `json:"state"`
	From      PipelineState `json:"from,omitempty"`
	Attempt   int           `json:"attempt,omitempty"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}
