package pipeline

import "time"

// BatchEvent is published after a batch commits.
type BatchEvent struct {
	RunID       string    `json:"run_id"`
	PageStart   int       `json:"page_start"`
	PageEnd     int       `json:"page_end"`
	Vacancies   int       `json:"vacancies"`
	New         int       `json:"new"`
	PersistedAt time.Time `json:"persisted_at"`
}

// EventType names the event for subscribers.
func (BatchEvent) EventType() string { return "batch_persisted" }
