// Package vacancy defines core types shared across the ingestion subsystems.
package vacancy

import (
	"net/http"
	"time"
)

// Token labels emitted by the skill labeling model.
const (
	LabelOutside     = "O"
	LabelBeginSkill  = "B-SKILL"
	LabelInsideSkill = "I-SKILL"
)

// Token is one labeled model token. Sub-word continuations carry a "##" prefix.
type Token struct {
	Text  string `json:"token"`
	Label string `json:"label"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL   string
	Proxy string
}

// Page is a successfully fetched document.
type Page struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Attempts   int
	Duration   time.Duration
}

// RawVacancy is the record scraped from a single detail page.
type RawVacancy struct {
	URL         string   `json:"url"`
	ExternalID  int64    `json:"external_id"`
	Title       string   `json:"title"`
	Salary      *string  `json:"salary"`
	Experience  *string  `json:"experience"`
	WorkFormat  *string  `json:"work_format"`
	Description string   `json:"description"`
	Skills      []string `json:"skills"`
	ArchiveURI  string   `json:"archive_uri,omitempty"`
}

// Descriptor is the persistence request for one vacancy.
type Descriptor struct {
	Name       string
	ExternalID int64
	Skills     []string
}

// Skill is a stored skill row.
type Skill struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// PersistedVacancy mirrors a stored vacancy row and its join rows.
type PersistedVacancy struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	ExternalID int64   `json:"external_id"`
	SkillIDs   []int64 `json:"skills"`
	Existing   bool    `json:"existing"`
}

// Result pairs the scraped source record with its canonical skills and stored row.
type Result struct {
	SourceURL   string           `json:"source_url"`
	ExternalID  int64            `json:"external_id"`
	Title       string           `json:"title"`
	Salary      *string          `json:"salary"`
	Experience  *string          `json:"experience"`
	WorkFormat  *string          `json:"work_format"`
	Description string           `json:"description"`
	Skills      []string         `json:"skills"`
	Persisted   PersistedVacancy `json:"persisted"`
}

// RunRequest selects the listing pages an ingestion run covers.
type RunRequest struct {
	RunID     string `json:"run_id,omitempty"`
	Region    string `json:"region"`
	Query     string `json:"query"`
	PageStart int    `json:"page_start"`
	PageEnd   int    `json:"page_end"`
}

// RunStatus represents the lifecycle state of a background ingestion run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// Terminal reports whether no further transitions are expected.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCanceled:
		return true
	default:
		return false
	}
}

// Run is the metadata kept for each submitted ingestion run.
type Run struct {
	ID        string      `json:"id"`
	Status    RunStatus   `json:"status"`
	Submitted time.Time   `json:"submitted_at"`
	Started   *time.Time  `json:"started_at,omitempty"`
	Finished  *time.Time  `json:"finished_at,omitempty"`
	ErrorText string      `json:"error_text,omitempty"`
	Request   RunRequest  `json:"request"`
	Counters  RunCounters `json:"counters"`
}

// RunCounters tracks progress per run.
type RunCounters struct {
	Vacancies int `json:"vacancies"`
	New       int `json:"new"`
}

// RunResult bundles a run with everything it produced.
type RunResult struct {
	Run     Run      `json:"run"`
	Results []Result `json:"results"`
}

// QueueItem wraps a run ready to execute.
type QueueItem struct {
	RunID     string
	Request   RunRequest
	Submitted int64
}
