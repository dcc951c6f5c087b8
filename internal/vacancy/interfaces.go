package vacancy

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (Page, error)
}

// TokenLabeler tags every model token of a text chunk with a BIO label.
type TokenLabeler interface {
	Label(ctx context.Context, text string) ([]Token, error)
}

// Embedder maps phrases to fixed-dimension vectors, one per input.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Store persists vacancies and skills.
type Store interface {
	SkillExists(ctx context.Context, name string) (bool, error)
	SkillsExist(ctx context.Context, names []string) ([]bool, error)
	UpsertSkills(ctx context.Context, names []string) ([]int64, error)
	UpsertVacancies(ctx context.Context, descriptors []Descriptor) ([]PersistedVacancy, error)
}

// RunStore persists background run metadata and output.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRunStatus(ctx context.Context, runID string, status RunStatus, errText string, counters RunCounters) error
	SaveResults(ctx context.Context, runID string, results []Result) error
	GetRun(ctx context.Context, runID string) (Run, error)
	ListResults(ctx context.Context, runID string) ([]Result, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for runs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
