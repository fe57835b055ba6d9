package crawler

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
// Non-2xx responses are reported as *HTTPStatusError.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Extractor turns page bodies into structured fields.
type Extractor interface {
	ParseListing(body []byte, pageURL string) ([]ListingEntry, error)
	ParseDetail(body []byte) (Detail, error)
	ParseReviews(body []byte) (map[string]int, error)
}

// ItemSink receives the accumulated items exactly once per run.
type ItemSink interface {
	WriteItems(ctx context.Context, items []Item, appendMode bool) error
	CountRows() (int, error)
	TruncateRows(n int) error
}

// CheckpointStore persists the resume cursor alongside each flush.
type CheckpointStore interface {
	Load() (Checkpoint, bool, error)
	Save(cp Checkpoint) error
}

// Pauser blocks for a delay unless the context ends first.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Checkpoint is the resume cursor written next to the raw dataset.
type Checkpoint struct {
	RunID     string    `json:"run_id"`
	NextPage  int       `json:"next_page"`
	Rows      int       `json:"rows"`
	Complete  bool      `json:"complete"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
