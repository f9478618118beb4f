package album

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/pinalbum/internal/datastore"
	"github.com/tphakala/pinalbum/internal/events"
)

// Phase is the in-memory state of a location's current batch.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSearching
	PhaseDownloading
	PhaseSettled
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSearching:
		return "searching"
	case PhaseDownloading:
		return "downloading"
	case PhaseSettled:
		return "settled"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Busy reports whether a batch is in flight.
func (p Phase) Busy() bool {
	return p == PhaseSearching || p == PhaseDownloading
}

// locationState serializes every operation on one location.
type locationState struct {
	mu         sync.Mutex
	phase      Phase
	generation uint64
	batch      *Batch
}

// Batch is a handle to one fetch or retry run. It ends exactly once, with a
// BatchSettled or BatchFailed event.
type Batch struct {
	LocationID string
	Page       int
	Generation uint64
	Retry      bool

	st      *locationState
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time
	done    chan struct{}
	outcome events.Event

	// Guarded by st.mu.
	photos          []datastore.Photo
	resolved        map[string]struct{}
	total           int
	completed       int
	itemErrors      int
	transientErrors int
	finished        bool
}

// Done is closed when the batch has ended.
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until the batch ends and returns its terminal event, either
// events.BatchSettled or events.BatchFailed.
func (b *Batch) Wait(ctx context.Context) (events.Event, error) {
	select {
	case <-b.done:
		return b.outcome, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
