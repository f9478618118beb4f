// Package album runs the photo fetch pipeline for a location: search one
// result page, record a photo per result, download every photo concurrently
// into the image store and report once when the whole batch has resolved.
package album

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tphakala/pinalbum/internal/datastore"
	"github.com/tphakala/pinalbum/internal/errors"
	"github.com/tphakala/pinalbum/internal/events"
	"github.com/tphakala/pinalbum/internal/flickr"
	"github.com/tphakala/pinalbum/internal/logger"
	"github.com/tphakala/pinalbum/internal/observability/metrics"
)

// Searcher runs one page of a photo search.
type Searcher interface {
	Search(ctx context.Context, req flickr.SearchRequest) (*flickr.SearchResult, error)
}

// Downloader fetches the bytes behind a photo URL.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// ImageStore holds downloaded photo bytes by cache key.
type ImageStore interface {
	Put(key string, data []byte) error
	Delete(key string) error
}

// Publisher delivers batch events. Publish must not drop; TryPublish may.
type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
	TryPublish(event events.Event) bool
}

// Config tunes batch execution.
type Config struct {
	PageSize int
	// MaxConcurrent bounds downloads per batch; 0 runs every item at once.
	MaxConcurrent int
}

// Deps are the collaborators of a Coordinator. Metrics and Logger are optional.
type Deps struct {
	Searcher   Searcher
	Downloader Downloader
	Images     ImageStore
	Records    datastore.Interface
	Events     Publisher
	Metrics    *metrics.AlbumMetrics
	Logger     logger.Logger
}

// Coordinator owns the per-location batch state machine. Operations on one
// location are serialized; different locations never block each other.
type Coordinator struct {
	cfg        Config
	searcher   Searcher
	downloader Downloader
	images     ImageStore
	records    datastore.Interface
	events     Publisher
	metrics    *metrics.AlbumMetrics
	logger     logger.Logger
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	locations map[string]*locationState
}

// New creates a coordinator.
func New(cfg Config, deps Deps) (*Coordinator, error) {
	switch {
	case deps.Searcher == nil, deps.Downloader == nil, deps.Images == nil,
		deps.Records == nil, deps.Events == nil:
		return nil, errors.Newf("album coordinator requires searcher, downloader, images, records and events").
			Component("album").
			Category(errors.CategoryConfiguration).
			Build()
	case cfg.PageSize < 1:
		return nil, errors.Newf("page size must be positive, got %d", cfg.PageSize).
			Component("album").
			Category(errors.CategoryConfiguration).
			Build()
	}
	log := deps.Logger
	if log == nil {
		log = logger.NewDiscardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:        cfg,
		searcher:   deps.Searcher,
		downloader: deps.Downloader,
		images:     deps.Images,
		records:    deps.Records,
		events:     deps.Events,
		metrics:    deps.Metrics,
		logger:     log,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
		locations:  make(map[string]*locationState),
	}, nil
}

func (c *Coordinator) location(id string) *locationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.locations[id]
	if !ok {
		st = &locationState{}
		c.locations[id] = st
	}
	return st
}

// track registers a batch goroutine unless the coordinator is closed.
func (c *Coordinator) track() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.wg.Add(1)
	return true
}

// State returns the in-memory phase of id.
func (c *Coordinator) State(id string) Phase {
	c.mu.Lock()
	st, ok := c.locations[id]
	c.mu.Unlock()
	if !ok {
		return PhaseIdle
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.phase
}

// loadIdleLocked loads the location and rejects it when a batch is in
// flight. With checkPersisted the stored downloading flag also counts.
func (c *Coordinator) loadIdleLocked(ctx context.Context, st *locationState, id string, checkPersisted bool) (*datastore.Location, error) {
	if st.phase.Busy() {
		return nil, &BusyError{LocationID: id, Phase: st.phase}
	}
	loc, err := c.records.GetLocation(ctx, id)
	if err != nil {
		return nil, err
	}
	if checkPersisted && loc.Downloading {
		return nil, &BusyError{LocationID: id, Phase: PhaseDownloading, Persisted: true}
	}
	return loc, nil
}

// Start begins a fetch of the location's current page into an empty album.
// The search and the downloads run in the background. A busy location is
// rejected with *BusyError and one that already has photos with
// *NotEmptyError; nothing is recorded in either case.
func (c *Coordinator) Start(ctx context.Context, id string) (*Batch, error) {
	st := c.location(id)
	st.mu.Lock()
	defer st.mu.Unlock()

	loc, err := c.loadIdleLocked(ctx, st, id, true)
	if err != nil {
		return nil, err
	}
	count, err := c.records.CountPhotos(ctx, id)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, &NotEmptyError{LocationID: id, Photos: count}
	}
	b, err := c.beginLocked(ctx, st, loc, false)
	if err != nil {
		return nil, err
	}
	go c.run(b, loc)
	return b, nil
}

// NewCollection clears the album, advances to the next result page and
// starts a fetch of it, all without releasing the location.
func (c *Coordinator) NewCollection(ctx context.Context, id string) (*Batch, error) {
	st := c.location(id)
	st.mu.Lock()
	defer st.mu.Unlock()

	loc, err := c.loadIdleLocked(ctx, st, id, true)
	if err != nil {
		return nil, err
	}
	if err := c.clearLocked(ctx, id); err != nil {
		return nil, err
	}

	loc.Page = loc.NextPage()
	if err := c.records.UpdatePaging(ctx, id, loc.Page, loc.Pages); err != nil {
		return nil, err
	}

	b, err := c.beginLocked(ctx, st, loc, false)
	if err != nil {
		return nil, err
	}
	c.logger.Info("new collection requested",
		logger.String("location_id", id),
		logger.Int("page", loc.Page))
	go c.run(b, loc)
	return b, nil
}

// RetryFailed re-downloads every photo marked with a transient error. With
// nothing to retry the batch settles at once and a stale downloading flag is
// cleared.
func (c *Coordinator) RetryFailed(ctx context.Context, id string) (*Batch, error) {
	st := c.location(id)
	st.mu.Lock()

	loc, err := c.loadIdleLocked(ctx, st, id, false)
	if err != nil {
		st.mu.Unlock()
		return nil, err
	}
	failed, err := c.records.ListFailedPhotos(ctx, id)
	if err != nil {
		st.mu.Unlock()
		return nil, err
	}

	if len(failed) == 0 {
		b, err := c.newBatchLocked(st, loc, true)
		if err != nil {
			st.mu.Unlock()
			return nil, err
		}
		c.metrics.BatchStarted()
		ev := c.settleLocked(b)
		st.mu.Unlock()
		b.cancel()
		c.finish(b, ev)
		c.wg.Done()
		return b, nil
	}

	b, err := c.beginLocked(ctx, st, loc, true)
	if err != nil {
		st.mu.Unlock()
		return nil, err
	}
	c.startDownloadsLocked(b, failed)
	st.mu.Unlock()

	c.logger.Info("retrying failed photos",
		logger.String("location_id", id),
		logger.Int("photos", len(failed)))
	go c.run(b, loc)
	return b, nil
}

// Cancel stops the location's batch. Unresolved photos are marked for
// retry and a BatchFailed event with kind "cancelled" is published. It
// reports whether a batch was running.
func (c *Coordinator) Cancel(ctx context.Context, id string) (bool, error) {
	c.mu.Lock()
	st, ok := c.locations[id]
	c.mu.Unlock()
	if !ok {
		return false, nil
	}

	st.mu.Lock()
	b, ev, err := c.cancelLocked(ctx, st, id, "cancelled by request")
	st.mu.Unlock()
	if b == nil {
		return false, nil
	}
	c.finish(b, ev)
	return true, err
}

// Clear deletes every photo of the location, image bytes first.
func (c *Coordinator) Clear(ctx context.Context, id string) error {
	st := c.location(id)
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, err := c.loadIdleLocked(ctx, st, id, true); err != nil {
		return err
	}
	return c.clearLocked(ctx, id)
}

// DeleteLocation removes the location, its photos and their cached bytes.
func (c *Coordinator) DeleteLocation(ctx context.Context, id string) error {
	st := c.location(id)
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, err := c.loadIdleLocked(ctx, st, id, true); err != nil {
		return err
	}
	if err := c.clearLocked(ctx, id); err != nil {
		return err
	}
	if err := c.records.DeleteLocation(ctx, id); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.locations, id)
	c.mu.Unlock()

	c.logger.Info("location deleted", logger.String("location_id", id))
	return nil
}

// DeletePhoto removes one photo and its cached bytes.
func (c *Coordinator) DeletePhoto(ctx context.Context, id, remoteID string) error {
	st := c.location(id)
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, err := c.loadIdleLocked(ctx, st, id, true); err != nil {
		return err
	}
	photo, err := c.records.GetPhoto(ctx, id, remoteID)
	if err != nil {
		return err
	}
	if err := c.deleteImage(photo.CacheKey()); err != nil {
		return err
	}
	return c.records.DeletePhoto(ctx, id, remoteID)
}

// Recover clears downloading flags left behind by a process that stopped
// mid-batch. It must run before any batch starts.
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	c.mu.Lock()
	states := make(map[string]*locationState, len(c.locations))
	for id, st := range c.locations {
		states[id] = st
	}
	c.mu.Unlock()

	for id, st := range states {
		st.mu.Lock()
		busy := st.phase.Busy()
		st.mu.Unlock()
		if busy {
			return 0, errors.Newf("cannot recover while location %s has a batch in flight", id).
				Component("album").
				Category(errors.CategoryState).
				Build()
		}
	}

	ids, err := c.records.ResetDownloading(ctx)
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		c.logger.Warn("cleared stale downloading flags", logger.Int("locations", len(ids)))
	}
	return len(ids), nil
}

// Close cancels every running batch and waits for their goroutines.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	states := make(map[string]*locationState, len(c.locations))
	for id, st := range c.locations {
		states[id] = st
	}
	c.mu.Unlock()

	for id, st := range states {
		st.mu.Lock()
		b, ev, err := c.cancelLocked(context.Background(), st, id, "coordinator shutting down")
		st.mu.Unlock()
		if err != nil {
			c.logger.Warn("failed to record cancellation", logger.String("location_id", id), logger.Error(err))
		}
		if b != nil {
			c.finish(b, ev)
		}
	}

	c.cancel()
	c.wg.Wait()
}

// newBatchLocked bumps the generation and installs a batch handle. The
// caller owns one c.wg slot on success.
func (c *Coordinator) newBatchLocked(st *locationState, loc *datastore.Location, retry bool) (*Batch, error) {
	if !c.track() {
		return nil, ErrClosed
	}
	st.generation++
	ctx, cancel := context.WithCancel(c.ctx)
	b := &Batch{
		LocationID: loc.ID,
		Page:       loc.Page,
		Generation: st.generation,
		Retry:      retry,
		st:         st,
		ctx:        ctx,
		cancel:     cancel,
		started:    c.now(),
		done:       make(chan struct{}),
		resolved:   make(map[string]struct{}),
	}
	st.batch = b
	return b, nil
}

// beginLocked persists downloading=true and moves the location into its
// first active phase.
func (c *Coordinator) beginLocked(ctx context.Context, st *locationState, loc *datastore.Location, retry bool) (*Batch, error) {
	b, err := c.newBatchLocked(st, loc, retry)
	if err != nil {
		return nil, err
	}
	if err := c.records.SetDownloading(ctx, loc.ID, true); err != nil {
		st.batch = nil
		b.cancel()
		c.wg.Done()
		return nil, err
	}

	st.phase = PhaseSearching
	if retry {
		st.phase = PhaseDownloading
	}
	c.metrics.BatchStarted()
	c.logger.Debug("batch started",
		logger.String("location_id", loc.ID),
		logger.Int("page", loc.Page),
		logger.Uint64("generation", b.Generation),
		logger.Bool("retry", retry))
	return b, nil
}

// currentLocked reports whether b is still the location's live batch.
func (c *Coordinator) currentLocked(b *Batch) bool {
	return !b.finished && b.st.generation == b.Generation
}

// run drives a batch to completion. It owns the c.wg slot taken at begin.
func (c *Coordinator) run(b *Batch, loc *datastore.Location) {
	defer c.wg.Done()
	defer b.cancel()

	if !b.Retry {
		if !c.searchPhase(b, loc) {
			return
		}
	}

	b.st.mu.Lock()
	photos := b.photos
	live := c.currentLocked(b)
	b.st.mu.Unlock()
	if !live {
		return
	}
	c.downloadAll(b, photos)
}

// searchPhase runs the search and records the photos. It reports whether
// downloads should follow.
func (c *Coordinator) searchPhase(b *Batch, loc *datastore.Location) bool {
	result, searchErr := c.searcher.Search(b.ctx, flickr.SearchRequest{
		Coordinate: loc.Coordinate(),
		Page:       b.Page,
		PageSize:   c.cfg.PageSize,
	})

	st := b.st
	st.mu.Lock()
	if !c.currentLocked(b) {
		st.mu.Unlock()
		c.metrics.IncStaleCompletion()
		return false
	}
	if searchErr != nil {
		ev := c.failLocked(b, searchErr)
		st.mu.Unlock()
		c.finish(b, ev)
		return false
	}

	photos, err := c.recordPhotosLocked(b, result)
	if err != nil {
		ev := c.failLocked(b, err)
		st.mu.Unlock()
		c.finish(b, ev)
		return false
	}
	if len(photos) == 0 {
		ev := c.settleLocked(b)
		st.mu.Unlock()
		c.finish(b, ev)
		return false
	}

	c.startDownloadsLocked(b, photos)
	st.mu.Unlock()
	return true
}

// recordPhotosLocked stores the paging result and creates one photo record
// per distinct descriptor in a single transaction.
func (c *Coordinator) recordPhotosLocked(b *Batch, result *flickr.SearchResult) ([]datastore.Photo, error) {
	ctx := context.WithoutCancel(b.ctx)

	if err := c.records.UpdatePaging(ctx, b.LocationID, b.Page, max(result.Pages, 0)); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(result.Descriptors))
	addedAt := c.now()
	photos := make([]datastore.Photo, 0, len(result.Descriptors))
	for _, d := range result.Descriptors {
		if _, dup := seen[d.RemoteID]; dup {
			continue
		}
		seen[d.RemoteID] = struct{}{}
		photos = append(photos, datastore.NewPhoto(b.LocationID, d, len(photos), addedAt))
	}
	if len(photos) < len(result.Descriptors) {
		c.logger.Debug("skipped duplicate descriptors",
			logger.String("location_id", b.LocationID),
			logger.Int("skipped", len(result.Descriptors)-len(photos)))
	}

	if err := c.records.CreatePhotos(ctx, photos); err != nil {
		return nil, err
	}
	return photos, nil
}

func (c *Coordinator) startDownloadsLocked(b *Batch, photos []datastore.Photo) {
	b.photos = photos
	b.total = len(photos)
	b.st.phase = PhaseDownloading
}

// downloadAll runs one goroutine per photo, bounded by a semaphore, and
// returns when all of them have completed.
func (c *Coordinator) downloadAll(b *Batch, photos []datastore.Photo) {
	limit := c.cfg.MaxConcurrent
	if limit <= 0 || limit > len(photos) {
		limit = len(photos)
	}
	sem := semaphore.NewWeighted(int64(limit))

	var wg sync.WaitGroup
	for _, photo := range photos {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(b.ctx, 1); err != nil {
				c.complete(b, photo, nil, err)
				return
			}
			data, err := c.downloader.Download(b.ctx, photo.RemoteURL)
			sem.Release(1)
			c.complete(b, photo, data, err)
		}()
	}
	wg.Wait()
}

// complete records one item outcome. The counter update and the check for
// the last item happen under the location lock, so exactly one completion
// settles the batch.
func (c *Coordinator) complete(b *Batch, photo datastore.Photo, data []byte, downloadErr error) {
	st := b.st
	st.mu.Lock()
	if !c.currentLocked(b) {
		st.mu.Unlock()
		c.metrics.IncStaleCompletion()
		c.logger.Trace("discarded stale completion",
			logger.String("location_id", b.LocationID),
			logger.String("remote_id", photo.RemoteID),
			logger.Uint64("generation", b.Generation))
		return
	}

	ctx := context.WithoutCancel(b.ctx)
	log := c.logger.With(
		logger.String("location_id", b.LocationID),
		logger.String("remote_id", photo.RemoteID))

	err := downloadErr
	if err == nil {
		if putErr := c.images.Put(photo.CacheKey(), data); putErr != nil {
			// a rejected key fails the same way on every attempt
			err = &DownloadError{
				URL:       photo.RemoteURL,
				Transient: !errors.IsCategory(putErr, errors.CategoryValidation),
				Err:       putErr,
			}
		}
	}

	transient := false
	switch {
	case err == nil:
		if photo.HasError {
			if setErr := c.records.SetPhotoError(ctx, b.LocationID, photo.RemoteID, false); setErr != nil {
				log.Warn("failed to clear photo error flag", logger.Error(setErr))
			}
		}
	case IsTransient(err):
		transient = true
		b.itemErrors++
		b.transientErrors++
		if !photo.HasError {
			if setErr := c.records.SetPhotoError(ctx, b.LocationID, photo.RemoteID, true); setErr != nil {
				log.Warn("failed to set photo error flag", logger.Error(setErr))
			}
		}
		log.Debug("photo download failed, marked for retry", logger.Error(err))
	default:
		b.itemErrors++
		log.Warn("photo download failed permanently", logger.Error(err))
	}

	b.completed++
	b.resolved[photo.RemoteID] = struct{}{}
	c.events.TryPublish(events.PhotoResolved{
		LocationID: b.LocationID,
		RemoteID:   photo.RemoteID,
		Generation: b.Generation,
		OK:         err == nil,
		Transient:  transient,
		At:         c.now(),
	})

	var ev events.Event
	if b.completed == b.total {
		ev = c.settleLocked(b)
	}
	st.mu.Unlock()

	if ev != nil {
		c.finish(b, ev)
	}
}

// settleLocked ends b successfully and returns the event to publish.
func (c *Coordinator) settleLocked(b *Batch) events.Event {
	ctx := context.WithoutCancel(b.ctx)
	if b.Retry {
		if _, err := c.records.ClearDownloading(ctx, b.LocationID); err != nil {
			c.logger.Error("failed to clear downloading flag", logger.String("location_id", b.LocationID), logger.Error(err))
		}
	} else if err := c.records.SetDownloading(ctx, b.LocationID, false); err != nil {
		c.logger.Error("failed to clear downloading flag", logger.String("location_id", b.LocationID), logger.Error(err))
	}

	b.finished = true
	b.st.phase = PhaseSettled
	b.st.batch = nil

	ev := events.BatchSettled{
		LocationID:      b.LocationID,
		Page:            b.Page,
		Generation:      b.Generation,
		ResultCount:     b.total,
		ItemErrors:      b.itemErrors,
		TransientErrors: b.transientErrors,
		Retry:           b.Retry,
		At:              c.now(),
	}
	c.metrics.BatchFinished(string(ev.Kind()), c.now().Sub(b.started))
	c.logger.Info("batch settled",
		logger.String("location_id", b.LocationID),
		logger.Int("page", b.Page),
		logger.Int("results", b.total),
		logger.Int("item_errors", b.itemErrors),
		logger.Bool("retry", b.Retry))
	return ev
}

// failLocked ends b after a search or record store failure.
func (c *Coordinator) failLocked(b *Batch, cause error) events.Event {
	if err := c.records.SetDownloading(context.WithoutCancel(b.ctx), b.LocationID, false); err != nil {
		c.logger.Error("failed to clear downloading flag", logger.String("location_id", b.LocationID), logger.Error(err))
	}

	b.finished = true
	b.st.phase = PhaseFailed
	b.st.batch = nil

	kind := ErrorKind(cause)
	c.metrics.BatchFinished("failed", c.now().Sub(b.started))
	c.logger.Warn("batch failed",
		logger.String("location_id", b.LocationID),
		logger.Int("page", b.Page),
		logger.String("error_kind", kind),
		logger.Error(cause))
	return events.BatchFailed{
		LocationID: b.LocationID,
		Page:       b.Page,
		Generation: b.Generation,
		ErrorKind:  kind,
		Message:    cause.Error(),
		Err:        cause,
		At:         c.now(),
	}
}

// cancelLocked ends the running batch of st, if any. Late completions are
// discarded by the generation bump.
func (c *Coordinator) cancelLocked(ctx context.Context, st *locationState, id, reason string) (*Batch, events.Event, error) {
	b := st.batch
	if b == nil || !st.phase.Busy() {
		return nil, nil, nil
	}

	st.generation++
	b.cancel()

	var unresolved []string
	for i := range b.photos {
		if _, ok := b.resolved[b.photos[i].RemoteID]; !ok {
			unresolved = append(unresolved, b.photos[i].RemoteID)
		}
	}

	var errs []error
	if err := c.records.MarkPhotosFailed(ctx, id, unresolved); err != nil {
		errs = append(errs, err)
	}
	if err := c.records.SetDownloading(ctx, id, false); err != nil {
		errs = append(errs, err)
	}

	b.finished = true
	st.phase = PhaseIdle
	st.batch = nil

	c.metrics.BatchFinished(KindCancelled, c.now().Sub(b.started))
	c.logger.Info("batch cancelled",
		logger.String("location_id", id),
		logger.String("reason", reason),
		logger.Int("unresolved", len(unresolved)))

	ev := events.BatchFailed{
		LocationID: id,
		Page:       b.Page,
		Generation: b.Generation,
		ErrorKind:  KindCancelled,
		Message:    reason,
		Err:        context.Canceled,
		At:         c.now(),
	}
	return b, ev, errors.Join(errs...)
}

// clearLocked deletes image bytes before each record so a failure never
// leaves bytes without a record. Missing photos are skipped.
func (c *Coordinator) clearLocked(ctx context.Context, id string) error {
	photos, err := c.records.ListPhotos(ctx, id)
	if err != nil {
		return err
	}
	for i := range photos {
		if err := c.deleteImage(photos[i].CacheKey()); err != nil {
			return err
		}
		if err := c.records.DeletePhoto(ctx, id, photos[i].RemoteID); err != nil && !errors.Is(err, datastore.ErrPhotoNotFound) {
			return err
		}
	}
	if len(photos) > 0 {
		c.logger.Debug("album cleared", logger.String("location_id", id), logger.Int("photos", len(photos)))
	}
	return nil
}

// deleteImage removes cached bytes. A key the store rejects never held any.
func (c *Coordinator) deleteImage(key string) error {
	err := c.images.Delete(key)
	if errors.IsCategory(err, errors.CategoryValidation) {
		return nil
	}
	return err
}

// finish publishes the terminal event and releases Wait callers.
func (c *Coordinator) finish(b *Batch, ev events.Event) {
	if err := c.events.Publish(context.WithoutCancel(b.ctx), ev); err != nil {
		c.logger.Warn("failed to publish batch event",
			logger.String("location_id", b.LocationID),
			logger.String("kind", string(ev.Kind())),
			logger.Error(err))
	}
	b.outcome = ev
	close(b.done)
}

func (b *Batch) String() string {
	return fmt.Sprintf("batch(%s page=%d gen=%d)", b.LocationID, b.Page, b.Generation)
}
