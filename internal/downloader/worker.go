package downloader

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hunyaochong/ads-cloner/internal/models"
	"github.com/hunyaochong/ads-cloner/internal/storage"
)

// ErrRecordStore wraps record store failures surfaced by the worker
var ErrRecordStore = errors.New("record store error")

// Processor runs the asset pipeline for one ad
type Processor interface {
	Process(ctx context.Context, ad models.Ad) (*models.Outcome, error)
}

// Aggregator recomputes a job's progress from its ad rows
type Aggregator interface {
	Recompute(ctx context.Context, jobID string) (*models.JobProgress, error)
}

// Notifier receives live progress events
type Notifier interface {
	Publish(event models.Event)
}

// FatalError is an unexpected fault raised while processing one ad
type FatalError struct {
	AdID string
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("internal error processing ad %s: %v", e.AdID, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Worker owns the in-memory download queue and drains it one ad at a time.
// At most one drain goroutine runs per Worker.
type Worker struct {
	store      storage.Storage
	pipeline   Processor
	aggregator Aggregator
	notifier   Notifier
	delay      time.Duration
	logger     *log.Logger

	mu       sync.Mutex
	queue    []models.Ad
	queued   map[string]struct{}
	draining bool
	stopping bool
	done     chan struct{}
}

// Option configures a Worker
type Option func(*Worker)

// WithNotifier publishes ad and job events to n
func WithNotifier(n Notifier) Option {
	return func(w *Worker) { w.notifier = n }
}

// WithLogger sets the worker logger
func WithLogger(l *log.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// NewWorker creates a new Worker that waits delay after every processed ad
func NewWorker(store storage.Storage, pipeline Processor, aggregator Aggregator, delay time.Duration, opts ...Option) *Worker {
	w := &Worker{
		store:      store,
		pipeline:   pipeline,
		aggregator: aggregator,
		delay:      delay,
		logger:     log.Default(),
		queued:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Enqueue appends the pending ads among ids to the queue and starts a drain
// when none is active. It returns the number of ads actually queued; ids of
// rows that are not pending, or already queued, are skipped.
func (w *Worker) Enqueue(ctx context.Context, ids []string) (int, error) {
	ads, err := w.store.GetPendingAdsByIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to fetch pending ads: %v", ErrRecordStore, err)
	}
	queued := w.push(ctx, ads)
	w.logger.Printf("Queued %d of %d requested ads for download", queued, len(ids))
	return queued, nil
}

// EnqueueJob queues every pending ad of a job
func (w *Worker) EnqueueJob(ctx context.Context, jobID string) (int, error) {
	ads, err := w.store.GetAdsByJob(ctx, jobID)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to fetch ads of job %s: %v", ErrRecordStore, jobID, err)
	}

	pending := make([]models.Ad, 0, len(ads))
	for _, ad := range ads {
		if ad.DownloadStatus == models.DownloadStatusPending {
			pending = append(pending, ad)
		}
	}
	queued := w.push(ctx, pending)
	w.logger.Printf("[JOB %s] Queued %d pending ads for download", jobID, queued)
	return queued, nil
}

// ResumePending rebuilds the queue from the record store while idle. The
// queue lives in memory only, so this picks up work left over by a restart.
func (w *Worker) ResumePending(ctx context.Context) (int, error) {
	if w.Status().Draining {
		return 0, nil
	}
	ads, err := w.store.ListPendingAds(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to list pending ads: %v", ErrRecordStore, err)
	}
	queued := w.push(ctx, ads)
	if queued > 0 {
		w.logger.Printf("Resumed %d pending ads", queued)
	}
	return queued, nil
}

// Run resumes pending work immediately and then every interval until ctx
// is done. A zero interval resumes once.
func (w *Worker) Run(ctx context.Context, interval time.Duration) error {
	if _, err := w.ResumePending(ctx); err != nil {
		w.logger.Printf("Resume error: %v", err)
	}

	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.ResumePending(ctx); err != nil {
				w.logger.Printf("Resume error: %v", err)
			}
		}
	}
}

// Status returns a snapshot of the queue
func (w *Worker) Status() models.QueueStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return models.QueueStatus{QueueLength: len(w.queue), Draining: w.draining}
}

// Stop ends the active drain once the ad in flight is finished and refuses
// new work. Ads still queued stay pending in the record store.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopping = true
}

// Wait blocks until no drain is active or ctx is done
func (w *Worker) Wait(ctx context.Context) error {
	for {
		w.mu.Lock()
		done := w.done
		w.mu.Unlock()
		if done == nil {
			return nil
		}

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Worker) push(ctx context.Context, ads []models.Ad) int {
	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		return 0
	}
	added := 0
	for _, ad := range ads {
		if _, ok := w.queued[ad.ID]; ok {
			continue
		}
		w.queued[ad.ID] = struct{}{}
		w.queue = append(w.queue, ad)
		added++
	}

	start := added > 0 && !w.draining
	var done chan struct{}
	if start {
		w.draining = true
		w.done = make(chan struct{})
		done = w.done
	}
	w.mu.Unlock()

	if start {
		// the drain outlives the request that triggered it
		go w.drain(context.WithoutCancel(ctx), done)
	}
	return added
}

// next pops the queue head, or ends the drain when the queue is empty or
// the worker is stopping. The popped id stays in queued until finish.
func (w *Worker) next() (models.Ad, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopping || len(w.queue) == 0 {
		w.draining = false
		w.done = nil
		return models.Ad{}, false
	}
	ad := w.queue[0]
	w.queue[0] = models.Ad{}
	w.queue = w.queue[1:]
	return ad, true
}

func (w *Worker) finish(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.queued, id)
}

func (w *Worker) drain(ctx context.Context, done chan struct{}) {
	defer close(done)
	w.logger.Printf("Download queue drain started")

	for {
		ad, ok := w.next()
		if !ok {
			if left := w.Status().QueueLength; left > 0 {
				w.logger.Printf("Download queue stopped with %d ads left pending", left)
			} else {
				w.logger.Printf("Download queue drained")
			}
			return
		}

		w.processItem(ctx, ad)
		w.finish(ad.ID)

		if w.delay > 0 {
			time.Sleep(w.delay)
		}
	}
}

func (w *Worker) processItem(ctx context.Context, ad models.Ad) {
	w.logger.Printf("[AD %s] Processing ad %s of job %s", ad.ArchiveID, ad.ID, ad.JobID)

	if err := w.store.UpdateAd(ctx, ad.ID, models.AdUpdate{Status: models.DownloadStatusDownloading}); err != nil {
		w.logger.Printf("[AD %s] Failed to mark downloading: %v", ad.ArchiveID, err)
	}
	w.publish(models.Event{
		Type:   models.EventAdUpdated,
		JobID:  ad.JobID,
		AdID:   ad.ID,
		Status: string(models.DownloadStatusDownloading),
	})

	outcome, err := w.runPipeline(ctx, ad)
	update := buildUpdate(outcome, err)
	if update.Status == models.DownloadStatusCompleted {
		w.logger.Printf("[AD %s] Download completed", ad.ArchiveID)
	} else {
		w.logger.Printf("[AD %s] Download failed: %s", ad.ArchiveID, update.Error)
	}

	if err := w.store.UpdateAd(ctx, ad.ID, update); err != nil {
		w.logger.Printf("[AD %s] %v: failed to write result: %v", ad.ArchiveID, ErrRecordStore, err)
	}
	w.publish(adEvent(ad, update))

	progress, err := w.aggregator.Recompute(ctx, ad.JobID)
	if err != nil {
		w.logger.Printf("[JOB %s] Failed to update progress: %v", ad.JobID, err)
		return
	}
	w.publish(models.Event{
		Type:     models.EventJobProgress,
		JobID:    ad.JobID,
		Status:   string(progress.Status),
		Progress: progress,
	})
}

// runPipeline converts pipeline errors and panics into a FatalError
func (w *Worker) runPipeline(ctx context.Context, ad models.Ad) (outcome *models.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = nil
			err = &FatalError{AdID: ad.ID, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	outcome, err = w.pipeline.Process(ctx, ad)
	if err != nil {
		return nil, &FatalError{AdID: ad.ID, Err: err}
	}
	if outcome == nil {
		return nil, &FatalError{AdID: ad.ID, Err: errors.New("pipeline returned no outcome")}
	}
	return outcome, nil
}

func buildUpdate(outcome *models.Outcome, err error) models.AdUpdate {
	if err != nil {
		return models.AdUpdate{Status: models.DownloadStatusFailed, Error: err.Error()}
	}

	update := models.AdUpdate{Status: models.DownloadStatusCompleted}
	if outcome.Media != nil {
		update.LocalMediaURL = &outcome.Media.PublicURL
	}
	if outcome.Thumbnail != nil {
		update.LocalThumbnailURL = &outcome.Thumbnail.PublicURL
	}
	if !outcome.Succeeded() {
		update.Status = models.DownloadStatusFailed
		update.Error = outcome.ErrorMessage()
	}
	return update
}

func adEvent(ad models.Ad, update models.AdUpdate) models.Event {
	e := models.Event{
		Type:   models.EventAdUpdated,
		JobID:  ad.JobID,
		AdID:   ad.ID,
		Status: string(update.Status),
		Error:  update.Error,
	}
	if update.LocalMediaURL != nil {
		e.LocalMediaURL = *update.LocalMediaURL
	}
	if update.LocalThumbnailURL != nil {
		e.LocalThumbnailURL = *update.LocalThumbnailURL
	}
	return e
}

func (w *Worker) publish(e models.Event) {
	if w.notifier == nil {
		return
	}
	e.Timestamp = time.Now().UTC()
	w.notifier.Publish(e)
}
