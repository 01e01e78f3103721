package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/railvision/wagon-capture/internal/capture"
	"github.com/railvision/wagon-capture/internal/export"
	"github.com/railvision/wagon-capture/internal/logger"
	"github.com/railvision/wagon-capture/internal/metrics"
	"github.com/railvision/wagon-capture/internal/recorder"
	"github.com/railvision/wagon-capture/internal/runstore"
	"github.com/railvision/wagon-capture/internal/source"
)

// Config sizes the worker pool and says where outputs go.
type Config struct {
	Workers     int
	QueueSize   int
	Retain      int    // finished jobs kept in memory
	OutputDir   string // per-job subdirectories; empty keeps captures in memory only
	VideoExt    string // passthrough container extension, e.g. ".mjpeg"
	JPEGQuality int
	Annotate    bool
	Source      source.Options
}

// DefaultConfig returns a small single-worker pool.
func DefaultConfig() Config {
	return Config{
		Workers:     1,
		QueueSize:   16,
		Retain:      100,
		VideoExt:    ".mjpeg",
		JPEGQuality: export.DefaultQuality,
		Source:      source.DefaultOptions(),
	}
}

type entry struct {
	mu     sync.Mutex
	job    Job
	cancel context.CancelFunc
	jpegs  [][]byte
}

func (e *entry) snapshot() Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	job := e.job
	job.CaptureFiles = append([]string(nil), e.job.CaptureFiles...)
	return job
}

// Manager owns the queue, the workers and the job table.
type Manager struct {
	cfg       Config
	extractor *capture.Extractor
	store     *runstore.Store
	metrics   *metrics.Metrics
	events    *Broadcaster
	log       *logger.Module

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan *entry
	wg     sync.WaitGroup

	mu     sync.RWMutex
	jobs   map[string]*entry
	order  []string
	closed bool
}

// NewManager starts cfg.Workers workers. store and m may be nil.
func NewManager(cfg Config, extractor *capture.Extractor, store *runstore.Store, m *metrics.Metrics) *Manager {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Retain <= 0 {
		cfg.Retain = def.Retain
	}
	if cfg.VideoExt == "" {
		cfg.VideoExt = def.VideoExt
	}
	if cfg.Source.SequenceFPS <= 0 {
		cfg.Source = def.Source
	}

	ctx, cancel := context.WithCancel(context.Background())
	mgr := &Manager{
		cfg:       cfg,
		extractor: extractor,
		store:     store,
		metrics:   m,
		events:    NewBroadcaster(),
		log:       logger.For("Jobs"),
		ctx:       ctx,
		cancel:    cancel,
		queue:     make(chan *entry, cfg.QueueSize),
		jobs:      make(map[string]*entry),
	}

	for i := range cfg.Workers {
		mgr.wg.Add(1)
		go mgr.worker(i)
	}
	mgr.log.Info("Started %d workers (queue %d)", cfg.Workers, cfg.QueueSize)
	return mgr
}

// Events returns the broadcaster carrying every job update.
func (m *Manager) Events() *Broadcaster { return m.events }

// Submit queues a run and returns it in the PENDING state.
func (m *Manager) Submit(req Request) (Job, error) {
	if req.VideoPath == "" {
		return Job{}, fmt.Errorf("video_path is required")
	}

	e := &entry{job: Job{
		ID:        uuid.NewString(),
		VideoPath: req.VideoPath,
		SaveVideo: req.SaveVideo,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}}

	job := e.snapshot()

	// Only Submit sends on the queue and it holds m.mu, so a free slot seen
	// here is still free below.
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Job{}, ErrClosed
	}
	if len(m.queue) == cap(m.queue) {
		return Job{}, ErrQueueFull
	}
	m.jobs[job.ID] = e
	m.order = append(m.order, job.ID)
	m.pruneLocked()

	if m.metrics != nil {
		m.metrics.QueuedJobs.Add(1)
	}
	m.events.Publish(job)
	m.queue <- e

	m.log.Info("Job %s queued for %s", job.ID, req.VideoPath)
	return job, nil
}

// pruneLocked drops the oldest finished jobs beyond the retention limit.
func (m *Manager) pruneLocked() {
	excess := len(m.order) - m.cfg.Retain
	if excess <= 0 {
		return
	}
	kept := m.order[:0]
	for _, id := range m.order {
		if excess > 0 && m.jobs[id].snapshot().Status.Terminal() {
			delete(m.jobs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}

func (m *Manager) lookup(id string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return e, nil
}

// Get returns the job with the given id.
func (m *Manager) Get(id string) (Job, error) {
	e, err := m.lookup(id)
	if err != nil {
		return Job{}, err
	}
	return e.snapshot(), nil
}

// List returns every retained job in submission order.
func (m *Manager) List() []Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]Job, 0, len(m.order))
	for _, id := range m.order {
		jobs = append(jobs, m.jobs[id].snapshot())
	}
	return jobs
}

// Captures returns the JPEG-encoded captures of a successful job.
func (m *Manager) Captures(id string) ([][]byte, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.Status != StatusSuccess {
		return nil, ErrNotFinished
	}
	return e.jpegs, nil
}

// Capture returns the n-th capture of a successful job, counting from 1.
func (m *Manager) Capture(id string, n int) ([]byte, error) {
	jpegs, err := m.Captures(id)
	if err != nil {
		return nil, err
	}
	if n < 1 || n > len(jpegs) {
		return nil, ErrNoCapture
	}
	return jpegs[n-1], nil
}

// Cancel stops a pending or running job. Finished jobs are left untouched.
func (m *Manager) Cancel(id string) (Job, error) {
	e, err := m.lookup(id)
	if err != nil {
		return Job{}, err
	}

	e.mu.Lock()
	dequeued := false
	switch {
	case e.job.Status.Terminal():
	case e.cancel != nil:
		e.cancel()
	default:
		m.finishLocked(e, nil, errors.New("job cancelled"))
		dequeued = true
	}
	job := e.job
	e.mu.Unlock()

	m.events.Publish(job)
	if dequeued {
		m.record(job)
	}
	return job, nil
}

// Shutdown stops accepting jobs, cancels running ones and waits for the
// workers until ctx expires.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.events.Close()
		m.log.Info("All workers stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) worker(n int) {
	defer m.wg.Done()
	for e := range m.queue {
		if m.metrics != nil {
			m.metrics.QueuedJobs.Add(-1)
		}
		m.process(e)
	}
	m.log.Debug("Worker %d exiting", n)
}

func (m *Manager) process(e *entry) {
	ctx, cancel := context.WithCancel(m.ctx)
	defer cancel()

	e.mu.Lock()
	if e.job.Status.Terminal() {
		e.mu.Unlock()
		return
	}
	if err := ctx.Err(); err != nil {
		m.finishLocked(e, nil, errors.New("job manager is shutting down"))
		job := e.job
		e.mu.Unlock()
		m.events.Publish(job)
		m.record(job)
		return
	}
	e.cancel = cancel
	e.job.Status = StatusProgress
	e.job.Percent = percentStarted
	e.job.Message = "Processing video"
	e.job.StartedAt = time.Now()
	job := e.job
	e.mu.Unlock()

	m.events.Publish(job)
	m.record(job)

	outDir := ""
	if m.cfg.OutputDir != "" {
		outDir = filepath.Join(m.cfg.OutputDir, job.ID)
	}

	in := capture.Input{
		OpenSource: func() (source.Source, error) {
			return source.Open(job.VideoPath, m.cfg.Source)
		},
		Progress: func(p capture.Progress) { m.progress(e, p) },
	}
	var sink recorder.Sink
	if job.SaveVideo {
		in.OpenSink = func(info source.Info) (recorder.Sink, error) {
			dir := outDir
			if dir == "" {
				dir = os.TempDir()
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
			path := filepath.Join(dir, "passthrough_"+job.ID+m.cfg.VideoExt)
			s, err := recorder.Open(path, info, recorder.Options{
				JPEGQuality: m.cfg.JPEGQuality,
				Annotate:    m.cfg.Annotate,
			})
			if err == nil {
				sink = s
				e.mu.Lock()
				e.job.VideoOutput = path
				e.mu.Unlock()
			}
			return s, err
		}
	}

	result, err := m.extractor.Run(ctx, in)
	if st, ok := recorder.StatusOf(sink); ok {
		e.mu.Lock()
		e.job.VideoFrames = st.FrameCount
		e.job.VideoBytes = st.BytesWritten
		e.mu.Unlock()
		m.log.Info("Job %s wrote %s: %d frames, %d bytes in %d ms",
			job.ID, st.Filename, st.FrameCount, st.BytesWritten, st.DurationMs)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			err = fmt.Errorf("job cancelled: %w", err)
		}
		m.finish(e, nil, err)
		return
	}

	e.mu.Lock()
	e.job.Percent = percentEncoding
	e.job.Message = "Encoding captures"
	job = e.job
	e.mu.Unlock()
	m.events.Publish(job)

	jpegs := make([][]byte, 0, result.Count)
	for _, f := range result.Frames {
		data, err := export.EncodeJPEG(f, m.cfg.JPEGQuality)
		if err != nil {
			m.finish(e, nil, err)
			return
		}
		jpegs = append(jpegs, data)
	}

	var files []string
	if outDir != "" {
		files, err = export.SaveCaptures(outDir, result, m.cfg.JPEGQuality)
		if err != nil {
			m.finish(e, nil, err)
			return
		}
	}

	e.mu.Lock()
	e.jpegs = jpegs
	e.job.CaptureFiles = files
	e.job.CaptureCount = result.Count
	e.mu.Unlock()
	m.finish(e, jpegs, nil)
}

func (m *Manager) progress(e *entry, p capture.Progress) {
	e.mu.Lock()
	e.job.Processed = p.Processed
	e.job.Total = p.Total
	if p.Total > 0 {
		pct := percentStarted + p.Processed*(percentDetected-percentStarted)/p.Total
		e.job.Percent = max(e.job.Percent, min(pct, percentDetected))
		e.job.Message = fmt.Sprintf("Processed %d/%d frames", p.Processed, p.Total)
	} else {
		e.job.Message = fmt.Sprintf("Processed %d frames", p.Processed)
	}
	job := e.job
	e.mu.Unlock()

	m.events.Publish(job)
}

func (m *Manager) finish(e *entry, jpegs [][]byte, err error) {
	e.mu.Lock()
	m.finishLocked(e, jpegs, err)
	job := e.job
	e.mu.Unlock()

	m.events.Publish(job)
	m.record(job)
}

func (m *Manager) finishLocked(e *entry, jpegs [][]byte, err error) {
	e.job.FinishedAt = time.Now()
	e.cancel = nil

	var runErr *capture.RunError
	if errors.As(err, &runErr) {
		e.job.Processed = runErr.Processed
	}

	if err != nil {
		e.job.Status = StatusFailure
		e.job.Error = err.Error()
		e.job.Message = "Failed"
		m.log.Warn("Job %s failed: %v", e.job.ID, err)
		return
	}
	e.job.Status = StatusSuccess
	e.job.Percent = percentDone
	e.job.Message = fmt.Sprintf("Captured %d wagons", len(jpegs))
	m.log.Info("Job %s finished with %d captures", e.job.ID, len(jpegs))
}

func (m *Manager) record(job Job) {
	if m.store == nil {
		return
	}
	run := runstore.Run{
		ID:              job.ID,
		VideoPath:       job.VideoPath,
		Status:          string(job.Status),
		CaptureCount:    job.CaptureCount,
		FramesProcessed: job.Processed,
		TotalFrames:     job.Total,
		Error:           job.Error,
		StartedAt:       job.StartedAt,
		FinishedAt:      job.FinishedAt,
	}
	if m.cfg.OutputDir != "" && job.Status == StatusSuccess {
		run.OutputDir = filepath.Join(m.cfg.OutputDir, job.ID)
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = job.CreatedAt
	}
	if err := m.store.Record(context.Background(), run); err != nil {
		m.log.Error("Record run %s: %v", job.ID, err)
	}
}
