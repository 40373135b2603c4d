package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Cirno10124/stream-recognizer-go/internal/feedback"
	"github.com/Cirno10124/stream-recognizer-go/internal/queue"
)

// Backend recognizes one audio segment and returns its text. Implementations
// live in pkg/recognizer (FastLocal, PreciseHTTP, CloudHTTP).
type Backend interface {
	Name() string
	Recognize(ctx context.Context, segment AudioSegment) (RecognitionResult, error)
}

// ErrMalformedRequest is returned by a Backend to signal the request itself
// was rejected (HTTP 400 equivalent) and must not be retried.
var ErrMalformedRequest = errors.New("pipeline: malformed recognition request")

const (
	maxRetries     = 3
	retryDelay     = 1 * time.Second
	minWorkers     = 1
	maxWorkers     = 20
	defaultWorkers = 16
)

// BatchConfig controls optional request coalescing.
type BatchConfig struct {
	Enabled  bool
	Interval time.Duration
	Size     int
}

// ParallelOpenAIProcessor is a bounded worker pool that recognizes segments
// concurrently while preserving each result's original sequence number for
// the downstream merger.
type ParallelOpenAIProcessor struct {
	backend Backend

	mu      sync.Mutex
	running bool
	workers int
	batch   BatchConfig

	stopping atomic.Bool // set by Stop; queued-but-unstarted segments are drained without processing

	pendingBatch []AudioSegment
	batchStopCh  chan struct{}
	batchWG      sync.WaitGroup

	queue *queue.BoundedQueue[AudioSegment]

	bus       *feedback.EventBus
	sessionID string

	onResult func(RecognitionResult)

	wg sync.WaitGroup
}

// NewParallelOpenAIProcessor builds a processor dispatching to backend.
func NewParallelOpenAIProcessor(backend Backend, bus *feedback.EventBus, sessionID string) *ParallelOpenAIProcessor {
	return &ParallelOpenAIProcessor{
		backend:   backend,
		workers:   defaultWorkers,
		queue:     queue.New[AudioSegment](0, nil),
		bus:       bus,
		sessionID: sessionID,
	}
}

// SetMaxParallelRequests clamps n to [1, 20]; ignored once Start has run.
func (p *ParallelOpenAIProcessor) SetMaxParallelRequests(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	if n < minWorkers {
		n = minWorkers
	}
	if n > maxWorkers {
		n = maxWorkers
	}
	p.workers = n
}

// SetResultCallback registers fn to be invoked, synchronously on the
// worker goroutine, with every successfully recognized result. The
// orchestrator wires this directly to ResultMerger.AddResult so the merger
// sees every result regardless of whether anything is subscribed on the
// event bus.
func (p *ParallelOpenAIProcessor) SetResultCallback(fn func(RecognitionResult)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onResult = fn
}

// SetBatchProcessing configures optional segment coalescing; disabled by
// default for minimum latency.
func (p *ParallelOpenAIProcessor) SetBatchProcessing(enabled bool, interval time.Duration, size int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batch = BatchConfig{Enabled: enabled, Interval: interval, Size: size}
}

// Start launches the worker pool and, if batch processing is enabled, the
// batch-interval timer.
func (p *ParallelOpenAIProcessor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	workers := p.workers
	batch := p.batch
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}

	if batch.Enabled && batch.Interval > 0 {
		stopCh := make(chan struct{})
		p.mu.Lock()
		p.batchStopCh = stopCh
		p.mu.Unlock()

		p.batchWG.Add(1)
		go p.runBatchTimer(stopCh, batch.Interval)
	}
}

// runBatchTimer periodically flushes whatever has accumulated in
// pendingBatch, so a trickle of segments that never reaches batch.Size
// still reaches the workers within batch.Interval.
func (p *ParallelOpenAIProcessor) runBatchTimer(stopCh chan struct{}, interval time.Duration) {
	defer p.batchWG.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.flushPendingBatch()
		case <-stopCh:
			return
		}
	}
}

// AddSegment enqueues a segment for recognition; non-blocking. When batch
// processing is enabled, the segment is held in pendingBatch until
// batch.Size is reached, the segment is the stream's last, or the batch
// timer fires. Batching coalesces release timing only: each segment is
// still one Recognize call, never merged audio.
func (p *ParallelOpenAIProcessor) AddSegment(seg AudioSegment) {
	p.mu.Lock()
	if !p.batch.Enabled {
		p.mu.Unlock()
		p.queue.Push(seg)
		return
	}

	p.pendingBatch = append(p.pendingBatch, seg)
	release := seg.IsLast || (p.batch.Size > 0 && len(p.pendingBatch) >= p.batch.Size)
	var toRelease []AudioSegment
	if release {
		toRelease = p.pendingBatch
		p.pendingBatch = nil
	}
	p.mu.Unlock()

	for _, s := range toRelease {
		p.queue.Push(s)
	}
}

// flushPendingBatch releases any segments currently staged in pendingBatch
// to the worker queue.
func (p *ParallelOpenAIProcessor) flushPendingBatch() {
	p.mu.Lock()
	toRelease := p.pendingBatch
	p.pendingBatch = nil
	p.mu.Unlock()

	for _, s := range toRelease {
		p.queue.Push(s)
	}
}

// Stop halts the batch timer, releases anything still staged in
// pendingBatch, then signals workers to finish in-flight work and drain
// without processing further queued segments.
func (p *ParallelOpenAIProcessor) Stop() {
	p.stopping.Store(true)
	p.mu.Lock()
	stopCh := p.batchStopCh
	p.batchStopCh = nil
	p.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		p.batchWG.Wait()
	}

	p.flushPendingBatch()
	p.queue.Terminate()
}

// Join waits for all workers to exit after Stop.
func (p *ParallelOpenAIProcessor) Join() {
	p.wg.Wait()
}

func (p *ParallelOpenAIProcessor) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		seg, ok := p.queue.Pop(true)
		if !ok {
			return
		}
		if p.stopping.Load() {
			continue // drain the backlog without processing after Stop
		}
		p.process(ctx, seg)
	}
}

func (p *ParallelOpenAIProcessor) process(ctx context.Context, seg AudioSegment) {
	start := time.Now()
	var result RecognitionResult
	var err error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		result, err = p.backend.Recognize(ctx, seg)
		if err == nil {
			break
		}
		if errors.Is(err, ErrMalformedRequest) {
			logrus.WithFields(logrus.Fields{
				"sequence": seg.SequenceNumber,
				"backend":  p.backend.Name(),
			}).Warn("malformed recognition request, not retrying")
			break
		}
		if attempt < maxRetries {
			time.Sleep(retryDelay)
		}
	}

	if err != nil {
		logrus.WithFields(logrus.Fields{
			"sequence": seg.SequenceNumber,
			"backend":  p.backend.Name(),
			"error":    err,
		}).Error("recognition failed after retries")
		if p.bus != nil {
			p.bus.PublishBackendFailed(p.sessionID, feedback.BackendFailedData{
				SequenceNumber: int64(seg.SequenceNumber),
				Backend:        p.backend.Name(),
				Err:            err.Error(),
			})
		}
		return
	}

	if p.bus != nil {
		p.bus.PublishResultReady(p.sessionID, feedback.ResultReadyData{
			SequenceNumber: result.SequenceNumber,
			Text:           result.Text,
			Backend:        p.backend.Name(),
			ProcessTime:    time.Since(start),
		})
		p.bus.PublishResultForDisplay(p.sessionID, result.Text)
	}

	p.mu.Lock()
	onResult := p.onResult
	p.mu.Unlock()
	if onResult != nil {
		onResult(result)
	}
}
