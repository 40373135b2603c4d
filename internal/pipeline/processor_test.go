package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cirno10124/stream-recognizer-go/internal/feedback"
)

type fakeBackend struct {
	calls      int32
	failTimes  int32
	failErr    error
	name       string
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Recognize(ctx context.Context, seg AudioSegment) (RecognitionResult, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failTimes {
		return RecognitionResult{}, f.failErr
	}
	return RecognitionResult{
		Text:           "ok",
		SequenceNumber: int64(seg.SequenceNumber),
	}, nil
}

func TestParallelOpenAIProcessor_EmitsResultReady(t *testing.T) {
	backend := &fakeBackend{name: "fast"}
	bus := feedback.NewEventBus(16)
	defer bus.Stop()

	ch := make(chan feedback.ResultReadyData, 1)
	bus.Subscribe(feedback.EventResultReady, func(e feedback.Event) {
		ch <- e.Data.(feedback.ResultReadyData)
	})

	p := NewParallelOpenAIProcessor(backend, bus, "sess")
	p.SetMaxParallelRequests(2)
	p.Start(context.Background())
	defer func() { p.Stop(); p.Join() }()

	p.AddSegment(AudioSegment{SequenceNumber: 7})

	select {
	case got := <-ch:
		assert.EqualValues(t, 7, got.SequenceNumber)
		assert.Equal(t, "fast", got.Backend)
	case <-time.After(time.Second):
		t.Fatal("expected result_ready event")
	}
}

func TestParallelOpenAIProcessor_RetriesOnTransientError(t *testing.T) {
	backend := &fakeBackend{name: "cloud", failTimes: 2, failErr: errors.New("transient")}
	p := NewParallelOpenAIProcessor(backend, nil, "sess")
	p.Start(context.Background())

	p.process(context.Background(), AudioSegment{SequenceNumber: 1})
	assert.EqualValues(t, 3, atomic.LoadInt32(&backend.calls))

	p.Stop()
	p.Join()
}

func TestParallelOpenAIProcessor_MalformedRequestNotRetried(t *testing.T) {
	backend := &fakeBackend{name: "cloud", failTimes: 99, failErr: ErrMalformedRequest}
	p := NewParallelOpenAIProcessor(backend, nil, "sess")
	p.Start(context.Background())

	p.process(context.Background(), AudioSegment{SequenceNumber: 1})
	assert.EqualValues(t, 1, atomic.LoadInt32(&backend.calls))

	p.Stop()
	p.Join()
}

func TestParallelOpenAIProcessor_ClampsMaxParallelRequests(t *testing.T) {
	backend := &fakeBackend{name: "x"}
	p := NewParallelOpenAIProcessor(backend, nil, "sess")

	p.SetMaxParallelRequests(100)
	assert.Equal(t, 20, p.workers)

	p.SetMaxParallelRequests(0)
	assert.Equal(t, 1, p.workers)
}

func TestParallelOpenAIProcessor_BatchReleasesOnSizeThreshold(t *testing.T) {
	backend := &fakeBackend{name: "x"}
	p := NewParallelOpenAIProcessor(backend, nil, "sess")
	p.SetMaxParallelRequests(1)
	p.SetBatchProcessing(true, time.Hour, 2) // interval far longer than the test
	p.Start(context.Background())
	defer func() { p.Stop(); p.Join() }()

	p.AddSegment(AudioSegment{SequenceNumber: 1})
	assert.Equal(t, int32(0), atomic.LoadInt32(&backend.calls), "first segment of a size-2 batch should stay pending")

	p.AddSegment(AudioSegment{SequenceNumber: 2})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&backend.calls) == 2
	}, time.Second, 10*time.Millisecond, "reaching batch.Size should release the whole batch")
}

func TestParallelOpenAIProcessor_BatchReleasesOnLastSegment(t *testing.T) {
	backend := &fakeBackend{name: "x"}
	p := NewParallelOpenAIProcessor(backend, nil, "sess")
	p.SetMaxParallelRequests(1)
	p.SetBatchProcessing(true, time.Hour, 10)
	p.Start(context.Background())
	defer func() { p.Stop(); p.Join() }()

	p.AddSegment(AudioSegment{SequenceNumber: 1, IsLast: true})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&backend.calls) == 1
	}, time.Second, 10*time.Millisecond, "a last segment should release its batch immediately")
}

func TestParallelOpenAIProcessor_BatchReleasesOnTimer(t *testing.T) {
	backend := &fakeBackend{name: "x"}
	p := NewParallelOpenAIProcessor(backend, nil, "sess")
	p.SetMaxParallelRequests(1)
	p.SetBatchProcessing(true, 20*time.Millisecond, 10)
	p.Start(context.Background())
	defer func() { p.Stop(); p.Join() }()

	p.AddSegment(AudioSegment{SequenceNumber: 1})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&backend.calls) == 1
	}, time.Second, 10*time.Millisecond, "the batch timer should release a trickle that never reaches batch.Size")
}

func TestParallelOpenAIProcessor_StopDrainsWithoutProcessing(t *testing.T) {
	backend := &fakeBackend{name: "x"}
	p := NewParallelOpenAIProcessor(backend, nil, "sess")
	p.SetMaxParallelRequests(1)
	p.Start(context.Background())

	p.Stop()
	p.AddSegment(AudioSegment{SequenceNumber: 1})
	p.Join()

	require.LessOrEqual(t, int(atomic.LoadInt32(&backend.calls)), 1)
}
