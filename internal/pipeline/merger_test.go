package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cirno10124/stream-recognizer-go/internal/feedback"
)

func newTestMerger(cfg MergerConfig) (*ResultMerger, *feedback.EventBus, chan feedback.MergedResultData) {
	bus := feedback.NewEventBus(16)
	ch := make(chan feedback.MergedResultData, 16)
	bus.Subscribe(feedback.EventMergedResultReady, func(e feedback.Event) {
		ch <- e.Data.(feedback.MergedResultData)
	})
	cfg.UseTimerMerge = false
	m := NewResultMerger(cfg, bus, "test-session")
	return m, bus, ch
}

func TestResultMerger_EmitsInSequentialOrder(t *testing.T) {
	m, bus, ch := newTestMerger(DefaultMergerConfig())
	defer bus.Stop()

	m.AddResult(RecognitionResult{Text: "hello", SequenceNumber: 0})
	m.AddResult(RecognitionResult{Text: "world", SequenceNumber: 1})

	for _, want := range []string{"hello", "world"} {
		select {
		case got := <-ch:
			assert.Equal(t, want, got.Text)
		case <-time.After(time.Second):
			t.Fatal("expected merged result")
		}
	}
}

func TestResultMerger_HoldsOutOfOrderResult(t *testing.T) {
	m, bus, ch := newTestMerger(DefaultMergerConfig())
	defer bus.Stop()

	m.AddResult(RecognitionResult{Text: "second", SequenceNumber: 1})

	select {
	case <-ch:
		t.Fatal("must not emit until sequence 0 arrives")
	case <-time.After(100 * time.Millisecond):
	}

	m.AddResult(RecognitionResult{Text: "first", SequenceNumber: 0})

	select {
	case got := <-ch:
		assert.Equal(t, "first\nsecond", got.Text)
	case <-time.After(time.Second):
		t.Fatal("expected merged result after gap filled")
	}
}

func TestResultMerger_SkipsGapAfterMaxWaitTime(t *testing.T) {
	cfg := DefaultMergerConfig()
	cfg.MaxWaitTime = 10 * time.Millisecond
	m, bus, ch := newTestMerger(cfg)
	defer bus.Stop()

	m.AddResult(RecognitionResult{Text: "second", SequenceNumber: 1})
	time.Sleep(20 * time.Millisecond)
	m.MergeAndEmit()

	select {
	case got := <-ch:
		assert.Equal(t, "second", got.Text)
		assert.EqualValues(t, 1, got.LastEmitted)
	case <-time.After(time.Second):
		t.Fatal("expected gap-skip emission")
	}
}

func TestResultMerger_ClearResetsState(t *testing.T) {
	m, bus, _ := newTestMerger(DefaultMergerConfig())
	defer bus.Stop()

	m.AddResult(RecognitionResult{Text: "x", SequenceNumber: 5})
	m.Clear()

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Empty(t, m.pending)
	assert.EqualValues(t, 0, m.nextSequenceNumber)
}

func TestResultMerger_NonSequentialBatchesAtThreshold(t *testing.T) {
	cfg := DefaultMergerConfig()
	cfg.SequentialMode = false
	cfg.MaxResultsBeforeMerge = 2
	m, bus, ch := newTestMerger(cfg)
	defer bus.Stop()

	m.AddResult(RecognitionResult{Text: "a", SequenceNumber: 3})
	select {
	case <-ch:
		t.Fatal("must not emit before threshold")
	case <-time.After(50 * time.Millisecond):
	}

	m.AddResult(RecognitionResult{Text: "b", SequenceNumber: 1})
	select {
	case got := <-ch:
		assert.Equal(t, "b\na", got.Text)
	case <-time.After(time.Second):
		t.Fatal("expected batch emission at threshold")
	}
}

func TestResultMerger_DedupeOverlapStripsMatchingSuffix(t *testing.T) {
	m, bus, ch := newTestMerger(DefaultMergerConfig())
	defer bus.Stop()

	m.AddResult(RecognitionResult{Text: "the quick brown fox", SequenceNumber: 0})
	require.NotNil(t, <-ch)

	m.AddResult(RecognitionResult{
		Text:           "brown fox jumps",
		SequenceNumber: 1,
		HasOverlap:     true,
		OverlapMs:      600, // overlapChars = 9, clamp to maxClamp
	})

	got := <-ch
	assert.Equal(t, " jumps", got.Text, "the overlapping 'brown fox' prefix should be stripped before emission")
}

func TestResultMerger_DropsResultBelowEmittedSequence(t *testing.T) {
	m, bus, ch := newTestMerger(DefaultMergerConfig())
	defer bus.Stop()

	m.AddResult(RecognitionResult{Text: "first", SequenceNumber: 0})
	require.NotEmpty(t, (<-ch).Text)

	m.AddResult(RecognitionResult{Text: "echo", SequenceNumber: 0})

	select {
	case got := <-ch:
		t.Fatalf("stale sequence must be dropped, emitted %q", got.Text)
	case <-time.After(100 * time.Millisecond):
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Empty(t, m.pending, "a stale result must not linger in the pending set")
}
