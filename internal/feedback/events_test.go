package feedback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_DeliversToMatchingSubscriber(t *testing.T) {
	bus := NewEventBus(8)
	defer bus.Stop()

	ch := make(chan Event, 1)
	bus.Subscribe(EventResultReady, func(e Event) { ch <- e })

	bus.PublishResultReady("sess", ResultReadyData{SequenceNumber: 3, Text: "hi"})

	select {
	case e := <-ch:
		assert.Equal(t, EventResultReady, e.Type)
		assert.Equal(t, "sess", e.SessionID)
		assert.EqualValues(t, 3, e.Data.(ResultReadyData).SequenceNumber)
	case <-time.After(time.Second):
		t.Fatal("expected event delivery")
	}
}

func TestEventBus_FilterExcludesOtherTypes(t *testing.T) {
	bus := NewEventBus(8)
	defer bus.Stop()

	ch := make(chan Event, 1)
	bus.Subscribe(EventMergedResultReady, func(e Event) { ch <- e })

	bus.PublishResultReady("sess", ResultReadyData{})

	select {
	case <-ch:
		t.Fatal("handler must not receive a type it did not subscribe to")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEventBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewEventBus(8)
	defer bus.Stop()

	ch := make(chan Event, 2)
	unsubscribe := bus.Subscribe(EventResultReady, func(e Event) { ch <- e })

	bus.PublishResultReady("sess", ResultReadyData{Text: "before"})
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected delivery before unsubscribe")
	}

	unsubscribe()
	bus.PublishResultReady("sess", ResultReadyData{Text: "after"})

	select {
	case e := <-ch:
		t.Fatalf("received %v after unsubscribe", e.Data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEventBus_SubscribeAllSeesEveryType(t *testing.T) {
	bus := NewEventBus(8)
	defer bus.Stop()

	ch := make(chan Event, 2)
	bus.SubscribeAll(func(e Event) { ch <- e })

	bus.PublishResultReady("sess", ResultReadyData{})
	bus.PublishMergedResult("sess", MergedResultData{Text: "m"})

	got := map[EventType]bool{}
	for i := 0; i < 2; i++ {
		select {
		case e := <-ch:
			got[e.Type] = true
		case <-time.After(time.Second):
			t.Fatal("expected two deliveries")
		}
	}
	assert.True(t, got[EventResultReady])
	assert.True(t, got[EventMergedResultReady])
}

func TestEventBus_PanickingHandlerDoesNotStopDispatch(t *testing.T) {
	bus := NewEventBus(8)
	defer bus.Stop()

	ch := make(chan Event, 1)
	bus.Subscribe(EventResultReady, func(Event) { panic("boom") })
	bus.Subscribe(EventResultReady, func(e Event) { ch <- e })

	bus.PublishResultReady("sess", ResultReadyData{Text: "survives"})

	select {
	case e := <-ch:
		require.Equal(t, "survives", e.Data.(ResultReadyData).Text)
	case <-time.After(time.Second):
		t.Fatal("dispatch must survive a panicking handler")
	}
}

func TestEventBus_StopDrainsBufferedEvents(t *testing.T) {
	bus := NewEventBus(8)

	ch := make(chan Event, 4)
	bus.Subscribe(EventResultReady, func(e Event) { ch <- e })

	for i := 0; i < 3; i++ {
		bus.PublishResultReady("sess", ResultReadyData{SequenceNumber: int64(i)})
	}
	bus.Stop()

	assert.Len(t, ch, 3)
}
