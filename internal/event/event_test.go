package event_test

import (
	"sync"
	"testing"
	"time"

	"github.com/fetcharr/fetcharr/internal/event"
	"github.com/google/uuid"
	"github.com/hbomb79/go-chanassert"
	"github.com/stretchr/testify/assert"
)

func Test_HandlerChannel_ReceivesDispatchedEvents(t *testing.T) {
	bus := event.New()
	handlerChannel := make(event.HandlerChannel, 10)
	bus.RegisterHandlerChannel(handlerChannel, event.DownloadUpdateEvent, event.DownloadCompleteEvent)

	downloadID := uuid.New()
	expecter := chanassert.NewChannelExpecter(handlerChannel).Expect(
		chanassert.AllOf(
			chanassert.MatchStructPartial(event.HandlerEvent{Event: event.DownloadUpdateEvent, Payload: downloadID}),
			chanassert.MatchStructPartial(event.HandlerEvent{Event: event.DownloadCompleteEvent, Payload: downloadID}),
		),
	)
	expecter.Listen()

	bus.Dispatch(event.DownloadUpdateEvent, downloadID)
	bus.Dispatch(event.DownloadCompleteEvent, downloadID)

	expecter.AssertSatisfied(t, time.Second)
}

func Test_HandlerChannel_OnlyReceivesRegisteredEvents(t *testing.T) {
	bus := event.New()
	handlerChannel := make(event.HandlerChannel, 10)
	bus.RegisterHandlerChannel(handlerChannel, event.TranscodeCompleteEvent)

	bus.Dispatch(event.DownloadUpdateEvent, uuid.New())
	bus.Dispatch(event.ArtifactSavedEvent, uuid.New())

	select {
	case message := <-handlerChannel:
		t.Fatalf("expected no message on handler channel, received %v", message)
	case <-time.After(time.Millisecond * 100):
	}
}

func Test_HandlerFunction_ReceivesDispatchedEvent(t *testing.T) {
	bus := event.New()

	wg := sync.WaitGroup{}
	wg.Add(1)

	downloadID := uuid.New()
	bus.RegisterHandlerFunction(event.DownloadUpdateEvent, func(ev event.Event, payload event.Payload) {
		defer wg.Done()
		assert.Equal(t, event.DownloadUpdateEvent, ev)
		assert.Equal(t, downloadID, payload)
	})

	bus.Dispatch(event.DownloadUpdateEvent, downloadID)
	wg.Wait()
}

func Test_Dispatch_RejectsIllegalPayload(t *testing.T) {
	bus := event.New()
	handlerChannel := make(event.HandlerChannel, 10)
	bus.RegisterHandlerChannel(handlerChannel, event.DownloadUpdateEvent)

	// A string payload is not legal for any event; the dispatch should be
	// dropped before it reaches any handler.
	bus.Dispatch(event.DownloadUpdateEvent, "not-a-uuid")

	select {
	case message := <-handlerChannel:
		t.Fatalf("expected illegal payload to be dropped, received %v", message)
	case <-time.After(time.Millisecond * 100):
	}
}
