package internal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fetcharr/fetcharr/internal/event"
	"github.com/fetcharr/fetcharr/pkg/logger"
	"github.com/google/uuid"
)

const (
	DEBOUNCE_DURATION  time.Duration = time.Second * 2
	MAX_TIMER_DURATION time.Duration = time.Second * 5

	RAPID_EVENT_DEBOUNCE_DURATION  time.Duration = time.Millisecond * 500
	RAPID_EVENT_MAX_TIMER_DURATION time.Duration = time.Second * 2
)

type (
	broadcastHandler func(uuid.UUID) error

	broadcaster interface {
		BroadcastDownloadUpdate(uuid.UUID) error
		BroadcastTranscodeUpdate(uuid.UUID) error
		BroadcastArtifactUpdate(uuid.UUID) error
	}

	eventKey struct {
		ev event.Event
		id uuid.UUID
	}

	// activityService debounces the noisy event bus traffic down to a
	// sensible rate of websocket broadcasts. Progress events are debounced
	// on a tighter window than state changes so clients still see live
	// updates, and a max timer bounds how long any broadcast can be deferred.
	activityService struct {
		*sync.Mutex
		broadcaster
		eventBus       event.EventHandler
		debounceTimers map[eventKey]*time.Timer
		maxTimers      map[eventKey]*time.Timer
	}
)

func newActivityService(broadcaster broadcaster, event event.EventHandler) *activityService {
	return &activityService{
		Mutex:          &sync.Mutex{},
		broadcaster:    broadcaster,
		eventBus:       event,
		debounceTimers: make(map[eventKey]*time.Timer),
		maxTimers:      make(map[eventKey]*time.Timer),
	}
}

func (service *activityService) Run(ctx context.Context) error {
	messageChan := make(chan event.HandlerEvent, 100)
	service.eventBus.RegisterHandlerChannel(messageChan,
		event.DownloadUpdateEvent, event.DownloadProgressEvent, event.DownloadCompleteEvent,
		event.TranscodeUpdateEvent, event.TranscodeProgressEvent, event.TranscodeCompleteEvent,
		event.ArtifactSavedEvent, event.ArtifactExpiredEvent)

	log.Emit(logger.NEW, "Activity service started\n")
	for {
		select {
		case ev := <-messageChan:
			if err := service.handleEvent(ev); err != nil {
				log.Emit(logger.ERROR, "Handling of event %v failed: %v\n", ev, err)
			}
		case <-ctx.Done():
			log.Emit(logger.STOP, "Activity service closed\n")
			return nil
		}
	}
}

func (service *activityService) handleEvent(ev event.HandlerEvent) error {
	resourceID, ok := ev.Payload.(uuid.UUID)
	if !ok {
		return errors.New("illegal payload (expected UUID)")
	}

	resourceKey := eventKey{id: resourceID, ev: ev.Event}

	switch ev.Event {
	case event.DownloadUpdateEvent:
		fallthrough
	case event.DownloadCompleteEvent:
		service.scheduleEventBroadcast(resourceKey, service.BroadcastDownloadUpdate)
	case event.DownloadProgressEvent:
		service.scheduleRapidEventBroadcast(resourceKey, service.BroadcastDownloadUpdate)
	case event.TranscodeUpdateEvent:
		fallthrough
	case event.TranscodeCompleteEvent:
		service.scheduleEventBroadcast(resourceKey, service.BroadcastTranscodeUpdate)
	case event.TranscodeProgressEvent:
		service.scheduleRapidEventBroadcast(resourceKey, service.BroadcastTranscodeUpdate)
	case event.ArtifactSavedEvent:
		fallthrough
	case event.ArtifactExpiredEvent:
		service.scheduleEventBroadcast(resourceKey, service.BroadcastArtifactUpdate)
	default:
		return errors.New("unknown event type")
	}

	return nil
}

func (service *activityService) scheduleEventBroadcast(resourceKey eventKey, handler broadcastHandler) {
	service._scheduleEventBroadcast(resourceKey, handler, DEBOUNCE_DURATION, MAX_TIMER_DURATION)
}

func (service *activityService) scheduleRapidEventBroadcast(resourceKey eventKey, handler broadcastHandler) {
	service._scheduleEventBroadcast(resourceKey, handler, RAPID_EVENT_DEBOUNCE_DURATION, RAPID_EVENT_MAX_TIMER_DURATION)
}

func (service *activityService) _scheduleEventBroadcast(resourceKey eventKey, handler broadcastHandler, debounceTime time.Duration, maxTime time.Duration) {
	service.Lock()
	defer service.Unlock()

	broadcaster := func() { service.broadcast(resourceKey, handler) }

	// Cancel and re-set a debounce timer
	if t, ok := service.debounceTimers[resourceKey]; ok {
		t.Stop()
	}
	service.debounceTimers[resourceKey] = time.AfterFunc(debounceTime, broadcaster)

	// Set a max timer if not already set
	if _, ok := service.maxTimers[resourceKey]; !ok {
		service.maxTimers[resourceKey] = time.AfterFunc(maxTime, broadcaster)
	}
}

func (service *activityService) broadcast(resourceKey eventKey, handler broadcastHandler) {
	service.Lock()
	defer service.Unlock()

	if t, ok := service.debounceTimers[resourceKey]; ok {
		t.Stop()
		delete(service.debounceTimers, resourceKey)
	}

	if t, ok := service.maxTimers[resourceKey]; ok {
		t.Stop()
		delete(service.maxTimers, resourceKey)
	}

	if err := handler(resourceKey.id); err != nil {
		log.Emit(logger.WARNING, "Broadcast for resource %s failed: %v\n", resourceKey.id, err)
	}
}
