package cleanup

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fetcharr/fetcharr/internal/artifact"
	"github.com/fetcharr/fetcharr/internal/event"
	"github.com/fetcharr/fetcharr/internal/metrics"
	"github.com/fetcharr/fetcharr/pkg/logger"
	"github.com/google/uuid"
	"github.com/rjeczalik/notify"
)

var log = logger.Get("CleanupServ")

type (
	DataStore interface {
		GetArtifact(id uuid.UUID) (*artifact.Artifact, error)
		GetArtifactByFileName(fileName string) (*artifact.Artifact, error)
		ListArtifacts() ([]*artifact.Artifact, error)
		ListExpiredArtifacts(now time.Time) ([]*artifact.Artifact, error)
		DeleteArtifact(id uuid.UUID) error
	}

	// cleanupService enforces the retention policy for downloaded media.
	// Every artifact carries an expiry deadline; this service holds a
	// timer per live artifact and reaps the file (and its database row)
	// once the deadline passes. A periodic sweep backstops the timers,
	// and also removes abandoned files which never became artifacts.
	cleanupService struct {
		*sync.Mutex

		config    Config
		eventBus  event.EventCoordinator
		dataStore DataStore

		expiryTimers map[uuid.UUID]*time.Timer
	}
)

func New(config Config, eventBus event.EventCoordinator, dataStore DataStore) *cleanupService {
	return &cleanupService{
		Mutex:        &sync.Mutex{},
		config:       config,
		eventBus:     eventBus,
		dataStore:    dataStore,
		expiryTimers: make(map[uuid.UUID]*time.Timer),
	}
}

// Run is the main entry point of this service. Expiry timers for any
// artifacts which survived a restart are rebuilt from the store, the
// watch directory is monitored for out-of-band file deletions, and a
// periodic sweep is scheduled.
// To kill the service, the calling code should cancel the context provided.
func (service *cleanupService) Run(ctx context.Context) error {
	eventChannel := make(event.HandlerChannel, 100)
	service.eventBus.RegisterHandlerChannel(eventChannel, event.ArtifactSavedEvent)

	// The watch is recursive so that intermediates staged in
	// subdirectories (e.g. incoming raw downloads) are covered too.
	fsNotifyChannel := make(chan notify.EventInfo, 64)
	if err := notify.Watch(filepath.Join(service.config.WatchPath, "..."), fsNotifyChannel, notify.Create, notify.Remove, notify.Rename); err != nil {
		log.Emit(logger.WARNING, "Failed to establish file system watch on %s: %v. Out-of-band changes will only be noticed by the periodic sweep\n", service.config.WatchPath, err)
	} else {
		defer notify.Stop(fsNotifyChannel)
	}

	sweepChannel := time.NewTicker(service.config.SweepIntervalDuration()).C

	defer service.clearAllExpiryTimers()

	service.rebuildExpiryTimers()
	service.Sweep()

	for {
		select {
		case message := <-eventChannel:
			if artifactID, ok := message.Payload.(uuid.UUID); ok {
				service.scheduleExpiryForArtifact(artifactID)
			} else {
				log.Emit(logger.ERROR, "failed to extract UUID from %s event (payload %#v)\n", message.Event, message.Payload)
			}
		case fsEvent := <-fsNotifyChannel:
			if fsEvent.Event() == notify.Create {
				service.handleFileAppeared(fsEvent.Path())
			} else {
				service.handleFileRemoved(fsEvent.Path())
			}
		case <-sweepChannel:
			service.Sweep()
		case <-ctx.Done():
			return nil
		}
	}
}

// Sweep performs a full pass of the retention policy: any artifacts whose
// deadline has passed are reaped, and any files in the watch directory
// which are not artifacts and have not been touched within the stale
// threshold are deleted.
func (service *cleanupService) Sweep() {
	now := time.Now()

	expired, err := service.dataStore.ListExpiredArtifacts(now)
	if err != nil {
		log.Emit(logger.ERROR, "Sweep failed to list expired artifacts: %v\n", err)
	} else {
		for _, expiredArtifact := range expired {
			service.reapArtifact(expiredArtifact)
		}
	}

	service.removeStaleFiles(now)
}

// rebuildExpiryTimers schedules an expiry timer for every artifact in the
// store. Artifacts which expired while the server was not running are
// handled by the startup sweep rather than a timer.
func (service *cleanupService) rebuildExpiryTimers() {
	artifacts, err := service.dataStore.ListArtifacts()
	if err != nil {
		log.Emit(logger.ERROR, "Failed to rebuild expiry timers from store: %v\n", err)
		return
	}

	service.Lock()
	defer service.Unlock()

	for _, a := range artifacts {
		if delay := time.Until(a.ExpiresAt); delay > 0 {
			service.scheduleExpiryTimerLocked(a.ID, delay)
		}
	}

	log.Emit(logger.INFO, "Rebuilt %d expiry timers from artifact store\n", len(service.expiryTimers))
}

// scheduleExpiryForArtifact looks up the artifact provided and schedules
// a timer which will reap it once its deadline passes.
func (service *cleanupService) scheduleExpiryForArtifact(artifactID uuid.UUID) {
	a, err := service.dataStore.GetArtifact(artifactID)
	if err != nil {
		log.Emit(logger.ERROR, "Cannot schedule expiry for artifact %s: %v\n", artifactID, err)
		return
	}

	service.Lock()
	defer service.Unlock()

	delay := time.Until(a.ExpiresAt)
	if delay < 0 {
		delay = 0
	}

	service.scheduleExpiryTimerLocked(a.ID, delay)
	log.Emit(logger.DEBUG, "Artifact %s scheduled for expiry in %s\n", a.ID, delay)
}

// evaluateArtifactExpiry is called when an expiry timer fires. The
// artifacts deadline is re-checked against the store in case it was
// deleted (or re-saved with a new deadline) since the timer was created.
func (service *cleanupService) evaluateArtifactExpiry(artifactID uuid.UUID) {
	service.Lock()
	delete(service.expiryTimers, artifactID)
	service.Unlock()

	a, err := service.dataStore.GetArtifact(artifactID)
	if err != nil {
		return
	}

	if delay := time.Until(a.ExpiresAt); delay > 0 {
		service.Lock()
		service.scheduleExpiryTimerLocked(a.ID, delay)
		service.Unlock()
		return
	}

	service.reapArtifact(a)
}

// reapArtifact removes the artifacts file from disk and deletes its row
// from the store, announcing the expiry on the event bus.
func (service *cleanupService) reapArtifact(a *artifact.Artifact) {
	if err := os.Remove(a.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Emit(logger.ERROR, "Failed to remove expired artifact file %s: %v\n", a.FilePath, err)
		return
	}

	if err := service.dataStore.DeleteArtifact(a.ID); err != nil {
		log.Emit(logger.ERROR, "Failed to delete expired artifact %s from store: %v\n", a.ID, err)
		return
	}

	service.Lock()
	service.clearExpiryTimerLocked(a.ID)
	service.Unlock()

	log.Emit(logger.INFO, "Artifact %s (%s) expired and was removed\n", a.ID, a.FileName)
	metrics.RecordArtifactExpired()
	service.eventBus.Dispatch(event.ArtifactExpiredEvent, a.ID)
}

// handleFileRemoved reacts to a file disappearing from the watch directory
// outside of this services control. If an artifact row exists for the
// file, it is deleted so that listings do not advertise a dead file.
func (service *cleanupService) handleFileRemoved(path string) {
	fileName := filepath.Base(path)
	a, err := service.dataStore.GetArtifactByFileName(fileName)
	if err != nil {
		return
	}

	if _, err := os.Stat(a.FilePath); err == nil {
		// File still present (e.g. rename target inside the same dir)
		return
	}

	log.Emit(logger.WARNING, "Artifact file %s removed outside of cleanup control... dropping artifact %s\n", fileName, a.ID)
	if err := service.dataStore.DeleteArtifact(a.ID); err != nil {
		log.Emit(logger.ERROR, "Failed to delete artifact %s from store: %v\n", a.ID, err)
		return
	}

	service.Lock()
	service.clearExpiryTimerLocked(a.ID)
	service.Unlock()

	service.eventBus.Dispatch(event.ArtifactExpiredEvent, a.ID)
}

// handleFileAppeared reacts to a file appearing in the watch tree outside
// of this services control. The stale pass runs immediately so that files
// moved in with an old modification time do not linger until the next
// scheduled sweep.
func (service *cleanupService) handleFileAppeared(path string) {
	log.Emit(logger.DEBUG, "File %s appeared in watch tree... running stale file pass\n", path)
	service.removeStaleFiles(time.Now())
}

// removeStaleFiles walks the watch directory (including subdirectories,
// where raw downloads are staged) and deletes any file which has no
// artifact row and has not been modified within the stale threshold.
// These are typically intermediates left behind by a crashed download
// or transcode.
func (service *cleanupService) removeStaleFiles(now time.Time) {
	staleThreshold := service.config.StaleThresholdDuration()
	err := filepath.WalkDir(service.config.WatchPath, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if entry.IsDir() {
			return nil
		}

		if _, err := service.dataStore.GetArtifactByFileName(entry.Name()); err == nil {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return nil
		}

		if now.Sub(info.ModTime()) <= staleThreshold {
			return nil
		}

		if err := os.Remove(path); err != nil {
			log.Emit(logger.ERROR, "Failed to remove stale file %s: %v\n", path, err)
			return nil
		}

		log.Emit(logger.INFO, "Removed stale file %s (last modified %s)\n", path, info.ModTime())
		return nil
	})
	if err != nil {
		log.Emit(logger.ERROR, "Stale file sweep of %s failed: %v\n", service.config.WatchPath, err)
	}
}

// scheduleExpiryTimerLocked will call evaluateArtifactExpiry for the artifact
// provided after the delay duration specified has elapsed. Any existing expiry
// timer for the artifact specified will be *cancelled* before the new timer
// is created.
func (service *cleanupService) scheduleExpiryTimerLocked(id uuid.UUID, delay time.Duration) {
	service.clearExpiryTimerLocked(id)
	service.expiryTimers[id] = time.AfterFunc(delay, func() {
		service.evaluateArtifactExpiry(id)
	})
}

// clearExpiryTimerLocked cancels and deletes the expiry timer associatted
// with the artifact ID specified.
func (service *cleanupService) clearExpiryTimerLocked(id uuid.UUID) {
	if timer, ok := service.expiryTimers[id]; ok {
		timer.Stop()
		delete(service.expiryTimers, id)
	}
}

// clearAllExpiryTimers cancels and deletes the expiry timers for
// all artifacts.
func (service *cleanupService) clearAllExpiryTimers() {
	service.Lock()
	defer service.Unlock()

	for key, timer := range service.expiryTimers {
		timer.Stop()
		delete(service.expiryTimers, key)
	}
}
