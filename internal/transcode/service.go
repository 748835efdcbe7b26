package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/fetcharr/fetcharr/internal/artifact"
	"github.com/fetcharr/fetcharr/internal/download"
	"github.com/fetcharr/fetcharr/internal/event"
	"github.com/fetcharr/fetcharr/internal/ffmpeg"
	"github.com/fetcharr/fetcharr/internal/metrics"
	"github.com/fetcharr/fetcharr/pkg/logger"
	"github.com/google/uuid"
)

var (
	log = logger.Get("TranscodeServ")

	ErrTaskNotFound = errors.New("no task found")
)

type (
	DownloadProvider interface {
		GetDownload(itemID uuid.UUID) *download.DownloadItem
	}

	DataStore interface {
		SaveArtifact(*artifact.Artifact) error
	}

	// transcodeService converts raw downloaded files in to their final
	// HEVC form. It is responsible for:
	//   - Reacting to completed downloads over the event bus
	//   - Manual transcode requests against completed downloads
	//   - Live-tracking and reporting of ongoing transcodes over the event bus
	//   - Persistence of completed transcodes to the artifact store
	transcodeService struct {
		*sync.Mutex
		taskWg          *sync.WaitGroup
		config          *Config
		tasks           []*TranscodeTask
		cancelFuncs     map[uuid.UUID]context.CancelFunc
		consumedThreads int

		eventBus  event.EventCoordinator
		downloads DownloadProvider
		dataStore DataStore

		queueChange chan bool
		taskChange  chan uuid.UUID
	}
)

// New creates a new transcodeService, injecting the download provider and
// store it relies upon. An error is returned if the configuration provided
// is not valid (e.g., the thread budget cannot fit a single encode).
func New(config Config, eventBus event.EventCoordinator, downloads DownloadProvider, dataStore DataStore) (*transcodeService, error) {
	if config.MaximumThreadConsumption < 2 {
		return nil, fmt.Errorf("maximum thread consumption (%d) is too low to run a single transcode", config.MaximumThreadConsumption)
	}

	if err := os.MkdirAll(config.OutputPath, os.ModeDir|os.ModePerm); err != nil {
		return nil, fmt.Errorf("transcode output path '%s' could not be created: %s", config.OutputPath, err.Error())
	}

	return &transcodeService{
		Mutex:       &sync.Mutex{},
		taskWg:      &sync.WaitGroup{},
		config:      &config,
		tasks:       make([]*TranscodeTask, 0),
		cancelFuncs: make(map[uuid.UUID]context.CancelFunc),
		eventBus:    eventBus,
		downloads:   downloads,
		dataStore:   dataStore,
		queueChange: make(chan bool, 128),
		taskChange:  make(chan uuid.UUID, 128),
	}, nil
}

// Run is the main entry point for this service. This method will block
// until the provided context is cancelled.
// Note: when context is cancelled this method will not immediately return as it
// will wait for it's running transcode tasks to cancel.
func (service *transcodeService) Run(ctx context.Context) error {
	eventChannel := make(event.HandlerChannel, 100)
	service.eventBus.RegisterHandlerChannel(eventChannel, event.DownloadCompleteEvent)

	for {
		select {
		case <-service.queueChange:
			service.startWaitingTasks(ctx)
		case taskID := <-service.taskChange:
			service.handleTaskUpdate(taskID)
		case message := <-eventChannel:
			if downloadID, ok := message.Payload.(uuid.UUID); ok {
				log.Emit(logger.DEBUG, "newly completed download with ID %s detected\n", downloadID)
				if err := service.NewTaskForDownload(downloadID); err != nil {
					log.Emit(logger.ERROR, "failed to queue transcode for download %s: %v\n", downloadID, err)
				}
			} else {
				log.Emit(logger.ERROR, "failed to extract UUID from %s event (payload %#v)\n", message.Event, message.Payload)
			}
		case <-ctx.Done():
			log.Emit(logger.STOP, "Shutting down (context cancelled). Waiting for transcode tasks to cancel.\n")
			service.taskWg.Wait()
			return nil
		}
	}
}

// AllTasks returns the array/slice of the transcode task pointers.
func (service *transcodeService) AllTasks() []*TranscodeTask {
	service.Lock()
	defer service.Unlock()

	tasks := make([]*TranscodeTask, len(service.tasks))
	copy(tasks, service.tasks)
	return tasks
}

// Task looks through all the tasks known to this service and returns the one with
// a matching ID, if it can be found. If no such task exists, nil is returned.
func (service *transcodeService) Task(id uuid.UUID) *TranscodeTask {
	service.Lock()
	defer service.Unlock()

	return service.taskLocked(id)
}

func (service *transcodeService) taskLocked(id uuid.UUID) *TranscodeTask {
	for _, t := range service.tasks {
		if t.ID() == id {
			return t
		}
	}

	return nil
}

// ActiveTaskForDownload searches through all the tasks in this service and looks
// for one which was created for the download matching the ID provided. If no such
// task exists then nil is returned.
func (service *transcodeService) ActiveTaskForDownload(downloadID uuid.UUID) *TranscodeTask {
	service.Lock()
	defer service.Unlock()

	return service.activeTaskForDownloadLocked(downloadID)
}

func (service *transcodeService) activeTaskForDownloadLocked(downloadID uuid.UUID) *TranscodeTask {
	for _, t := range service.tasks {
		if t.downloadID == downloadID {
			return t
		}
	}

	return nil
}

// NewTaskForDownload fetches the download item corresponding to the ID provided
// and attempts to spawn a transcode task for its output file.
// If the download cannot be found, has not completed, or a task for the
// download already exists, an error is returned.
func (service *transcodeService) NewTaskForDownload(downloadID uuid.UUID) error {
	item := service.downloads.GetDownload(downloadID)
	if item == nil {
		return fmt.Errorf("download %s not found", downloadID)
	}

	if item.State != download.COMPLETE || item.OutputPath == "" {
		return fmt.Errorf("download %s has no completed output to transcode", downloadID)
	}

	return service.spawnTask(item)
}

// CancelTask will find the transcode task with the ID provided and cancel it. If the task
// is not in a cancellable state, it will simply be removed from the service.
func (service *transcodeService) CancelTask(id uuid.UUID) error {
	service.Lock()
	defer service.Unlock()

	task := service.taskLocked(id)
	if task == nil {
		return ErrTaskNotFound
	}

	wasMonitored := task.Status() == WORKING || task.Status() == SUSPENDED
	if err := task.cancel(); err != nil {
		// This error usually indicates the task is not the right state to be cancelled, however
		// we should still proceed with removing it from the queue
		log.Warnf("failed to cancel task %s command: %s", task, err)
	}

	// Kill the underlying ffmpeg process of a running task; the tasks
	// goroutine observes the cancelled state and removes it from the queue.
	if cancel, ok := service.cancelFuncs[id]; ok {
		cancel()
	}

	if !wasMonitored {
		// Manually remove from the queue because the task was not being
		// monitored by the service at the time of it's cancellation.
		service.removeTaskFromQueue(id)
	}

	log.Emit(logger.STOP, "Cancelled %s\n", task)
	return nil
}

// PauseTask searches the service for the task with the ID provided and suspends
// the underlying ffmpeg command. If the task cannot be found, ErrTaskNotFound is returned.
// If the task is not capable of being suspended (e.g. it's already suspended), then an
// error describing the problem will be returned.
func (service *transcodeService) PauseTask(id uuid.UUID) error {
	service.Lock()
	defer service.Unlock()

	task := service.taskLocked(id)
	if task == nil {
		return ErrTaskNotFound
	}

	if err := task.pause(); err != nil {
		return err
	}

	log.Infof("Paused %s\n", task)
	service.taskChange <- id
	return nil
}

// ResumeTask searches the service for the task with the ID provided and attempts to resume
// the underlying ffmpeg command. If the task cannot be found, ErrTaskNotFound is returned.
// If the task is not capable of being resumed (e.g. it's not already suspended), then an
// error describing the problem will be returned.
func (service *transcodeService) ResumeTask(id uuid.UUID) error {
	service.Lock()
	defer service.Unlock()

	task := service.taskLocked(id)
	if task == nil {
		return ErrTaskNotFound
	}

	if err := task.resume(); err != nil {
		return err
	}

	log.Infof("Resumed %s\n", task)
	service.taskChange <- id
	return nil
}

// startWaitingTasks starts any transcode tasks that are waiting to begin, subject
// to the maximum thread usage defined in the services configuration.
func (service *transcodeService) startWaitingTasks(ctx context.Context) {
	service.Lock()
	defer service.Unlock()

	if service.consumedThreads == service.config.MaximumThreadConsumption {
		return
	}

	for _, task := range service.tasks {
		if task.Status() != WAITING {
			continue
		}

		requiredBudget := task.Target().RequiredThreads()
		availableBudget := service.config.MaximumThreadConsumption - service.consumedThreads
		if requiredBudget > availableBudget {
			log.Emit(logger.DEBUG, "Thread requirements of task %s (%d) exceed remaining budget (%d), instance spawning complete\n", task, requiredBudget, availableBudget)
			return
		}

		service.consumedThreads += requiredBudget
		metrics.UpdateConsumedThreads(service.consumedThreads)
		metrics.UpdateActiveTranscodes(service.activeTaskCountLocked() + 1)
		service.taskWg.Add(1)

		// Each task runs under its own cancellable context so that
		// CancelTask can kill the underlying command without touching
		// its siblings.
		taskCtx, cancelTask := context.WithCancel(ctx)
		service.cancelFuncs[task.id] = cancelTask

		go func(taskToStart *TranscodeTask, taskCtx context.Context, wg *sync.WaitGroup, threadCost int) {
			defer wg.Done()

			updateHandler := func(_ *ffmpeg.Progress) {
				service.eventBus.Dispatch(event.TranscodeProgressEvent, taskToStart.ID())
			}

			taskToStart.setStatus(WORKING)
			service.taskChange <- taskToStart.id
			log.Emit(logger.DEBUG, "Starting task %s, consuming %d threads\n", taskToStart, threadCost)

			ffmpegConfig := &ffmpeg.Config{
				FfmpegBinPath:  service.config.FfmpegBinaryPath,
				FfprobeBinPath: service.config.FfprobeBinaryPath,
			}
			if err := taskToStart.Run(taskCtx, ffmpegConfig, updateHandler); err != nil {
				log.Emit(logger.WARNING, "Task %s has concluded with error: %v\n", taskToStart, err)
			} else {
				log.Emit(logger.DEBUG, "Task %s has concluded nominally\n", taskToStart)
			}

			// Submit a non-blocking update to ensure completed/cancelled tasks are correctly
			// dealt with. If the service is shutting down, the thread responsible for draining
			// this channel is no longer listening.
			select {
			case service.taskChange <- taskToStart.id:
			default:
				log.Emit(logger.WARNING, "Failed to notify service of task change... this could be because the service is shutting down\n")
			}

			service.Lock()
			defer service.Unlock()
			if cancel, ok := service.cancelFuncs[taskToStart.id]; ok {
				cancel()
				delete(service.cancelFuncs, taskToStart.id)
			}
			service.consumedThreads -= threadCost
			metrics.UpdateConsumedThreads(service.consumedThreads)
			metrics.UpdateActiveTranscodes(service.activeTaskCountLocked())
			log.Emit(logger.DEBUG, "Task %s has released %d threads\n", taskToStart.ID(), threadCost)
		}(task, taskCtx, service.taskWg, requiredBudget)
	}
}

func (service *transcodeService) activeTaskCountLocked() int {
	count := 0
	for _, t := range service.tasks {
		if t.Status() == WORKING || t.Status() == SUSPENDED {
			count++
		}
	}

	return count
}

// handleTaskUpdate is the handler for any task updates in this service.
// Any dead tasks are removed from the queue. Completed tasks are committed
// to the artifact store before being removed from the queue.
func (service *transcodeService) handleTaskUpdate(taskID uuid.UUID) {
	service.Lock()
	defer service.Unlock()

	task := service.taskLocked(taskID)
	if task == nil {
		return
	}

	status := task.Status()
	if status == TROUBLED {
		metrics.RecordTranscodeTroubled()
	}

	if status == COMPLETE {
		if err := service.persistCompletedTask(task); err != nil {
			log.Errorf("failed to save artifact for %s due to error: %v\n", task, err)
		} else {
			metrics.RecordTranscodeCompleted()
			service.eventBus.Dispatch(event.TranscodeCompleteEvent, taskID)
			service.removeTaskFromQueue(task.id)

			return
		}
	}

	if status == CANCELLED {
		service.removeTaskFromQueue(task.id)
	}

	service.eventBus.Dispatch(event.TranscodeUpdateEvent, taskID)
}

// persistCompletedTask records the output of a finished task as an artifact,
// and removes the now-redundant raw download from disk.
func (service *transcodeService) persistCompletedTask(task *TranscodeTask) error {
	newArtifact := &artifact.Artifact{
		ID:        uuid.New(),
		Title:     task.Title(),
		SourceUrl: task.SourceUrl(),
		FileName:  filepath.Base(task.OutputPath()),
		FilePath:  task.OutputPath(),
	}

	if info, err := os.Stat(task.OutputPath()); err == nil {
		newArtifact.SizeBytes = info.Size()
	}

	if item := service.downloads.GetDownload(task.DownloadID()); item != nil && item.ThumbnailUrl != "" {
		thumbnail := item.ThumbnailUrl
		newArtifact.ThumbnailUrl = &thumbnail
	}

	if metadata, err := ffmpeg.ProbeFile(task.OutputPath()); err == nil {
		if duration, err := strconv.ParseFloat(metadata.GetFormat().GetDuration(), 64); err == nil {
			durationSecs := int(duration)
			newArtifact.DurationSecs = &durationSecs
		}
	} else {
		log.Warnf("Probe of completed transcode output %s failed: %v\n", task.OutputPath(), err)
	}

	if err := service.dataStore.SaveArtifact(newArtifact); err != nil {
		return err
	}

	if err := os.Remove(task.InputPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("Failed to remove raw download file %s: %v\n", task.InputPath(), err)
	}

	return nil
}

// spawnTask will create a new transcode task assigned to the download provided,
// and add the task to the services queue in a 'WAITING' state.
// An error is returned if a task for this download already exists.
// Note: This function does not START the transcoding, it only creates the task
// and adds it to the processing queue.
func (service *transcodeService) spawnTask(item *download.DownloadItem) error {
	service.Lock()
	defer service.Unlock()

	if existing := service.activeTaskForDownloadLocked(item.ID); existing != nil {
		return fmt.Errorf("an active task for download %s already exists", item.ID)
	}

	newTask := NewTranscodeTask(item.ID, item.Title, item.SourceUrl, item.OutputPath, service.config.OutputPath, ffmpeg.HevcTarget())

	service.tasks = append(service.tasks, newTask)
	service.queueChange <- true
	return nil
}

// removeTaskFromQueue will look for and remove the task with the ID provided
// from the services queue.
// NOTE: The task will NOT be cancelled as part of removal.
func (service *transcodeService) removeTaskFromQueue(taskID uuid.UUID) {
	for i, v := range service.tasks {
		if v.id == taskID {
			service.tasks = append(service.tasks[:i], service.tasks[i+1:]...)
			service.queueChange <- true

			return
		}
	}
}
