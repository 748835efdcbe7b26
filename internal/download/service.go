package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fetcharr/fetcharr/internal/event"
	"github.com/fetcharr/fetcharr/internal/metrics"
	"github.com/fetcharr/fetcharr/pkg/logger"
	"github.com/fetcharr/fetcharr/pkg/worker"
	"github.com/google/uuid"
)

var log = logger.Get("DownloadServ")

var ErrDownloadAlreadyExists = errors.New("an active download already exists for the source URL")

type (
	downloadEngine interface {
		DownloadToFile(ctx context.Context, sourceUrl string, uniqueStem string, onProgress func(Progress)) (*EngineResult, error)
	}

	// downloadService accepts requests to fetch remote media and runs
	// them through a bounded worker pool. Items are held in-memory; the
	// durable record of a finished download is the artifact row created
	// by the transcode service once the file has been converted.
	downloadService struct {
		*sync.Mutex

		engine   downloadEngine
		eventBus event.EventCoordinator

		config      Config
		items       []*DownloadItem
		cancelFuncs map[uuid.UUID]context.CancelFunc
		workerPool  *worker.WorkerPool
		runCtx      context.Context
	}
)

// New creates a new download service, using the provided config for
// subsequent calls to 'Run'.
//
// The configs 'OutputPath' is validated to be an existing directory.
// If the directory is missing it will be created, if the path
// provided points to an existing FILE, an error is returned.
func New(config Config, eventBus event.EventCoordinator) (*downloadService, error) {
	if info, err := os.Stat(config.OutputPath); err == nil {
		if !info.IsDir() {
			return nil, fmt.Errorf("download output path '%s' is not a directory", config.OutputPath)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(config.OutputPath, os.ModeDir|os.ModePerm); err != nil {
			return nil, fmt.Errorf("download output path '%s' could not be created: %s", config.OutputPath, err.Error())
		}
	} else {
		return nil, fmt.Errorf("download output path '%s' could not be accessed: %s", config.OutputPath, err.Error())
	}

	service := &downloadService{
		Mutex:       &sync.Mutex{},
		engine:      newEngine(config),
		eventBus:    eventBus,
		config:      config,
		items:       make([]*DownloadItem, 0),
		cancelFuncs: make(map[uuid.UUID]context.CancelFunc),
		workerPool:  worker.NewWorkerPool(),
	}

	for i := 0; i < config.DownloadParallelism; i++ {
		label := fmt.Sprintf("download-worker-%d", i)
		service.workerPool.PushWorker(worker.NewWorker(label, service.ExecuteTask))
	}

	return service, nil
}

// Run is the main entry point of this service. The worker pool is
// started, and kept alive until the calling code cancels the
// provided context.
func (service *downloadService) Run(ctx context.Context) error {
	service.runCtx = ctx

	if err := service.workerPool.Start(); err != nil {
		return fmt.Errorf("failed to start download worker pool: %w", err)
	}
	defer service.workerPool.Close()

	<-ctx.Done()
	return nil
}

// NewDownload validates the source URL provided and, if no active item
// for the same URL already exists, queues a new PENDING item and wakes
// the worker pool.
func (service *downloadService) NewDownload(sourceUrl string) (*DownloadItem, error) {
	if err := ValidateSourceUrl(sourceUrl); err != nil {
		return nil, err
	}

	service.Lock()
	defer service.Unlock()

	for _, item := range service.items {
		if item.SourceUrl == sourceUrl && (item.State == PENDING || item.State == DOWNLOADING) {
			return nil, ErrDownloadAlreadyExists
		}
	}

	item := &DownloadItem{
		ID:        uuid.New(),
		SourceUrl: sourceUrl,
		State:     PENDING,
		CreatedAt: time.Now(),
	}

	service.items = append(service.items, item)
	service.workerPool.WakeupWorkers()

	metrics.RecordDownloadQueued()
	service.eventBus.Dispatch(event.DownloadUpdateEvent, item.ID)
	return item, nil
}

// CancelDownload transitions the item with the ID provided to CANCELLED.
// If the item is mid-transfer, the engines context is cancelled which
// aborts the underlying process.
func (service *downloadService) CancelDownload(itemID uuid.UUID) error {
	service.Lock()
	defer service.Unlock()

	item := service.getDownloadLocked(itemID)
	if item == nil {
		return ErrDownloadNotFound
	}

	switch item.State {
	case COMPLETE, CANCELLED:
		return fmt.Errorf("cannot cancel download %s as it is already finished", itemID)
	case DOWNLOADING:
		if cancel, ok := service.cancelFuncs[itemID]; ok {
			cancel()
		}
	}

	item.State = CANCELLED
	now := time.Now()
	item.FinishedAt = &now

	metrics.RecordDownloadCancelled()
	service.eventBus.Dispatch(event.DownloadUpdateEvent, item.ID)
	return nil
}

// ResolveTroubledDownload applies the resolution provided to a TROUBLED
// item. A retry returns the item to PENDING and wakes the pool, whereas
// an abort transitions the item to CANCELLED.
func (service *downloadService) ResolveTroubledDownload(itemID uuid.UUID, resolution ResolutionType) error {
	service.Lock()
	defer service.Unlock()

	item := service.getDownloadLocked(itemID)
	if item == nil {
		return ErrDownloadNotFound
	}

	if item.State != TROUBLED || item.Trouble == nil {
		return ErrNoTrouble
	}

	res, err := item.Trouble.GenerateResolution(resolution)
	if err != nil {
		return err
	}

	switch res.(type) {
	case *RetryResolution:
		item.Trouble = nil
		item.Progress = nil
		item.State = PENDING
		service.workerPool.WakeupWorkers()
	case *AbortResolution:
		item.State = CANCELLED
		now := time.Now()
		item.FinishedAt = &now
	}

	service.eventBus.Dispatch(event.DownloadUpdateEvent, item.ID)
	return nil
}

// GetDownload accepts the ID of a download item and attempts to find it
// in the services queue. If it cannot be found, nil is returned.
func (service *downloadService) GetDownload(itemID uuid.UUID) *DownloadItem {
	service.Lock()
	defer service.Unlock()

	return service.getDownloadLocked(itemID)
}

// GetAllDownloads returns all the download items known to this service,
// including those which have already finished.
func (service *downloadService) GetAllDownloads() []*DownloadItem {
	service.Lock()
	defer service.Unlock()

	items := make([]*DownloadItem, len(service.items))
	copy(items, service.items)
	return items
}

// ExecuteTask is the worker function for the download service, which is
// called by the services WorkerPool.
// The function will claim the first PENDING item it finds and perform the
// transfer. Failures are recorded as a trouble against the item.
func (service *downloadService) ExecuteTask(w worker.Worker) (bool, error) {
	item := service.claimPendingItem()
	if item == nil {
		return false, nil
	}

	service.performDownload(item)
	return true, nil
}

func (service *downloadService) performDownload(item *DownloadItem) {
	log.Emit(logger.NEW, "Beginning download of item %s\n", item)

	parentCtx := service.runCtx
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	service.Lock()
	service.cancelFuncs[item.ID] = cancel
	service.Unlock()

	defer func() {
		cancel()
		service.Lock()
		delete(service.cancelFuncs, item.ID)
		service.Unlock()
	}()

	result, err := service.engine.DownloadToFile(ctx, item.SourceUrl, item.ID.String()[:8], func(progress Progress) {
		service.Lock()
		item.Progress = &progress
		service.Unlock()

		service.eventBus.Dispatch(event.DownloadProgressEvent, item.ID)
	})

	service.Lock()
	defer service.Unlock()

	// A cancellation may have arrived while the engine was running, in
	// which case the items state takes precedence over the engine error.
	defer func() { metrics.UpdateActiveDownloads(service.countStateLocked(DOWNLOADING)) }()
	if item.State == CANCELLED {
		log.Emit(logger.INFO, "Download %s was cancelled mid-transfer\n", item)
		return
	}

	now := time.Now()
	if err != nil {
		log.Emit(logger.ERROR, "Download of item %s FAILED: %s\n", item, err.Error())
		trouble := newTrouble(err)
		item.Trouble = &trouble
		item.State = TROUBLED

		metrics.RecordDownloadTroubled()
		service.eventBus.Dispatch(event.DownloadUpdateEvent, item.ID)
		return
	}

	item.Title = result.Title
	item.DurationSeconds = result.DurationSeconds
	item.ThumbnailUrl = result.ThumbnailUrl
	item.OutputPath = result.FilePath
	item.State = COMPLETE
	item.FinishedAt = &now

	log.Emit(logger.SUCCESS, "Download of item %s complete (output %s)\n", item, result.FilePath)
	metrics.RecordDownloadCompleted()
	service.eventBus.Dispatch(event.DownloadUpdateEvent, item.ID)
	service.eventBus.Dispatch(event.DownloadCompleteEvent, item.ID)
}

// claimPendingItem will try and find a PENDING item in the service,
// and set it's state to 'DOWNLOADING' to prevent another
// worker from claiming it once the mutex lock is released.
//
// Note: This function takes ownership of the mutex, and releases it when returning
func (service *downloadService) claimPendingItem() *DownloadItem {
	service.Lock()
	defer service.Unlock()

	for _, item := range service.items {
		if item.State == PENDING {
			item.State = DOWNLOADING
			metrics.UpdateActiveDownloads(service.countStateLocked(DOWNLOADING))
			return item
		}
	}

	return nil
}

func (service *downloadService) countStateLocked(state DownloadItemState) int {
	count := 0
	for _, item := range service.items {
		if item.State == state {
			count++
		}
	}

	return count
}

func (service *downloadService) getDownloadLocked(itemID uuid.UUID) *DownloadItem {
	for _, item := range service.items {
		if item.ID == itemID {
			return item
		}
	}

	return nil
}
