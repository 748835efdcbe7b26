package internal

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fetcharr/fetcharr/internal/api"
	"github.com/fetcharr/fetcharr/internal/artifact"
	"github.com/fetcharr/fetcharr/internal/cleanup"
	"github.com/fetcharr/fetcharr/internal/database"
	"github.com/fetcharr/fetcharr/internal/download"
	"github.com/fetcharr/fetcharr/internal/event"
	"github.com/fetcharr/fetcharr/internal/metrics"
	"github.com/fetcharr/fetcharr/internal/transcode"
	"github.com/fetcharr/fetcharr/pkg/docker"
	"github.com/fetcharr/fetcharr/pkg/logger"
	"github.com/google/uuid"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	RestGateway interface {
		RunnableService
		BroadcastDownloadUpdate(uuid.UUID) error
		BroadcastTranscodeUpdate(uuid.UUID) error
		BroadcastArtifactUpdate(uuid.UUID) error
	}

	DownloadService interface {
		RunnableService
		NewDownload(sourceUrl string) (*download.DownloadItem, error)
		GetAllDownloads() []*download.DownloadItem
		GetDownload(uuid.UUID) *download.DownloadItem
		CancelDownload(uuid.UUID) error
		ResolveTroubledDownload(uuid.UUID, download.ResolutionType) error
	}

	TranscodeService interface {
		RunnableService
		AllTasks() []*transcode.TranscodeTask
		Task(uuid.UUID) *transcode.TranscodeTask
		ActiveTaskForDownload(uuid.UUID) *transcode.TranscodeTask
		PauseTask(uuid.UUID) error
		ResumeTask(uuid.UUID) error
		CancelTask(uuid.UUID) error
	}
)

// fetcharrImpl represents the top-level object for the server, and is
// responsible for initialising embedded support services, services,
// stores, event handling, et cetera...
type fetcharrImpl struct {
	eventBus        event.EventCoordinator
	activityService *activityService
	config          FetcharrConfig
	dockerManager   docker.DockerManager

	store *storeOrchestrator

	restGateway      RestGateway
	downloadService  DownloadService
	transcodeService TranscodeService
	cleanupService   RunnableService
}

func New(config FetcharrConfig) *fetcharrImpl {
	log.Emit(logger.DEBUG, "Bootstrapping fetcharr services using config: %#v\n", config)

	// The transcoder and cleanup service both operate on the main download
	// directory unless explicitly configured otherwise.
	if config.Transcode.OutputPath == "" {
		config.Transcode.OutputPath = config.DownloadDirPath
	}
	if config.Cleanup.WatchPath == "" {
		config.Cleanup.WatchPath = config.DownloadDirPath
	}

	eventBus := event.New()
	fetcharr := &fetcharrImpl{
		eventBus: eventBus,
		config:   config,
		store: &storeOrchestrator{
			artifactStore: artifact.NewStore(),
			eventBus:      eventBus,
			retention:     config.Cleanup.FileTTLDuration(),
		},
	}

	if serv, err := download.New(download.Config{
		OutputPath:          config.IncomingDirPath(),
		MaxHeight:           config.MaxVideoHeight,
		DownloadParallelism: config.DownloadParallelism,
	}, fetcharr.eventBus); err == nil {
		fetcharr.downloadService = serv
	} else {
		panic(fmt.Sprintf("failed to construct download service due to error: %s", err.Error()))
	}

	if serv, err := transcode.New(config.Transcode, fetcharr.eventBus, fetcharr.downloadService, fetcharr.store); err == nil {
		fetcharr.transcodeService = serv
	} else {
		panic(fmt.Sprintf("failed to construct transcode service due to error: %s", err.Error()))
	}

	fetcharr.cleanupService = cleanup.New(config.Cleanup, fetcharr.eventBus, fetcharr.store)
	fetcharr.restGateway = api.NewRestGateway(&config.RestConfig, fetcharr.downloadService, fetcharr.transcodeService, fetcharr.store, fetcharr.store)
	fetcharr.activityService = newActivityService(fetcharr.restGateway, fetcharr.eventBus)

	return fetcharr
}

// Run will start all of fetcharr by bringing up all required services and
// connections, such as:
// - Docker services
// - Database connection
// - Service instances
//
// This function will not return until fetcharr is stopped. To stop fetcharr,
// the provided context must be cancelled. Errors from which fetcharr cannot
// recover will also cause it to stop.
func (fetcharr *fetcharrImpl) Run(parent context.Context) error {
	fetcharr.dockerManager = docker.NewDockerManager()
	defer fetcharr.dockerManager.Shutdown(time.Second * 10)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	if fetcharr.config.Services.EnablePostgres {
		log.Emit(logger.NEW, "Initialising embedded database...\n")
		dbCrashChannel := make(chan error, 1)
		go func() {
			if err, ok := <-dbCrashChannel; ok {
				crashHandler("docker-postgres", err)
			}
		}()

		if _, err := database.InitialiseDockerDatabase(fetcharr.dockerManager, fetcharr.config.Database, dbCrashChannel); err != nil {
			return err
		}
	}

	log.Emit(logger.NEW, "Connecting to database...\n")
	db := database.New()
	if err := db.Connect(fetcharr.config.Database); err != nil {
		return err
	}
	fetcharr.store.db = db

	if live, err := fetcharr.store.ListArtifacts(); err == nil {
		metrics.UpdateArtifactsLive(len(live))
	}

	wg := &sync.WaitGroup{}
	fetcharr.spawnAsyncService(ctx, wg, fetcharr.downloadService, "download-service", crashHandler)
	fetcharr.spawnAsyncService(ctx, wg, fetcharr.transcodeService, "transcode-service", crashHandler)
	fetcharr.spawnAsyncService(ctx, wg, fetcharr.cleanupService, "cleanup-service", crashHandler)
	fetcharr.spawnAsyncService(ctx, wg, fetcharr.activityService, "activity-service", crashHandler)
	fetcharr.spawnAsyncService(ctx, wg, fetcharr.restGateway, "rest-gateway", crashHandler)
	log.Emit(logger.SUCCESS, "fetcharr services spawned!\n")

	wg.Wait()
	return nil
}

// spawnAsyncService will run the provided function/service as it's own
// go-routine, ensuring that the fetcharr service waitgroup is updated correctly
func (fetcharr *fetcharrImpl) spawnAsyncService(context context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		defer wg.Done()
		if err := service.Run(context); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}

// storeOrchestrator binds the artifact store to the database connection and
// layers the service-level behaviour on top of the raw SQL: expiry stamping
// and event dispatch on save, and file removal alongside row deletion.
type storeOrchestrator struct {
	artifactStore *artifact.Store
	eventBus      event.EventDispatcher
	retention     time.Duration
	db            database.Manager
}

// SaveArtifact stamps the retention deadline on the artifact (unless the
// caller already set one) before persisting it and announcing it on the
// event bus.
func (orchestrator *storeOrchestrator) SaveArtifact(item *artifact.Artifact) error {
	if item.ExpiresAt.IsZero() {
		item.ExpiresAt = time.Now().Add(orchestrator.retention)
	}

	if err := orchestrator.artifactStore.Save(orchestrator.db.GetSqlxDb(), item); err != nil {
		return err
	}

	orchestrator.refreshLiveGauge()
	orchestrator.eventBus.Dispatch(event.ArtifactSavedEvent, item.ID)
	return nil
}

func (orchestrator *storeOrchestrator) GetArtifact(id uuid.UUID) (*artifact.Artifact, error) {
	return orchestrator.artifactStore.Get(orchestrator.db.GetSqlxDb(), id)
}

func (orchestrator *storeOrchestrator) GetArtifactByFileName(fileName string) (*artifact.Artifact, error) {
	return orchestrator.artifactStore.GetByFileName(orchestrator.db.GetSqlxDb(), fileName)
}

func (orchestrator *storeOrchestrator) ListArtifacts() ([]*artifact.Artifact, error) {
	return orchestrator.artifactStore.List(orchestrator.db.GetSqlxDb())
}

func (orchestrator *storeOrchestrator) ListExpiredArtifacts(now time.Time) ([]*artifact.Artifact, error) {
	return orchestrator.artifactStore.ListExpired(orchestrator.db.GetSqlxDb(), now)
}

// DeleteArtifact removes the artifact row and, if it still exists, the file
// it points at. The file may already be gone when the cleanup service is the
// caller, as it unlinks the file before touching the store.
func (orchestrator *storeOrchestrator) DeleteArtifact(id uuid.UUID) error {
	item, err := orchestrator.artifactStore.Get(orchestrator.db.GetSqlxDb(), id)
	if err != nil {
		return err
	}

	if err := orchestrator.artifactStore.Delete(orchestrator.db.GetSqlxDb(), id); err != nil {
		return err
	}

	if err := os.Remove(item.FilePath); err != nil && !os.IsNotExist(err) {
		log.Emit(logger.WARNING, "Failed to remove file %s for deleted artifact %s: %v\n", item.FilePath, id, err)
	}

	orchestrator.refreshLiveGauge()
	return nil
}

func (orchestrator *storeOrchestrator) refreshLiveGauge() {
	if live, err := orchestrator.ListArtifacts(); err == nil {
		metrics.UpdateArtifactsLive(len(live))
	}
}
