package api

import (
	"github.com/fetcharr/fetcharr/internal/api/artifacts"
	"github.com/fetcharr/fetcharr/internal/api/downloads"
	"github.com/fetcharr/fetcharr/internal/api/transcodes"
	"github.com/fetcharr/fetcharr/internal/http/websocket"
	"github.com/google/uuid"
)

const (
	TitleDownloadUpdate  = "DOWNLOAD_UPDATE"
	TitleTranscodeUpdate = "TRANSCODE_TASK_UPDATE"
	TitleArtifactUpdate  = "ARTIFACT_UPDATE"
)

type (
	DownloadUpdate struct {
		DownloadId uuid.UUID      `json:"download_id"`
		Download   *downloads.Dto `json:"download"`
	}

	TranscodeUpdate struct {
		TaskId uuid.UUID                    `json:"task_id"`
		Task   *transcodes.TranscodeTaskDto `json:"task"`
	}

	ArtifactUpdate struct {
		ArtifactId uuid.UUID      `json:"artifact_id"`
		Artifact   *artifacts.Dto `json:"artifact"`
	}

	// broadcaster pushes state change notifications out over the activity
	// websocket. Each broadcast fetches the current state from the relevant
	// service so clients always see the latest representation, even when
	// updates coalesce.
	broadcaster struct {
		socketHub        *websocket.SocketHub
		downloadService  downloads.DownloadService
		transcodeService transcodes.TranscodeService
		artifactService  artifacts.ArtifactService
	}
)

func newBroadcaster(
	socketHub *websocket.SocketHub,
	downloadService downloads.DownloadService,
	transcodeService transcodes.TranscodeService,
	artifactService artifacts.ArtifactService,
) *broadcaster {
	return &broadcaster{socketHub, downloadService, transcodeService, artifactService}
}

func (hub *broadcaster) BroadcastDownloadUpdate(id uuid.UUID) error {
	var dto *downloads.Dto = nil
	if item := hub.downloadService.GetDownload(id); item != nil {
		dto = downloads.NewDto(item)
	}

	hub.broadcast(TitleDownloadUpdate, DownloadUpdate{DownloadId: id, Download: dto})
	return nil
}

func (hub *broadcaster) BroadcastTranscodeUpdate(id uuid.UUID) error {
	var dto *transcodes.TranscodeTaskDto = nil
	if task := hub.transcodeService.Task(id); task != nil {
		d := transcodes.NewDtoFromTask(task)
		dto = &d
	}

	hub.broadcast(TitleTranscodeUpdate, TranscodeUpdate{TaskId: id, Task: dto})
	return nil
}

func (hub *broadcaster) BroadcastArtifactUpdate(id uuid.UUID) error {
	var dto *artifacts.Dto = nil
	if item, err := hub.artifactService.GetArtifact(id); err == nil {
		dto = artifacts.NewDto(item)
	}

	hub.broadcast(TitleArtifactUpdate, ArtifactUpdate{ArtifactId: id, Artifact: dto})
	return nil
}

func (hub *broadcaster) broadcast(title string, update any) {
	hub.socketHub.Send(&websocket.SocketMessage{
		Title: title,
		Body:  map[string]interface{}{"arguments": update},
		Type:  websocket.Update,
	})
}
