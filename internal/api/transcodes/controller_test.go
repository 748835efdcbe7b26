package transcodes_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fetcharr/fetcharr/internal/api/transcodes"
	"github.com/fetcharr/fetcharr/internal/ffmpeg"
	"github.com/fetcharr/fetcharr/internal/transcode"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTranscodeService struct {
	tasks []*transcode.TranscodeTask
}

func (service *fakeTranscodeService) AllTasks() []*transcode.TranscodeTask { return service.tasks }

func (service *fakeTranscodeService) Task(id uuid.UUID) *transcode.TranscodeTask {
	for _, task := range service.tasks {
		if task.ID() == id {
			return task
		}
	}

	return nil
}

func (service *fakeTranscodeService) ActiveTaskForDownload(downloadID uuid.UUID) *transcode.TranscodeTask {
	for _, task := range service.tasks {
		if task.DownloadID() == downloadID {
			return task
		}
	}

	return nil
}

func (service *fakeTranscodeService) PauseTask(id uuid.UUID) error  { return service.guard(id) }
func (service *fakeTranscodeService) ResumeTask(id uuid.UUID) error { return service.guard(id) }
func (service *fakeTranscodeService) CancelTask(id uuid.UUID) error { return service.guard(id) }

func (service *fakeTranscodeService) guard(id uuid.UUID) error {
	if service.Task(id) == nil {
		return transcode.ErrTaskNotFound
	}

	return nil
}

func newTask(downloadID uuid.UUID) *transcode.TranscodeTask {
	return transcode.NewTranscodeTask(downloadID, "My Video", "https://youtu.be/abc", "/downloads/incoming/my-video.mp4", "/downloads", ffmpeg.HevcTarget())
}

func performRequest(service transcodes.TranscodeService, method string, target string) *httptest.ResponseRecorder {
	ec := echo.New()
	controller := transcodes.New(service)
	controller.SetRoutes(ec.Group(""))

	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	ec.ServeHTTP(rec, req)
	return rec
}

func Test_ListTranscodes(t *testing.T) {
	service := &fakeTranscodeService{tasks: []*transcode.TranscodeTask{newTask(uuid.New()), newTask(uuid.New())}}

	rec := performRequest(service, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rec.Code)

	var dtos []transcodes.TranscodeTaskDto
	require.Nil(t, json.Unmarshal(rec.Body.Bytes(), &dtos))
	require.Len(t, dtos, 2)
	assert.Equal(t, "WAITING", dtos[0].Status)
}

func Test_GetTranscode(t *testing.T) {
	task := newTask(uuid.New())
	service := &fakeTranscodeService{tasks: []*transcode.TranscodeTask{task}}

	rec := performRequest(service, http.MethodGet, fmt.Sprintf("/%s/", task.ID()))
	require.Equal(t, http.StatusOK, rec.Code)

	var dto transcodes.TranscodeTaskDto
	require.Nil(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	assert.Equal(t, task.ID(), dto.Id)
	assert.Equal(t, task.DownloadID(), dto.DownloadId)
	assert.Equal(t, "/downloads/my-video.mkv", dto.OutputPath)

	t.Run("UnknownID", func(t *testing.T) {
		rec := performRequest(service, http.MethodGet, fmt.Sprintf("/%s/", uuid.New()))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("MalformedID", func(t *testing.T) {
		rec := performRequest(service, http.MethodGet, "/not-a-uuid/")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func Test_GetTranscodeForDownload(t *testing.T) {
	downloadID := uuid.New()
	task := newTask(downloadID)
	service := &fakeTranscodeService{tasks: []*transcode.TranscodeTask{task}}

	rec := performRequest(service, http.MethodGet, fmt.Sprintf("/download/%s/", downloadID))
	require.Equal(t, http.StatusOK, rec.Code)

	var dto transcodes.TranscodeTaskDto
	require.Nil(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	assert.Equal(t, downloadID, dto.DownloadId)

	t.Run("NoActiveTask", func(t *testing.T) {
		rec := performRequest(service, http.MethodGet, fmt.Sprintf("/download/%s/", uuid.New()))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func Test_CancelTranscode_UnknownTask(t *testing.T) {
	service := &fakeTranscodeService{}

	rec := performRequest(service, http.MethodDelete, fmt.Sprintf("/%s/", uuid.New()))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
