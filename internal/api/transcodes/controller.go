package transcodes

import (
	"errors"
	"net/http"

	"github.com/fetcharr/fetcharr/internal/api/util"
	"github.com/fetcharr/fetcharr/internal/ffmpeg"
	"github.com/fetcharr/fetcharr/internal/transcode"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type (
	TranscodeService interface {
		AllTasks() []*transcode.TranscodeTask
		Task(id uuid.UUID) *transcode.TranscodeTask
		ActiveTaskForDownload(downloadID uuid.UUID) *transcode.TranscodeTask
		PauseTask(id uuid.UUID) error
		ResumeTask(id uuid.UUID) error
		CancelTask(id uuid.UUID) error
	}

	TranscodeTaskDto struct {
		Id         uuid.UUID        `json:"id"`
		DownloadId uuid.UUID        `json:"download_id"`
		Title      string           `json:"title"`
		InputPath  string           `json:"input_path"`
		OutputPath string           `json:"output_path"`
		Status     string           `json:"status"`
		Target     string           `json:"target"`
		Progress   *ffmpeg.Progress `json:"progress"`
	}

	Controller struct {
		service TranscodeService
	}
)

func New(serv TranscodeService) *Controller {
	return &Controller{service: serv}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.list)
	eg.GET("/download/:id/", controller.getForDownload)
	eg.GET("/:id/", controller.get)
	eg.POST("/:id/pause/", controller.pause)
	eg.POST("/:id/resume/", controller.resume)
	eg.DELETE("/:id/", controller.cancel)
}

// list returns all the tasks currently queued or being
// worked on by the transcode service.
func (controller *Controller) list(ec echo.Context) error {
	tasks := controller.service.AllTasks()
	return ec.JSON(http.StatusOK, util.ApplyConversion(tasks, NewDtoFromTask))
}

func (controller *Controller) get(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Task ID is not a valid UUID")
	}

	task := controller.service.Task(id)
	if task == nil {
		return echo.NewHTTPError(http.StatusNotFound)
	}

	return ec.JSON(http.StatusOK, NewDtoFromTask(task))
}

// getForDownload returns the active transcode task, if any, which is
// processing the download with the ID given.
func (controller *Controller) getForDownload(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Download ID is not a valid UUID")
	}

	task := controller.service.ActiveTaskForDownload(id)
	if task == nil {
		return echo.NewHTTPError(http.StatusNotFound)
	}

	return ec.JSON(http.StatusOK, NewDtoFromTask(task))
}

func (controller *Controller) pause(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Task ID is not a valid UUID")
	}

	if err := controller.service.PauseTask(id); err != nil {
		return wrapServiceError(err)
	}

	return ec.NoContent(http.StatusOK)
}

func (controller *Controller) resume(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Task ID is not a valid UUID")
	}

	if err := controller.service.ResumeTask(id); err != nil {
		return wrapServiceError(err)
	}

	return ec.NoContent(http.StatusOK)
}

func (controller *Controller) cancel(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Task ID is not a valid UUID")
	}

	if err := controller.service.CancelTask(id); err != nil {
		return wrapServiceError(err)
	}

	return ec.NoContent(http.StatusOK)
}

func wrapServiceError(err error) *echo.HTTPError {
	if errors.Is(err, transcode.ErrTaskNotFound) {
		return echo.NewHTTPError(http.StatusNotFound)
	}

	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

func NewDtoFromTask(task *transcode.TranscodeTask) TranscodeTaskDto {
	return TranscodeTaskDto{
		Id:         task.ID(),
		DownloadId: task.DownloadID(),
		Title:      task.Title(),
		InputPath:  task.InputPath(),
		OutputPath: task.OutputPath(),
		Status:     StatusModelToDto(task.Status()),
		Target:     task.Target().Label,
		Progress:   task.LastProgress(),
	}
}

func StatusModelToDto(status transcode.TranscodeTaskStatus) string {
	switch status {
	case transcode.WAITING:
		return "WAITING"
	case transcode.WORKING:
		return "WORKING"
	case transcode.SUSPENDED:
		return "SUSPENDED"
	case transcode.TROUBLED:
		return "TROUBLED"
	case transcode.CANCELLED:
		return "CANCELLED"
	case transcode.COMPLETE:
		return "COMPLETE"
	}

	return "UNKNOWN"
}
