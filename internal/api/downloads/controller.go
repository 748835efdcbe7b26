package downloads

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fetcharr/fetcharr/internal/api/util"
	"github.com/fetcharr/fetcharr/internal/download"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type (
	CreateDownloadRequest struct {
		Url string `json:"url" validate:"required,url"`
	}

	ResolveTroubleRequest struct {
		Method *ResolutionTypeWrapper `json:"method"`
	}

	// Dto is the response used by endpoints that return
	// the download items (e.g., list, get)
	Dto struct {
		Id         uuid.UUID          `json:"id"`
		SourceUrl  string             `json:"source_url"`
		State      StateDto           `json:"state"`
		Title      string             `json:"title,omitempty"`
		Duration   int                `json:"duration_seconds,omitempty"`
		Thumbnail  string             `json:"thumbnail_url,omitempty"`
		Progress   *download.Progress `json:"progress"`
		Trouble    *TroubleDto        `json:"trouble"`
		CreatedAt  time.Time          `json:"created_at"`
		FinishedAt *time.Time         `json:"finished_at"`
	}

	StateDto       string
	TroubleTypeDto string

	TroubleDto struct {
		Type                   TroubleTypeDto          `json:"type"`
		Message                string                  `json:"message"`
		AllowedResolutionTypes []ResolutionTypeWrapper `json:"allowed_resolution_types"`
	}

	DownloadService interface {
		NewDownload(sourceUrl string) (*download.DownloadItem, error)
		GetAllDownloads() []*download.DownloadItem
		GetDownload(uuid.UUID) *download.DownloadItem
		CancelDownload(uuid.UUID) error
		ResolveTroubledDownload(itemID uuid.UUID, method download.ResolutionType) error
	}

	// Controller is the struct which is responsible for defining the
	// routes for this controller. Additionally, it holds the reference to
	// the download service used to queue and manage downloads.
	Controller struct {
		validate *validator.Validate
		service  DownloadService
	}
)

const (
	PENDING     StateDto = "PENDING"
	DOWNLOADING StateDto = "DOWNLOADING"
	TROUBLED    StateDto = "TROUBLED"
	CANCELLED   StateDto = "CANCELLED"
	COMPLETE    StateDto = "COMPLETE"

	SOURCE_FAILURE  TroubleTypeDto = "SOURCE_FAILURE"
	NETWORK_FAILURE TroubleTypeDto = "NETWORK_FAILURE"
	UNKNOWN_FAILURE TroubleTypeDto = "UNKNOWN_FAILURE"
)

func New(validate *validator.Validate, serv DownloadService) *Controller {
	return &Controller{validate: validate, service: serv}
}

// SetRoutes accepts the Echo group for the download endpoints
// and sets the routes on them.
func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.POST("/", controller.create)
	eg.GET("/", controller.list)
	eg.GET("/:id/", controller.get)
	eg.DELETE("/:id/", controller.delete)
	eg.POST("/:id/trouble-resolution/", controller.postTroubleResolution)
}

// create validates the supplied URL and queues a new download for it. The
// download is performed asynchronously; the response carries the queued items
// representation which the client can poll (or watch over the activity socket).
func (controller *Controller) create(ec echo.Context) error {
	var request CreateDownloadRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("JSON body illegal: %v", err))
	}

	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Request body invalid: %v", err))
	}

	item, err := controller.service.NewDownload(request.Url)
	if err != nil {
		if errors.Is(err, download.ErrSourceUrlInvalid) || errors.Is(err, download.ErrDownloadAlreadyExists) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}

		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.JSON(http.StatusCreated, NewDto(item))
}

// list returns all the downloads - represented as DTOs - known to the service.
func (controller *Controller) list(ec echo.Context) error {
	items := controller.service.GetAllDownloads()
	return ec.JSON(http.StatusOK, util.ApplyConversion(items, NewDto))
}

// get uses the 'id' path param from the context and retrieves the download from the
// underlying service. If found, a DTO representing the download is returned
func (controller *Controller) get(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Download ID is not a valid UUID")
	}

	item := controller.service.GetDownload(id)
	if item == nil {
		return echo.NewHTTPError(http.StatusNotFound)
	}

	return ec.JSON(http.StatusOK, NewDto(item))
}

// delete uses the 'id' path param from the context and retrieves the download from the
// underlying service. If found, the download is cancelled.
func (controller *Controller) delete(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Download ID is not a valid UUID")
	}

	if err := controller.service.CancelDownload(id); err != nil {
		if errors.Is(err, download.ErrDownloadNotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		}

		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return ec.NoContent(http.StatusOK)
}

// postTroubleResolution uses the 'id' path param from the context and retrieves the download
// from the underlying service. If found, then an attempt to resolve the trouble will be made.
func (controller *Controller) postTroubleResolution(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Download ID is not a valid UUID")
	}

	var request ResolveTroubleRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("JSON body illegal: %v", err))
	} else if request.Method == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "JSON body missing mandatory 'method' field")
	}

	if err := controller.service.ResolveTroubledDownload(id, request.Method.Value); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return ec.NoContent(http.StatusOK)
}

// NewDto creates a Dto using the DownloadItem model.
func NewDto(item *download.DownloadItem) *Dto {
	var trbl *TroubleDto = nil
	if item.Trouble != nil {
		trbl = &TroubleDto{
			Type:                   TroubleTypeModelToDto(item.Trouble.Type()),
			Message:                item.Trouble.Error(),
			AllowedResolutionTypes: ExtractTroubleResolutionTypes(item.Trouble),
		}
	}

	return &Dto{
		Id:         item.ID,
		SourceUrl:  item.SourceUrl,
		State:      StateModelToDto(item.State),
		Title:      item.Title,
		Duration:   item.DurationSeconds,
		Thumbnail:  item.ThumbnailUrl,
		Progress:   item.Progress,
		Trouble:    trbl,
		CreatedAt:  item.CreatedAt,
		FinishedAt: item.FinishedAt,
	}
}

func ExtractTroubleResolutionTypes(trouble *download.Trouble) []ResolutionTypeWrapper {
	modelResTypes := trouble.AllowedResolutionTypes()
	dtoResTypes := make([]ResolutionTypeWrapper, len(modelResTypes))
	for k, v := range modelResTypes {
		dtoResTypes[k] = ResolutionTypeWrapper{Value: v}
	}

	return dtoResTypes
}

func TroubleTypeModelToDto(troubleType download.TroubleType) TroubleTypeDto {
	switch troubleType {
	case download.SOURCE_FAILURE:
		return SOURCE_FAILURE
	case download.NETWORK_FAILURE:
		return NETWORK_FAILURE
	case download.GENERIC_FAILURE:
		return UNKNOWN_FAILURE
	}

	panic(fmt.Sprintf("download trouble type %s is not recognized by API layer, DTO cannot be created. Please report this error.", troubleType))
}

func StateModelToDto(modelType download.DownloadItemState) StateDto {
	switch modelType {
	case download.PENDING:
		return PENDING
	case download.DOWNLOADING:
		return DOWNLOADING
	case download.TROUBLED:
		return TROUBLED
	case download.CANCELLED:
		return CANCELLED
	case download.COMPLETE:
		return COMPLETE
	}

	panic(fmt.Sprintf("download state %s is not recognized by API layer, DTO cannot be created. Please report this error.", modelType))
}
