package artifacts

import (
	"errors"
	"net/http"
	"time"

	"github.com/fetcharr/fetcharr/internal/api/util"
	"github.com/fetcharr/fetcharr/internal/artifact"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type (
	ArtifactService interface {
		ListArtifacts() ([]*artifact.Artifact, error)
		GetArtifact(id uuid.UUID) (*artifact.Artifact, error)
		DeleteArtifact(id uuid.UUID) error
	}

	Dto struct {
		Id           uuid.UUID `json:"id"`
		Title        string    `json:"title"`
		SourceUrl    string    `json:"source_url"`
		FileName     string    `json:"file_name"`
		SizeBytes    int64     `json:"size_bytes"`
		DurationSecs *int      `json:"duration_secs"`
		ThumbnailUrl *string   `json:"thumbnail_url"`
		DownloadUrl  string    `json:"download_url"`
		CreatedAt    time.Time `json:"created_at"`
		ExpiresAt    time.Time `json:"expires_at"`
	}

	Controller struct {
		service ArtifactService
	}
)

func New(serv ArtifactService) *Controller {
	return &Controller{service: serv}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.list)
	eg.GET("/:id/", controller.get)
	eg.DELETE("/:id/", controller.delete)
}

func (controller *Controller) list(ec echo.Context) error {
	items, err := controller.service.ListArtifacts()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.JSON(http.StatusOK, util.ApplyConversion(items, NewDto))
}

func (controller *Controller) get(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Artifact ID is not a valid UUID")
	}

	item, err := controller.service.GetArtifact(id)
	if err != nil {
		if errors.Is(err, artifact.ErrArtifactNotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		}

		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.JSON(http.StatusOK, NewDto(item))
}

// delete removes the artifact row and the file it points at. The cleanup
// service performs the same removal when the expiry deadline lapses; this
// endpoint simply lets a client reclaim the space early.
func (controller *Controller) delete(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Artifact ID is not a valid UUID")
	}

	if err := controller.service.DeleteArtifact(id); err != nil {
		if errors.Is(err, artifact.ErrArtifactNotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		}

		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.NoContent(http.StatusOK)
}

// NewDto creates a Dto using the Artifact model. The download URL points
// to the file serving endpoint exposed by the gateway.
func NewDto(item *artifact.Artifact) *Dto {
	return &Dto{
		Id:           item.ID,
		Title:        item.Title,
		SourceUrl:    item.SourceUrl,
		FileName:     item.FileName,
		SizeBytes:    item.SizeBytes,
		DurationSecs: item.DurationSecs,
		ThumbnailUrl: item.ThumbnailUrl,
		DownloadUrl:  "/files/" + item.FileName,
		CreatedAt:    item.CreatedAt,
		ExpiresAt:    item.ExpiresAt,
	}
}
