package download

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type (
	DownloadItemState int

	// Progress is a point-in-time snapshot of an in-flight download,
	// derived from the engine's progress callbacks.
	Progress struct {
		DownloadedBytes int64   `json:"downloaded_bytes"`
		TotalBytes      int64   `json:"total_bytes"`
		Percent         float64 `json:"percent"`
		SpeedBps        float64 `json:"speed_bps"`
		EtaSeconds      int     `json:"eta_seconds"`
	}

	DownloadItem struct {
		ID        uuid.UUID
		SourceUrl string
		State     DownloadItemState
		Title     string
		Progress  *Progress
		Trouble   *Trouble

		// Extractor-reported media metadata, populated on completion.
		DurationSeconds int
		ThumbnailUrl    string

		// OutputPath is the location of the raw downloaded file. Only
		// populated once the item reaches COMPLETE.
		OutputPath string

		CreatedAt  time.Time
		FinishedAt *time.Time
	}
)

const (
	PENDING DownloadItemState = iota
	DOWNLOADING
	TROUBLED
	CANCELLED
	COMPLETE
)

var (
	ErrDownloadNotFound       = errors.New("no download task could be found")
	ErrNoTrouble              = errors.New("download has no trouble")
	ErrResolutionIncompatible = errors.New("provided resolution method is not valid for download trouble")
)

func (item *DownloadItem) String() string {
	return fmt.Sprintf("DownloadItem{ID=%s state=%s}", item.ID, item.State)
}

func (s DownloadItemState) String() string {
	switch s {
	case PENDING:
		return fmt.Sprintf("PENDING[%d]", s)
	case DOWNLOADING:
		return fmt.Sprintf("DOWNLOADING[%d]", s)
	case TROUBLED:
		return fmt.Sprintf("TROUBLED[%d]", s)
	case CANCELLED:
		return fmt.Sprintf("CANCELLED[%d]", s)
	case COMPLETE:
		return fmt.Sprintf("COMPLETE[%d]", s)
	default:
		return fmt.Sprintf("UNKNOWN[%d]", s)
	}
}
