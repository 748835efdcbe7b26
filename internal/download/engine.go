package download

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
)

var ErrSourceUrlInvalid = errors.New("source URL is not a recognized video host")

// isAllowedSourceHost restricts the engine to the hosts we are willing
// to pull media from: youtube.com and its subdomains, plus the youtu.be
// short-link host.
func isAllowedSourceHost(host string) bool {
	return host == "youtube.com" || strings.HasSuffix(host, ".youtube.com") || host == "youtu.be"
}

type (
	// EngineResult describes the file a completed download produced,
	// along with the media metadata the extractor reported.
	EngineResult struct {
		FilePath        string
		FileName        string
		Title           string
		DurationSeconds int
		ThumbnailUrl    string
	}

	// engine wraps the yt-dlp integration behind a small surface so
	// that the service (and its tests) do not depend on the underlying
	// command construction.
	engine struct {
		config Config
	}
)

func newEngine(config Config) *engine {
	return &engine{config: config}
}

// ValidateSourceUrl checks that the raw URL provided parses, uses an
// http(s) scheme, and points at an allowed video host.
func ValidateSourceUrl(rawUrl string) error {
	parsed, err := url.Parse(rawUrl)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrSourceUrlInvalid, err.Error())
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: scheme '%s' is not http(s)", ErrSourceUrlInvalid, parsed.Scheme)
	}

	if !isAllowedSourceHost(parsed.Hostname()) {
		return fmt.Errorf("%w: host '%s' is not allowed", ErrSourceUrlInvalid, parsed.Hostname())
	}

	return nil
}

// DownloadToFile fetches the media at the source URL provided, writing it
// in to the engines configured output directory. The item ID is embedded in
// the output file name so that concurrent downloads of identically-titled
// videos cannot collide.
// Progress callbacks are delivered on the onProgress function roughly twice
// a second while the transfer is running.
func (engine *engine) DownloadToFile(ctx context.Context, sourceUrl string, uniqueStem string, onProgress func(Progress)) (*EngineResult, error) {
	if err := ValidateSourceUrl(sourceUrl); err != nil {
		return nil, err
	}

	outputTemplate := filepath.Join(engine.config.OutputPath, fmt.Sprintf("%%(title)s-%s.%%(ext)s", uniqueStem))

	dl := ytdlp.New().
		ForceOverwrites().
		RestrictFilenames().
		NoPlaylist().
		Format(fmt.Sprintf("best[height<=%d]", engine.config.MaxHeight)).
		Output(outputTemplate)

	dl.ProgressFunc(500*time.Millisecond, func(update ytdlp.ProgressUpdate) {
		progress := Progress{
			DownloadedBytes: int64(update.DownloadedBytes),
			TotalBytes:      int64(update.TotalBytes),
		}

		if update.TotalBytes > 0 {
			progress.Percent = float64(update.DownloadedBytes) / float64(update.TotalBytes) * 100
		}

		if !update.Started.IsZero() {
			if elapsed := time.Since(update.Started); elapsed.Seconds() > 0 {
				progress.SpeedBps = float64(update.DownloadedBytes) / elapsed.Seconds()
			}
		}

		if eta := update.ETA(); eta > 0 {
			progress.EtaSeconds = int(eta.Seconds())
		}

		onProgress(progress)
	})

	result, err := dl.Run(ctx, sourceUrl)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp execution failed: %w", err)
	}

	info, err := result.GetExtractedInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to extract output information from yt-dlp result: %w", err)
	} else if len(info) == 0 || info[0].Filename == nil {
		return nil, errors.New("yt-dlp result contained no output file information")
	}

	engineResult := &EngineResult{
		FilePath: *info[0].Filename,
		FileName: filepath.Base(*info[0].Filename),
	}
	if info[0].Title != nil {
		engineResult.Title = *info[0].Title
	}
	if info[0].Duration != nil {
		engineResult.DurationSeconds = int(*info[0].Duration)
	}
	if info[0].Thumbnail != nil {
		engineResult.ThumbnailUrl = *info[0].Thumbnail
	}

	return engineResult, nil
}
