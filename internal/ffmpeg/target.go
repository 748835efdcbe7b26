package ffmpeg

import (
	"github.com/floostack/transcoder"
	"github.com/floostack/transcoder/ffmpeg"
)

// Target describes the output a transcode should produce: the container
// extension, the ffmpeg options to apply, and the number of threads the
// encode is expected to consume.
type Target struct {
	Label           string
	Ext             string
	FfmpegOptions   transcoder.Options
	requiredThreads int
}

func (target *Target) RequiredThreads() int { return target.requiredThreads }

// HevcTarget is the standard output target for downloaded media: HEVC
// video at a quality-targeted rate, AAC audio, in a matroska container
// with the moov atom relocated for immediate playback.
func HevcTarget() *Target {
	videoCodec := "libx265"
	preset := "medium"
	crf := uint32(23)
	audioCodec := "aac"
	audioBitrate := "128k"
	movFlags := "+faststart"
	outputFormat := "matroska"

	return &Target{
		Label: "hevc",
		Ext:   "mkv",
		FfmpegOptions: ffmpeg.Options{
			VideoCodec:   &videoCodec,
			Preset:       &preset,
			Crf:          &crf,
			AudioCodec:   &audioCodec,
			AudioBitrate: &audioBitrate,
			MovFlags:     &movFlags,
			OutputFormat: &outputFormat,
		},
		requiredThreads: 2,
	}
}
