package transcode

import (
	"testing"

	"github.com/fetcharr/fetcharr/internal/ffmpeg"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func Test_NewTranscodeTask_SwapsExtensionForTarget(t *testing.T) {
	downloadID := uuid.New()
	task := NewTranscodeTask(downloadID, "My Video", "https://youtu.be/abc", "/downloads/incoming/my-video-abc123.mp4", "/downloads", ffmpeg.HevcTarget())

	assert.Equal(t, WAITING, task.Status())
	assert.Equal(t, downloadID, task.DownloadID())
	assert.Equal(t, "My Video", task.Title())
	assert.Equal(t, "/downloads/incoming/my-video-abc123.mp4", task.InputPath())
	assert.Equal(t, "/downloads/my-video-abc123.mkv", task.OutputPath())
	assert.Nil(t, task.LastProgress())
}

func Test_TranscodeTask_PauseResumeGuards(t *testing.T) {
	task := NewTranscodeTask(uuid.New(), "My Video", "https://youtu.be/abc", "/tmp/in.mp4", "/tmp", ffmpeg.HevcTarget())

	// A WAITING task has no underlying process to signal
	assert.NotNil(t, task.pause())
	assert.NotNil(t, task.resume())

	assert.Nil(t, task.cancel())
	assert.Equal(t, CANCELLED, task.Status())

	// Finished tasks cannot be cancelled again
	assert.NotNil(t, task.cancel())
}

func Test_HevcTarget_ThreadRequirement(t *testing.T) {
	target := ffmpeg.HevcTarget()
	assert.Equal(t, "mkv", target.Ext)
	assert.GreaterOrEqual(t, target.RequiredThreads(), 1)
}
