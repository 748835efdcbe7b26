package transcode

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fetcharr/fetcharr/internal/ffmpeg"
	"github.com/floostack/transcoder"
	"github.com/google/uuid"
)

type Command interface {
	Run(ctx context.Context, options transcoder.Options, updateHandler func(*ffmpeg.Progress)) error
	Suspend()
	Continue()
}

// newCommand is the factory used by tasks to construct their underlying
// ffmpeg command.
var newCommand = func(input string, output string, config *ffmpeg.Config) Command {
	return ffmpeg.NewCmd(input, output, config)
}

type TranscodeTaskStatus int

const (
	WAITING TranscodeTaskStatus = iota
	WORKING
	SUSPENDED
	TROUBLED
	CANCELLED
	COMPLETE
)

// TranscodeTask represents an active transcode task being processed
// by the transcode service. The ID held inside of the task is what
// should be used to retrieve the task from the service for
// management & monitoring.
// The tasks lock guards the mutable command/status/progress state, which
// is written by the tasks own goroutine and read by API handlers.
type TranscodeTask struct {
	id         uuid.UUID
	downloadID uuid.UUID
	title      string
	sourceUrl  string
	inputPath  string
	outputPath string
	target     *ffmpeg.Target

	lock         sync.Mutex
	command      Command
	status       TranscodeTaskStatus
	lastProgress *ffmpeg.Progress
}

// NewTranscodeTask constructs a WAITING task which will convert the input
// file provided in to the targets container format. The output file keeps
// the input files base name, with the extension swapped for the targets.
func NewTranscodeTask(downloadID uuid.UUID, title string, sourceUrl string, inputPath string, outputDir string, target *ffmpeg.Target) *TranscodeTask {
	baseName := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	out := filepath.Join(outputDir, fmt.Sprintf("%s.%s", baseName, target.Ext))

	return &TranscodeTask{
		id:         uuid.New(),
		downloadID: downloadID,
		title:      title,
		sourceUrl:  sourceUrl,
		inputPath:  inputPath,
		outputPath: out,
		target:     target,
		status:     WAITING,
	}
}

func (task *TranscodeTask) Run(ctx context.Context, config *ffmpeg.Config, updateHandler func(*ffmpeg.Progress)) error {
	task.lock.Lock()
	if task.command != nil {
		task.lock.Unlock()
		return errors.New("cannot start transcode task because a command is already set (conflict)")
	}

	command := newCommand(task.inputPath, task.outputPath, config)
	task.command = command
	task.lock.Unlock()

	defer func() {
		task.lock.Lock()
		task.command = nil
		task.lastProgress = nil
		task.lock.Unlock()
	}()

	err := command.Run(ctx, task.target.FfmpegOptions, func(progress *ffmpeg.Progress) {
		task.lock.Lock()
		task.lastProgress = progress
		task.lock.Unlock()

		updateHandler(progress)
	})

	task.lock.Lock()
	defer task.lock.Unlock()

	// A cancellation may have arrived while the command was running, in
	// which case the cancelled state takes precedence over the command
	// outcome (including an error raised by the killed process).
	if task.status == CANCELLED || ctx.Err() != nil {
		task.status = CANCELLED
		return nil
	}

	if err != nil {
		task.status = TROUBLED
		return fmt.Errorf("transcode task failed due to command error: %v", err)
	}

	task.status = COMPLETE
	return nil
}

// pause suspends the underlying ffmpeg process. Only a WORKING
// task can be paused.
func (task *TranscodeTask) pause() error {
	task.lock.Lock()
	defer task.lock.Unlock()

	if task.status != WORKING || task.command == nil {
		return fmt.Errorf("cannot pause task %s as it is not running", task.id)
	}

	task.command.Suspend()
	task.status = SUSPENDED
	return nil
}

// resume continues a previously suspended ffmpeg process.
func (task *TranscodeTask) resume() error {
	task.lock.Lock()
	defer task.lock.Unlock()

	if task.status != SUSPENDED || task.command == nil {
		return fmt.Errorf("cannot resume task %s as it is not suspended", task.id)
	}

	task.command.Continue()
	task.status = WORKING
	return nil
}

func (task *TranscodeTask) cancel() error {
	task.lock.Lock()
	defer task.lock.Unlock()

	if task.status == COMPLETE || task.status == CANCELLED {
		return fmt.Errorf("cannot cancel task %s as it has already finished", task.id)
	}

	task.status = CANCELLED
	return nil
}

func (task *TranscodeTask) setStatus(status TranscodeTaskStatus) {
	task.lock.Lock()
	defer task.lock.Unlock()

	task.status = status
}

// LastProgress is an accessor function to the latest ffmpeg progress
// from the underlying ffmpeg command.
// If no last progress is available, nil will be returned.
func (task *TranscodeTask) LastProgress() *ffmpeg.Progress {
	task.lock.Lock()
	defer task.lock.Unlock()

	return task.lastProgress
}

func (task *TranscodeTask) Status() TranscodeTaskStatus {
	task.lock.Lock()
	defer task.lock.Unlock()

	return task.status
}

func (task *TranscodeTask) ID() uuid.UUID          { return task.id }
func (task *TranscodeTask) DownloadID() uuid.UUID  { return task.downloadID }
func (task *TranscodeTask) Title() string          { return task.title }
func (task *TranscodeTask) SourceUrl() string      { return task.sourceUrl }
func (task *TranscodeTask) InputPath() string      { return task.inputPath }
func (task *TranscodeTask) OutputPath() string     { return task.outputPath }
func (task *TranscodeTask) Target() *ffmpeg.Target { return task.target }
func (task *TranscodeTask) String() string {
	return fmt.Sprintf("Task{ID=%s DownloadID=%s Status=%s}", task.id, task.downloadID, task.Status())
}

func (s TranscodeTaskStatus) String() string {
	switch s {
	case WAITING:
		return fmt.Sprintf("WAITING[%d]", s)
	case WORKING:
		return fmt.Sprintf("WORKING[%d]", s)
	case SUSPENDED:
		return fmt.Sprintf("SUSPENDED[%d]", s)
	case TROUBLED:
		return fmt.Sprintf("TROUBLED[%d]", s)
	case CANCELLED:
		return fmt.Sprintf("CANCELLED[%d]", s)
	case COMPLETE:
		return fmt.Sprintf("COMPLETE[%d]", s)
	}

	return fmt.Sprintf("UNKNOWN[%d]", s)
}
