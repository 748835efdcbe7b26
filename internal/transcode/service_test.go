package transcode

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fetcharr/fetcharr/internal/artifact"
	"github.com/fetcharr/fetcharr/internal/download"
	"github.com/fetcharr/fetcharr/internal/event"
	"github.com/fetcharr/fetcharr/internal/ffmpeg"
	"github.com/floostack/transcoder"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gotest.tools/v3/poll"
)

type fakeDownloads struct {
	item *download.DownloadItem
}

func (fake *fakeDownloads) GetDownload(itemID uuid.UUID) *download.DownloadItem {
	if fake.item != nil && fake.item.ID == itemID {
		return fake.item
	}

	return nil
}

type fakeDataStore struct {
	*sync.Mutex
	saved []*artifact.Artifact
}

func newFakeDataStore() *fakeDataStore { return &fakeDataStore{Mutex: &sync.Mutex{}} }

func (fake *fakeDataStore) SaveArtifact(a *artifact.Artifact) error {
	fake.Lock()
	defer fake.Unlock()
	fake.saved = append(fake.saved, a)
	return nil
}

func (fake *fakeDataStore) savedCount() int {
	fake.Lock()
	defer fake.Unlock()
	return len(fake.saved)
}

// fakeCommand stands in for the ffmpeg command. It blocks until either its
// context is cancelled or the release channel is closed; a command with
// ignoreContext set only honours the release channel, simulating an encode
// which finishes before the kill takes effect.
type fakeCommand struct {
	started       chan struct{}
	release       chan struct{}
	ignoreContext bool
}

func (cmd *fakeCommand) Run(ctx context.Context, _ transcoder.Options, _ func(*ffmpeg.Progress)) error {
	close(cmd.started)

	if cmd.ignoreContext {
		<-cmd.release
		return nil
	}

	select {
	case <-ctx.Done():
		return errors.New("process killed")
	case <-cmd.release:
		return nil
	}
}

func (cmd *fakeCommand) Suspend()  {}
func (cmd *fakeCommand) Continue() {}

func installFakeCommand(t *testing.T, cmd *fakeCommand) {
	original := newCommand
	newCommand = func(string, string, *ffmpeg.Config) Command { return cmd }
	t.Cleanup(func() { newCommand = original })
}

func completedDownload(t *testing.T) *download.DownloadItem {
	now := time.Now()
	return &download.DownloadItem{
		ID:         uuid.New(),
		SourceUrl:  "https://youtu.be/abc",
		State:      download.COMPLETE,
		Title:      "My Video",
		OutputPath: t.TempDir() + "/my-video.mp4",
		CreatedAt:  now,
		FinishedAt: &now,
	}
}

func startTranscodeService(t *testing.T, downloads DownloadProvider, dataStore DataStore) *transcodeService {
	srv, err := New(Config{OutputPath: t.TempDir(), MaximumThreadConsumption: 4}, event.New(), downloads, dataStore)
	require.Nil(t, err)

	wg := sync.WaitGroup{}
	wg.Add(1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer wg.Done()
		assert.Nil(t, srv.Run(ctx))
	}()

	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	return srv
}

func waitForTaskStatus(t *testing.T, srv *transcodeService, taskID uuid.UUID, status TranscodeTaskStatus) {
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		task := srv.Task(taskID)
		if task != nil && task.Status() == status {
			return poll.Success()
		}

		return poll.Continue("task %s has not reached status %s", taskID, status)
	}, poll.WithTimeout(time.Second*5), poll.WithDelay(time.Millisecond*20))
}

func Test_CancelTask_KillsRunningCommand(t *testing.T) {
	command := &fakeCommand{started: make(chan struct{}), release: make(chan struct{})}
	installFakeCommand(t, command)

	item := completedDownload(t)
	dataStore := newFakeDataStore()
	srv := startTranscodeService(t, &fakeDownloads{item: item}, dataStore)

	require.Nil(t, srv.NewTaskForDownload(item.ID))
	task := srv.ActiveTaskForDownload(item.ID)
	require.NotNil(t, task)

	select {
	case <-command.started:
	case <-time.After(time.Second * 5):
		t.Fatal("task command was never started")
	}

	require.Nil(t, srv.CancelTask(task.ID()))

	// The kill propagates through the tasks context; once the command
	// returns, the cancelled task must leave the queue without being
	// persisted as an artifact.
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if srv.Task(task.ID()) == nil {
			return poll.Success()
		}

		return poll.Continue("cancelled task %s is still in the queue", task.ID())
	}, poll.WithTimeout(time.Second*5), poll.WithDelay(time.Millisecond*20))

	assert.Equal(t, CANCELLED, task.Status())
	assert.Zero(t, dataStore.savedCount(), "expected no artifact to be saved for a cancelled task")
}

func Test_CancelTask_OutrunByCompletion_StaysCancelled(t *testing.T) {
	command := &fakeCommand{started: make(chan struct{}), release: make(chan struct{}), ignoreContext: true}
	installFakeCommand(t, command)

	item := completedDownload(t)
	dataStore := newFakeDataStore()
	srv := startTranscodeService(t, &fakeDownloads{item: item}, dataStore)

	require.Nil(t, srv.NewTaskForDownload(item.ID))
	task := srv.ActiveTaskForDownload(item.ID)
	require.NotNil(t, task)

	select {
	case <-command.started:
	case <-time.After(time.Second * 5):
		t.Fatal("task command was never started")
	}

	require.Nil(t, srv.CancelTask(task.ID()))

	// The command survives the kill and finishes nominally; the cancelled
	// state must not be overwritten by a completion.
	close(command.release)

	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if srv.Task(task.ID()) == nil {
			return poll.Success()
		}

		return poll.Continue("cancelled task %s is still in the queue", task.ID())
	}, poll.WithTimeout(time.Second*5), poll.WithDelay(time.Millisecond*20))

	assert.Equal(t, CANCELLED, task.Status())
	assert.Zero(t, dataStore.savedCount(), "expected no artifact to be saved for a cancelled task")
}

func Test_CancelTask_UnknownTask(t *testing.T) {
	srv := startTranscodeService(t, &fakeDownloads{}, newFakeDataStore())
	assert.ErrorIs(t, srv.CancelTask(uuid.New()), ErrTaskNotFound)
}

func Test_TaskLookups_SafeAlongsideQueueChanges(t *testing.T) {
	command := &fakeCommand{started: make(chan struct{}), release: make(chan struct{})}
	installFakeCommand(t, command)

	item := completedDownload(t)
	srv := startTranscodeService(t, &fakeDownloads{item: item}, newFakeDataStore())

	require.Nil(t, srv.NewTaskForDownload(item.ID))
	task := srv.ActiveTaskForDownload(item.ID)
	require.NotNil(t, task)
	waitForTaskStatus(t, srv, task.ID(), WORKING)

	// Hammer the read paths from other goroutines while the service
	// mutates its queue; run under -race this guards the locked lookups.
	readers := sync.WaitGroup{}
	for range [8]int{} {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for i := 0; i < 200; i++ {
				srv.Task(task.ID())
				srv.ActiveTaskForDownload(item.ID)
				srv.AllTasks()
			}
		}()
	}

	require.Nil(t, srv.CancelTask(task.ID()))
	readers.Wait()
}
