package download

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fetcharr/fetcharr/internal/event"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gotest.tools/v3/poll"
)

const testSourceUrl = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

type fakeEngine struct {
	*sync.Mutex
	result     *EngineResult
	err        error
	delay      time.Duration
	callCount  int
	lastSource string
}

func newFakeEngine(result *EngineResult, err error) *fakeEngine {
	return &fakeEngine{Mutex: &sync.Mutex{}, result: result, err: err}
}

func (engine *fakeEngine) DownloadToFile(ctx context.Context, sourceUrl string, uniqueStem string, onProgress func(Progress)) (*EngineResult, error) {
	engine.Lock()
	engine.callCount++
	engine.lastSource = sourceUrl
	delay, result, err := engine.delay, engine.result, engine.err
	engine.Unlock()

	onProgress(Progress{DownloadedBytes: 50, TotalBytes: 100, Percent: 50})

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, err
	}

	return result, nil
}

func (engine *fakeEngine) calls() int {
	engine.Lock()
	defer engine.Unlock()
	return engine.callCount
}

// startService constructs a download service backed by the fake engine
// provided and runs it until the test completes.
func startService(t *testing.T, engine downloadEngine) *downloadService {
	srv, err := New(Config{OutputPath: t.TempDir(), MaxHeight: 720, DownloadParallelism: 1}, event.New())
	require.Nil(t, err)
	srv.engine = engine

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

// waitForState polls the service until the item reaches the state expected,
// failing the test if it does not arrive within the deadline.
func waitForState(t *testing.T, srv *downloadService, itemID uuid.UUID, state DownloadItemState) *DownloadItem {
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		item := srv.GetDownload(itemID)
		if item != nil && item.State == state {
			return poll.Success()
		}

		return poll.Continue("item %s has not reached state %s (current: %+v)", itemID, state, item)
	}, poll.WithTimeout(time.Second*5), poll.WithDelay(time.Millisecond*20))

	return srv.GetDownload(itemID)
}

func Test_NewDownload_CompletesSuccessfully(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "video-abc.mp4")
	engine := newFakeEngine(&EngineResult{FilePath: outputPath, FileName: "video-abc.mp4", Title: "Video"}, nil)
	srv := startService(t, engine)

	item, err := srv.NewDownload(testSourceUrl)
	require.Nil(t, err)
	assert.Equal(t, PENDING, item.State)

	completed := waitForState(t, srv, item.ID, COMPLETE)
	assert.Equal(t, "Video", completed.Title)
	assert.Equal(t, outputPath, completed.OutputPath)
	assert.NotNil(t, completed.FinishedAt)
	require.NotNil(t, completed.Progress, "expected progress reported by engine to be recorded")
	assert.Equal(t, Progress{DownloadedBytes: 50, TotalBytes: 100, Percent: 50}, *completed.Progress)
	assert.Equal(t, 1, engine.calls())

	engine.Lock()
	assert.Equal(t, testSourceUrl, engine.lastSource)
	engine.Unlock()
}

func Test_NewDownload_RejectsIllegalUrls(t *testing.T) {
	tests := []struct {
		Summary string
		Url     string
	}{
		{"empty", ""},
		{"not a url", "hello world"},
		{"unsupported host", "https://example.com/watch?v=123"},
		{"illegal scheme", "ftp://youtube.com/watch?v=123"},
	}

	srv := startService(t, newFakeEngine(nil, nil))
	for _, test := range tests {
		t.Run(test.Summary, func(t *testing.T) {
			_, err := srv.NewDownload(test.Url)
			assert.ErrorIs(t, err, ErrSourceUrlInvalid)
		})
	}
}

func Test_NewDownload_RejectsDuplicateActiveUrl(t *testing.T) {
	engine := newFakeEngine(nil, nil)
	engine.delay = time.Second * 10
	srv := startService(t, engine)

	_, err := srv.NewDownload(testSourceUrl)
	require.Nil(t, err)

	_, err = srv.NewDownload(testSourceUrl)
	assert.ErrorIs(t, err, ErrDownloadAlreadyExists)
}

func Test_CancelDownload_AbortsInFlightTransfer(t *testing.T) {
	engine := newFakeEngine(nil, nil)
	engine.delay = time.Second * 30
	srv := startService(t, engine)

	item, err := srv.NewDownload(testSourceUrl)
	require.Nil(t, err)
	waitForState(t, srv, item.ID, DOWNLOADING)

	require.Nil(t, srv.CancelDownload(item.ID))
	cancelled := waitForState(t, srv, item.ID, CANCELLED)
	assert.NotNil(t, cancelled.FinishedAt)

	// Cancelling a finished item is an error
	assert.NotNil(t, srv.CancelDownload(item.ID))
}

func Test_CancelDownload_UnknownItem(t *testing.T) {
	srv := startService(t, newFakeEngine(nil, nil))
	assert.ErrorIs(t, srv.CancelDownload(uuid.New()), ErrDownloadNotFound)
}

func Test_EngineFailure_MarksItemTroubled(t *testing.T) {
	engine := newFakeEngine(nil, errors.New("simulated engine failure"))
	srv := startService(t, engine)

	item, err := srv.NewDownload(testSourceUrl)
	require.Nil(t, err)

	troubled := waitForState(t, srv, item.ID, TROUBLED)
	require.NotNil(t, troubled.Trouble)
	assert.Equal(t, GENERIC_FAILURE, troubled.Trouble.Type())
	assert.Contains(t, troubled.Trouble.AllowedResolutionTypes(), RETRY)
}

func Test_ResolveTroubledDownload_RetryRequeuesItem(t *testing.T) {
	engine := newFakeEngine(nil, errors.New("simulated engine failure"))
	srv := startService(t, engine)

	item, err := srv.NewDownload(testSourceUrl)
	require.Nil(t, err)
	waitForState(t, srv, item.ID, TROUBLED)

	// Let the engine succeed on the retry
	outputPath := filepath.Join(t.TempDir(), "video-abc.mp4")
	engine.Lock()
	engine.err = nil
	engine.result = &EngineResult{FilePath: outputPath, FileName: "video-abc.mp4", Title: "Video"}
	engine.Unlock()

	require.Nil(t, srv.ResolveTroubledDownload(item.ID, RETRY))
	waitForState(t, srv, item.ID, COMPLETE)
	assert.Equal(t, 2, engine.calls())
}

func Test_ResolveTroubledDownload_AbortCancelsItem(t *testing.T) {
	engine := newFakeEngine(nil, errors.New("simulated engine failure"))
	srv := startService(t, engine)

	item, err := srv.NewDownload(testSourceUrl)
	require.Nil(t, err)
	waitForState(t, srv, item.ID, TROUBLED)

	require.Nil(t, srv.ResolveTroubledDownload(item.ID, ABORT))
	waitForState(t, srv, item.ID, CANCELLED)
	assert.Equal(t, 1, engine.calls())
}

func Test_ResolveTroubledDownload_RejectsHealthyItem(t *testing.T) {
	engine := newFakeEngine(nil, nil)
	engine.delay = time.Second * 10
	srv := startService(t, engine)

	item, err := srv.NewDownload(testSourceUrl)
	require.Nil(t, err)

	assert.ErrorIs(t, srv.ResolveTroubledDownload(item.ID, RETRY), ErrNoTrouble)
	assert.ErrorIs(t, srv.ResolveTroubledDownload(uuid.New(), RETRY), ErrDownloadNotFound)
}
