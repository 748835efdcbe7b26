package cleanup_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fetcharr/fetcharr/internal/artifact"
	"github.com/fetcharr/fetcharr/internal/cleanup"
	"github.com/fetcharr/fetcharr/internal/event"
	"github.com/fetcharr/fetcharr/tests/helpers"
	"github.com/google/uuid"
	"github.com/hbomb79/go-chanassert"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory stand-in for the artifact data store.
type fakeStore struct {
	*sync.Mutex
	artifacts map[uuid.UUID]*artifact.Artifact
}

func newFakeStore() *fakeStore {
	return &fakeStore{Mutex: &sync.Mutex{}, artifacts: make(map[uuid.UUID]*artifact.Artifact)}
}

func (store *fakeStore) add(a *artifact.Artifact) {
	store.Lock()
	defer store.Unlock()
	store.artifacts[a.ID] = a
}

func (store *fakeStore) has(id uuid.UUID) bool {
	store.Lock()
	defer store.Unlock()
	_, ok := store.artifacts[id]
	return ok
}

func (store *fakeStore) GetArtifact(id uuid.UUID) (*artifact.Artifact, error) {
	store.Lock()
	defer store.Unlock()
	if a, ok := store.artifacts[id]; ok {
		return a, nil
	}

	return nil, artifact.ErrArtifactNotFound
}

func (store *fakeStore) GetArtifactByFileName(fileName string) (*artifact.Artifact, error) {
	store.Lock()
	defer store.Unlock()
	for _, a := range store.artifacts {
		if a.FileName == fileName {
			return a, nil
		}
	}

	return nil, artifact.ErrArtifactNotFound
}

func (store *fakeStore) ListArtifacts() ([]*artifact.Artifact, error) {
	store.Lock()
	defer store.Unlock()
	results := make([]*artifact.Artifact, 0, len(store.artifacts))
	for _, a := range store.artifacts {
		results = append(results, a)
	}

	return results, nil
}

func (store *fakeStore) ListExpiredArtifacts(now time.Time) ([]*artifact.Artifact, error) {
	store.Lock()
	defer store.Unlock()
	results := make([]*artifact.Artifact, 0)
	for _, a := range store.artifacts {
		if !a.ExpiresAt.After(now) {
			results = append(results, a)
		}
	}

	return results, nil
}

func (store *fakeStore) DeleteArtifact(id uuid.UUID) error {
	store.Lock()
	defer store.Unlock()
	if _, ok := store.artifacts[id]; !ok {
		return artifact.ErrArtifactNotFound
	}

	delete(store.artifacts, id)
	return nil
}

func startService(t *testing.T, config cleanup.Config, eventBus event.EventCoordinator, store cleanup.DataStore) {
	srv := cleanup.New(config, eventBus, store)

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
}

func artifactWithFile(t *testing.T, dir string, fileName string, expiresAt time.Time) *artifact.Artifact {
	path := helpers.CreateFileWithModTime(t, dir, fileName, time.Now())
	return &artifact.Artifact{
		ID:        uuid.New(),
		Title:     "Test",
		SourceUrl: "https://youtu.be/abc",
		FileName:  fileName,
		FilePath:  path,
		SizeBytes: 17,
		ExpiresAt: expiresAt,
	}
}

func Test_StartupSweep_ReapsExpiredArtifacts(t *testing.T) {
	watchDir := t.TempDir()
	store := newFakeStore()
	expired := artifactWithFile(t, watchDir, "expired.mkv", time.Now().Add(-time.Minute))
	live := artifactWithFile(t, watchDir, "live.mkv", time.Now().Add(time.Hour))
	store.add(expired)
	store.add(live)

	eventBus := event.New()
	eventChannel := make(event.HandlerChannel, 10)
	eventBus.RegisterHandlerChannel(eventChannel, event.ArtifactExpiredEvent)
	expecter := chanassert.NewChannelExpecter(eventChannel).Expect(
		chanassert.AllOf(chanassert.MatchStructPartial(event.HandlerEvent{Event: event.ArtifactExpiredEvent, Payload: expired.ID})),
	)
	expecter.Listen()

	startService(t, cleanup.Config{WatchPath: watchDir, FileTTLSeconds: 3600, SweepIntervalSeconds: 3600, StaleThresholdSeconds: 3600}, eventBus, store)

	expecter.AssertSatisfied(t, time.Second*3)
	assert.False(t, store.has(expired.ID), "expected expired artifact row to be deleted")
	assert.NoFileExists(t, expired.FilePath)
	assert.True(t, store.has(live.ID), "expected live artifact row to survive the sweep")
	assert.FileExists(t, live.FilePath)
}

func Test_SavedArtifact_ReapedWhenDeadlinePasses(t *testing.T) {
	watchDir := t.TempDir()
	store := newFakeStore()
	eventBus := event.New()

	eventChannel := make(event.HandlerChannel, 10)
	eventBus.RegisterHandlerChannel(eventChannel, event.ArtifactExpiredEvent)

	startService(t, cleanup.Config{WatchPath: watchDir, FileTTLSeconds: 3600, SweepIntervalSeconds: 3600, StaleThresholdSeconds: 3600}, eventBus, store)

	// Save an artifact which expires almost immediately; the expiry timer
	// created in response to the saved event should reap it.
	saved := artifactWithFile(t, watchDir, "shortlived.mkv", time.Now().Add(time.Millisecond*250))
	store.add(saved)

	expecter := chanassert.NewChannelExpecter(eventChannel).Expect(
		chanassert.AllOf(chanassert.MatchStructPartial(event.HandlerEvent{Event: event.ArtifactExpiredEvent, Payload: saved.ID})),
	)
	expecter.Listen()

	eventBus.Dispatch(event.ArtifactSavedEvent, saved.ID)

	expecter.AssertSatisfied(t, time.Second*3)
	assert.False(t, store.has(saved.ID))
	assert.NoFileExists(t, saved.FilePath)
}

func Test_Sweep_RemovesStaleNonArtifactFiles(t *testing.T) {
	watchDir := t.TempDir()
	store := newFakeStore()

	stalePath := helpers.CreateFileWithModTime(t, watchDir, "abandoned.mp4.part", time.Now().Add(-time.Hour))
	freshPath := helpers.CreateFileWithModTime(t, watchDir, "inflight.mp4.part", time.Now())
	tracked := artifactWithFile(t, watchDir, "tracked.mkv", time.Now().Add(time.Hour))
	store.add(tracked)

	startService(t, cleanup.Config{WatchPath: watchDir, FileTTLSeconds: 3600, SweepIntervalSeconds: 3600, StaleThresholdSeconds: 60}, eventBusNoop(), store)

	require.Eventually(t, func() bool {
		_, err := os.Stat(stalePath)
		return os.IsNotExist(err)
	}, time.Second*3, time.Millisecond*50, "expected stale file to be removed by the sweep")

	assert.FileExists(t, freshPath, "expected fresh intermediate to survive the sweep")
	assert.FileExists(t, filepath.Join(watchDir, "tracked.mkv"), "expected artifact file to survive the sweep")
}

func Test_Sweep_RemovesStaleFilesInSubdirectories(t *testing.T) {
	watchDir := t.TempDir()
	incomingDir := filepath.Join(watchDir, "incoming")
	require.Nil(t, os.MkdirAll(incomingDir, 0o755))
	store := newFakeStore()

	stalePath := helpers.CreateFileWithModTime(t, incomingDir, "crashed-download.mp4.part", time.Now().Add(-time.Hour*24))
	freshPath := helpers.CreateFileWithModTime(t, incomingDir, "inflight.mp4.part", time.Now())

	startService(t, cleanup.Config{WatchPath: watchDir, FileTTLSeconds: 3600, SweepIntervalSeconds: 3600, StaleThresholdSeconds: 60}, eventBusNoop(), store)

	require.Eventually(t, func() bool {
		_, err := os.Stat(stalePath)
		return os.IsNotExist(err)
	}, time.Second*3, time.Millisecond*50, "expected stale intermediate in subdirectory to be removed by the sweep")

	assert.FileExists(t, freshPath, "expected fresh intermediate in subdirectory to survive the sweep")
	assert.DirExists(t, incomingDir, "expected the subdirectory itself to survive the sweep")
}

func eventBusNoop() event.EventCoordinator { return event.New() }
