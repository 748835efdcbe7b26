package integration_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/fetcharr/fetcharr/internal/artifact"
	"github.com/fetcharr/fetcharr/internal/database"
	"github.com/fetcharr/fetcharr/tests/helpers"
	"github.com/google/uuid"
	"github.com/labstack/gommon/random"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestArtifactStore_Lifecycle runs the artifact store against a real
// postgres instance: the schema is migrated on connect, and rows are
// saved, fetched, filtered by expiry and deleted.
func TestArtifactStore_Lifecycle(t *testing.T) {
	config := helpers.RequirePostgres(t)

	db := database.New()
	require.Nil(t, db.Connect(config), "expected database connection and migration to succeed")

	store := artifact.NewStore()
	sqlxDB := db.GetSqlxDb()

	duration := 321
	fileName := fmt.Sprintf("test-video-%s.mkv", random.String(8))
	saved := &artifact.Artifact{
		ID:           uuid.New(),
		Title:        "Test Video",
		SourceUrl:    "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		FileName:     fileName,
		FilePath:     "/tmp/downloads/" + fileName,
		SizeBytes:    1024,
		DurationSecs: &duration,
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	require.Nil(t, store.Save(sqlxDB, saved))

	t.Run("Get", func(t *testing.T) {
		found, err := store.Get(sqlxDB, saved.ID)
		require.Nil(t, err)
		assert.Equal(t, saved.Title, found.Title)
		assert.Equal(t, saved.FileName, found.FileName)
		assert.Equal(t, saved.SizeBytes, found.SizeBytes)
		require.NotNil(t, found.DurationSecs)
		assert.Equal(t, duration, *found.DurationSecs)
		assert.False(t, found.CreatedAt.IsZero(), "expected created_at to be stamped by the database")
	})

	t.Run("GetByFileName", func(t *testing.T) {
		found, err := store.GetByFileName(sqlxDB, saved.FileName)
		require.Nil(t, err)
		assert.Equal(t, saved.ID, found.ID)

		_, err = store.GetByFileName(sqlxDB, "no-such-file.mkv")
		assert.ErrorIs(t, err, artifact.ErrArtifactNotFound)
	})

	t.Run("Upsert", func(t *testing.T) {
		saved.Title = "Test Video (revised)"
		require.Nil(t, store.Save(sqlxDB, saved))

		found, err := store.Get(sqlxDB, saved.ID)
		require.Nil(t, err)
		assert.Equal(t, "Test Video (revised)", found.Title)

		all, err := store.List(sqlxDB)
		require.Nil(t, err)
		assert.Len(t, all, 1, "expected upsert to not create a second row")
	})

	t.Run("ListExpired", func(t *testing.T) {
		expiredFileName := fmt.Sprintf("old-video-%s.mkv", random.String(8))
		expired := &artifact.Artifact{
			ID:        uuid.New(),
			Title:     "Old Video",
			SourceUrl: "https://www.youtube.com/watch?v=expired",
			FileName:  expiredFileName,
			FilePath:  "/tmp/downloads/" + expiredFileName,
			SizeBytes: 2048,
			ExpiresAt: time.Now().Add(-time.Hour),
		}
		require.Nil(t, store.Save(sqlxDB, expired))

		rows, err := store.ListExpired(sqlxDB, time.Now())
		require.Nil(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, expired.ID, rows[0].ID)
	})

	t.Run("Delete", func(t *testing.T) {
		require.Nil(t, store.Delete(sqlxDB, saved.ID))

		_, err := store.Get(sqlxDB, saved.ID)
		assert.ErrorIs(t, err, artifact.ErrArtifactNotFound)
	})
}
