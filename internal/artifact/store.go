package artifact

import (
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/fetcharr/fetcharr/internal/database"
	"github.com/google/uuid"
)

var ErrArtifactNotFound = errors.New("artifact does not exist")

type (
	// Artifact is a fully processed media file on disk. One row exists
	// per completed download, and each row carries the expiry deadline
	// which the cleanup service uses to reap the file.
	Artifact struct {
		ID           uuid.UUID `db:"id"`
		Title        string    `db:"title"`
		SourceUrl    string    `db:"source_url"`
		FileName     string    `db:"file_name"`
		FilePath     string    `db:"file_path"`
		SizeBytes    int64     `db:"size_bytes"`
		DurationSecs *int      `db:"duration_secs"`
		ThumbnailUrl *string   `db:"thumbnail_url"`
		CreatedAt    time.Time `db:"created_at"`
		ExpiresAt    time.Time `db:"expires_at"`
	}

	Store struct{}
)

func NewStore() *Store {
	return &Store{}
}

func (store *Store) Save(db database.Queryable, artifact *Artifact) error {
	_, err := db.NamedExec(`
		INSERT INTO artifacts(id, title, source_url, file_name, file_path, size_bytes, duration_secs, thumbnail_url, created_at, expires_at)
		VALUES (:id, :title, :source_url, :file_name, :file_path, :size_bytes, :duration_secs, :thumbnail_url, current_timestamp, :expires_at)
		ON CONFLICT(id) DO UPDATE SET
			title=EXCLUDED.title, file_name=EXCLUDED.file_name, file_path=EXCLUDED.file_path,
			size_bytes=EXCLUDED.size_bytes, duration_secs=EXCLUDED.duration_secs,
			thumbnail_url=EXCLUDED.thumbnail_url, expires_at=EXCLUDED.expires_at
	`, artifact)
	if err != nil {
		return fmt.Errorf("failed to save artifact: %w", err)
	}

	return nil
}

func (store *Store) List(db database.Queryable) ([]*Artifact, error) {
	query, args, err := selectArtifactBuilder().ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct list artifacts query: %w", err)
	}

	var results []*Artifact
	if err := db.Select(&results, query, args...); err != nil {
		return nil, err
	}

	return results, nil
}

func (store *Store) Get(db database.Queryable, id uuid.UUID) (*Artifact, error) {
	query, args, err := selectArtifactBuilder().Where("artifacts.id=?", id).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select artifact query: %w", err)
	}

	var artifact Artifact
	if err := db.Get(&artifact, db.Rebind(query), args...); err != nil {
		return nil, ErrArtifactNotFound
	}

	return &artifact, nil
}

// GetByFileName finds the artifact whose on-disk file name matches the one
// provided. File names are unique, so at most one row can match.
func (store *Store) GetByFileName(db database.Queryable, fileName string) (*Artifact, error) {
	query, args, err := selectArtifactBuilder().Where("artifacts.file_name=?", fileName).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select artifact query: %w", err)
	}

	var artifact Artifact
	if err := db.Get(&artifact, db.Rebind(query), args...); err != nil {
		return nil, ErrArtifactNotFound
	}

	return &artifact, nil
}

// ListExpired returns the artifacts whose expiry deadline has already
// passed as of the timestamp provided.
func (store *Store) ListExpired(db database.Queryable, now time.Time) ([]*Artifact, error) {
	query, args, err := selectArtifactBuilder().Where("artifacts.expires_at <= ?", now).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct expired artifacts query: %w", err)
	}

	var results []*Artifact
	if err := db.Select(&results, db.Rebind(query), args...); err != nil {
		return nil, err
	}

	return results, nil
}

func (store *Store) Delete(db database.Queryable, id uuid.UUID) error {
	_, err := db.Exec(`DELETE FROM artifacts WHERE id=$1`, id)
	return err
}

func selectArtifactBuilder() squirrel.SelectBuilder {
	return squirrel.
		Select("artifacts.*").
		From("artifacts").
		OrderBy("artifacts.created_at DESC")
}
