package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/qrave1/RoomSync/internal/domain/models"
)

// MediaRepository - каталог загруженных файлов в postgres
type MediaRepository interface {
	Upsert(ctx context.Context, file *models.MediaFile) error
	List(ctx context.Context) ([]*models.MediaFile, error)
	Delete(ctx context.Context, name string) error
}

type mediaRepo struct {
	db *sqlx.DB
}

func NewMediaRepo(db *sqlx.DB) MediaRepository {
	return &mediaRepo{db: db}
}

func (r *mediaRepo) Upsert(ctx context.Context, file *models.MediaFile) error {
	uploadedAt := file.UploadedAt
	if uploadedAt.IsZero() {
		uploadedAt = time.Now()
	}

	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO media_files (name, size, content_type, uploaded_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET size = EXCLUDED.size, content_type = EXCLUDED.content_type, uploaded_at = EXCLUDED.uploaded_at`,
		file.Name,
		file.Size,
		file.ContentType,
		uploadedAt,
	)

	return err
}

func (r *mediaRepo) List(ctx context.Context) ([]*models.MediaFile, error) {
	var files []*models.MediaFile

	err := r.db.SelectContext(ctx, &files, "SELECT name, size, content_type, uploaded_at FROM media_files ORDER BY name")
	if err != nil {
		return nil, err
	}

	return files, nil
}

func (r *mediaRepo) Delete(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM media_files WHERE name = $1", name)

	return err
}
