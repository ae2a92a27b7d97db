package usecase

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/qrave1/RoomSync/internal/application/constant"
	"github.com/qrave1/RoomSync/internal/domain/input"
	"github.com/qrave1/RoomSync/internal/domain/models"
	"github.com/qrave1/RoomSync/internal/infra/adapters/filesystem"
	"github.com/qrave1/RoomSync/internal/infra/adapters/postgres/repository"
)

var (
	ErrMediaNotFound    = errors.New("media file not found")
	ErrNoFilesUploaded  = errors.New("no files uploaded")
	ErrInvalidMediaName = filesystem.ErrInvalidName
)

type MediaUsecase interface {
	Upload(ctx context.Context, files []input.UploadMediaInput) ([]*models.MediaFile, error)
	Open(ctx context.Context, name string) (*os.File, *models.MediaFile, error)
	List(ctx context.Context) ([]*models.MediaFile, error)
}

type mediaUsecase struct {
	store filesystem.MediaStore

	// catalog == nil: список берется из директории
	catalog repository.MediaRepository
}

func NewMediaUsecase(store filesystem.MediaStore, catalog repository.MediaRepository) MediaUsecase {
	return &mediaUsecase{store: store, catalog: catalog}
}

func (m *mediaUsecase) Upload(ctx context.Context, files []input.UploadMediaInput) ([]*models.MediaFile, error) {
	if len(files) == 0 {
		return nil, ErrNoFilesUploaded
	}

	saved := make([]*models.MediaFile, 0, len(files))
	for _, f := range files {
		file, err := m.store.Save(ctx, f.Name, f.Content)
		if err != nil {
			return nil, fmt.Errorf("save %q: %w", f.Name, err)
		}

		if m.catalog != nil {
			if err = m.catalog.Upsert(ctx, file); err != nil {
				return nil, fmt.Errorf("catalog %q: %w", file.Name, err)
			}
		}

		slog.Info("media uploaded", slog.String(constant.FileName, file.Name), slog.Int64("size", file.Size))

		saved = append(saved, file)
	}

	return saved, nil
}

func (m *mediaUsecase) Open(ctx context.Context, name string) (*os.File, *models.MediaFile, error) {
	f, file, err := m.store.Open(ctx, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrMediaNotFound
		}

		return nil, nil, fmt.Errorf("open %q: %w", name, err)
	}

	return f, file, nil
}

func (m *mediaUsecase) List(ctx context.Context) ([]*models.MediaFile, error) {
	if m.catalog != nil {
		files, err := m.catalog.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list catalog: %w", err)
		}

		return files, nil
	}

	return m.store.List(ctx)
}
