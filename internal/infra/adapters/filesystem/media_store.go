package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/qrave1/RoomSync/internal/domain/models"
)

const fallbackContentType = "audio/mpeg"

var ErrInvalidName = errors.New("invalid media file name")

// MediaStore хранит загруженные аудиофайлы в одной директории
type MediaStore interface {
	Save(ctx context.Context, name string, content io.Reader) (*models.MediaFile, error)

	// Open отдает файл для стриминга, для отсутствующего - fs.ErrNotExist
	Open(ctx context.Context, name string) (*os.File, *models.MediaFile, error)

	List(ctx context.Context) ([]*models.MediaFile, error)
}

type mediaStore struct {
	dir string
}

// NewMediaStore создает dir, если его нет
func NewMediaStore(dir string) (MediaStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}

	return &mediaStore{dir: dir}, nil
}

// CleanName оставляет от имени клиента только base, как на диске
func CleanName(name string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))

	switch base {
	case "", ".", "..", "/":
		return "", ErrInvalidName
	}

	return base, nil
}

// ContentType определяет MIME по расширению
func ContentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}

	return fallbackContentType
}

func (s *mediaStore) Save(ctx context.Context, name string, content io.Reader) (*models.MediaFile, error) {
	base, err := CleanName(name)
	if err != nil {
		return nil, err
	}

	// Пишем во временный файл и переименовываем, чтобы читатели не видели половину файла
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	size, err := io.Copy(tmp, content)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", base, err)
	}

	if err = os.Rename(tmp.Name(), filepath.Join(s.dir, base)); err != nil {
		return nil, fmt.Errorf("store %s: %w", base, err)
	}

	info, err := os.Stat(filepath.Join(s.dir, base))
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", base, err)
	}

	return &models.MediaFile{
		Name:        base,
		Size:        size,
		ContentType: ContentType(base),
		UploadedAt:  info.ModTime(),
	}, nil
}

func (s *mediaStore) Open(ctx context.Context, name string) (*os.File, *models.MediaFile, error) {
	base, err := CleanName(name)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(filepath.Join(s.dir, base))
	if err != nil {
		return nil, nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat %s: %w", base, err)
	}

	if info.IsDir() {
		f.Close()
		return nil, nil, fmt.Errorf("%s: %w", base, fs.ErrNotExist)
	}

	return f, &models.MediaFile{
		Name:        base,
		Size:        info.Size(),
		ContentType: ContentType(base),
		UploadedAt:  info.ModTime(),
	}, nil
}

func (s *mediaStore) List(ctx context.Context) ([]*models.MediaFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read media dir: %w", err)
	}

	files := make([]*models.MediaFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, &models.MediaFile{
			Name:        entry.Name(),
			Size:        info.Size(),
			ContentType: ContentType(entry.Name()),
			UploadedAt:  info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	return files, nil
}
