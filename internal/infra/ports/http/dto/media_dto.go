package dto

import (
	"net/url"
	"time"

	"github.com/qrave1/RoomSync/internal/domain/models"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type UploadedTrack struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type UploadResponse struct {
	Success bool            `json:"success"`
	Tracks  []UploadedTrack `json:"tracks"`
}

type MediaFileResponse struct {
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

type LibraryResponse struct {
	Files []MediaFileResponse `json:"files"`
}

// MusicURL - ссылка на стрим файла через /api/music
func MusicURL(name string) string {
	return "/api/music?file=" + url.QueryEscape(name)
}

func NewUploadedTrack(file *models.MediaFile) UploadedTrack {
	return UploadedTrack{Name: file.Name, URL: MusicURL(file.Name)}
}

func NewMediaFileResponse(file *models.MediaFile) MediaFileResponse {
	return MediaFileResponse{
		Name:        file.Name,
		URL:         MusicURL(file.Name),
		Size:        file.Size,
		ContentType: file.ContentType,
		UploadedAt:  file.UploadedAt,
	}
}
