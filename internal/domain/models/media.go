package models

import "time"

// MediaFile - загруженный аудиофайл
type MediaFile struct {
	Name        string    `json:"name" db:"name"`
	Size        int64     `json:"size" db:"size"`
	ContentType string    `json:"content_type" db:"content_type"`
	UploadedAt  time.Time `json:"uploaded_at" db:"uploaded_at"`
}
