package input

import "io"

// UploadMediaInput - один файл из multipart запроса
type UploadMediaInput struct {
	Name    string
	Content io.Reader
}
