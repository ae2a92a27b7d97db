package handlers

import (
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/qrave1/RoomSync/internal/application/constant"
	"github.com/qrave1/RoomSync/internal/domain/input"
	"github.com/qrave1/RoomSync/internal/infra/ports/http/dto"
	"github.com/qrave1/RoomSync/internal/usecase"
)

const uploadField = "files"

type MediaHandler struct {
	mediaUsecase usecase.MediaUsecase
}

func NewMediaHandler(mediaUsecase usecase.MediaUsecase) *MediaHandler {
	return &MediaHandler{mediaUsecase: mediaUsecase}
}

func (h *MediaHandler) Upload(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid multipart form"})
	}
	defer form.RemoveAll()

	headers := form.File[uploadField]
	if len(headers) == 0 {
		return c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "no files uploaded"})
	}

	files := make([]input.UploadMediaInput, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			slog.Error("open uploaded file", slog.String(constant.FileName, fh.Filename), slog.Any(constant.Error, err))
			return c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "failed to read upload"})
		}
		defer func(f multipart.File) { _ = f.Close() }(f)

		files = append(files, input.UploadMediaInput{Name: fh.Filename, Content: f})
	}

	saved, err := h.mediaUsecase.Upload(c.Request().Context(), files)
	if err != nil {
		if errors.Is(err, usecase.ErrInvalidMediaName) {
			return c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid file name"})
		}

		slog.Error("upload media", slog.Any(constant.Error, err))
		return c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to store files"})
	}

	resp := dto.UploadResponse{Success: true, Tracks: make([]dto.UploadedTrack, 0, len(saved))}
	for _, file := range saved {
		resp.Tracks = append(resp.Tracks, dto.NewUploadedTrack(file))
	}

	return c.JSON(http.StatusOK, resp)
}

// Music отдает файл с поддержкой Range, плееры перематывают через него
func (h *MediaHandler) Music(c echo.Context) error {
	name := c.QueryParam("file")
	if name == "" {
		return c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "file is required"})
	}

	f, file, err := h.mediaUsecase.Open(c.Request().Context(), name)
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrMediaNotFound):
			return c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "file not found"})
		case errors.Is(err, usecase.ErrInvalidMediaName):
			return c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid file name"})
		}

		slog.Error("open media", slog.String(constant.FileName, name), slog.Any(constant.Error, err))
		return c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to open file"})
	}
	defer f.Close()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, file.ContentType)
	res.Header().Set("Accept-Ranges", "bytes")

	http.ServeContent(res, c.Request(), file.Name, file.UploadedAt, f)

	return nil
}

func (h *MediaHandler) Library(c echo.Context) error {
	files, err := h.mediaUsecase.List(c.Request().Context())
	if err != nil {
		slog.Error("list media", slog.Any(constant.Error, err))
		return c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to list files"})
	}

	resp := dto.LibraryResponse{Files: make([]dto.MediaFileResponse, 0, len(files))}
	for _, file := range files {
		resp.Files = append(resp.Files, dto.NewMediaFileResponse(file))
	}

	return c.JSON(http.StatusOK, resp)
}
