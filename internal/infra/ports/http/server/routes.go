package server

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/qrave1/RoomSync/internal/application/config"
	"github.com/qrave1/RoomSync/internal/infra/ports/http/handlers"
	"github.com/qrave1/RoomSync/internal/infra/ports/http/middleware"
)

func New(
	cfg *config.Config,
	mediaHandler *handlers.MediaHandler,
	wsHandler *handlers.WebSocketHandler,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(middleware.PrometheusMiddleware())
	e.Use(middleware.SlogLogger())

	e.GET("/ws", wsHandler.Handle)

	api := e.Group("/api")
	{
		api.POST("/upload", mediaHandler.Upload, echomw.BodyLimit(cfg.Media.MaxUploadSize))
		api.GET("/music", mediaHandler.Music)
		api.GET("/library", mediaHandler.Library)
	}

	e.Static("/", cfg.StaticDir)

	return e
}
