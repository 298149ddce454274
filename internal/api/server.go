package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/obsreg/importer/internal/model"
)

func RegisterRoutes(server *echo.Echo, h *ImportHandler, reportRoute string) {
	reportRoute = "/" + strings.Trim(reportRoute, "/") + "/"
	server.GET(reportRoute+":reportId", h.DownloadReport, Authenticate)

	imports := server.Group("/api/v1/imports", Authenticate)
	imports.POST("", h.StartImport)
	imports.GET("/:id", h.GetStatus)
}

// NewServer returns the echo instance serving the import API.
func NewServer(cfg model.Service, h *ImportHandler) *echo.Echo {
	server := echo.New()
	server.HideBanner = true
	server.HidePort = true

	server.Use(middleware.Recover())
	server.Use(middleware.RequestID())
	server.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelDebug
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			slog.LogAttrs(c.Request().Context(), level, "request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.String("request_id", v.RequestID),
				slog.Any("error", v.Error),
			)
			return nil
		},
	}))
	if cfg.BodyLimit != "" {
		server.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	RegisterRoutes(server, h, cfg.ReportRoute)

	server.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	return server
}
