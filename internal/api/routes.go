package api

import "github.com/labstack/echo/v4"

// RegisterRoutes wires the API routes onto an echo instance.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	apiGroup := e.Group("/api")

	apiGroup.GET("/health", h.HandleHealth)

	// File management
	apiGroup.POST("/files/upload", h.HandleUploadFile)
	apiGroup.GET("/files/recent", h.HandleRecentFiles)
	apiGroup.DELETE("/files/:id", h.HandleDeleteFile)

	// Pipelines
	apiGroup.POST("/summary/reshape", h.HandleReshapeSummary)
	apiGroup.POST("/treemap/extract", h.HandleExtractTreeMap)
	apiGroup.POST("/params/generate", h.HandleGenerateParams)

	// Results
	apiGroup.GET("/results/:id", h.HandleGetResult)
	apiGroup.GET("/results/:id/export", h.HandleExportResult)
}
