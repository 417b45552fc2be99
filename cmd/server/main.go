package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/forest-reshaper/backend/internal/api"
	"github.com/forest-reshaper/backend/internal/config"
	"github.com/forest-reshaper/backend/internal/refdata"
	"github.com/forest-reshaper/backend/internal/session"
	"github.com/forest-reshaper/backend/internal/storage"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Get the executable's directory for config resolution
	exePath, err := os.Executable()
	if err != nil {
		fmt.Printf("Failed to get executable path: %v\n", err)
		os.Exit(1)
	}
	exeDir := filepath.Dir(exePath)

	// Load XML configuration
	configPath := filepath.Join(exeDir, "ForestReshaper.config")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Ensure all data directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Printf("Failed to create directories: %v\n", err)
		os.Exit(1)
	}

	// Load reference lookup tables, defaults unless a YAML override is configured
	ref := refdata.Default()
	if cfg.Pipeline.ReferenceDataPath != "" {
		ref, err = refdata.Load(cfg.Pipeline.ReferenceDataPath)
		if err != nil {
			fmt.Printf("Failed to load reference data: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Reference data loaded from %s\n", cfg.Pipeline.ReferenceDataPath)
	}

	// Initialize storage
	fileStore, err := storage.NewLocalStore(cfg.GetUploadDir())
	if err != nil {
		fmt.Printf("Failed to initialize storage: %v\n", err)
		os.Exit(1)
	}

	// Initialize result-session manager
	sessionMgr := session.NewManager(cfg.Storage.TempDirectory, cfg.Advanced.DuckDBThreads)

	// Start background session cleanup
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.Advanced.CleanupIntervalMinutes) * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			sessionMgr.CleanupOldSessions(time.Duration(cfg.Advanced.SessionTimeoutMinutes) * time.Minute)
		}
	}()

	// Initialize API handler
	h := api.NewHandler(fileStore, sessionMgr, cfg, ref)

	e := echo.New()
	e.HideBanner = true

	// Configure middleware
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			if !cfg.Advanced.EnableRequestLogging {
				return true
			}
			return c.Request().URL.Path == "/api/health"
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize:         1024 * 4,
		DisablePrintStack: false,
		LogLevel:          0,
	}))

	// Body limit middleware
	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	// CORS configuration
	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}

	api.RegisterRoutes(e, h)

	// Configure server with settings from XML config
	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	fmt.Printf("\n")
	fmt.Printf("Forest Reshaper Server\n")
	fmt.Printf("  Version:    %s (%s)\n", Version, BuildTime)
	fmt.Printf("  Config:     %s\n", configPath)
	fmt.Printf("  Listen:     http://%s\n", cfg.GetServerAddr())
	fmt.Printf("  Data Dir:   %s\n", cfg.GetDataDir())
	fmt.Printf("  Output Dir: %s\n", cfg.Storage.OutputDirectory)
	fmt.Printf("\n")

	e.Logger.Fatal(e.StartServer(s))
}
