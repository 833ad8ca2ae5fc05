package app

import (
	"context"
	"fmt"

	"github.com/mailmerge/mailmerge/internal/archive"
	"github.com/mailmerge/mailmerge/internal/auth"
	"github.com/mailmerge/mailmerge/internal/config"
	"github.com/mailmerge/mailmerge/internal/database"
	"github.com/mailmerge/mailmerge/internal/logger"
	"github.com/mailmerge/mailmerge/internal/repository"
	"github.com/mailmerge/mailmerge/internal/service"
)

// App holds the wired components shared by the server and the CLI
type App struct {
	Config      *config.Config
	Log         *logger.Logger
	Redis       *database.Redis
	DB          *database.Postgres
	Runs        *repository.RunRepository
	Merge       *service.MergeService
	OAuth       *auth.GoogleOAuth
	Credentials *auth.Credentials
}

// New connects the optional backing services and wires the merge session.
// Redis and PostgreSQL are only dialed when enabled.
func New(cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	if cfg.Redis.Enabled {
		rdb, err := database.NewRedis(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		a.Redis = rdb
		log.Info().Str("addr", cfg.Redis.Addr()).Msg("connected to Redis")
	}

	if cfg.Database.Enabled {
		db, err := database.NewPostgres(cfg.Database)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.DB = db
		a.Runs = repository.NewRunRepository(db)
		log.Info().Msg("connected to PostgreSQL")
	}

	var (
		rows   repository.RowStore
		tokens repository.TokenStore
	)
	switch cfg.State.Driver {
	case "redis":
		rows = repository.NewRedisRowStore(a.Redis)
		tokens = repository.NewRedisTokenStore(a.Redis)
	default:
		rows = repository.NewFileRowStore(cfg.State.Dir)
		tokens = repository.NewFileTokenStore(cfg.State.Dir)
	}
	markers := repository.NewMarkerRepository(cfg.State.MarkerPath)

	// Optional collaborators stay untyped nil when disabled.
	var history service.RunHistory
	if a.Runs != nil {
		history = a.Runs
	}
	var archiver service.Archiver
	if cfg.Archive.Enabled {
		s3, err := archive.NewS3Archive(cfg.Archive)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to configure archive: %w", err)
		}
		archiver = s3
		log.Info().Str("bucket", cfg.Archive.Bucket).Msg("export archive enabled")
	}

	dispatcher := service.NewDispatcher(rows, markers, history, archiver, cfg.Dispatch, cfg.State.ExportDir, log)
	a.Merge = service.NewMergeService(rows, markers, dispatcher, cfg.Dispatch, log)

	a.OAuth = auth.NewGoogleOAuth(cfg.Gmail)
	a.Credentials = auth.NewCredentials(a.OAuth, tokens, cfg.Gmail.RefreshToken, cfg.Gmail.SenderName, log)
	return a, nil
}

// Startup restores the persisted session. ctx bounds background dispatches.
func (a *App) Startup(ctx context.Context) error {
	return a.Merge.Startup(ctx)
}

// Close releases the backing connections
func (a *App) Close() {
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
