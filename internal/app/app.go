package app

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"vault-risk-backtest/internal/alerting"
	"vault-risk-backtest/internal/config"
	"vault-risk-backtest/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives command output; nil means stdout.
	Out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// AnalyzeOptions override configured analysis settings for one run. Zero
// values keep the configuration.
type AnalyzeOptions struct {
	VaultSetDir      string
	VaultHistoryPath string
	CollateralType   string
	Window           uint64
	ResultDir        string
	Workers          int
	NoStore          bool
}

// ExportOptions hold parameters for exporting pair metrics of a run.
type ExportOptions struct {
	RunID     int64
	Status    string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// InspectOptions configure the inspect command.
type InspectOptions struct {
	VaultID string
}
