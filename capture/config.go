package capture

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/hazyhaar/carousel/capture/internal/config"
	"github.com/hazyhaar/carousel/capture/internal/devtools"
	"github.com/hazyhaar/carousel/capture/internal/history"
	"github.com/hazyhaar/carousel/capture/internal/metrics"
	"github.com/hazyhaar/carousel/capture/internal/slicer"
)

// Config is the top-level carousel configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// DeviceConfig is the emulated mobile device.
type DeviceConfig = config.DeviceConfig

// CaptureConfig tunes the capture pipeline.
type CaptureConfig = config.CaptureConfig

// OutputConfig controls chunk encoding.
type OutputConfig = config.OutputConfig

// SinkConfig defines a download destination.
type SinkConfig = config.SinkConfig

// PreferencesConfig locates the preferences and history database.
type PreferencesConfig = config.PreferencesConfig

// ServerConfig controls the HTTP surface.
type ServerConfig = config.ServerConfig

// PrefStore persists Preferences in SQLite.
type PrefStore = config.PrefStore

// History is the SQLite log of finished sessions.
type History = history.Log

// HistoryRecord is one finished session in the History.
type HistoryRecord = history.Record

// HistoryFilter narrows a History query.
type HistoryFilter = history.Filter

// Metrics are the pipeline's Prometheus collectors.
type Metrics = metrics.Metrics

// Preferences are the remembered aspect ratio and capture percentage.
type Preferences = config.Preferences

// AspectRatio is a width:height proportion.
type AspectRatio = slicer.AspectRatio

// DeviceProfile is the emulated viewport.
type DeviceProfile = devtools.DeviceProfile

// Screenshot is a captured raster with its clip and scale factor.
type Screenshot = devtools.Screenshot

// ParseAspectRatio accepts a preset name ("1:1", "4:5", "1.91:1", "9:16")
// or any "W:H" pair.
func ParseAspectRatio(s string) (AspectRatio, error) {
	return slicer.ParseAspectRatio(s)
}

// AspectPresets lists the preset names in display order.
func AspectPresets() []string {
	return append([]string(nil), slicer.PresetNames...)
}

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return config.Default()
}

// NewMetrics creates the pipeline collectors on a private registry.
func NewMetrics() *Metrics {
	return metrics.New()
}

// OpenPreferenceStore opens the SQLite database named by pc, creating it
// and its schema when missing. The caller closes the returned DB.
func OpenPreferenceStore(ctx context.Context, pc PreferencesConfig) (*PrefStore, *sql.DB, error) {
	db, err := config.OpenDB(pc.DB, config.WithSQLTrace(pc.TraceSQL))
	if err != nil {
		return nil, nil, err
	}
	store, err := config.NewPrefStore(ctx, db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, db, nil
}

// OpenHistory starts the capture history on db, creating its table, and
// drops records older than retention. The caller closes the History
// before db.
func OpenHistory(ctx context.Context, db *sql.DB, logger *slog.Logger, retention time.Duration) (*History, error) {
	if logger == nil {
		logger = slog.Default()
	}
	h, err := history.New(db, logger, 0)
	if err != nil {
		return nil, err
	}
	if retention > 0 {
		if n, err := h.Cleanup(ctx, retention); err != nil {
			logger.Warn("capture: history cleanup", "error", err)
		} else if n > 0 {
			logger.Info("capture: history cleanup", "deleted", n)
		}
	}
	return h, nil
}
