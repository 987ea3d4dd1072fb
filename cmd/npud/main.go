package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"npud/internal/config"
	"npud/internal/hal"
	"npud/internal/httpapi"
	"npud/internal/manager"
	"npud/internal/registry"
	"npud/pkg/types"
)

var rootCmd = &cobra.Command{
	Use:   "npud",
	Short: "Accelerator task scheduling daemon",
	Long:  "npud schedules inference tasks across simulated or real accelerator devices behind a common driver abstraction.",
}

var (
	flagAddr      string
	flagConfig    string
	flagModelsDir string
	flagLogLevel  string
)

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()

	defaultAddr := ":8080"
	if v := os.Getenv("NPUD_ADDR"); v != "" {
		defaultAddr = v
	}
	serveCmd.Flags().StringVar(&flagAddr, "addr", defaultAddr, "HTTP listen address, e.g. :8080")
	serveCmd.Flags().StringVar(&flagConfig, "config", os.Getenv("NPUD_CONFIG"), "Path to config file (yaml/json/toml)")
	serveCmd.Flags().StringVar(&flagModelsDir, "models-dir", "~/models", "Directory to scan for model files")
	serveCmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "Log level: debug|info|warn|error")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduling daemon",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	var cfg config.Config
	if flagConfig != "" {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if cfg.Addr == "" {
		cfg.Addr = flagAddr
	}
	if cfg.ModelsDir == "" {
		cfg.ModelsDir = flagModelsDir
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = flagLogLevel
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	models, err := registry.LoadDir(cfg.ModelsDir)
	if err != nil {
		log.Warn().Err(err).Str("dir", cfg.ModelsDir).Msg("model scan failed, starting with empty catalog")
	}
	catalog := registry.Catalog(models)

	mgr := manager.NewWithConfig(manager.Config{
		SweepInterval: cfg.SweepInterval(),
		MaxRetries:    cfg.MaxRetries,
		TaskRetention: cfg.TaskRetention(),
	})
	defer mgr.Close()
	mgr.RegisterBackend(hal.NewMockBackend(mockConfigs(cfg, catalog)...))

	httpapi.SetLogger(log.Logger)
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSOrigins,
		[]string{"GET", "POST", "DELETE"}, []string{"Content-Type"})

	svc := &service{mgr: mgr, models: models}
	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(svc)}

	go func() {
		log.Info().Str("addr", cfg.Addr).Int("models", len(models)).
			Int("devices", len(mgr.Devices())).Msg("npud listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	return nil
}

// mockConfigs maps config entries to simulated driver configs; with no
// devices configured, a single default mock device keeps the daemon usable.
func mockConfigs(cfg config.Config, catalog func(string) (types.Model, bool)) []hal.MockConfig {
	if len(cfg.Devices) == 0 {
		return []hal.MockConfig{{Catalog: catalog}}
	}
	out := make([]hal.MockConfig, 0, len(cfg.Devices))
	for _, d := range cfg.Devices {
		out = append(out, hal.MockConfig{
			ID:              types.DeviceID(d.ID),
			Name:            d.Name,
			Type:            types.DeviceType(d.Type),
			Capabilities:    d.Capabilities,
			Seed:            d.Seed,
			BaseLatency:     time.Duration(d.BaseLatencyMS) * time.Millisecond,
			FailOOMRate:     d.FailOOMRate,
			FailBusyRate:    d.FailBusyRate,
			FailTimeoutRate: d.FailTimeoutRate,
			Catalog:         catalog,
		})
	}
	return out
}

// service adapts the manager to the HTTP layer's Service interface.
type service struct {
	mgr    *manager.Manager
	models []types.Model
}

func (s *service) SubmitTask(req types.InferenceRequest, prio types.Priority,
	res types.ResourceSpec, hints types.SchedulingHints) (types.TaskID, error) {
	return s.mgr.SubmitTask(req, prio, res, hints)
}

func (s *service) TaskStatus(id types.TaskID) (types.TaskStatus, bool) { return s.mgr.TaskStatus(id) }
func (s *service) CancelTask(id types.TaskID) error                    { return s.mgr.CancelTask(id) }
func (s *service) Devices() []types.DeviceSnapshot                     { return s.mgr.Devices() }
func (s *service) UsageStats() types.SystemStats                       { return s.mgr.UsageStats() }
func (s *service) Models() []types.Model                               { return s.models }
func (s *service) Ready() bool                                         { return s.mgr.Ready() }

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("npud command failed")
	}
}
