package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wifi-sniffer/wifi-sniffer-pro/internal/api"
	"github.com/wifi-sniffer/wifi-sniffer-pro/internal/cache"
	"github.com/wifi-sniffer/wifi-sniffer-pro/internal/capture"
	"github.com/wifi-sniffer/wifi-sniffer-pro/internal/config"
	"github.com/wifi-sniffer/wifi-sniffer-pro/internal/detect"
	"github.com/wifi-sniffer/wifi-sniffer-pro/internal/models"
	"github.com/wifi-sniffer/wifi-sniffer-pro/internal/radio"
	"github.com/wifi-sniffer/wifi-sniffer-pro/internal/remote"
)

func main() {
	var configPath = flag.String("config", "config/sniffer-server.yml", "配置文件路径")
	var validateOnly = flag.Bool("validate", false, "仅验证配置文件")
	var showConfig = flag.Bool("show-config", false, "显示配置并退出")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn().Str("path", *configPath).Msg("Config file not found, using defaults")
			cfg = config.Default()
		} else {
			log.Fatal().Err(err).Msg("Failed to load configuration")
		}
	}

	if *showConfig {
		cfg.PrintConfigSummary()
		return
	}
	if *validateOnly {
		fmt.Println("Configuration OK")
		return
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Log.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	cfg.PrintConfigSummary()

	// Make sure the download directory exists before the first stop
	// tries to write into it.
	if err := os.MkdirAll(cfg.Capture.DownloadDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Capture.DownloadDir).Msg("Failed to create download directory")
	}

	// Build the remote executor
	executor, err := newExecutor(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create remote executor")
	}
	log.Info().Str("transport", cfg.SSH.Transport).
		Str("device", fmt.Sprintf("%s@%s:%d", cfg.Device.User, cfg.Device.Host, cfg.Device.Port)).
		Msg("Remote executor ready")

	// Wire the core services
	resultCache := cache.New(cfg.CacheTTLs())
	detector := detect.New(executor)
	applier := radio.New(executor, cfg.Restart.PollInterval, cfg.Restart.MaxWait)

	manager := capture.New(executor, detector, applier, resultCache, capture.Options{
		DownloadDir:     cfg.Capture.DownloadDir,
		RemoteDir:       cfg.Capture.RemoteDir,
		MonitorInterval: cfg.Capture.MonitorInterval,
		StopGrace:       cfg.Capture.StopGrace,
		StabilizePause:  cfg.Restart.StabilizePause,
		AutoSyncTime:    cfg.Capture.AutoSyncTime,
		Interfaces:      cfg.DefaultInterfaces(),
		Radios:          cfg.DefaultRadios(),
		Channels:        cfg.DefaultChannels(),
		FileSplit: models.FileSplitConfig{
			Enabled: cfg.Capture.SplitEnabled,
			SizeMB:  cfg.Capture.SplitSizeMB,
		},
	})

	// Start REST API server
	apiServer := api.NewRESTServer(cfg, manager)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		if err := apiServer.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("REST API server failed")
		}
	}()

	// Probe the device once at startup. The first success triggers
	// remote cleanup and interface detection inside the manager.
	go func() {
		info := manager.TestConnection()
		if info.Connected {
			log.Info().Msg("Device reachable")
		} else {
			log.Warn().Str("host", cfg.Device.Host).Msg("Device not reachable yet, will retry on demand")
		}
	}()

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	// Stop any running captures so the device is left clean and the
	// files are saved locally.
	for band, result := range manager.StopAll() {
		log.Info().Str("band", band).Bool("success", result.OK).Str("message", result.Message).
			Msg("Capture stopped during shutdown")
	}

	if err := apiServer.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
	}

	wg.Wait()

	log.Info().Msg("Sniffer control server stopped")
}

// newExecutor builds the configured remote transport.
func newExecutor(cfg *config.Config) (remote.Executor, error) {
	opts := remote.Options{
		Host:           cfg.Device.Host,
		User:           cfg.Device.User,
		Port:           cfg.Device.Port,
		Password:       cfg.Device.Password,
		KeyPath:        cfg.Device.KeyPath,
		ConnectTimeout: cfg.SSH.ConnectTimeout,
		CommandTimeout: cfg.SSH.CommandTimeout,
	}

	switch cfg.SSH.Transport {
	case "native":
		return remote.NewNativeExecutor(opts), nil
	case "openssh":
		return remote.NewOpenSSHExecutor(opts), nil
	default:
		return nil, fmt.Errorf("unknown ssh transport: %s", cfg.SSH.Transport)
	}
}
