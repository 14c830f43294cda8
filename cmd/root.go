package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal"
	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/config"
	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/telemetry"
)

var (
	cfgFile  string
	cfg      config.Config
	logger   *zap.SugaredLogger
	tracer   trace.Tracer
	meter    metric.Meter
	shutdown func(context.Context) error
	services *internal.Services
	Version  = "dev" // Set at build time: go build -ldflags "-X github.com/Qubut/fotoware-explorer/packages/data_builder/cmd.Version=v1.0.0"
)

var RootCmd = &cobra.Command{
	Use:   "data-builder",
	Short: "Offline data builder for the FotoWare explorer",
	Long: `Fetches every archive and asset from a FotoWare API, merges assets that share a
unique ID and writes archive, asset and index JSON files for the explorer to read.
Without a subcommand it runs a build.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logDir := cfg.Log.LogDir
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}

		logFile := filepath.Join(logDir,
			fmt.Sprintf("data-builder[%s].log", time.Now().Format("20060102-150405")))

		teleCfg := telemetry.Config{
			Enabled:     cfg.Telemetry.Enabled,
			ServiceName: cfg.Telemetry.ServiceName,
			Exporter:    cfg.Telemetry.Exporter,
			Endpoint:    cfg.Telemetry.Endpoint,
			Protocol:    cfg.Telemetry.Protocol,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     cfg.Telemetry.Headers,
			LogFile:     logFile,
			LogLevel:    cfg.Log.LogLevel,
			Console:     true,
		}
		tracer, meter, logger, shutdown, err = telemetry.InitOTEL(teleCfg)
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		services, err = internal.InitServices(cfg, tracer, logger, meter)
		if err != nil {
			return fmt.Errorf("init services: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logger != nil {
			_ = logger.Sync()
		}
		if shutdown != nil {
			if err := shutdown(context.Background()); err != nil {
				logger.Errorw("shutdown error", "err", err)
				return err
			}
		}
		return nil
	},
	RunE: runBuild,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of data-builder",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), Version)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config operations",
}

var printConfigCmd = &cobra.Command{
	Use:   "print",
	Short: "Print the current loaded configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		redacted := cfg
		if redacted.API.Token != "" {
			redacted.API.Token = "***"
		}
		data, err := json.MarshalIndent(redacted, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	RootCmd.PersistentFlags().
		StringVar(&cfgFile, "config", "", "Path to config file (yaml/json/toml)")

	type flagDef struct {
		name, def, usage string
	}
	flags := []flagDef{
		{"log.log-level", "info", "Log level (debug/info/warn/error)"},
		{"log.log-dir", "logs", "Directory for log files"},
		{"telemetry.enabled", "false", "Enable OpenTelemetry"},
		{"telemetry.exporter", "none", "Telemetry exporter (otlp|stdout|none)"},
		{"telemetry.endpoint", "localhost:4317", "OTLP endpoint (host:port)"},
		{"telemetry.protocol", "grpc", "OTLP protocol (grpc|http)"},
		{"telemetry.insecure", "true", "Allow insecure OTLP connection"},
		{"telemetry.service-name", "data-builder", "Service name for telemetry"},
		{"api.base-url", "", "FotoWare API base URL"},
		{"api.token", "", "Bearer token for the FotoWare API"},
		{"api.timeout", "30s", "Request timeout (duration)"},
		{"api.max-retries", "0", "Retries for failed requests (5xx and transport errors)"},
		{"api.unique-id-field", "187", "Metadata field holding the asset unique ID"},
		{"output.directory", "data", "Directory the data files are written to"},
		{"build.concurrency", "1", "Asset fetches in flight per archive"},
		{"build.memory-limit", "100", "Merged assets kept in memory before flushing (0 = unlimited)"},
		{"build.progress", "true", "Show a progress bar per archive"},
		{"explorer.public-base-url", "https://rmit.fotoware.cloud", "Public FotoWare URL for media links"},
		{"serve.address", "127.0.0.1:8080", "Listen address for serve"},
	}
	for _, f := range flags {
		RootCmd.PersistentFlags().String(f.name, f.def, f.usage)
	}

	configCmd.AddCommand(printConfigCmd)

	RootCmd.AddCommand(buildCmd)
	RootCmd.AddCommand(showCmd)
	RootCmd.AddCommand(serveCmd)
	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(configCmd)
}
