package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rmacdonaldsmith/topicrelay/internal/adminrpc"
	"github.com/rmacdonaldsmith/topicrelay/internal/broker"
	"github.com/rmacdonaldsmith/topicrelay/internal/httpapi"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type options struct {
	configPath   string
	host         string
	httpAddr     string
	grpcAddr     string
	adminSecret  string
	writeTimeout time.Duration
	logLevel     string
	jsonLogs     bool
}

func newRootCommand(control io.Reader) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "broker <PORT>",
		Short: "UDP to TCP topic relay",
		Long: `broker listens for typed UDP datagrams and relays each one to the TCP subscribers
whose topic patterns match it. The same port is used for both protocols.

Type "exit" on standard input to stop the broker.`,
		Version:       appVersion,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := buildConfig(cmd.Flags(), opts, args[0])
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), opts.logLevel, opts.jsonLogs)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, config, control, logger)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	f.StringVar(&opts.host, "host", "", "Interface to bind (default all)")
	f.StringVar(&opts.httpAddr, "http-addr", "", "Admin HTTP API address, e.g. localhost:8081 (disabled when empty)")
	f.StringVar(&opts.grpcAddr, "grpc-addr", "", "Admin gRPC address, e.g. localhost:9090 (disabled when empty)")
	f.StringVar(&opts.adminSecret, "admin-secret", "", "Secret for admin tokens (or TOPICRELAY_ADMIN_SECRET)")
	f.DurationVar(&opts.writeTimeout, "write-timeout", 0, "Per-write deadline for subscriber connections (0 waits indefinitely)")
	f.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	f.BoolVar(&opts.jsonLogs, "json-logs", false, "Write JSON log lines instead of console output")

	return cmd
}

// buildConfig layers the config file, explicitly set flags and the port argument, in that order.
func buildConfig(flags *pflag.FlagSet, opts options, portArg string) (*broker.Config, error) {
	port, err := strconv.Atoi(portArg)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q: %w", portArg, err)
	}

	config := broker.NewConfig(port)
	if opts.configPath != "" {
		if config, err = broker.LoadConfig(opts.configPath); err != nil {
			return nil, err
		}
		config.Port = port
	}

	if flags.Changed("host") {
		config.WithHost(opts.host)
	}
	if flags.Changed("write-timeout") {
		config.WithWriteTimeout(opts.writeTimeout)
	}
	if flags.Changed("http-addr") {
		config.HTTPAddr = opts.httpAddr
	}
	if flags.Changed("grpc-addr") {
		config.WithGRPCAddr(opts.grpcAddr)
	}
	switch {
	case flags.Changed("admin-secret"):
		config.AdminSecret = opts.adminSecret
	case config.AdminSecret == "":
		config.AdminSecret = os.Getenv("TOPICRELAY_ADMIN_SECRET")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func newLogger(w io.Writer, level string, json bool) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if !json {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("app", appName).Logger(), nil
}

// serve runs the broker and the optional admin surfaces until the broker stops.
func serve(ctx context.Context, config *broker.Config, control io.Reader, logger zerolog.Logger) error {
	b, err := broker.New(config, broker.WithLogger(logger))
	if err != nil {
		return err
	}
	defer b.Close()

	if err := b.Start(ctx); err != nil {
		return err
	}

	var admin *adminrpc.Server
	if config.GRPCAddr != "" {
		admin, err = adminrpc.NewServer(b, &adminrpc.Config{ListenAddress: config.GRPCAddr}, logger)
		if err != nil {
			return err
		}
		go func() {
			if err := admin.Start(); err != nil {
				logger.Error().Err(err).Msg("admin gRPC stopped")
			}
		}()
		defer admin.Stop()
	}

	if config.HTTPAddr != "" {
		api, err := httpapi.NewServer(b, httpapi.Config{
			Addr:      config.HTTPAddr,
			SecretKey: config.AdminSecret,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := api.Start(); err != nil {
				logger.Error().Err(err).Msg("admin HTTP API stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := api.Stop(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				logger.Warn().Err(err).Msg("admin HTTP shutdown")
			}
		}()
	}

	if admin != nil {
		go func() {
			select {
			case <-b.Ready():
				admin.SetServing(true)
			case <-ctx.Done():
			}
		}()
	}

	err = b.Run(ctx, control)
	if admin != nil {
		admin.SetServing(false)
	}
	return err
}
