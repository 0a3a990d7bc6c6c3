// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/Thermoquad/kegelbridge/pkg/analyzer"
	"github.com/Thermoquad/kegelbridge/pkg/comport"
	"github.com/Thermoquad/kegelbridge/pkg/config"
	"github.com/Thermoquad/kegelbridge/pkg/gateway"
	"github.com/Thermoquad/kegelbridge/pkg/lanestats"
	"github.com/Thermoquad/kegelbridge/pkg/logsink"
	"github.com/Thermoquad/kegelbridge/pkg/metrics"
	"github.com/Thermoquad/kegelbridge/pkg/sockets"
	"github.com/Thermoquad/kegelbridge/pkg/wsbridge"
)

var (
	configPath    string
	useTUI        bool
	listenAddr    string
	noListen      bool
	metricsAddr   string
	wsAddr        string
	statsInterval int
	logFile       string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the gateway between the lanes and the scoring application",
	Long: `Open com_x (lane side) and com_y (application side) and relay frames between them.

Every frame seen on either port is mirrored to TCP clients of the socket
server (default_ip:default_port), and to WebSocket clients at ws_addr/ws_path
when ws_addr is set. Frames sent by these clients are queued toward the lanes.
With ws_username set, WebSocket clients must log in with HTTP Basic auth; the
password is read from KEGELBRIDGE_PASSWORD. After each request written to the lanes the gateway waits
for the addressed lane to answer and keeps response time statistics per lane;
unanswered requests are sent again up to response_retry_limit times.

With --tui a terminal UI shows connections, lane statistics and recent events:
  m  clear maximum      w  clear warnings      a  clear all statistics
  x  clear socket backlog
  e  send Enter (T24) to the lane typed in the input
  q  quit`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&configPath, "config", "c", "config.json", "Configuration file")
	runCmd.Flags().BoolVar(&useTUI, "tui", false, "Use terminal UI")
	runCmd.Flags().StringVar(&listenAddr, "listen", "", "Socket server address host:port (overrides default_ip/default_port)")
	runCmd.Flags().BoolVar(&noListen, "no-listen", false, "Do not open the socket server")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus listen address (overrides metrics_addr)")
	runCmd.Flags().StringVar(&wsAddr, "ws-addr", "", "WebSocket listen address (overrides ws_addr)")
	runCmd.Flags().IntVar(&statsInterval, "stats-interval", 60, "Lane statistics print interval in seconds (0 disables, text mode only)")
	runCmd.Flags().StringVar(&logFile, "log-file", "", "Write logs to this file instead of stderr")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig()
	if err != nil {
		return err
	}

	rec := logsink.NewRecorder(cfg.RecentEvents)
	sink, closeLog, err := buildSink(cfg, rec)
	if err != nil {
		return err
	}
	defer closeLog()

	m := metrics.New()
	g, err := openGateway(cfg, sink, m)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		if err := serveMetrics(ctx, cfg.MetricsAddr, m, sink); err != nil {
			return multierr.Append(err, g.Close())
		}
	}

	if cfg.WSAddr != "" {
		if err := serveWebSocket(ctx, cfg, g, sink); err != nil {
			return multierr.Append(err, g.Close())
		}
	}

	if useTUI {
		err = runGatewayTUI(ctx, g, rec, cfg)
	} else {
		err = runGatewayText(ctx, g, cmd.OutOrStdout())
	}

	if closeErr := g.Close(); closeErr != nil && !errors.Is(closeErr, gateway.ErrClosed) {
		err = multierr.Append(err, closeErr)
	}
	return err
}

// loadRunConfig reads the configuration file and applies flag overrides
func loadRunConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if err := applyOverrides(&cfg); err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Config) error {
	if listenAddr != "" {
		host, port, err := net.SplitHostPort(listenAddr)
		if err != nil {
			return fmt.Errorf("%w: --listen %q: %v", config.ErrInvalid, listenAddr, err)
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("%w: --listen port %q", config.ErrInvalid, port)
		}
		cfg.DefaultIP = host
		cfg.DefaultPort = p
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	if wsAddr != "" {
		cfg.WSAddr = wsAddr
	}
	if minLogPriority >= 0 {
		cfg.MinLogPriority = minLogPriority
	}
	return nil
}

// buildSink creates the event sink: slog output and the recorder behind a
// priority filter. In TUI mode slog output only goes to --log-file.
func buildSink(cfg config.Config, rec *logsink.Recorder) (logsink.Sink, func(), error) {
	var out io.Writer = os.Stderr
	closeLog := func() {}

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closeLog = func() { _ = f.Close() }
	} else if useTUI {
		out = nil
	}

	sinks := []logsink.Sink{rec.Sink()}
	if out != nil {
		logger := logsink.NewSlogLogger(logsink.Options{
			Output: out,
			Pretty: prettyLogs,
			Level:  slog.LevelDebug,
		})
		sinks = append(sinks, logsink.FromSlog(logger))
	}
	return logsink.Filter(logsink.Tee(sinks...), cfg.MinLogPriority), closeLog, nil
}

// gatewayConfig converts file settings into loop timing
func gatewayConfig(cfg config.Config) gateway.Config {
	return gateway.Config{
		Lanes:      cfg.NumberOfLanes,
		Interval:   cfg.Interval(),
		MaxWait:    cfg.MaxWaitDuration(),
		Critical:   cfg.CriticalDuration(),
		Warning:    cfg.WarningDuration(),
		RetryLimit: cfg.ResponseRetryLimit,
	}
}

// buildAnalyzers registers the plugins enabled in the configuration
func buildAnalyzers(cfg config.Config, sink logsink.Sink) (*analyzer.Chain, error) {
	chain := analyzer.NewChain(sink)
	a := cfg.Analyzers

	if a.ClearOffLimit > 0 && a.ClearOffMessage != "" {
		chain.Register(analyzer.NewClearOffLimiter(cfg.NumberOfLanes, a.ClearOffLimit, a.ClearOffMessage, sink))
	}

	if a.ResultCarryOver != "" && a.ResultCarryOver != config.CarryOverOff {
		mode, err := analyzer.ParseCarryOverMode(a.ResultCarryOver)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
		}
		carry := analyzer.NewResultCarryOver(cfg.NumberOfLanes, mode, sink)
		for lane, v := range a.CarryOverValues {
			carry.SetValue(lane, v)
		}
		chain.Register(carry)
	}
	return chain, nil
}

// openGateway opens both serial ports and the socket server
func openGateway(cfg config.Config, sink logsink.Sink, m *metrics.Gateway) (*gateway.Gateway, error) {
	chain, err := buildAnalyzers(cfg, sink)
	if err != nil {
		return nil, err
	}

	portOpts := []comport.Option{
		comport.WithReadTimeout(cfg.ReadTimeout()),
		comport.WithWriteTimeout(cfg.WriteTimeout()),
		comport.WithLogger(sink),
	}
	x, err := comport.Open(cfg.ComX, "COM_X", portOpts...)
	if err != nil {
		return nil, err
	}
	y, err := comport.Open(cfg.ComY, "COM_Y", portOpts...)
	if err != nil {
		return nil, multierr.Append(err, x.Close())
	}

	fan := sockets.New(sockets.WithLogger(sink))
	g, err := gateway.New(gatewayConfig(cfg), x, y, fan,
		gateway.WithLogger(sink),
		gateway.WithAnalyzers(chain),
		gateway.WithMetrics(m),
	)
	if err != nil {
		return nil, multierr.Combine(err, x.Close(), y.Close())
	}

	if !noListen {
		// A failed bind is logged as SKT_CREA_ERROR and shown in the TUI
		// header; frames keep collecting in the backlog.
		_ = g.Listen(cfg.DefaultIP, cfg.DefaultPort)
	}
	return g, nil
}

// serveMetrics starts the Prometheus endpoint in the background
func serveMetrics(ctx context.Context, addr string, m *metrics.Gateway, sink logsink.Sink) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := m.Register(reg); err != nil {
		return err
	}
	go func() {
		// Serve logs its own failures
		_ = metrics.Serve(ctx, addr, reg, sink)
	}()
	return nil
}

// serveWebSocket starts the WebSocket stream in the background
func serveWebSocket(ctx context.Context, cfg config.Config, g *gateway.Gateway, sink logsink.Sink) error {
	opts := []wsbridge.HandlerOption{wsbridge.WithLogger(sink)}
	if cfg.WSUsername != "" {
		password := os.Getenv(passwordEnv)
		if password == "" {
			return fmt.Errorf("%w: ws_username is set but %s is empty", config.ErrInvalid, passwordEnv)
		}
		opts = append(opts, wsbridge.WithBasicAuth(cfg.WSUsername, password))
	}

	h := wsbridge.NewHandler(g, opts...)
	go func() {
		// Serve logs its own failures
		_ = wsbridge.Serve(ctx, cfg.WSAddr, cfg.WSPath, h, sink)
	}()
	return nil
}

// runGatewayText runs the loop and prints the lane statistics table every
// --stats-interval seconds.
func runGatewayText(ctx context.Context, g *gateway.Gateway, out io.Writer) error {
	if statsInterval > 0 {
		go func() {
			ticker := time.NewTicker(time.Duration(statsInterval) * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					fmt.Fprintf(out, "\n%s", lanestats.Format(g.LaneStats()))
				}
			}
		}()
	}
	return g.Run(ctx)
}
