package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/vango-dev/taskwire/internal/config"
	"github.com/vango-dev/taskwire/internal/errors"
	"github.com/vango-dev/taskwire/pkg/client"
	"github.com/vango-dev/taskwire/pkg/pool"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	server     string
	codec      string
	logLevel   string
	logFormat  string
	noColor    bool
}

func (f *globalFlags) bind(fs *pflag.FlagSet) {
	fs.StringVarP(&f.configPath, "config", "c", "", "Config file (default: ./taskwire.json or ./taskwire.yaml)")
	fs.StringVar(&f.server, "server", "", "Server address, e.g. ws://localhost:8080 (overrides config)")
	fs.StringVar(&f.codec, "codec", "", "Wire codec: json, msgpack or cbor (overrides config)")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&f.logFormat, "log-format", "", "Log format: text or json")
	fs.BoolVar(&f.noColor, "no-color", false, "Disable coloured output")
}

// app carries what every command needs once flags are parsed.
type app struct {
	flags  globalFlags
	cfg    *config.Config
	log    *slog.Logger
	stdout io.Writer
	color  bool
	pool   *pool.Pool
}

func main() {
	a := &app{stdout: os.Stdout}
	err := a.rootCmd().Execute()
	a.close()
	if err != nil {
		errors.Print(os.Stderr, errors.Explain(err))
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "taskwire",
		Short: "Talk to a taskwire server over websocket",
		Long: `taskwire is a client for the task scheduling server.

It sends requests, streams server pushes, manages tasks and WeChat
users, and can run a reference server for local development.

Examples:
  taskwire request /task/list '{"keyword":"report"}'
  taskwire watch block_num info
  taskwire tasks add --name "daily report" --type fixTime --time 1767254400000
  taskwire serve --listen :8080`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	a.flags.bind(root.PersistentFlags())

	root.AddCommand(
		a.requestCmd(),
		a.watchCmd(),
		a.tasksCmd(),
		a.wxusersCmd(),
		a.serveCmd(),
		a.configCmd(),
		versionCmd(),
	)
	return root
}

// setup loads config, applies flag overrides and builds the logger.
func (a *app) setup() error {
	a.color = !a.flags.noColor && term.IsTerminal(int(os.Stdout.Fd()))
	errors.SetColor(!a.flags.noColor && term.IsTerminal(int(os.Stderr.Fd())))

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if a.flags.server != "" {
		cfg.Server.Address = a.flags.server
	}
	if a.flags.codec != "" {
		cfg.Server.Codec = a.flags.codec
	}
	if a.flags.logLevel != "" {
		cfg.Log.Level = a.flags.logLevel
	}
	if a.flags.logFormat != "" {
		cfg.Log.Format = a.flags.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	level, _ := cfg.SlogLevel()
	hopts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, hopts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, hopts)
	}
	a.log = slog.New(handler)
	slog.SetDefault(a.log)
	return nil
}

func (a *app) loadConfig() (*config.Config, error) {
	if a.flags.configPath != "" {
		return config.LoadFile(a.flags.configPath)
	}
	cfg, err := config.Load(".")
	if err == nil {
		return cfg, nil
	}
	var coded *errors.Error
	if stderrors.As(err, &coded) && coded.Code == "TW100" {
		cfg = config.New()
		cfg.ApplyEnv(os.LookupEnv)
		return cfg, nil
	}
	return nil, err
}

// connect returns a connected client from the shared pool.
func (a *app) connect(ctx context.Context) (*client.Client, error) {
	if a.pool == nil {
		opts, err := a.cfg.ClientOptions()
		if err != nil {
			return nil, err
		}
		opts = append(opts, client.WithLogger(a.log))
		if a.cfg.Metrics.Enabled {
			opts = append(opts, client.WithMetrics(client.NewMetrics(
				client.WithNamespace(a.cfg.Metrics.Namespace),
			)))
			a.serveMetrics(prometheus.DefaultGatherer)
		}
		a.pool = pool.New(func(addr string) *client.Client {
			return client.New(addr, opts...)
		}, a.log)
	}
	h, err := a.pool.Acquire(ctx, a.cfg.URL())
	if err != nil {
		return nil, err
	}
	return h.Client(), nil
}

// close releases every pooled client.
func (a *app) close() {
	if a.pool != nil {
		if err := a.pool.Close(); err != nil {
			a.log.Debug("pool close", "error", err)
		}
		a.pool = nil
	}
}

func (a *app) serveMetrics(g prometheus.Gatherer) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	go func() {
		a.log.Info("metrics listening", "address", a.cfg.Metrics.Listen)
		if err := http.ListenAndServe(a.cfg.Metrics.Listen, mux); err != nil {
			a.log.Error("metrics server stopped", "error", err)
		}
	}()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func (a *app) paint(code, text string) string {
	if !a.color {
		return text
	}
	return code + text + "\033[0m"
}

// success prints a success message.
func (a *app) success(format string, args ...any) {
	fmt.Fprintf(a.stdout, "%s %s\n", a.paint("\033[32m", "✓"), fmt.Sprintf(format, args...))
}

// info prints an indented note.
func (a *app) info(format string, args ...any) {
	fmt.Fprintf(a.stdout, "  %s\n", fmt.Sprintf(format, args...))
}
