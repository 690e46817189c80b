package command

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SACHINnANYAKKARA/realm-js/internal/config"
	"github.com/SACHINnANYAKKARA/realm-js/internal/logging"
	"github.com/SACHINnANYAKKARA/realm-js/internal/rpc"
	"github.com/SACHINnANYAKKARA/realm-js/internal/telemetry"
)

const tracingFlushTimeout = 5 * time.Second

// host carries the flags and wiring shared by the commands that run an
// engine. Flag defaults come from the resolved settings.
type host struct {
	settings  config.Settings
	mode      string
	logLevel  string
	logFormat string

	// ctxFactory creates the execution context. If nil, the context is
	// cancelled on SIGINT or SIGTERM. Tests set it to avoid signal handling.
	ctxFactory func() (context.Context, context.CancelFunc)
}

func (h *host) setupFlags(fs *flag.FlagSet) {
	fs.StringVar(&h.mode, "mode", h.settings.Mode, "Engine execution mode: loop or poll")
	fs.StringVar(&h.logLevel, "log-level", h.settings.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&h.logFormat, "log-format", h.settings.LogFormat, "Log format (text, json)")
}

func (h *host) context() (context.Context, context.CancelFunc) {
	if h.ctxFactory != nil {
		return h.ctxFactory()
	}
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// logger builds the process logger. Logs always go to stderr; stdout may
// carry protocol traffic.
func (h *host) logger(stderr io.Writer) (*slog.Logger, error) {
	level, err := logging.ParseLevel(h.logLevel)
	if err != nil {
		return nil, err
	}
	return logging.New(stderr, logging.Options{Level: level, Format: h.logFormat})
}

// start creates the bridge and, when an endpoint is configured, installs
// tracing. In poll mode the engine is pumped on a goroutine until ctx ends.
// The returned function closes the bridge, waits for that goroutine and
// flushes pending spans.
func (h *host) start(ctx context.Context, logger *slog.Logger) (*rpc.Server, func(), error) {
	mode, err := rpc.ParseMode(h.mode)
	if err != nil {
		return nil, nil, err
	}
	shutdownTracing, err := telemetry.Setup(ctx, h.settings.OTelEndpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("setup tracing: %w", err)
	}
	srv, err := rpc.NewServer(rpc.Options{
		Mode:        mode,
		Logger:      logger,
		BaseURL:     h.settings.BaseURL,
		HTTPTimeout: h.settings.HTTPTimeout,
	})
	if err != nil {
		_ = shutdownTracing(context.Background())
		return nil, nil, err
	}
	done := make(chan struct{})
	if mode == rpc.ModePoll {
		go func() {
			defer close(done)
			if err := srv.Engine().Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("engine stopped", "error", err)
			}
		}()
	} else {
		close(done)
	}
	logger.Debug("engine started", "mode", string(mode))
	return srv, func() {
		_ = srv.Close()
		<-done
		flushCtx, cancel := context.WithTimeout(context.Background(), tracingFlushTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("flush traces", "error", err)
		}
	}, nil
}
