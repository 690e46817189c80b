package command

import (
	"flag"
	"fmt"
	"io"
	"net"

	"github.com/SACHINnANYAKKARA/realm-js/internal/config"
	"github.com/SACHINnANYAKKARA/realm-js/internal/transport"
)

// ServeCommand hosts the bridge for remote clients.
type ServeCommand struct {
	*BaseCommand
	host
	listen    string
	transport string
	health    bool
	stdin     io.Reader

	// listenFunc opens the gRPC listener; tests substitute an in-memory one.
	listenFunc func(addr string) (net.Listener, error)
}

// NewServeCommand creates a new serve command. stdin is read when the
// transport is stdio.
func NewServeCommand(settings config.Settings, stdin io.Reader) *ServeCommand {
	return &ServeCommand{
		BaseCommand: NewBaseCommand(
			"serve",
			"Serve the bridge over gRPC (or stdio)",
			"serve [options]",
		),
		host:  host{settings: settings},
		stdin: stdin,
		listenFunc: func(addr string) (net.Listener, error) {
			return net.Listen("tcp", addr)
		},
	}
}

// SetupFlags configures the flags for the serve command.
func (c *ServeCommand) SetupFlags(fs *flag.FlagSet) {
	c.setupFlags(fs)
	fs.StringVar(&c.listen, "listen", c.settings.Listen, "gRPC listen address")
	fs.StringVar(&c.transport, "transport", c.settings.Transport, "Transport: grpc or stdio")
	fs.BoolVar(&c.health, "health", c.settings.Health, "Register the gRPC health service")
}

// Execute serves until interrupted.
func (c *ServeCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		_, _ = fmt.Fprintf(stderr, "unexpected arguments: %v\n", args)
		return fmt.Errorf("unexpected arguments")
	}
	logger, err := c.logger(stderr)
	if err != nil {
		return err
	}
	ctx, cancel := c.context()
	defer cancel()

	srv, stop, err := c.start(ctx, logger)
	if err != nil {
		return err
	}
	defer stop()

	switch c.transport {
	case "stdio":
		return transport.ServeStdio(ctx, srv, c.stdin, stdout, logger)
	case "grpc":
	default:
		return fmt.Errorf("unknown transport: %s", c.transport)
	}

	lis, err := c.listenFunc(c.listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", c.listen, err)
	}
	grpcServer := transport.NewGRPCServer(srv, transport.ServerOptions{
		Health:          c.health,
		MaxMessageBytes: c.settings.MaxMessageMB << 20,
		Logger:          logger,
	})
	return grpcServer.Serve(ctx, lis)
}

// StdioCommand serves the bridge over stdin and stdout.
type StdioCommand struct {
	*BaseCommand
	host
	stdin io.Reader
}

// NewStdioCommand creates a new stdio command reading from stdin.
func NewStdioCommand(settings config.Settings, stdin io.Reader) *StdioCommand {
	return &StdioCommand{
		BaseCommand: NewBaseCommand(
			"stdio",
			"Serve the bridge as newline-delimited JSON on stdin/stdout",
			"stdio [options]",
		),
		host:  host{settings: settings},
		stdin: stdin,
	}
}

// SetupFlags configures the flags for the stdio command.
func (c *StdioCommand) SetupFlags(fs *flag.FlagSet) {
	c.setupFlags(fs)
}

// Execute serves until end of input or interruption.
func (c *StdioCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		_, _ = fmt.Fprintf(stderr, "unexpected arguments: %v\n", args)
		return fmt.Errorf("unexpected arguments")
	}
	logger, err := c.logger(stderr)
	if err != nil {
		return err
	}
	ctx, cancel := c.context()
	defer cancel()

	srv, stop, err := c.start(ctx, logger)
	if err != nil {
		return err
	}
	defer stop()
	return transport.ServeStdio(ctx, srv, c.stdin, stdout, logger)
}
