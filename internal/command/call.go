package command

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"

	"github.com/SACHINnANYAKKARA/realm-js/internal/config"
	"github.com/SACHINnANYAKKARA/realm-js/internal/rpc"
	"github.com/SACHINnANYAKKARA/realm-js/internal/transport"
)

// CallCommand sends one request to a running gRPC bridge.
type CallCommand struct {
	*BaseCommand
	settings config.Settings
	addr     string
	timeout  time.Duration
	wait     bool

	// dialOptions are appended to the transport defaults; tests use them
	// to dial an in-memory listener.
	dialOptions []grpc.DialOption
}

// NewCallCommand creates a new call command.
func NewCallCommand(settings config.Settings) *CallCommand {
	return &CallCommand{
		BaseCommand: NewBaseCommand(
			"call",
			"Send one request to a running bridge and print the response",
			"call [options] <action> [json-args]",
		),
		settings: settings,
	}
}

// SetupFlags configures the flags for the call command.
func (c *CallCommand) SetupFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.addr, "addr", c.settings.Listen, "Address of the bridge")
	fs.DurationVar(&c.timeout, "timeout", 30*time.Second, "Overall deadline, including -wait")
	fs.BoolVar(&c.wait, "wait", false, "Wait for the health service to report SERVING first")
}

// Execute sends the request and prints the response as JSON.
func (c *CallCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 || len(args) > 2 {
		_, _ = fmt.Fprintf(stderr, "Usage: %s\n", c.Usage())
		return fmt.Errorf("expected an action and optional JSON arguments")
	}
	reqArgs := rpc.Message{}
	if len(args) == 2 {
		if err := json.Unmarshal([]byte(args[1]), &reqArgs); err != nil {
			return fmt.Errorf("invalid JSON arguments: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	client, err := transport.Dial(c.addr, c.dialOptions...)
	if err != nil {
		return err
	}
	defer client.Close()

	if c.wait {
		if err := client.WaitForHealth(ctx); err != nil {
			return err
		}
	}
	resp, err := client.PerformRequest(ctx, args[0], reqArgs)
	if err != nil {
		return fmt.Errorf("call %s: %w", args[0], err)
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
