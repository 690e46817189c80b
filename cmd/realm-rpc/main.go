// Command realm-rpc hosts a Realm script engine and serves it to remote
// clients over gRPC or newline-delimited JSON.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/SACHINnANYAKKARA/realm-js/internal/command"
	"github.com/SACHINnANYAKKARA/realm-js/internal/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, configPath, err := config.Load()
	if err != nil {
		return err
	}
	settings, err := config.Resolve(cfg)
	if err != nil {
		return err
	}
	return newRegistry(cfg, configPath, settings, stdin).Run(args, stdout, stderr)
}

func newRegistry(cfg *config.Config, configPath string, settings config.Settings, stdin io.Reader) *command.Registry {
	registry := command.NewRegistry("realm-rpc")
	registry.Register(command.NewHelpCommand(registry))
	registry.Register(command.NewVersionCommand(version))
	registry.Register(command.NewConfigCommand(cfg, configPath))
	registry.Register(command.NewServeCommand(settings, stdin))
	registry.Register(command.NewStdioCommand(settings, stdin))
	registry.Register(command.NewCallCommand(settings))
	return registry
}
