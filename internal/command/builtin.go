package command

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/SACHINnANYAKKARA/realm-js/internal/config"
)

// HelpCommand displays help information for commands.
type HelpCommand struct {
	*BaseCommand
	registry *Registry
}

// NewHelpCommand creates a new help command.
func NewHelpCommand(registry *Registry) *HelpCommand {
	return &HelpCommand{
		BaseCommand: NewBaseCommand(
			"help",
			"Display help information for commands",
			"help [command]",
		),
		registry: registry,
	}
}

// Execute displays help information.
func (c *HelpCommand) Execute(args []string, stdout, stderr io.Writer) error {
	program := c.registry.Program()
	if len(args) == 0 {
		_, _ = fmt.Fprintf(stdout, "%s - drive a Realm script engine from another process\n\n", program)
		_, _ = fmt.Fprintf(stdout, "Usage: %s <command> [options] [args...]\n\n", program)
		_, _ = fmt.Fprintln(stdout, "Available commands:")
		w := tabwriter.NewWriter(stdout, 0, 8, 2, ' ', 0)
		for _, name := range c.registry.List() {
			if cmd, err := c.registry.Get(name); err == nil {
				_, _ = fmt.Fprintf(w, "  %s\t%s\n", name, cmd.Description())
			}
		}
		_ = w.Flush()
		_, _ = fmt.Fprintf(stdout, "\nUse '%s help <command>' for more information about a command.\n", program)
		return nil
	}

	cmd, err := c.registry.Get(args[0])
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		return err
	}
	_, _ = fmt.Fprintf(stdout, "Command: %s\n", cmd.Name())
	_, _ = fmt.Fprintf(stdout, "Description: %s\n", cmd.Description())
	_, _ = fmt.Fprintf(stdout, "Usage: %s %s\n", program, cmd.Usage())

	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	buf := &bytes.Buffer{}
	fs.SetOutput(buf)
	cmd.SetupFlags(fs)
	fs.PrintDefaults()
	if buf.Len() > 0 {
		_, _ = fmt.Fprintln(stdout, "\nFlags:")
		_, _ = fmt.Fprint(stdout, buf.String())
	}
	return nil
}

// VersionCommand displays version information.
type VersionCommand struct {
	*BaseCommand
	version string
}

// NewVersionCommand creates a new version command.
func NewVersionCommand(version string) *VersionCommand {
	return &VersionCommand{
		BaseCommand: NewBaseCommand(
			"version",
			"Display version information",
			"version",
		),
		version: version,
	}
}

// Execute displays version information.
func (c *VersionCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		_, _ = fmt.Fprintf(stderr, "unexpected arguments: %v\n", args)
		return fmt.Errorf("unexpected arguments")
	}
	_, _ = fmt.Fprintf(stdout, "realm-rpc version %s\n", c.version)
	return nil
}

// ConfigCommand shows and edits the configuration.
type ConfigCommand struct {
	*BaseCommand
	config     *config.Config
	configPath string
}

// NewConfigCommand creates a new config command. Values set through it are
// written to configPath; an empty path resolves the default location.
func NewConfigCommand(cfg *config.Config, configPath string) *ConfigCommand {
	return &ConfigCommand{
		BaseCommand: NewBaseCommand(
			"config",
			"Show or change configuration settings",
			"config [show | schema | validate | path | get <key> | set <key> <value>]",
		),
		config:     cfg,
		configPath: configPath,
	}
}

// Execute runs a config subcommand; the default is show.
func (c *ConfigCommand) Execute(args []string, stdout, stderr io.Writer) error {
	schema := config.DefaultSchema()
	sub := "show"
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}
	want := map[string]int{"show": 0, "schema": 0, "validate": 0, "path": 0, "get": 1, "set": 2}
	n, ok := want[sub]
	if !ok {
		_, _ = fmt.Fprintf(stderr, "unknown config subcommand: %s\n", sub)
		return fmt.Errorf("unknown config subcommand: %s", sub)
	}
	if len(args) != n {
		_, _ = fmt.Fprintf(stderr, "Usage: %s\n", c.Usage())
		return fmt.Errorf("config %s takes %d argument(s), got %d", sub, n, len(args))
	}

	switch sub {
	case "schema":
		_, _ = fmt.Fprint(stdout, schema.FormatHelp())
	case "validate":
		issues := config.ValidateConfig(c.config, schema)
		if len(issues) == 0 {
			_, _ = fmt.Fprintln(stdout, "Configuration is valid.")
			return nil
		}
		_, _ = fmt.Fprintf(stdout, "Configuration has %d issue(s):\n", len(issues))
		for _, issue := range issues {
			_, _ = fmt.Fprintf(stdout, "  - %s\n", issue)
		}
	case "path":
		path, err := c.path()
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(stdout, path)
	case "get":
		section, key, opt := lookupKey(schema, args[0])
		if opt == nil {
			return fmt.Errorf("unknown configuration key: %s", args[0])
		}
		_, _ = fmt.Fprintln(stdout, schema.Value(c.config, section, key))
	case "set":
		section, key, opt := lookupKey(schema, args[0])
		if opt == nil {
			return fmt.Errorf("unknown configuration key: %s", args[0])
		}
		c.config.SetSectionOption(section, key, args[1])
		check := config.NewConfig()
		check.SetSectionOption(section, key, args[1])
		warnAll(stderr, config.ValidateConfig(check, schema))
		path, err := c.path()
		if err != nil {
			return err
		}
		if err := config.SetKeyInFile(path, section, key, args[1]); err != nil {
			return fmt.Errorf("failed to persist config: %w", err)
		}
		_, _ = fmt.Fprintf(stdout, "Set %s = %s in %s\n", args[0], args[1], path)
	default:
		w := tabwriter.NewWriter(stdout, 0, 8, 2, ' ', 0)
		for _, section := range append([]string{""}, schema.Sections()...) {
			for _, opt := range schema.Options(section) {
				_, _ = fmt.Fprintf(w, "%s\t%s\n", qualified(section, opt.Key), schema.Value(c.config, section, opt.Key))
			}
		}
		_ = w.Flush()
		for _, warning := range c.config.Warnings {
			_, _ = fmt.Fprintf(stderr, "warning: %s\n", warning)
		}
	}
	return nil
}

func (c *ConfigCommand) path() (string, error) {
	if c.configPath != "" {
		return c.configPath, nil
	}
	path, err := config.GetConfigPath()
	if err != nil {
		return "", errors.Join(errors.New("cannot locate the config file"), err)
	}
	return path, nil
}

// lookupKey resolves "key" or "section.key".
func lookupKey(schema *config.ConfigSchema, name string) (section, key string, opt *config.ConfigOption) {
	if opt := schema.Lookup("", name); opt != nil {
		return "", name, opt
	}
	if section, key, ok := strings.Cut(name, "."); ok {
		return section, key, schema.Lookup(section, key)
	}
	return "", name, nil
}

func qualified(section, key string) string {
	if section == "" {
		return key
	}
	return section + "." + key
}

func warnAll(w io.Writer, issues []string) {
	for _, issue := range issues {
		_, _ = fmt.Fprintf(w, "warning: %s\n", issue)
	}
}
