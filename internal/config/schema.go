package config

import (
	"fmt"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"
)

// OptionType is the kind of value an option accepts.
type OptionType string

// Option types.
const (
	TypeString   OptionType = "string"
	TypeBool     OptionType = "bool" // true/false, yes/no, 1/0, on/off
	TypeInt      OptionType = "int"
	TypeDuration OptionType = "duration" // time.ParseDuration syntax, e.g. "30s"
	TypeChoice   OptionType = "choice"   // one of ConfigOption.Choices
)

// ConfigOption declares one option of the config file.
type ConfigOption struct {
	Key     string
	Type    OptionType
	Choices []string
	// Default is the value used when neither the file nor the environment
	// set the option. "" means no default.
	Default     string
	Description string
	// Section is the [section] the option lives in; "" is global.
	Section string
	// EnvVar overrides the option when set.
	EnvVar string
}

type optionKey struct{ section, key string }

// ConfigSchema is the set of known options. It drives validation, help
// output and the defaults used by Resolve.
type ConfigSchema struct {
	options  []*ConfigOption
	index    map[optionKey]*ConfigOption
	sections map[string]bool
}

// NewSchema returns a schema with no options.
func NewSchema() *ConfigSchema {
	return &ConfigSchema{
		index:    map[optionKey]*ConfigOption{},
		sections: map[string]bool{},
	}
}

// Register declares opt. Registering a key twice in the same section
// replaces the earlier declaration.
func (s *ConfigSchema) Register(opt ConfigOption) {
	k := optionKey{opt.Section, opt.Key}
	if old, ok := s.index[k]; ok {
		*old = opt
		return
	}
	ref := &opt
	s.options = append(s.options, ref)
	s.index[k] = ref
	if opt.Section != "" {
		s.sections[opt.Section] = true
	}
}

// RegisterAll declares every option in opts.
func (s *ConfigSchema) RegisterAll(opts []ConfigOption) {
	for _, opt := range opts {
		s.Register(opt)
	}
}

// Lookup returns the declaration of key in section ("" for global), or nil.
func (s *ConfigSchema) Lookup(section, key string) *ConfigOption {
	return s.index[optionKey{section, key}]
}

// Options returns the declarations of a section in registration order.
func (s *ConfigSchema) Options(section string) []ConfigOption {
	var out []ConfigOption
	for _, o := range s.options {
		if o.Section == section {
			out = append(out, *o)
		}
	}
	return out
}

// Sections returns the sorted names of the non-global sections.
func (s *ConfigSchema) Sections() []string {
	out := make([]string, 0, len(s.sections))
	for name := range s.sections {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Value returns the effective raw value of an option: its environment
// variable if set, else the file value, else the default.
func (s *ConfigSchema) Value(c *Config, section, key string) string {
	opt := s.Lookup(section, key)
	if opt != nil && opt.EnvVar != "" {
		if v, ok := os.LookupEnv(opt.EnvVar); ok {
			return v
		}
	}
	if v, ok := c.GetSectionOption(section, key); ok {
		return v
	}
	if opt == nil {
		return ""
	}
	return opt.Default
}

// ValidateConfig returns the sorted problems of c against s: unknown
// sections, unknown options and ill-typed values.
func ValidateConfig(c *Config, s *ConfigSchema) []string {
	var issues []string
	check := func(section string, opts map[string]string) {
		for key, value := range opts {
			opt := s.Lookup(section, key)
			switch {
			case opt == nil && section == "":
				issues = append(issues, fmt.Sprintf("unknown global option: %q (value: %q)", key, value))
			case opt == nil:
				issues = append(issues, fmt.Sprintf("unknown option in [%s]: %q (value: %q)", section, key, value))
			default:
				err := validateValue(opt, value)
				if err == nil {
					continue
				}
				if section == "" {
					issues = append(issues, fmt.Sprintf("global option %q: %v", key, err))
				} else {
					issues = append(issues, fmt.Sprintf("option %q in [%s]: %v", key, section, err))
				}
			}
		}
	}
	check("", c.Global)
	for section, opts := range c.Sections {
		if !s.sections[section] {
			issues = append(issues, fmt.Sprintf("unknown section: [%s]", section))
			continue
		}
		check(section, opts)
	}
	sort.Strings(issues)
	return issues
}

func validateValue(opt *ConfigOption, value string) error {
	var err error
	switch opt.Type {
	case TypeString, "":
	case TypeBool:
		_, err = parseBool(value)
	case TypeInt:
		_, err = strconv.Atoi(value)
	case TypeDuration:
		_, err = time.ParseDuration(value)
	case TypeChoice:
		if !slices.Contains(opt.Choices, value) {
			return fmt.Errorf("expected one of %s, got %q", strings.Join(opt.Choices, ", "), value)
		}
	default:
		return fmt.Errorf("unknown option type %q", opt.Type)
	}
	if err != nil {
		return fmt.Errorf("expected %s, got %q", opt.Type, value)
	}
	return nil
}

// FormatHelp renders the option reference, global options first, then
// one block per section.
func (s *ConfigSchema) FormatHelp() string {
	var b strings.Builder
	if opts := s.Options(""); len(opts) > 0 {
		b.WriteString("Global Options:\n")
		for _, o := range opts {
			b.WriteString(optionHelp(o))
		}
	}
	for _, name := range s.Sections() {
		fmt.Fprintf(&b, "\n[%s] Options:\n", name)
		for _, o := range s.Options(name) {
			b.WriteString(optionHelp(o))
		}
	}
	return b.String()
}

func optionHelp(o ConfigOption) string {
	var notes []string
	switch o.Type {
	case TypeString, "":
	case TypeChoice:
		notes = append(notes, "one of: "+strings.Join(o.Choices, "|"))
	default:
		notes = append(notes, "type: "+string(o.Type))
	}
	if o.Default != "" {
		notes = append(notes, "default: "+o.Default)
	}
	if o.EnvVar != "" {
		notes = append(notes, "env: "+o.EnvVar)
	}
	line := fmt.Sprintf("  %-20s %s", o.Key, o.Description)
	if len(notes) > 0 {
		line += " (" + strings.Join(notes, ", ") + ")"
	}
	return line + "\n"
}

// DefaultSchema returns the schema of every realm-rpc option.
func DefaultSchema() *ConfigSchema {
	s := NewSchema()
	s.RegisterAll([]ConfigOption{
		{Key: "listen", Type: TypeString, Default: "127.0.0.1:8910", Description: "gRPC listen address", EnvVar: "REALM_RPC_LISTEN"},
		{Key: "mode", Type: TypeChoice, Choices: []string{"loop", "poll"}, Default: "loop", Description: "Engine execution mode", EnvVar: "REALM_RPC_MODE"},
		{Key: "log-level", Type: TypeChoice, Choices: []string{"debug", "info", "warn", "error"}, Default: "info", Description: "Minimum log level", EnvVar: "REALM_RPC_LOG_LEVEL"},
		{Key: "log-format", Type: TypeChoice, Choices: []string{"text", "json"}, Default: "text", Description: "Log output format", EnvVar: "REALM_RPC_LOG_FORMAT"},
		{Key: "transport", Type: TypeChoice, Choices: []string{"grpc", "stdio"}, Default: "grpc", Description: "Transport used by serve", EnvVar: "REALM_RPC_TRANSPORT"},
		{Key: "http-timeout", Type: TypeDuration, Default: "30s", Description: "Timeout of app HTTP requests", EnvVar: "REALM_RPC_HTTP_TIMEOUT"},
		{Key: "health", Type: TypeBool, Default: "true", Description: "Register the gRPC health service", EnvVar: "REALM_RPC_HEALTH"},
		{Key: "max-message-mb", Type: TypeInt, Default: "16", Description: "Largest gRPC message accepted, in MiB", EnvVar: "REALM_RPC_MAX_MESSAGE_MB"},
		{Key: "otel-endpoint", Type: TypeString, Default: "", Description: "OTLP/HTTP trace endpoint; empty disables tracing", EnvVar: "REALM_RPC_OTEL_ENDPOINT"},
		{Key: "base-url", Section: "app", Type: TypeString, Default: "https://realm.mongodb.com", Description: "Default app server URL", EnvVar: "REALM_RPC_BASE_URL"},
	})
	return s
}
