package model

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	DefaultConcurrency = 4
	DefaultTimeout     = 30 * time.Second
	DefaultGrace       = 2 * time.Second
	DefaultHostFlag    = "-H"

	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// DefaultStripPrefixes are removed from a plugin status before it is
// classified. IPMI plugins prefix every status with it.
var DefaultStripPrefixes = []string{"IPMI Status: "}

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

type Config struct {
	Version     int       `json:"version" yaml:"version"` // fixed 0 for now
	Hosts       []string  `json:"hosts,omitempty" yaml:"hosts,omitempty"`
	Concurrency int       `json:"concurrency,omitempty" yaml:"concurrency"`
	Verbose     bool      `json:"verbose,omitempty" yaml:"verbose"`
	Check       Check     `json:"check" yaml:"check"`
	Metrics     Telemetry `json:"metrics" yaml:"metrics"`
	Tracing     Telemetry `json:"tracing" yaml:"tracing"`
}

// Check describes how a single target is checked.
type Check struct {
	Plugin        string            `json:"plugin,omitempty" yaml:"plugin"`
	Args          string            `json:"args,omitempty" yaml:"args,omitempty"` // appended verbatim
	HostFlag      string            `json:"host_flag,omitempty" yaml:"host_flag"`
	Shell         string            `json:"shell,omitempty" yaml:"shell,omitempty"`
	Timeout       Duration          `json:"timeout" yaml:"timeout"` // per job
	Grace         Duration          `json:"grace" yaml:"grace"`     // extra wait on top of Timeout
	StripPrefixes []string          `json:"strip_prefixes,omitempty" yaml:"strip_prefixes"`
	Env           map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// Environ returns Env as sorted key=value pairs. Keys are kept as written,
// values starting with $ are expanded from the environment.
func (c Check) Environ() []string {
	env := make([]string, 0, len(c.Env))
	for k, v := range c.Env {
		if strings.HasPrefix(v, "$") {
			v = os.ExpandEnv(v)
		}
		env = append(env, k+"="+v)
	}
	slices.Sort(env)
	return env
}

// Telemetry selects an OpenTelemetry exporter: none, stdout or otlp.
type Telemetry struct {
	Exporter string `json:"exporter" yaml:"exporter"`
}

// DefaultConfig returns the configuration used when no file is found.
func DefaultConfig() Config {
	return Config{
		Concurrency: DefaultConcurrency,
		Check: Check{
			HostFlag:      DefaultHostFlag,
			Timeout:       NewDuration(DefaultTimeout),
			Grace:         NewDuration(DefaultGrace),
			StripPrefixes: append([]string(nil), DefaultStripPrefixes...),
		},
		Metrics: Telemetry{Exporter: ExporterNone},
		Tracing: Telemetry{Exporter: ExporterNone},
	}
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
// Fields missing in the file get their default values.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}

	return out.WithDefaults(), nil
}

// WithDefaults fills zero values with defaults.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Concurrency == 0 {
		c.Concurrency = d.Concurrency
	}
	if c.Check.HostFlag == "" {
		c.Check.HostFlag = d.Check.HostFlag
	}
	if c.Check.Timeout.Duration == 0 {
		c.Check.Timeout = d.Check.Timeout
	}
	if c.Check.Grace.Duration == 0 {
		c.Check.Grace = d.Check.Grace
	}
	if c.Check.StripPrefixes == nil {
		c.Check.StripPrefixes = d.Check.StripPrefixes
	}
	if c.Metrics.Exporter == "" {
		c.Metrics.Exporter = ExporterNone
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = ExporterNone
	}
	return c
}

// Validate is called once all config sources were merged and before any
// check runs. The plugin must be resolvable on this host.
func (c Config) Validate() error {
	if len(c.Hosts) == 0 {
		return ErrNoTargets
	}
	if c.Check.Plugin == "" {
		return ErrNoPlugin
	}
	if _, err := exec.LookPath(c.Check.Plugin); err != nil {
		return fmt.Errorf("%w: plugin %q: %w", ErrInvalidConfig, c.Check.Plugin, err)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("%w: concurrency must be positive, got %d", ErrInvalidConfig, c.Concurrency)
	}
	if c.Check.Timeout.Duration <= 0 {
		return fmt.Errorf("%w: timeout must be positive, got %s", ErrInvalidConfig, c.Check.Timeout)
	}
	if c.Check.HostFlag == "" {
		return fmt.Errorf("%w: host flag is empty", ErrInvalidConfig)
	}
	if err := validExporter("metrics", c.Metrics.Exporter); err != nil {
		return err
	}
	return validExporter("tracing", c.Tracing.Exporter)
}

func validExporter(name, exporter string) error {
	switch exporter {
	case ExporterNone, ExporterStdout, ExporterOTLP:
		return nil
	default:
		return fmt.Errorf("%w: unknown %s exporter %q", ErrInvalidConfig, name, exporter)
	}
}
