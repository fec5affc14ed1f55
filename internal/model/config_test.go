package model_test

import (
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/CZERTAINLY/checkpar/internal/model"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()
	yml := `
version: 0
hosts:
  - host1
  - host2
concurrency: 20
check:
  plugin: /usr/lib64/nagios/plugins/check_ping
  args: "-w 100,20% -c 500,60%"
  timeout: 10s
metrics:
  exporter: stdout
`
	cfg, err := model.LoadConfig(strings.NewReader(yml))
	require.NoError(t, err)
	require.Equal(t, []string{"host1", "host2"}, cfg.Hosts)
	require.Equal(t, 20, cfg.Concurrency)
	require.Equal(t, "/usr/lib64/nagios/plugins/check_ping", cfg.Check.Plugin)
	require.Equal(t, "-w 100,20% -c 500,60%", cfg.Check.Args)
	require.Equal(t, 10*time.Second, cfg.Check.Timeout.Duration)
	require.Equal(t, model.ExporterStdout, cfg.Metrics.Exporter)

	t.Run("defaults", func(t *testing.T) {
		require.Equal(t, model.DefaultHostFlag, cfg.Check.HostFlag)
		require.Equal(t, model.DefaultGrace, cfg.Check.Grace.Duration)
		require.Equal(t, model.DefaultStripPrefixes, cfg.Check.StripPrefixes)
		require.Equal(t, model.ExporterNone, cfg.Tracing.Exporter)
	})
}

func TestLoadConfig_Fail(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    string
		then     string
	}{
		{"unknown field", "version: 0\nfoo: bar\n", "foo"},
		{"zero concurrency", "concurrency: 0\n", "concurrency"},
		{"bad timeout", "check:\n  timeout: soon\n", "timeout"},
		{"bad exporter", "metrics:\n  exporter: prometheus\n", "exporter"},
		{"empty host", "hosts: [\"\"]\n", "hosts"},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			_, err := model.LoadConfig(strings.NewReader(tt.given))
			require.Error(t, err)
			details := model.ConfigErrDetails(err)
			require.NotEmpty(t, details)
			var paths []string
			for _, d := range details {
				paths = append(paths, d.Path)
			}
			require.Contains(t, strings.Join(paths, " "), tt.then)
		})
	}
}

func TestConfigErrDetails_NonCue(t *testing.T) {
	t.Parallel()
	details := model.ConfigErrDetails(errors.New("boom"))
	require.Len(t, details, 1)
	require.Equal(t, "validation_error", details[0].Code)
	require.Equal(t, "boom", details[0].Message)
	require.Nil(t, model.ConfigErrDetails(nil))
}

func TestValidate(t *testing.T) {
	t.Parallel()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}

	valid := func() model.Config {
		cfg := model.DefaultConfig()
		cfg.Hosts = []string{"h1"}
		cfg.Check.Plugin = sh
		return cfg
	}

	var testCases = []struct {
		scenario string
		given    func(c *model.Config)
		then     error
	}{
		{"valid", func(c *model.Config) {}, nil},
		{"no hosts", func(c *model.Config) { c.Hosts = nil }, model.ErrNoTargets},
		{"no plugin", func(c *model.Config) { c.Check.Plugin = "" }, model.ErrNoPlugin},
		{"missing plugin", func(c *model.Config) { c.Check.Plugin = "/does/not/exist" }, model.ErrInvalidConfig},
		{"zero concurrency", func(c *model.Config) { c.Concurrency = 0 }, model.ErrInvalidConfig},
		{"zero timeout", func(c *model.Config) { c.Check.Timeout = model.NewDuration(0) }, model.ErrInvalidConfig},
		{"bad exporter", func(c *model.Config) { c.Tracing.Exporter = "jaeger" }, model.ErrInvalidConfig},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.given(&cfg)
			err := cfg.Validate()
			if tt.then == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.then)
		})
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()
	var d model.Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	require.Equal(t, 90*time.Second, d.Duration)
	b, err := d.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "1m30s", string(b))

	require.Error(t, d.UnmarshalText(nil))
	require.Error(t, d.UnmarshalText([]byte("-1s")))
}

func TestCheckEnviron(t *testing.T) {
	t.Setenv("CHECKPAR_TEST_SECRET", "s3cr3t")
	yml := `
check:
  plugin: check_ipmi
  env:
    IPMI_USER: monitor
    ipmi_password: $CHECKPAR_TEST_SECRET
`
	cfg, err := model.LoadConfig(strings.NewReader(yml))
	require.NoError(t, err)
	require.Equal(t, []string{
		"IPMI_USER=monitor",
		"ipmi_password=s3cr3t",
	}, cfg.Check.Environ())
}
