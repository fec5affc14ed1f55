package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/CZERTAINLY/checkpar/internal/model"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err))
}

// exitCode maps an error returned by the root command to the process exit
// code. Anything which is not an ExitError means the check could not run,
// which is UNKNOWN for a monitoring framework.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	slog.Error("checkpar failed", "err", err)
	return model.Unknown.ExitCode()
}

// app holds the state of one command invocation.
type app struct {
	v          *viper.Viper
	configPath string // actual config file used (if loaded)
	config     model.Config

	flagConfigFilePath string
	flagVerbose        bool
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:           "checkpar",
		Short:         "Run a monitoring check against many hosts in parallel",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,

		Long: `checkpar runs one monitoring plugin for every host, collects the results
and prints a single summary line. The exit code is the worst severity found:
0 OK, 1 WARNING, 2 CRITICAL, 3 UNKNOWN.`,

		Example: `  checkpar -H host1,host2 -p /usr/lib64/nagios/plugins/check_ping -a "-w 100,20% -c 500,60%" -n 20`,

		// parse a config, apply flags, setup logging
		PersistentPreRunE: a.initCheckpar,
		RunE:              a.run,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.flagConfigFilePath, "config", "", "Config file to load - default is checkpar.yaml in current directory or in "+userConfigPath())
	pf.BoolVar(&a.flagVerbose, "verbose", false, "verbose logging")

	// check flags are persistent, so the config command shows their effect
	pf.StringP("hosts", "H", "", "comma separated list of hosts to check")
	pf.StringP("plugin", "p", "", "path to the check plugin")
	pf.StringP("args", "a", "", "arguments appended verbatim to every plugin call")
	pf.IntP("concurrency", "n", model.DefaultConcurrency, "maximum number of checks running at once")
	pf.StringP("timeout", "t", model.DefaultTimeout.String(), "timeout of a single check")
	pf.String("grace", model.DefaultGrace.String(), "extra time to wait for a check result after its timeout")
	pf.String("host-flag", model.DefaultHostFlag, "plugin flag which precedes the host name")
	pf.StringArray("strip-prefix", model.DefaultStripPrefixes, "prefix removed from a plugin status, can be repeated")
	pf.String("metrics", model.ExporterNone, "metrics exporter: none, stdout or otlp")
	pf.String("tracing", model.ExporterNone, "tracing exporter: none, stdout or otlp")

	_ = a.v.BindPFlags(pf)

	rootCmd.AddCommand(newConfigCmd(a))
	rootCmd.AddCommand(newVersionCmd(a))
	return rootCmd
}

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(a.config); err != nil {
				return fmt.Errorf("encoding configuration: %w", err)
			}
			return enc.Close()
		},
	}
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "version provide version of a checkpar",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout(), a.configPath)
		},
	}
}

func version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" {
		return "(devel)"
	}
	return info.Main.Version
}

func printVersion(w io.Writer, configPath string) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		_, _ = fmt.Fprintln(w, "checkpar: version info not available")
		return
	}

	if configPath != "" {
		_, _ = fmt.Fprintf(w, "config:   %s\n", configPath)
	}
	_, _ = fmt.Fprintf(w, "checkpar: %s\n", version())
	_, _ = fmt.Fprintf(w, "go:       %s\n", info.GoVersion)
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			_, _ = fmt.Fprintf(w, "commit:   %s\n", s.Value)
		case "vcs.time":
			_, _ = fmt.Fprintf(w, "date:     %s\n", s.Value)
		case "vcs.modified":
			_, _ = fmt.Fprintf(w, "dirty:    %s\n", s.Value)
		}
	}
}
