// Command datamanager serves registered processes over NATS and inspects
// the process registry.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wehubfusion/datamanager/pkg/config"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// flags override values loaded from the environment when set.
type flags struct {
	logLevel  string
	logFormat string
	scriptDir string
	natsURL   string
	subject   string
	queue     string
}

func newRootCommand() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:           "datamanager",
		Short:         "Run process graphs and serve registered processes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&f.logFormat, "log-format", "", "Log format (json, console)")
	pf.StringVar(&f.scriptDir, "script-dir", "", "Directory of script process manifests")

	cmd.AddCommand(newServeCommand(f))
	cmd.AddCommand(newProcessesCommand(f))
	cmd.AddCommand(newRunCommand(f))
	return cmd
}

// load reads the environment and applies the flags the user set.
func (f *flags) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	set := func(name string, dst *string, value string) {
		if cmd.Flags().Changed(name) {
			*dst = value
		}
	}
	set("log-level", &cfg.LogLevel, f.logLevel)
	set("log-format", &cfg.LogFormat, f.logFormat)
	set("script-dir", &cfg.ScriptDir, f.scriptDir)
	set("nats-url", &cfg.NATSURL, f.natsURL)
	set("subject", &cfg.NATSSubject, f.subject)
	set("queue", &cfg.NATSQueue, f.queue)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
