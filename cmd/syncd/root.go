package main

import (
	"io"
	"os"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
	out        io.Writer
	errOut     io.Writer
}

func (o *rootOptions) loggerProvider() glog.LoggerProvider {
	return newConsoleProvider(o.errOut, o.logLevel)
}

func (o *rootOptions) load() (fileConfig, error) {
	return loadConfig(o.configPath, o.loggerProvider().GetLogger("config"))
}

func newRootCommand(out io.Writer, errOut io.Writer) *cobra.Command {
	opts := &rootOptions{out: out, errOut: errOut}
	root := &cobra.Command{
		Use:           "syncd",
		Short:         "Atlassian webhook ingestion and sync processing daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("SYNC_CONFIG"), "path to the config file (json, yaml or toml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", envOr("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCommand(opts),
		newTickCommand(opts),
		newRequeueCommand(opts),
		newMigrateCommand(opts),
	)
	return root
}

func envOr(key string, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
