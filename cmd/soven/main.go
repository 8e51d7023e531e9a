// Command soven is the Soven appliance-companion server and its admin tools.
//
// Usage:
//
//	soven [--config config.yaml] <command>
//
// Commands:
//
//	serve    - run the HTTP and realtime audio server
//	migrate  - create or upgrade the personality schema
//	voices   - list the voice catalog
//	extract  - run trait extraction and voice matching on a narrative
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/soven/internal/api"
	"github.com/MrWong99/soven/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "soven:", err)
		os.Exit(1)
	}
}

// rootOptions are the flags shared by every command.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "soven",
		Short:         "Personality-driven voice companion for home appliances",
		Version:       api.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newVoicesCmd(opts),
		newExtractCmd(opts),
	)
	return cmd
}

// loadConfig reads the config file. When optional is set a missing file
// yields the zero config.
func (o *rootOptions) loadConfig(optional bool) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if errors.Is(err, os.ErrNotExist) {
		if optional {
			return &config.Config{}, nil
		}
		return nil, fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", o.configPath)
	}
	return cfg, err
}

// newLogger installs a text logger on stderr as the default and returns the
// LevelVar that controls it.
func newLogger(level config.LogLevel) *slog.LevelVar {
	lv := new(slog.LevelVar)
	lv.Set(level.Slog())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})))
	return lv
}
