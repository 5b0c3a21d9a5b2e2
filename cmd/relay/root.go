package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"badgeup.io/relay/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "text" | "json"
}

var validFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "relay",
		Short:         "Relay game events to the BadgeUp achievement service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range validFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to relay.yaml (env overrides apply either way)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newProgressCommand(opts))
	cmd.AddCommand(newResolveCommand(opts))
	cmd.AddCommand(newDropsCommand(opts))
	cmd.AddCommand(newOutcomesCommand(opts))
	return cmd
}

func (o *RootOptions) load() (config.Config, error) {
	return config.Load(o.ConfigPath)
}

func newLogger(name string) *log.Logger {
	return log.New(os.Stdout, "["+name+"] ", log.LstdFlags|log.Lmicroseconds)
}
