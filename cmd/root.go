// Package cmd assembles the pinalbum command line.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/pinalbum/cmd/config"
	"github.com/tphakala/pinalbum/cmd/pin"
	"github.com/tphakala/pinalbum/cmd/serve"
	"github.com/tphakala/pinalbum/internal/buildinfo"
	"github.com/tphakala/pinalbum/internal/conf"
)

// RootCommand creates the root command. settings is filled from the config
// file, environment and flags before any subcommand runs.
func RootCommand(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var (
		configFile string
		debug      bool
	)

	rootCmd := &cobra.Command{
		Use:           "pinalbum",
		Short:         "Pinalbum map photo album",
		Long:          "Pin locations on a map and collect Flickr photos taken near each pin.",
		Version:       build.String(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config.yaml (default: search ., ~/.config/pinalbum, /etc/pinalbum)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug output")

	configCmd := config.Command()
	rootCmd.AddCommand(
		serve.Command(settings, build),
		pin.Command(settings, build),
		configCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// config init writes the file the other commands load
		if cmd.Parent() == configCmd {
			return nil
		}

		loaded, err := conf.Load(configFile)
		if err != nil {
			return err
		}
		if debug {
			loaded.EnableDebug()
		}
		*settings = *loaded
		return nil
	}

	return rootCmd
}
