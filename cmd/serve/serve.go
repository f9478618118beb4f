package serve

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/pinalbum/internal/app"
	"github.com/tphakala/pinalbum/internal/buildinfo"
	"github.com/tphakala/pinalbum/internal/conf"
)

// Command creates the serve command.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  "Start the HTTP API. Batches interrupted by a previous run are reset at startup.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				settings.WebServer.Listen = listen
			}

			a, err := app.New(settings, build)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.Serve(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address, overrides webserver.listen")
	return cmd
}
