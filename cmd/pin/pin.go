// Package pin implements the pin subcommands, which run batches in-process
// against the configured record store and image cache.
package pin

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/pinalbum/internal/album"
	"github.com/tphakala/pinalbum/internal/app"
	"github.com/tphakala/pinalbum/internal/buildinfo"
	"github.com/tphakala/pinalbum/internal/conf"
	"github.com/tphakala/pinalbum/internal/datastore"
	"github.com/tphakala/pinalbum/internal/events"
	"github.com/tphakala/pinalbum/internal/geo"
)

// Command creates the pin command group.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pin",
		Short: "Manage pinned locations and their photos",
		Long: "Manage pinned locations from the command line. Do not run these " +
			"commands while serve is using the same database; startup resets " +
			"batches the server has in flight.",
	}

	run := func(fn func(ctx context.Context, a *app.App, out io.Writer, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := app.New(settings, build)
			if err != nil {
				return err
			}
			defer a.Close()
			return fn(cmd.Context(), a, cmd.OutOrStdout(), args)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <latitude> <longitude>",
			Short: "Pin a location and download its first page of photos",
			Args:  cobra.ExactArgs(2),
			RunE:  run(add),
		},
		&cobra.Command{
			Use:   "list",
			Short: "List pinned locations",
			Args:  cobra.NoArgs,
			RunE:  run(list),
		},
		&cobra.Command{
			Use:   "photos <location-id>",
			Short: "List the photos of a location",
			Args:  cobra.ExactArgs(1),
			RunE:  run(photos),
		},
		&cobra.Command{
			Use:     "new-collection <location-id>",
			Aliases: []string{"next"},
			Short:   "Replace a location's photos with the next page of results",
			Args:    cobra.ExactArgs(1),
			RunE: run(func(ctx context.Context, a *app.App, out io.Writer, args []string) error {
				b, err := a.Album.NewCollection(ctx, args[0])
				if err != nil {
					return err
				}
				return wait(ctx, a, out, b)
			}),
		},
		&cobra.Command{
			Use:   "retry <location-id>",
			Short: "Download the photos that failed in earlier batches again",
			Args:  cobra.ExactArgs(1),
			RunE: run(func(ctx context.Context, a *app.App, out io.Writer, args []string) error {
				b, err := a.Album.RetryFailed(ctx, args[0])
				if err != nil {
					return err
				}
				return wait(ctx, a, out, b)
			}),
		},
		&cobra.Command{
			Use:   "rm <location-id> [remote-id]",
			Short: "Delete a location, or a single photo of it",
			Args:  cobra.RangeArgs(1, 2),
			RunE:  run(remove),
		},
	)
	return cmd
}

func parseCoordinate(lat, lon string) (geo.Coordinate, error) {
	latitude, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("invalid latitude %q: %w", lat, err)
	}
	longitude, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("invalid longitude %q: %w", lon, err)
	}
	c := geo.Coordinate{Latitude: latitude, Longitude: longitude}
	return c, c.Validate()
}

func add(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	c, err := parseCoordinate(args[0], args[1])
	if err != nil {
		return err
	}
	loc, err := datastore.NewLocation(c)
	if err != nil {
		return err
	}
	if err := a.Records.CreateLocation(ctx, loc); err != nil {
		return err
	}
	fmt.Fprintf(out, "Pinned %s at %s\n", loc.ID, c)

	b, err := a.Album.Start(ctx, loc.ID)
	if err != nil {
		return err
	}
	return wait(ctx, a, out, b)
}

// wait blocks until b finishes. Interrupting the command cancels the batch.
func wait(ctx context.Context, a *app.App, out io.Writer, b *album.Batch) error {
	outcome, err := b.Wait(ctx)
	if err != nil {
		if _, cerr := a.Album.Cancel(context.WithoutCancel(ctx), b.LocationID); cerr != nil {
			return cerr
		}
		fmt.Fprintln(out, "Batch cancelled")
		return err
	}

	switch e := outcome.(type) {
	case events.BatchSettled:
		if e.Kind() == events.KindNoResults {
			fmt.Fprintf(out, "No photos found on page %d\n", e.Page)
			return nil
		}
		fmt.Fprintf(out, "Page %d: %d photos, %d failed (%d transient)\n",
			e.Page, e.ResultCount, e.ItemErrors, e.TransientErrors)
	case events.BatchFailed:
		return fmt.Errorf("batch failed (%s): %w", e.ErrorKind, e.Err)
	}
	return nil
}

func list(ctx context.Context, a *app.App, out io.Writer, _ []string) error {
	locations, err := a.Records.ListLocations(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCOORDINATE\tPAGE\tPAGES\tPHASE")
	for i := range locations {
		loc := &locations[i]
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			loc.ID, loc.Coordinate(), loc.Page, loc.Pages, a.Album.State(loc.ID))
	}
	return w.Flush()
}

func photos(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	if _, err := a.Records.GetLocation(ctx, args[0]); err != nil {
		return err
	}
	list, err := a.Records.ListPhotos(ctx, args[0])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REMOTE ID\tCACHED\tFAILED\tURL")
	for i := range list {
		p := &list[i]
		fmt.Fprintf(w, "%s\t%t\t%t\t%s\n", p.RemoteID, a.Images.Has(p.CacheKey()), p.HasError, p.RemoteURL)
	}
	return w.Flush()
}

func remove(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	if len(args) == 2 {
		if err := a.Album.DeletePhoto(ctx, args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted photo %s\n", args[1])
		return nil
	}
	if err := a.Album.DeleteLocation(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(out, "Deleted location %s\n", args[0])
	return nil
}
