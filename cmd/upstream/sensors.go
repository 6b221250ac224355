package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/upstream/internal/api"
)

func newSensorsCmd(a *app) *cobra.Command {
	var campaign, station, page, limit int

	cmd := &cobra.Command{
		Use:         "sensors",
		Short:       "List the sensors registered on a station",
		Annotations: needsConfig(),
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := api.New(api.OptionsFromConfig(a.cfg.Upstream))
			if err != nil {
				return err
			}
			defer client.Logout(context.WithoutCancel(cmd.Context()))

			return printSensors(cmd.Context(), cmd.OutOrStdout(), client, campaign, station, page, limit)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&campaign, "campaign", 0, "Campaign ID")
	flags.IntVar(&station, "station", 0, "Station ID")
	flags.IntVar(&page, "page", api.DefaultPage, "Page number")
	flags.IntVar(&limit, "limit", api.DefaultLimit, "Sensors per page")
	_ = cmd.MarkFlagRequired("campaign")
	_ = cmd.MarkFlagRequired("station")

	return cmd
}

func printSensors(ctx context.Context, w io.Writer, client *api.Client, campaign, station, page, limit int) error {
	st, err := client.GetStation(ctx, campaign, station)
	if err != nil {
		return err
	}
	sensors, err := client.ListSensors(ctx, campaign, station, page, limit)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Station %d (%s): %d sensors, page %d/%d\n",
		st.ID, st.Name, sensors.Total, sensors.Page, max(sensors.Pages, 1))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ALIAS\tVARIABLE\tUNITS")
	for _, s := range sensors.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Alias, s.VariableName, s.Units)
	}
	return tw.Flush()
}
