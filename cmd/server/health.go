package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"go-proxy-rotator/internal/database/models"
	"go-proxy-rotator/internal/endpoint"
	"go-proxy-rotator/internal/health"
)

func newHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Inspect or edit proxy health records",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List disabled proxies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			return printHealth(cmd.OutOrStdout(), a.store, time.Now())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear ENDPOINT",
		Short: "Re-enable a proxy by removing its health record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if !a.store.Clear(args[0]) {
				return fmt.Errorf("no health record for %s", endpoint.Mask(args[0]))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", endpoint.Mask(args[0]))
			return nil
		},
	})

	return cmd
}

func printHealth(w io.Writer, store *health.Store, now time.Time) error {
	records := store.Records()
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "no disabled proxies")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENDPOINT\tSTATUS\tKIND\tDISABLED AT\tREMAINING")
	for _, key := range store.Keys() {
		rec := records[key]
		until := "manual clear"
		if rec.Kind == models.KindTemporary {
			until = rec.DisabledAt.Add(models.TemporaryWindow).Sub(now).Round(time.Minute).String()
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", key, rec.StatusCode, rec.Kind, rec.DisabledAt.Format(time.RFC3339), until)
	}
	return tw.Flush()
}
