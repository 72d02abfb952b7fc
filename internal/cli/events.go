package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsListCmd)
	eventsCmd.AddCommand(eventsFlushCmd)

	eventsListCmd.Flags().Int("limit", 20, "Number of most recent events")
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect and deliver lifecycle events",
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show recent lifecycle events, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		d, closeFn, err := openDaemon()
		if err != nil {
			return err
		}
		defer closeFn()

		stored, err := d.DB.ListEvents(cmd.Context(), limit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tAT\tKIND\tUSER\tALLOCATION\tDELIVERED\tREASON")
		for _, e := range stored {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%t\t%s\n",
				e.ID, e.Event.At.Format(time.RFC3339), e.Event.Kind, e.Event.UserID,
				e.Event.AllocationID, e.Published, e.Event.Reason)
		}
		tw.Flush()
		return nil
	},
}

var eventsFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Deliver pending events to the notification target now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, closeFn, err := openDaemon()
		if err != nil {
			return err
		}
		defer closeFn()

		res, err := d.Outbox.DispatchOnce(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Delivered %d of %d pending event(s)\n", res.Published, res.Processed)
		if res.Failed > 0 {
			return fmt.Errorf("%d event(s) failed and remain pending", res.Failed)
		}
		return nil
	},
}
