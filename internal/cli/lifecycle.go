package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewardline/entitle/internal/app/allocation"
	"github.com/rewardline/entitle/internal/app/maintenance"
)

// ─── Lifecycle CLI ──────────────────────────────────────────────────────────
// One-shot triggers for the same operations the daemon schedules.

func init() {
	rootCmd.AddCommand(allocateCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(statusCmd)

	sweepCmd.Flags().String("allocation", "", "Sweep a single allocation by ID")
}

// ─── allocate ───────────────────────────────────────────────────────────────

var allocateCmd = &cobra.Command{
	Use:   "allocate USER_ID",
	Short: "Allocate every reward the member currently qualifies for",
	Args:  cobra.ExactArgs(1),
	RunE:  runAllocate,
}

func runAllocate(cmd *cobra.Command, args []string) error {
	d, closeFn, err := openDaemon()
	if err != nil {
		return err
	}
	defer closeFn()

	results, err := d.Allocate(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printResults(cmd.OutOrStdout(), args[0], results)
	return nil
}

func printResults(out io.Writer, userID string, results []allocation.Result) {
	if len(results) == 0 {
		fmt.Fprintf(out, "No eligible rewards for %s.\n", userID)
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tOUTCOME\tALLOCATION\tASSET\tREASON")
	for _, r := range results {
		var allocID, assetID string
		if r.Allocation != nil {
			allocID, assetID = r.Allocation.ID, r.Allocation.AssetID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.AssetType, r.Outcome, allocID, assetID, r.Reason)
	}
	tw.Flush()
}

// ─── sweep ──────────────────────────────────────────────────────────────────

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a maintenance sweep now",
	Long: `Check every PENDING/ACTIVE allocation (or one with --allocation): complete
those whose period elapsed, record violations, and forfeit repeat violators.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	allocationID, _ := cmd.Flags().GetString("allocation")

	d, closeFn, err := openDaemon()
	if err != nil {
		return err
	}
	defer closeFn()

	res, err := d.Sweep(cmd.Context(), allocationID)
	if err != nil {
		return err
	}
	printSweep(cmd.OutOrStdout(), res)
	if res.Failed > 0 {
		return fmt.Errorf("%d allocation(s) failed; they will be retried by the next sweep", res.Failed)
	}
	return nil
}

func printSweep(out io.Writer, res maintenance.BatchResult) {
	fmt.Fprintf(out, "Processed %d allocation(s) in %s\n", res.Processed, res.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "  maintained: %d\n", res.Maintained)
	fmt.Fprintf(out, "  violated:   %d\n", res.Violated)
	fmt.Fprintf(out, "  forfeited:  %d\n", res.Forfeited)
	fmt.Fprintf(out, "  completed:  %d\n", res.Completed)
	if res.Skipped > 0 {
		fmt.Fprintf(out, "  skipped:    %d\n", res.Skipped)
	}
	for _, d := range res.Details {
		if d.Outcome == maintenance.OutcomeFailed {
			fmt.Fprintf(out, "  FAILED %s (%s): %s\n", d.AllocationID, d.UserID, d.Error)
		}
	}
}

// ─── status ─────────────────────────────────────────────────────────────────

var statusCmd = &cobra.Command{
	Use:   "status USER_ID",
	Short: "Show a member's allocations and months remaining",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	d, closeFn, err := openDaemon()
	if err != nil {
		return err
	}
	defer closeFn()

	views, err := d.Status(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(views) == 0 {
		fmt.Fprintf(out, "No allocations for %s.\n", args[0])
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ALLOCATION\tTYPE\tSTATUS\tMAINTENANCE\tMONTHS LEFT\tDETAILS")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			v.AllocationID, v.AssetType, v.Status, v.MaintenanceStatus, v.MonthsRemaining, v.ViolationDetails)
	}
	tw.Flush()
	return nil
}
