package cli

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/rewardline/entitle/internal/infra/sqlite"
)

// ─── Member CLI ─────────────────────────────────────────────────────────────
// Members are normally fed by the upstream tier service; this command lets
// operators seed or correct a qualification record.

func init() {
	rootCmd.AddCommand(memberCmd)
	memberCmd.AddCommand(memberSetCmd)

	memberSetCmd.Flags().String("tier", "", "Tier name, e.g. \"Silver Member\"")
	memberSetCmd.Flags().String("since", "", "Date the tier was reached (YYYY-MM-DD)")
	memberSetCmd.Flags().Int("referrals", 0, "Active referral count")
	memberSetCmd.Flags().String("volume", "0", "Monthly team volume")
	memberSetCmd.MarkFlagRequired("tier")
}

var memberCmd = &cobra.Command{
	Use:   "member",
	Short: "Manage member qualification records",
}

var memberSetCmd = &cobra.Command{
	Use:   "set USER_ID",
	Short: "Create or replace a member's qualification record",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemberSet,
}

func runMemberSet(cmd *cobra.Command, args []string) error {
	m, err := memberFromFlags(cmd, args[0])
	if err != nil {
		return err
	}

	d, closeFn, err := openDaemon()
	if err != nil {
		return err
	}
	defer closeFn()

	if err := d.DB.UpsertMember(cmd.Context(), m); err != nil {
		return fmt.Errorf("save member: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Member %s saved (%s, %d referrals, volume %s)\n",
		m.UserID, m.TierName, m.ActiveReferrals, m.MonthlyTeamVolume)
	return nil
}

func memberFromFlags(cmd *cobra.Command, userID string) (sqlite.Member, error) {
	tier, _ := cmd.Flags().GetString("tier")
	since, _ := cmd.Flags().GetString("since")
	referrals, _ := cmd.Flags().GetInt("referrals")
	volume, _ := cmd.Flags().GetString("volume")

	m := sqlite.Member{UserID: userID, TierName: tier, ActiveReferrals: referrals}
	if referrals < 0 {
		return m, fmt.Errorf("--referrals must be >= 0, got %d", referrals)
	}
	v, err := decimal.NewFromString(volume)
	if err != nil {
		return m, fmt.Errorf("--volume %q: %w", volume, err)
	}
	if v.IsNegative() {
		return m, fmt.Errorf("--volume must be >= 0, got %s", v)
	}
	m.MonthlyTeamVolume = v

	if since != "" {
		t, err := time.Parse(time.DateOnly, since)
		if err != nil {
			return m, fmt.Errorf("--since %q: want YYYY-MM-DD", since)
		}
		m.TierQualifiedAt = &t
	}
	return m, nil
}
