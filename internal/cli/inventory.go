package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rewardline/entitle/internal/domain"
)

// ─── Inventory CLI ──────────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(inventoryCmd)
	inventoryCmd.AddCommand(inventoryImportCmd)
	inventoryCmd.AddCommand(inventoryListCmd)

	inventoryImportCmd.Flags().StringP("file", "f", "", "Path to a YAML list of units")
	inventoryListCmd.Flags().String("type", "", "Only list units of this asset type")
	inventoryListCmd.Flags().String("status", "", "Only list units in this status")
}

var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Manage physical reward units",
}

// ─── inventory import ───────────────────────────────────────────────────────

var inventoryImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Add units from a YAML file",
	Long: `Add physical reward units from a YAML list:

  - id: phone-001          # optional, generated when empty
    type: SMARTPHONE
    tier: Silver Member    # optional, defaults to the catalog tier of the type
    value: "850.00"`,
	Args: cobra.NoArgs,
	RunE: runInventoryImport,
}

// unitEntry is one entry of an import file.
type unitEntry struct {
	ID    string `yaml:"id"`
	Type  string `yaml:"type"`
	Tier  string `yaml:"tier"`
	Value string `yaml:"value"`
}

func runInventoryImport(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	if path == "" {
		return fmt.Errorf("units file required: entitled inventory import -f <file>")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read units file: %w", err)
	}

	d, closeFn, err := openDaemon()
	if err != nil {
		return err
	}
	defer closeFn()

	units, err := parseUnits(data, d.Catalog)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for _, u := range units {
		if err := d.DB.AddAsset(cmd.Context(), u); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d unit(s) from %s\n", len(units), path)
	return nil
}

// parseUnits validates an import file against the catalog.
func parseUnits(data []byte, cat domain.RequirementCatalog) ([]domain.PhysicalReward, error) {
	var entries []unitEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if len(entries) == 0 {
		return nil, errors.New("no units")
	}

	units := make([]domain.PhysicalReward, 0, len(entries))
	for i, s := range entries {
		t, err := domain.ParseAssetType(strings.ToUpper(strings.TrimSpace(s.Type)))
		if err != nil {
			return nil, fmt.Errorf("unit %d: %w", i+1, err)
		}
		req, err := cat.Requirement(t)
		if err != nil {
			return nil, fmt.Errorf("unit %d: %w", i+1, err)
		}
		value, err := decimal.NewFromString(strings.TrimSpace(s.Value))
		if err != nil {
			return nil, fmt.Errorf("unit %d: value %q: %w", i+1, s.Value, err)
		}
		if !req.ValueRange.Contains(value) {
			return nil, fmt.Errorf("unit %d: value %s outside %s range %s-%s",
				i+1, value, t, req.ValueRange.Min, req.ValueRange.Max)
		}

		u := domain.PhysicalReward{
			ID:              s.ID,
			Type:            t,
			TierRequirement: s.Tier,
			Value:           value,
		}
		if u.ID == "" {
			u.ID = uuid.NewString()
		}
		if u.TierRequirement == "" {
			u.TierRequirement = req.TierName
		}
		units = append(units, u)
	}
	return units, nil
}

// ─── inventory list ─────────────────────────────────────────────────────────

var inventoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List units",
	Args:  cobra.NoArgs,
	RunE:  runInventoryList,
}

func runInventoryList(cmd *cobra.Command, args []string) error {
	typeFlag, _ := cmd.Flags().GetString("type")
	statusFlag, _ := cmd.Flags().GetString("status")

	var filter domain.AssetFilter
	if typeFlag != "" {
		t, err := domain.ParseAssetType(strings.ToUpper(typeFlag))
		if err != nil {
			return err
		}
		filter.Type = t
	}
	if statusFlag != "" {
		filter.Status = domain.AssetStatus(strings.ToUpper(statusFlag))
	}

	d, closeFn, err := openDaemon()
	if err != nil {
		return err
	}
	defer closeFn()

	assets, err := d.DB.ListAssets(cmd.Context(), filter)
	if err != nil {
		return err
	}
	printAssets(cmd.OutOrStdout(), assets)
	return nil
}

func printAssets(out io.Writer, assets []domain.PhysicalReward) {
	if len(assets) == 0 {
		fmt.Fprintln(out, "No units.")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tTIER\tVALUE\tSTATUS\tOWNER")
	for _, a := range assets {
		owner := "-"
		if a.OwnerID != nil {
			owner = *a.OwnerID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.Type, a.TierRequirement, a.Value.StringFixed(2), a.Status, owner)
	}
	tw.Flush()
}
