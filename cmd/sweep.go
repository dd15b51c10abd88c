package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/AustralianCyberSecurityCentre/azul-dedup.git/bucket/store"
	st "github.com/AustralianCyberSecurityCentre/azul-dedup.git/settings"
	"github.com/spf13/cobra"
)

// sweepBelow deletes every stored bucket with an id below the given one, returning the ids removed.
func sweepBelow(ctx context.Context, bs store.BucketStore, below int64, dryRun bool) ([]int64, error) {
	ids, err := bs.Buckets(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	swept := []int64{}
	for _, id := range ids {
		if id >= below {
			break
		}
		if !dryRun {
			if err := bs.Delete(ctx, id); err != nil {
				return swept, fmt.Errorf("delete bucket %d: %w", id, err)
			}
		}
		swept = append(swept, id)
	}
	st.Logger.Info().Int64("below", below).Int("buckets", len(swept)).Bool("dry_run", dryRun).Msg("sweep complete")
	return swept, nil
}

var sweepBelowID int64
var sweepDryRun bool

// sweepCmd represents the sweep command
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete stored buckets below an id",
	Long: `Deletes every unit of the buckets below --below from the configured namespace and any
namespaces it inherited. Only use this on a namespace that no running host is writing to.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("below") {
			return fmt.Errorf("--below is required")
		}
		ctx := cmd.Context()
		bs, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer bs.Close()
		swept, err := sweepBelow(ctx, bs, sweepBelowID, sweepDryRun)
		if err != nil {
			return err
		}
		for _, id := range swept {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	},
}

func init() {
	sweepCmd.Flags().Int64Var(&sweepBelowID, "below", 0, "delete buckets with ids below this")
	sweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "only print the buckets that would be deleted")
	rootCmd.AddCommand(sweepCmd)
}
