package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/AustralianCyberSecurityCentre/azul-dedup.git/bucket"
	"github.com/AustralianCyberSecurityCentre/azul-dedup.git/bucket/store"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// storeReport describes the namespace checkpoint and either one bucket or the list of buckets.
type storeReport struct {
	Namespace  string             `json:"namespace" yaml:"namespace"`
	Checkpoint *bucket.Checkpoint `json:"checkpoint,omitempty" yaml:"checkpoint,omitempty"`
	Buckets    []int64            `json:"buckets,omitempty" yaml:"buckets,omitempty"`
	Bucket     *bucketReport      `json:"bucket,omitempty" yaml:"bucket,omitempty"`
}

type bucketReport struct {
	ID         int64    `json:"id" yaml:"id"`
	Units      int      `json:"units" yaml:"units"`
	Generation int64    `json:"generation" yaml:"generation"`
	Count      int      `json:"count" yaml:"count"`
	Keys       []string `json:"keys,omitempty" yaml:"keys,omitempty"`
}

// inspectStore reads the checkpoint and one bucket, or lists buckets when id is nil.
func inspectStore(ctx context.Context, bs store.BucketStore, id *int64, keyLimit int) (*storeReport, error) {
	report := &storeReport{Namespace: bs.Options().Namespace}
	raw, err := bs.LoadMeta(ctx)
	if err != nil {
		return nil, err
	}
	if raw != nil {
		report.Checkpoint = &bucket.Checkpoint{}
		if err := json.Unmarshal(raw, report.Checkpoint); err != nil {
			return nil, fmt.Errorf("decode checkpoint: %w", err)
		}
	}
	if id == nil {
		report.Buckets, err = bs.Buckets(ctx)
		if err != nil {
			return nil, err
		}
		sort.Slice(report.Buckets, func(i, j int) bool { return report.Buckets[i] < report.Buckets[j] })
		return report, nil
	}
	contents, err := bs.Read(ctx, *id)
	if err != nil {
		return nil, err
	}
	b := &bucketReport{ID: *id, Units: contents.Units, Generation: contents.Generation, Count: len(contents.Entries)}
	for k := range contents.Entries {
		b.Keys = append(b.Keys, k)
	}
	sort.Strings(b.Keys)
	if keyLimit >= 0 && len(b.Keys) > keyLimit {
		b.Keys = b.Keys[:keyLimit]
	}
	report.Bucket = b
	return report, nil
}

func writeReport(w io.Writer, format string, v any) error {
	var raw []byte
	var err error
	switch format {
	case "json":
		raw, err = json.MarshalIndent(v, "", "  ")
		raw = append(raw, '\n')
	case "yaml":
		raw, err = yaml.Marshal(v)
	default:
		return fmt.Errorf("unknown format '%s', use json or yaml", format)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(raw)
	return err
}

var inspectFormat string
var inspectKeyLimit int

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect [bucket]",
	Short: "Print the checkpoint and bucket contents of the configured namespace",
	Long: `Prints the saved checkpoint of the configured store namespace. With a bucket id the
merged contents of that bucket are summarised, otherwise every stored bucket id is listed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var id *int64
		if len(args) == 1 {
			v, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("bad bucket id '%s': %w", args[0], err)
			}
			id = &v
		}
		ctx := cmd.Context()
		bs, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer bs.Close()
		report, err := inspectStore(ctx, bs, id, inspectKeyLimit)
		if err != nil {
			return err
		}
		return writeReport(cmd.OutOrStdout(), inspectFormat, report)
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectFormat, "format", "json", "json or yaml")
	inspectCmd.Flags().IntVar(&inspectKeyLimit, "keys", 100, "maximum keys to print, -1 for all")
	rootCmd.AddCommand(inspectCmd)
}
