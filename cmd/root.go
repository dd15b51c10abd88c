package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "azul-dedup",
	Short: "Azul event deduplication",
	Long: `Deduplicates streams of JSON events against a durable, bucketed key store.

Keys are grouped into buckets either by hash or by a window of an expiry coordinate
(a sequence number, an event time, the processing time or a category). Buckets are
loaded on demand, evicted when idle and written back as immutable generations, so a
restarted or re-sharded host keeps rejecting keys it has already seen.

Configuration is read from DD_ prefixed environment variables.
`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
