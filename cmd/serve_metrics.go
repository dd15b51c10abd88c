package cmd

import (
	"github.com/AustralianCyberSecurityCentre/azul-dedup.git/prom"
	"github.com/spf13/cobra"
)

// serveMetricsCmd represents the serve-metrics command
var serveMetricsCmd = &cobra.Command{
	Use:   "serve-metrics",
	Short: "Serve prometheus metrics only",
	Long:  `Starts a HTTP server on DD_LISTEN_ADDR exposing /metrics, for hosts embedding the deduper without the status router.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return prom.StartStandalonePromServer()
	},
}

func init() {
	rootCmd.AddCommand(serveMetricsCmd)
}
