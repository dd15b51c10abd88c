package prom

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	st "github.com/AustralianCyberSecurityCentre/azul-dedup.git/settings"
)

// Starts a HTTP server just for Prometheus, for hosts that do not run the status router
func StartStandalonePromServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	st.Logger.Info().Str("addr", st.Settings.ListenAddr).Msg("launching metrics server")

	return http.ListenAndServe(st.Settings.ListenAddr, mux)
}
