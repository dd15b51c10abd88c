package restapi

import (
	"strconv"
	"time"

	"github.com/AustralianCyberSecurityCentre/azul-dedup.git/prom"
	st "github.com/AustralianCyberSecurityCentre/azul-dedup.git/settings"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
)

// AccessLogLine is one line of restapi.log.
type AccessLogLine struct {
	Time      string   `json:"time"`
	DurationS float64  `json:"duration_s"`
	Status    int      `json:"status"`
	Method    string   `json:"method"`
	Route     string   `json:"route"`
	Path      string   `json:"path"`
	Remote    string   `json:"remote"`
	UserAgent string   `json:"user_agent"`
	Bytes     int      `json:"bytes"`
	Errors    []string `json:"errors,omitempty"`
}

// MetricHandler times a handler for prometheus and writes an access log line.
// gin does not expose the route template to handlers so it is passed in.
func MetricHandler(route string, fn gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		fn(c)
		elapsed := time.Since(start).Seconds()
		status := c.Writer.Status()
		prom.RestapiTimes.WithLabelValues(c.Request.Method, route).Observe(elapsed)
		prom.RestapiCodes.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()

		// json rather than logfmt so client supplied strings need no escaping
		line := AccessLogLine{
			Time:      start.UTC().Format(time.RFC3339),
			DurationS: elapsed,
			Status:    status,
			Method:    c.Request.Method,
			Route:     route,
			Path:      c.Request.URL.Path,
			Remote:    c.Request.RemoteAddr,
			UserAgent: c.Request.UserAgent(),
			Bytes:     max(c.Writer.Size(), 0),
		}
		for _, err := range c.Errors {
			line.Errors = append(line.Errors, err.Error())
		}
		raw, err := json.Marshal(line)
		if err != nil {
			st.Logger.Warn().Err(err).Str("route", route).Msg("could not encode access log line")
			return
		}
		st.AuditLine(st.ChLogRestapi, raw)
	}
}
