/*
Package restapi serves the status, metrics and profiling routes of a running dedup host.
*/
package restapi

import (
	"net/http"

	st "github.com/AustralianCyberSecurityCentre/azul-dedup.git/settings"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusFunc returns the document served on /status, it must be safe to call from any goroutine.
type StatusFunc func() any

// response to hitting '/' on the server
func GetRoot(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/plain")
	_, err := c.Writer.Write([]byte("Azul Dedup"))
	if err != nil {
		st.Logger.Err(err).Msg("get root")
	}
}

// Basic middleware to log errors.
func ErrorLoggerMiddleware(c *gin.Context) {
	if c == nil {
		st.Logger.Error().Msg("gin error, couldn't provide error info as context was nil.")
		return
	}
	c.Next()

	for _, err := range c.Errors {
		if c.Request == nil || c.Request.URL == nil {
			st.Logger.Error().Err(err).Msg("gin error, limited detail was Request or Request URL was nil.")
		} else {
			st.Logger.Error().Err(err).Msgf("gin error on route %s %s with query params %v", c.Request.Method, c.Request.URL, c.Request.URL.Query())
		}
	}
}

func statusHandler(status StatusFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := json.Marshal(status())
		if err != nil {
			_ = c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
	}
}

// NewRouter builds the status router. Profiling routes are only added when enable_pprof is set.
func NewRouter(status StatusFunc) *gin.Engine {
	gin.SetMode(gin.ReleaseMode) // don't print route list on start

	router := gin.New()
	router.Use(ErrorLoggerMiddleware)
	// batch statistics of the running deduper
	lpath := "/status"
	router.GET(lpath, MetricHandler(lpath, statusHandler(status)))

	// base response
	router.GET("/", GetRoot)

	// memory monitoring of bucket residency
	if st.Settings.EnablePprof {
		pprof.Register(router, "debug/pprof")
	}

	// prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}
