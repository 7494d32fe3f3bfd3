package handler

import (
	"net/http"

	"bencheth/internal/service"

	"github.com/gin-gonic/gin"
)

// StatusReporter is satisfied by the block poller.
type StatusReporter interface {
	Status() service.Status
}

// RouterOptions selects the optional routes of the metrics server.
type RouterOptions struct {
	RPCHost     string
	Geo         string
	Status      StatusReporter
	Stream      *StreamHandler
	StreamType  string
	StreamRoute string
}

// NewRouter builds the metrics server. Metrics are served on GET for every
// path that is not claimed by /health or the stream route.
func NewRouter(metricsHandler http.Handler, opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		body := gin.H{
			"status": "healthy",
			"rpc":    opts.RPCHost,
			"geo":    opts.Geo,
		}
		if opts.Status != nil {
			body["poller"] = opts.Status.Status()
		}
		c.JSON(http.StatusOK, body)
	})

	if opts.Stream != nil {
		switch opts.StreamType {
		case "sse":
			router.GET(opts.StreamRoute, opts.Stream.HandleSSE)
		default:
			router.GET(opts.StreamRoute, opts.Stream.HandleWebSocket)
		}
	}

	serveMetrics := gin.WrapH(metricsHandler)
	router.NoRoute(func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.AbortWithStatus(http.StatusMethodNotAllowed)
			return
		}
		serveMetrics(c)
	})

	return router
}
