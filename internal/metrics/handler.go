package metrics

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// GinHandler exposes the metrics handler as a gin route
func GinHandler() gin.HandlerFunc {
	return gin.WrapH(Handler())
}
