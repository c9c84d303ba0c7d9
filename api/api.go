// Package api exposes the control plane over REST. Lifecycle endpoints are
// plain JSON; the live console is a websocket bridged onto the VM's console
// socket.
package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"gitlab.com/glidex/control-plane/internal/tracing"
	"gitlab.com/glidex/control-plane/vm"
)

// SetupRouter builds the REST router on top of the registry.
func SetupRouter(registry *vm.Registry) *gin.Engine {
	h := &handler{registry: registry}

	router := gin.Default()
	router.Use(cors.New(getCustomCorsConfig()))
	router.Use(otelgin.Middleware(tracing.ServiceName))

	v1 := router.Group("/api/v1")

	machines := v1.Group("/vm")
	{
		machines.POST("", h.HandleCreateVM)
		machines.GET("", h.HandleListVMs)
		machines.GET("/:id", h.HandleGetVM)
		machines.DELETE("/:id", h.HandleDeleteVM)
		machines.POST("/:id/start", h.HandleStartVM)
		machines.POST("/:id/stop", h.HandleStopVM)
		machines.POST("/:id/pause", h.HandlePauseVM)
		machines.GET("/:id/console", h.HandleVMConsole) // websocket
		machines.GET("/:id/log", h.HandleVMLog)
	}

	v1.GET("/health", h.HandleHealthcheck)

	return router
}

type handler struct {
	registry *vm.Registry
}

func getCustomCorsConfig() cors.Config {
	config := DefaultConfig()
	config.AllowOrigins = []string{"http://localhost:9991", "http://localhost:9992"}
	return config
}

// DefaultConfig returns a generic default configuration mapped to localhost.
func DefaultConfig() cors.Config {
	return cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Access-Control-Allow-Origin", "Origin", "Content-Length", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
}
