package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/praxisworks/actuator/core"
	"github.com/praxisworks/actuator/execution"
)

// Server hosts the status API and the step endpoints.
type Server struct {
	executor *execution.Executor
	intents  *execution.IntentStore
	attempts *execution.AttemptStore
	outcomes *execution.OutcomeStore
	verifier Verifier
	logger   core.Logger
	http     *http.Server
	cfg      core.HTTPConfig
}

// NewServer wires the HTTP surface.
func NewServer(
	executor *execution.Executor,
	intents *execution.IntentStore,
	attempts *execution.AttemptStore,
	outcomes *execution.OutcomeStore,
	verifier Verifier,
	logger core.Logger,
	cfg core.HTTPConfig,
) *Server {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Server{
		executor: executor,
		intents:  intents,
		attempts: attempts,
		outcomes: outcomes,
		verifier: verifier,
		logger:   logger,
		cfg:      cfg,
	}
}

// Handler builds the gin engine with all routes registered.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authed := router.Group("/", authMiddleware(s.verifier, s.logger))
	authed.GET("/executions/:intent_id/status", s.getStatus)
	authed.GET("/accounts/:account_id/executions", s.listExecutions)

	steps := authed.Group("/steps")
	steps.POST("/start", s.startStep)
	steps.POST("/validate", s.validateStep)
	steps.POST("/map", s.mapStep)
	steps.POST("/invoke", s.invokeStep)
	steps.POST("/record", s.recordStep)
	steps.POST("/compensate", s.compensateStep)
	steps.POST("/record-failure", s.recordFailureStep)

	return router
}

// Run serves until ctx is cancelled, then drains with a shutdown grace
// period.
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      otelhttp.NewHandler(s.Handler(), "actuator.http"),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", map[string]interface{}{"addr": s.http.Addr})
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		grace := s.cfg.ShutdownTimeout
		if grace <= 0 {
			grace = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("Request handled", map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
		})
	}
}
