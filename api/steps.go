package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/praxisworks/actuator/core"
	"github.com/praxisworks/actuator/execution"
)

// maxStepBodyBytes bounds step envelopes; tool_arguments alone is capped at
// 200 KB downstream.
const maxStepBodyBytes = 1 << 20

func readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxStepBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read request body"})
		return nil, false
	}
	return body, true
}

// stepError maps orchestrator failures to HTTP statuses. Validation failures
// carry their stable code so the runtime can route to RecordFailure with a
// classifiable string.
func (s *Server) stepError(c *gin.Context, err error) {
	var deferred *execution.DeferredError
	if errors.As(err, &deferred) {
		c.JSON(http.StatusAccepted, gin.H{
			"deferred":            true,
			"retry_after_seconds": int64(deferred.RetryAfter.Seconds()),
		})
		return
	}

	var ve *core.ValidationError
	if errors.As(err, &ve) {
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Message, "error_code": ve.Code})
		return
	}

	switch {
	case errors.Is(err, core.ErrExecutionInProgress),
		errors.Is(err, core.ErrExecutionCompleted),
		errors.Is(err, core.ErrIdempotencyCollision):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrCircuitOpen):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		s.serverError(c, err)
	}
}

func (s *Server) serverError(c *gin.Context, err error) {
	s.logger.Error("Request failed", map[string]interface{}{
		"path":  c.FullPath(),
		"error": err.Error(),
	})
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func (s *Server) startStep(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	var in execution.StartInput
	if err := execution.DecodeStrict(body, &in); err != nil {
		s.stepError(c, err)
		return
	}
	out, err := s.executor.Start(c.Request.Context(), &in)
	if err != nil {
		s.stepError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) validateStep(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	var in execution.ValidateInput
	if err := execution.DecodeStrict(body, &in); err != nil {
		s.stepError(c, err)
		return
	}
	out, err := s.executor.ValidatePreflight(c.Request.Context(), &in)
	if err != nil {
		s.stepError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) mapStep(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	var in execution.ValidateInput
	if err := execution.DecodeStrict(body, &in); err != nil {
		s.stepError(c, err)
		return
	}
	out, err := s.executor.MapActionToTool(c.Request.Context(), &in)
	if err != nil {
		s.stepError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) invokeStep(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	var in execution.InvokeInput
	if err := execution.DecodeStrict(body, &in); err != nil {
		s.stepError(c, err)
		return
	}
	out, err := s.executor.InvokeTool(c.Request.Context(), &in)
	if err != nil {
		s.stepError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) recordStep(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	// The orchestrator merges full state into this input; tolerate extras.
	var in execution.RecordInput
	if err := execution.DecodeLenient(body, &in); err != nil {
		s.stepError(c, err)
		return
	}
	out, err := s.executor.RecordOutcome(c.Request.Context(), &in)
	if err != nil {
		s.stepError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) compensateStep(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	var in execution.RecordInput
	if err := execution.DecodeLenient(body, &in); err != nil {
		s.stepError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.executor.Compensate(c.Request.Context(), &in))
}

func (s *Server) recordFailureStep(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	var in execution.RecordFailureInput
	if err := execution.DecodeLenient(body, &in); err != nil {
		s.stepError(c, err)
		return
	}
	out, err := s.executor.RecordFailure(c.Request.Context(), &in)
	if err != nil {
		s.stepError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
