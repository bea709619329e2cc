package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/praxisworks/actuator/core"
)

// Statuses only the API surfaces.
const (
	statusPending = "PENDING"
	statusExpired = "EXPIRED"
)

// StatusResponse is the body of the single-execution status endpoint.
type StatusResponse struct {
	ActionIntentID     string                   `json:"action_intent_id"`
	Status             string                   `json:"status"`
	StartedAt          *time.Time               `json:"started_at,omitempty"`
	CompletedAt        *time.Time               `json:"completed_at,omitempty"`
	ExternalObjectRefs []core.ExternalObjectRef `json:"external_object_refs,omitempty"`
	ErrorMessage       string                   `json:"error_message,omitempty"`
	ErrorClass         string                   `json:"error_class,omitempty"`
	AttemptCount       *int64                   `json:"attempt_count,omitempty"`
}

// getStatus resolves an execution's status with precedence outcome, then
// attempt, then intent with its expiry check. RETRYING collapses to RUNNING
// so callers see one in-flight status.
func (s *Server) getStatus(c *gin.Context) {
	claims := requestClaims(c)
	intentID := c.Param("intent_id")
	accountID := c.Query("account_id")
	if accountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account_id query parameter is required"})
		return
	}
	if !claims.AccountAllowed(accountID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "account not permitted"})
		return
	}
	tenantID := claims.TenantID
	ctx := c.Request.Context()

	outcome, err := s.outcomes.Get(ctx, intentID, tenantID, accountID)
	if err != nil {
		s.serverError(c, err)
		return
	}
	if outcome != nil {
		status := string(outcome.Status)
		if outcome.Status == core.OutcomeRetrying {
			status = string(core.AttemptRunning)
		}
		c.JSON(http.StatusOK, StatusResponse{
			ActionIntentID:     outcome.IntentID,
			Status:             status,
			StartedAt:          timePtr(outcome.StartedAt),
			CompletedAt:        timePtr(outcome.CompletedAt),
			ExternalObjectRefs: outcome.ExternalObjectRefs,
			ErrorMessage:       outcome.ErrorMessage,
			ErrorClass:         string(outcome.ErrorClass),
			AttemptCount:       int64Ptr(outcome.AttemptCount),
		})
		return
	}

	attempt, err := s.attempts.Get(ctx, intentID, tenantID, accountID)
	if err != nil {
		s.serverError(c, err)
		return
	}
	if attempt != nil {
		c.JSON(http.StatusOK, StatusResponse{
			ActionIntentID: attempt.IntentID,
			Status:         string(attempt.Status),
			StartedAt:      timePtr(attempt.StartedAt),
			ErrorClass:     attempt.LastErrorClass,
			AttemptCount:   int64Ptr(attempt.AttemptCount),
		})
		return
	}

	intent, err := s.intents.Get(ctx, intentID, tenantID, accountID)
	if err != nil {
		s.serverError(c, err)
		return
	}
	if intent != nil {
		status := statusPending
		if intent.Expired(time.Now()) {
			status = statusExpired
		}
		c.JSON(http.StatusOK, StatusResponse{ActionIntentID: intent.ID, Status: status})
		return
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
}

// listExecutions pages through an account's outcomes, newest first.
func (s *Server) listExecutions(c *gin.Context) {
	claims := requestClaims(c)
	accountID := c.Param("account_id")
	if !claims.AccountAllowed(accountID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "account not permitted"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
			return
		}
		limit = parsed
	}

	outcomes, nextToken, err := s.outcomes.List(c.Request.Context(), claims.TenantID, accountID, limit, c.Query("next_token"))
	if err != nil {
		s.serverError(c, err)
		return
	}

	items := make([]StatusResponse, 0, len(outcomes))
	for _, o := range outcomes {
		status := string(o.Status)
		if o.Status == core.OutcomeRetrying {
			status = string(core.AttemptRunning)
		}
		items = append(items, StatusResponse{
			ActionIntentID:     o.IntentID,
			Status:             status,
			StartedAt:          timePtr(o.StartedAt),
			CompletedAt:        timePtr(o.CompletedAt),
			ExternalObjectRefs: o.ExternalObjectRefs,
			ErrorMessage:       o.ErrorMessage,
			ErrorClass:         string(o.ErrorClass),
			AttemptCount:       int64Ptr(o.AttemptCount),
		})
	}

	resp := gin.H{"executions": items}
	if nextToken != "" {
		resp["next_token"] = nextToken
	}
	c.JSON(http.StatusOK, resp)
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func int64Ptr(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}
