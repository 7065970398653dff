package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hpn/hpn-g-relay/internal/domain"
	"github.com/hpn/hpn-g-relay/internal/history"
	"github.com/hpn/hpn-g-relay/internal/orchestrator"
	"github.com/hpn/hpn-g-relay/internal/quality"
	"github.com/hpn/hpn-g-relay/internal/ui"
)

// Moderator is the moderation dependency of RelayHandler.
type Moderator interface {
	Check(ctx context.Context, text string) (domain.ModerationVerdict, error)
	Stats() (hits, misses int64, size int)
}

// RelayHandler serves the relay API.
type RelayHandler struct {
	relay     *orchestrator.Orchestrator
	moderator Moderator
	gate      *quality.Gate
	pools     []*domain.KeyPool
	logger    *slog.Logger
}

// RelayHandlerOption is a functional option for configuring RelayHandler.
type RelayHandlerOption func(*RelayHandler)

// WithModerator enables POST /v1/moderate.
func WithModerator(m Moderator) RelayHandlerOption {
	return func(h *RelayHandler) {
		h.moderator = m
	}
}

// WithGate enables "clean" asks.
func WithGate(g *quality.Gate) RelayHandlerOption {
	return func(h *RelayHandler) {
		h.gate = g
	}
}

// WithPools lists the credential pools reported by /health.
func WithPools(pools ...*domain.KeyPool) RelayHandlerOption {
	return func(h *RelayHandler) {
		h.pools = pools
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) RelayHandlerOption {
	return func(h *RelayHandler) {
		h.logger = logger
	}
}

// NewRelayHandler creates a RelayHandler over relay.
func NewRelayHandler(relay *orchestrator.Orchestrator, opts ...RelayHandlerOption) *RelayHandler {
	h := &RelayHandler{
		relay:  relay,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Register mounts every route on r.
func (h *RelayHandler) Register(r gin.IRouter) {
	r.POST("/v1/ask", h.HandleAsk)
	r.POST("/v1/summarize", h.HandleSummarize)
	r.POST("/v1/moderate", h.HandleModerate)
	r.DELETE("/v1/history/:user_id", h.HandleClearHistory)
	r.GET("/health", h.HandleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// AskRequest is the body of POST /v1/ask.
type AskRequest struct {
	Prompt  string `json:"prompt"`
	Mode    string `json:"mode"`
	UserID  string `json:"user_id"`
	Role    string `json:"role"`
	Limited bool   `json:"limited"`

	// Clean regenerates until the answer passes the quality gate. Fast mode only.
	Clean bool `json:"clean"`
}

// AskResponse is the body returned by POST /v1/ask.
type AskResponse struct {
	Answer   string `json:"answer"`
	Mode     string `json:"mode"`
	Provider string `json:"provider,omitempty"`
}

// HandleAsk handles POST /v1/ask.
func (h *RelayHandler) HandleAsk(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "invalid_request_error", "Invalid request body: "+err.Error())
		return
	}
	c.Set("user_id", req.UserID)

	run := orchestrator.Request{
		Prompt:  req.Prompt,
		Mode:    domain.Mode(req.Mode),
		UserID:  domain.UserID(req.UserID),
		Role:    req.Role,
		Limited: req.Limited,
	}

	if req.Clean {
		h.askClean(c, run)
		return
	}

	answer, err := h.relay.Run(c.Request.Context(), run)
	if err != nil {
		if errors.Is(err, domain.ErrNoModeSelected) {
			sendError(c, http.StatusBadRequest, "invalid_request_error", "mode must be one of: fast, all")
			return
		}
		h.logger.Error("run failed", slog.String("error", err.Error()))
		sendError(c, http.StatusInternalServerError, "server_error", "Internal server error")
		return
	}

	c.JSON(http.StatusOK, AskResponse{Answer: answer, Mode: req.Mode})
}

func (h *RelayHandler) askClean(c *gin.Context, run orchestrator.Request) {
	if h.gate == nil {
		sendError(c, http.StatusNotImplemented, "invalid_request_error", "quality gate is not configured")
		return
	}
	if strings.TrimSpace(run.Prompt) == "" {
		c.JSON(http.StatusOK, AskResponse{Answer: orchestrator.EmptyPromptReply, Mode: string(domain.ModeFast)})
		return
	}

	candidate, err := h.gate.Answer(c.Request.Context(), h.relay.NewSession(run), run.Prompt)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, AskResponse{Answer: candidate.Text, Mode: string(domain.ModeFast), Provider: candidate.Provider})
	case errors.Is(err, quality.ErrNoCandidate):
		c.JSON(http.StatusOK, AskResponse{Mode: string(domain.ModeFast)})
	case errors.Is(err, quality.ErrAllCandidatesRejected):
		sendError(c, http.StatusUnprocessableEntity, "content_rejected", err.Error())
	default:
		h.logger.Error("clean ask failed", slog.String("error", err.Error()))
		sendError(c, http.StatusInternalServerError, "server_error", "Internal server error")
	}
}

// SummarizeRequest is the body of POST /v1/summarize.
type SummarizeRequest struct {
	Prompt  string `json:"prompt"`
	Text    string `json:"text" binding:"required"`
	Limit   int    `json:"limit"`
	Limited bool   `json:"limited"`
}

// HandleSummarize handles POST /v1/summarize.
func (h *RelayHandler) HandleSummarize(c *gin.Context) {
	var req SummarizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "invalid_request_error", "Invalid request body: "+err.Error())
		return
	}

	summary, err := h.relay.Summarize(c.Request.Context(), req.Prompt, req.Text, req.Limit, req.Limited)
	if err != nil {
		h.logger.Error("summarize failed", slog.String("error", err.Error()))
		sendError(c, http.StatusInternalServerError, "server_error", "Internal server error")
		return
	}

	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

// ModerateRequest is the body of POST /v1/moderate.
type ModerateRequest struct {
	Text string `json:"text"`
}

// HandleModerate handles POST /v1/moderate. A degraded verdict is still a 200.
func (h *RelayHandler) HandleModerate(c *gin.Context) {
	if h.moderator == nil {
		sendError(c, http.StatusNotImplemented, "invalid_request_error", "moderation is not configured")
		return
	}

	var req ModerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "invalid_request_error", "Invalid request body: "+err.Error())
		return
	}

	verdict, err := h.moderator.Check(c.Request.Context(), req.Text)
	if err != nil && !errors.Is(err, domain.ErrModerationDegraded) {
		h.logger.Error("moderation failed", slog.String("error", err.Error()))
		sendError(c, http.StatusInternalServerError, "server_error", "Internal server error")
		return
	}

	categories := verdict.Categories
	if categories == nil {
		categories = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"flagged":    verdict.Flagged,
		"categories": categories,
		"degraded":   verdict.Degraded,
		"detail":     verdict.Detail,
	})
}

// HandleClearHistory handles DELETE /v1/history/:user_id.
func (h *RelayHandler) HandleClearHistory(c *gin.Context) {
	userID := c.Param("user_id")
	c.Set("user_id", userID)

	if err := h.relay.ClearHistory(c.Request.Context(), domain.UserID(userID)); err != nil {
		if errors.Is(err, history.ErrInvalidUserID) {
			sendError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
			return
		}
		h.logger.Error("clear history failed", slog.String("error", err.Error()))
		sendError(c, http.StatusInternalServerError, "server_error", "Internal server error")
		return
	}

	c.Status(http.StatusNoContent)
}

// HandleHealth handles GET /health.
// Status is degraded once any configured pool has no active credentials.
func (h *RelayHandler) HandleHealth(c *gin.Context) {
	status := "healthy"
	pools := make([]gin.H, 0, len(h.pools))
	for _, p := range h.pools {
		if p.TotalCount() > 0 && p.ActiveCount() == 0 {
			status = "degraded"
		}
		pools = append(pools, gin.H{
			"name":         p.Name(),
			"active_keys":  p.ActiveCount(),
			"evicted_keys": p.EvictedCount(),
			"total_keys":   p.TotalCount(),
		})
	}

	body := gin.H{
		"status":  status,
		"version": ui.Version,
		"pools":   pools,
	}
	if n, err := h.relay.HistoryCount(c.Request.Context()); err != nil {
		h.logger.Warn("history count failed", slog.String("error", err.Error()))
	} else {
		body["histories"] = n
	}
	if h.moderator != nil {
		hits, misses, size := h.moderator.Stats()
		body["moderation_cache"] = gin.H{"hits": hits, "misses": misses, "size": size}
	}

	c.JSON(http.StatusOK, body)
}

// sendError writes the error envelope every route shares.
func sendError(c *gin.Context, status int, errType, message string) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"message": message,
			"type":    errType,
		},
	})
}
