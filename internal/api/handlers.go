package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/moyuka/groundedchat/internal/service/ai"
	"github.com/moyuka/groundedchat/internal/service/chat"
)

// TurnRunner processes one conversation turn.
type TurnRunner interface {
	Turn(ctx context.Context, req chat.TurnRequest) (*chat.TurnResult, error)
}

// Handler wires HTTP routes to the conversation orchestrator.
type Handler struct {
	turns TurnRunner
}

// NewHandler constructs a Handler instance.
func NewHandler(turns TurnRunner) *Handler {
	return &Handler{turns: turns}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api := router.Group("/api")
	api.POST("/chat", h.postChat)
	api.GET("/sessions/:session_id/messages", h.getSessionMessages)
	api.DELETE("/sessions/:session_id", h.clearSession)
}

type chatRequest struct {
	Message         string `json:"message"`
	SessionID       string `json:"session_id"`
	Role            string `json:"role"`
	SkipSessionSave bool   `json:"skip_session_save"`
	AllowImageTool  bool   `json:"allow_image_tool"`
}

func (h *Handler) postChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	result, err := h.turns.Turn(c.Request.Context(), chat.TurnRequest{
		Message:         req.Message,
		SessionID:       req.SessionID,
		Role:            req.Role,
		SkipSessionSave: req.SkipSessionSave,
		AllowImageTool:  req.AllowImageTool,
	})
	if err != nil {
		h.renderTurnError(c, err)
		return
	}
	h.renderTurnResult(c, result)
}

func (h *Handler) getSessionMessages(c *gin.Context) {
	result, err := h.turns.Turn(c.Request.Context(), chat.TurnRequest{
		Message:   chat.CommandHistory,
		SessionID: c.Param("session_id"),
	})
	if err != nil {
		h.renderTurnError(c, err)
		return
	}
	h.renderTurnResult(c, result)
}

func (h *Handler) clearSession(c *gin.Context) {
	result, err := h.turns.Turn(c.Request.Context(), chat.TurnRequest{
		Message:   chat.CommandClear,
		SessionID: c.Param("session_id"),
	})
	if err != nil {
		h.renderTurnError(c, err)
		return
	}
	h.renderTurnResult(c, result)
}

func (h *Handler) renderTurnResult(c *gin.Context, result *chat.TurnResult) {
	switch {
	case result.History != nil:
		c.JSON(http.StatusOK, gin.H{
			"messages":   result.History,
			"session_id": result.SessionID,
		})
	case result.Status != "":
		c.JSON(http.StatusOK, gin.H{
			"status":     result.Status,
			"session_id": result.SessionID,
		})
	default:
		body := gin.H{
			"reply":      result.Reply,
			"session_id": result.SessionID,
		}
		if len(result.Images) > 0 {
			body["images"] = result.Images
		}
		c.JSON(http.StatusOK, body)
	}
}

func (h *Handler) renderTurnError(c *gin.Context, err error) {
	var completionErr *ai.Error
	if errors.As(err, &completionErr) {
		switch completionErr.Kind {
		case ai.KindTransient:
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "model is busy, please retry"})
		case ai.KindInvalid:
			c.JSON(http.StatusBadRequest, gin.H{"error": completionErr.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": completionErr.Error()})
		}
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
