package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/talksphere/internal/chat"
	"github.com/lalith-99/talksphere/internal/middleware"
	"github.com/lalith-99/talksphere/internal/models"
	"go.uber.org/zap"
)

type MessageHandler struct {
	chat   *chat.Service
	logger *zap.Logger
}

func NewMessageHandler(svc *chat.Service, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{chat: svc, logger: logger}
}

type createMessageRequest struct {
	Kind         models.Kind        `json:"kind" binding:"required"`
	Recipient    string             `json:"recipient"`
	GroupName    string             `json:"groupName"`
	Text         string             `json:"text"`
	Attachment   *models.Attachment `json:"attachment"`
	ClientTempID string             `json:"clientTempId"`
}

// Create handles POST /v1/messages. The sender is always the caller.
func (h *MessageHandler) Create(c *gin.Context) {
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.chat.Send(c.Request.Context(), chat.SendInput{
		Sender:       middleware.GetUserName(c),
		SenderEmail:  middleware.GetEmail(c),
		Kind:         req.Kind,
		Recipient:    req.Recipient,
		GroupName:    req.GroupName,
		Text:         req.Text,
		Attachment:   req.Attachment,
		ClientTempID: req.ClientTempID,
	})
	if chat.IsDegraded(err) {
		c.JSON(http.StatusAccepted, degradedResponse{Message: msg, DeliveryError: err.Error()})
		return
	}
	if err != nil {
		respondError(c, h.logger, err, "send message")
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// Public handles GET /v1/messages/public
func (h *MessageHandler) Public(c *gin.Context) {
	msgs, err := h.chat.PublicHistory(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err, "fetch messages")
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// Private handles GET /v1/messages/private/:a/:b
func (h *MessageHandler) Private(c *gin.Context) {
	msgs, err := h.chat.PrivateHistory(c.Request.Context(), c.Param("a"), c.Param("b"), middleware.GetRequester(c))
	if err != nil {
		respondError(c, h.logger, err, "fetch messages")
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// Group handles GET /v1/messages/group/:name
func (h *MessageHandler) Group(c *gin.Context) {
	msgs, err := h.chat.GroupHistory(c.Request.Context(), c.Param("name"), middleware.GetRequester(c))
	if err != nil {
		respondError(c, h.logger, err, "fetch messages")
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// Delete handles DELETE /v1/messages/:id
func (h *MessageHandler) Delete(c *gin.Context) {
	h.delete(c, "")
}

// DeletePrivate handles DELETE /v1/messages/private/:id and only matches
// private messages.
func (h *MessageHandler) DeletePrivate(c *gin.Context) {
	h.delete(c, models.KindPrivate)
}

func (h *MessageHandler) delete(c *gin.Context, kind models.Kind) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message ID"})
		return
	}

	requester := middleware.GetRequester(c)
	var removed *models.Message
	if kind == "" {
		removed, err = h.chat.Delete(c.Request.Context(), id, requester)
	} else {
		removed, err = h.chat.DeleteOfKind(c.Request.Context(), id, kind, requester)
	}
	if chat.IsDegraded(err) {
		c.JSON(http.StatusAccepted, degradedResponse{Message: removed, DeliveryError: err.Error()})
		return
	}
	if err != nil {
		respondError(c, h.logger, err, "delete message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": removed.ID})
}
