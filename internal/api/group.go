package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/talksphere/internal/chat"
	"github.com/lalith-99/talksphere/internal/middleware"
	"go.uber.org/zap"
)

type GroupHandler struct {
	chat   *chat.Service
	logger *zap.Logger
}

func NewGroupHandler(svc *chat.Service, logger *zap.Logger) *GroupHandler {
	return &GroupHandler{chat: svc, logger: logger}
}

type createGroupRequest struct {
	Name    string   `json:"name" binding:"required,max=64"`
	Members []string `json:"members"`
}

type addMemberRequest struct {
	UserName string `json:"userName" binding:"required"`
}

// Create handles POST /v1/groups. The caller becomes creator and member.
func (h *GroupHandler) Create(c *gin.Context) {
	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	g, err := h.chat.CreateGroup(c.Request.Context(), req.Name, middleware.GetUserName(c), req.Members)
	if err != nil {
		respondError(c, h.logger, err, "create group")
		return
	}
	c.JSON(http.StatusCreated, g)
}

// List handles GET /v1/groups: the caller's groups.
func (h *GroupHandler) List(c *gin.Context) {
	groups, err := h.chat.GroupsOf(c.Request.Context(), middleware.GetUserName(c))
	if err != nil {
		respondError(c, h.logger, err, "list groups")
		return
	}
	c.JSON(http.StatusOK, groups)
}

// Get handles GET /v1/groups/:name
func (h *GroupHandler) Get(c *gin.Context) {
	g, err := h.chat.Group(c.Request.Context(), c.Param("name"), middleware.GetRequester(c))
	if err != nil {
		respondError(c, h.logger, err, "get group")
		return
	}
	c.JSON(http.StatusOK, g)
}

// AddMember handles POST /v1/groups/:name/members
func (h *GroupHandler) AddMember(c *gin.Context) {
	var req addMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.chat.AddMember(c.Request.Context(), c.Param("name"), req.UserName, middleware.GetRequester(c)); err != nil {
		respondError(c, h.logger, err, "add member")
		return
	}
	c.Status(http.StatusNoContent)
}

// RemoveMember handles DELETE /v1/groups/:name/members/:user
func (h *GroupHandler) RemoveMember(c *gin.Context) {
	if err := h.chat.RemoveMember(c.Request.Context(), c.Param("name"), c.Param("user"), middleware.GetRequester(c)); err != nil {
		respondError(c, h.logger, err, "remove member")
		return
	}
	c.Status(http.StatusNoContent)
}
