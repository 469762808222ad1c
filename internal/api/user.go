package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/talksphere/internal/middleware"
	"github.com/lalith-99/talksphere/internal/models"
	"github.com/lalith-99/talksphere/internal/repository"
	"go.uber.org/zap"
)

type UserHandler struct {
	users   repository.UserRepository
	uploads *UploadHandler
	logger  *zap.Logger
}

func NewUserHandler(users repository.UserRepository, uploads *UploadHandler, logger *zap.Logger) *UserHandler {
	return &UserHandler{users: users, uploads: uploads, logger: logger}
}

type userSummary struct {
	UserName string        `json:"userName"`
	Name     string        `json:"name"`
	Avatar   string        `json:"avatar"`
	Status   models.Status `json:"status"`
}

// List handles GET /v1/users, sorted by display name.
func (h *UserHandler) List(c *gin.Context) {
	users, err := h.users.List(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list users", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list users"})
		return
	}

	out := make([]userSummary, 0, len(users))
	for _, u := range users {
		out = append(out, userSummary{UserName: u.UserName, Name: u.Name, Avatar: u.Avatar, Status: u.Status})
	}
	c.JSON(http.StatusOK, out)
}

// GetMe handles GET /v1/users/me
func (h *UserHandler) GetMe(c *gin.Context) {
	user, err := h.users.GetByUserName(c.Request.Context(), middleware.GetUserName(c))
	if err != nil {
		h.logger.Error("failed to get user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get user"})
		return
	}
	// A valid token for a user that is gone from the store.
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, user)
}

// UploadAvatar handles POST /v1/users/me/avatar (multipart field "avatar").
func (h *UserHandler) UploadAvatar(c *gin.Context) {
	att, ok := h.uploads.store(c, "avatar")
	if !ok {
		return
	}
	userName := middleware.GetUserName(c)
	if err := h.users.SetAvatar(c.Request.Context(), userName, att.URL); err != nil {
		h.logger.Error("failed to set avatar", zap.String("user", userName), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to set avatar"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"avatar": att.URL})
}
