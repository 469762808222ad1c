package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/talksphere/internal/auth"
	"github.com/lalith-99/talksphere/internal/models"
	"github.com/lalith-99/talksphere/internal/repository"
	"go.uber.org/zap"
)

// AuthHandler serves signup and login, the only endpoints that hand out
// tokens. They sit outside AuthMiddleware.
type AuthHandler struct {
	users     repository.UserRepository
	jwtSecret string
	tokenTTL  time.Duration
	logger    *zap.Logger
}

func NewAuthHandler(users repository.UserRepository, jwtSecret string, tokenTTL time.Duration, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		users:     users,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
		logger:    logger,
	}
}

type signupRequest struct {
	UserName string `json:"userName" binding:"required,alphanum,max=32"`
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

type loginRequest struct {
	UserName string `json:"userName" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// authResponse is what both signup and login return. Clients send the
// token as "Authorization: Bearer <token>" and as ?token= on /v1/ws.
type authResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Signup handles POST /v1/auth/signup
func (h *AuthHandler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("failed to hash password", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup failed"})
		return
	}

	user, err := h.users.Create(c.Request.Context(), models.User{
		UserName:     req.UserName,
		Name:         req.Name,
		Email:        req.Email,
		Role:         models.RoleUser,
		PasswordHash: hash,
	})
	if errors.Is(err, repository.ErrConflict) {
		c.JSON(http.StatusConflict, gin.H{"error": "user name already taken"})
		return
	}
	if err != nil {
		h.logger.Error("failed to create user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup failed"})
		return
	}

	h.issue(c, http.StatusCreated, user)
}

// Login handles POST /v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.GetByUserName(c.Request.Context(), req.UserName)
	if err != nil {
		h.logger.Error("failed to find user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	// Same answer for an unknown user and a wrong password. Users created
	// implicitly by sending a message have no password and cannot log in.
	if user == nil || user.PasswordHash == "" || auth.CheckPassword(user.PasswordHash, req.Password) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user name or password"})
		return
	}

	h.issue(c, http.StatusOK, user)
}

func (h *AuthHandler) issue(c *gin.Context, status int, user *models.User) {
	token, err := auth.GenerateToken(user, h.jwtSecret, h.tokenTTL)
	if err != nil {
		h.logger.Error("failed to generate token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
		return
	}
	c.JSON(status, authResponse{Token: token, User: user})
}
