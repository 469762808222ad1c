package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/talksphere/internal/auth"
	"github.com/lalith-99/talksphere/internal/models"
)

// Context keys for the authenticated caller in gin.Context.
const (
	ContextKeyUserID   = "user_id"
	ContextKeyUserName = "user_name"
	ContextKeyRole     = "role"
	ContextKeyEmail    = "email"
)

// AuthMiddleware rejects requests without a valid bearer token and
// stores the caller's identity for the handlers behind it.
func AuthMiddleware(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := verifier.Verify(c.GetHeader("Authorization"))
		if err != nil {
			msg := "invalid or expired token"
			if errors.Is(err, auth.ErrUnauthenticated) {
				msg = "missing authorization header"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		c.Set(ContextKeyUserID, id.UserID)
		c.Set(ContextKeyUserName, id.UserName)
		c.Set(ContextKeyRole, id.Role)
		c.Set(ContextKeyEmail, id.Email)

		c.Next()
	}
}

// Helpers return zero values when the key is missing, which every
// permission check treats as "nobody".

func GetUserID(c *gin.Context) uuid.UUID {
	val, exists := c.Get(ContextKeyUserID)
	if !exists {
		return uuid.Nil
	}
	id, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}

func GetUserName(c *gin.Context) string {
	return c.GetString(ContextKeyUserName)
}

func GetEmail(c *gin.Context) string {
	return c.GetString(ContextKeyEmail)
}

func GetRole(c *gin.Context) models.Role {
	val, exists := c.Get(ContextKeyRole)
	if !exists {
		return ""
	}
	role, ok := val.(models.Role)
	if !ok {
		return ""
	}
	return role
}

func GetRequester(c *gin.Context) models.Requester {
	return models.Requester{UserName: GetUserName(c), Role: GetRole(c)}
}
