package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/talksphere/internal/auth"
	"github.com/lalith-99/talksphere/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware(auth.NewVerifier(secret)))
	r.GET("/whoami", func(c *gin.Context) {
		req := GetRequester(c)
		c.JSON(http.StatusOK, gin.H{
			"id":       GetUserID(c).String(),
			"userName": req.UserName,
			"role":     req.Role,
			"email":    GetEmail(c),
		})
	})
	return r
}

func TestAuthMiddlewareAcceptsValidToken(t *testing.T) {
	u := &models.User{ID: uuid.New(), UserName: "bob", Role: models.RoleUser, Email: "bob@example.com"}
	tok, err := auth.GenerateToken(u, "s3cret", time.Hour)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	newRouter("s3cret").ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"`+u.ID.String()+`","userName":"bob","role":"user","email":"bob@example.com"}`, w.Body.String())
}

func TestAuthMiddlewareRejects(t *testing.T) {
	r := newRouter("s3cret")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "missing authorization header")

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer nope")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid or expired token")
}
