package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lalith-99/talksphere/internal/models"
)

const issuer = "talksphere"

var (
	// ErrUnauthenticated means no credential was presented at all.
	ErrUnauthenticated = errors.New("missing credentials")
	// ErrInvalidCredential covers a malformed header, a bad signature and
	// an expired token.
	ErrInvalidCredential = errors.New("invalid or expired token")
)

// Claims is the payload inside every token.
//
// UserName is the handle every chat entity refers to; it is what the
// transport compares against identify frames and message senders.
type Claims struct {
	UserID   uuid.UUID   `json:"user_id"`
	UserName string      `json:"user_name"`
	Role     models.Role `json:"role"`
	Email    string      `json:"email"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller extracted from a valid token.
type Identity struct {
	UserID   uuid.UUID
	UserName string
	Role     models.Role
	Email    string
}

func (i *Identity) Requester() models.Requester {
	return models.Requester{UserName: i.UserName, Role: i.Role}
}

// GenerateToken signs an HS256 token for u that expires after ttl.
func GenerateToken(u *models.User, secret string, ttl time.Duration) (string, error) {
	now := time.Now()

	claims := Claims{
		UserID:   u.ID,
		UserName: u.UserName,
		Role:     u.Role,
		Email:    u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.UserName,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies signature, expiry and signing method and returns
// the claims. Tokens signed with anything but HMAC are rejected before
// the signature is checked.
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		},
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.UserName == "" {
		return nil, fmt.Errorf("token has no user name")
	}
	return claims, nil
}

// Verifier checks credentials for the HTTP API and the websocket handshake.
type Verifier struct {
	secret string
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

// Verify accepts an Authorization header value ("Bearer <token>") or a
// bare token, as sent in the websocket query string.
func (v *Verifier) Verify(credential string) (*Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, ErrUnauthenticated
	}

	token := credential
	if parts := strings.SplitN(credential, " ", 2); len(parts) == 2 {
		if !strings.EqualFold(parts[0], "Bearer") {
			return nil, fmt.Errorf("%w: expected Bearer scheme", ErrInvalidCredential)
		}
		token = strings.TrimSpace(parts[1])
	}

	claims, err := ParseToken(token, v.secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}

	role := claims.Role
	if role == "" {
		role = models.RoleUser
	}
	return &Identity{
		UserID:   claims.UserID,
		UserName: claims.UserName,
		Role:     role,
		Email:    claims.Email,
	}, nil
}
