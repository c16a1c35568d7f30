package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"flower-classifier-backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const UserIDKey = "user_id"

// TokenResolver turns a bearer token into the id of the user who owns it.
type TokenResolver interface {
	ResolveUserID(ctx context.Context, token string) (string, error)
}

// JWTResolver verifies Supabase access tokens locally with the project's
// HS256 secret.
type JWTResolver struct {
	secret []byte
}

func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret)}
}

func (r *JWTResolver) ResolveUserID(_ context.Context, tokenString string) (string, error) {
	if len(r.secret) == 0 {
		return "", errors.New("jwt secret is not configured")
	}
	if strings.Count(tokenString, ".") != 2 {
		return "", errors.New("JWT token must have 3 parts separated by dots")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return r.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return "", errors.New("token has expired")
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return "", errors.New("token signature is invalid")
		case errors.Is(err, jwt.ErrTokenMalformed):
			return "", errors.New("token is malformed")
		}
		return "", err
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("missing user id in token")
	}
	return sub, nil
}

// AuthMiddleware resolves the caller from the Authorization header and stores
// their id under UserIDKey. EventSource clients cannot set headers, so an
// access_token query parameter is accepted when the header is absent.
func AuthMiddleware(resolver TokenResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := bearerToken(c)
		if err != nil {
			unauthorized(c, err.Error(), "")
			return
		}

		sub, err := resolver.ResolveUserID(c.Request.Context(), tokenString)
		if err != nil {
			unauthorized(c, "invalid token", err.Error())
			return
		}

		userID, err := uuid.Parse(sub)
		if err != nil {
			unauthorized(c, "invalid token", fmt.Sprintf("user id %q is not a uuid", sub))
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// UserID returns the caller resolved by AuthMiddleware.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

func bearerToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if token := c.Query("access_token"); token != "" {
			return token, nil
		}
		return "", errors.New("missing authorization header")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errors.New("invalid authorization header format")
	}

	tokenString := strings.TrimSpace(parts[1])
	if tokenString == "" {
		return "", errors.New("empty token")
	}

	// Some clients URL-encode the token.
	if decoded, err := url.QueryUnescape(tokenString); err == nil {
		tokenString = decoded
	}
	return tokenString, nil
}

func unauthorized(c *gin.Context, msg, detail string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
		Success: false,
		Error:   msg,
		Message: detail,
	})
}
