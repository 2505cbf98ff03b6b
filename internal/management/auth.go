package management

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"hogflow/internal/config"
	pkgerrors "hogflow/pkg/errors"
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("token has expired")
	ErrInvalidIssuer  = errors.New("invalid token issuer")
	ErrMissingSubject = errors.New("token missing subject")
)

type contextKey string

const (
	userIDKey   contextKey = "user_id"
	clientIPKey contextKey = "client_ip"
)

// WithUser returns ctx carrying the id of the user making changes.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func withClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

func getChangedBy(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok && id != "" {
		return id
	}
	return "system"
}

func clientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}

// TokenValidator checks HS256 bearer tokens and returns their subject.
type TokenValidator struct {
	secret []byte
	issuer string
}

func NewTokenValidator(cfg config.AuthConfig) *TokenValidator {
	return &TokenValidator{secret: []byte(cfg.JWTSecret), issuer: cfg.Issuer}
}

func (v *TokenValidator) Validate(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return "", ErrInvalidIssuer
	}
	if claims.Subject == "" {
		return "", ErrMissingSubject
	}
	return claims.Subject, nil
}

// AuthMiddleware puts the caller into the request context. With a nil
// validator every request passes and changes are attributed to "system".
func AuthMiddleware(v *TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := withClientIP(c.Request.Context(), c.ClientIP())
		if v == nil {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
			return
		}

		token := extractBearerToken(c.GetHeader("Authorization"))
		if token == "" {
			abortUnauthorized(c, "missing bearer token")
			return
		}
		subject, err := v.Validate(token)
		if err != nil {
			abortUnauthorized(c, err.Error())
			return
		}

		c.Set(string(userIDKey), subject)
		c.Request = c.Request.WithContext(WithUser(ctx, subject))
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	err := pkgerrors.ErrUnauthorized.WithMessage("%s", message)
	c.AbortWithStatusJSON(pkgerrors.ToHTTPStatus(err), pkgerrors.ToErrorResponse(err))
}

func extractBearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
