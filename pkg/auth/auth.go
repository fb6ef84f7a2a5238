package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/wahost/go-whatsapp-bot-host/pkg/env"
	"github.com/wahost/go-whatsapp-bot-host/pkg/router"
)

// AdminSecretKey authorizes token issuance for the /admin surface.
// JWTSecretKey signs the issued tokens.
var (
	AdminSecretKey string
	JWTSecretKey   string
)

func init() {
	AdminSecretKey, _ = env.GetEnvString("ADMIN_SECRET_KEY")
	JWTSecretKey, _ = env.GetEnvString("JWT_SECRET_KEY")
}

type AdminTokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateAdminToken issues a short-lived bearer token for the admin endpoints.
func GenerateAdminToken(ttl time.Duration) (string, error) {
	if JWTSecretKey == "" {
		return "", errors.New("JWT_SECRET_KEY not configured")
	}
	claims := AdminTokenClaims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(JWTSecretKey))
}

func ValidateAdminToken(tokenString string) (*AdminTokenClaims, error) {
	if JWTSecretKey == "" {
		return nil, errors.New("JWT_SECRET_KEY not configured")
	}

	token, err := jwt.ParseWithClaims(tokenString, &AdminTokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return []byte(JWTSecretKey), nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*AdminTokenClaims); ok && token.Valid && claims.Role == "admin" {
		return claims, nil
	}

	return nil, errors.New("invalid token claims")
}

// CheckAdminSecret compares the presented secret in constant time.
func CheckAdminSecret(secret string) bool {
	if AdminSecretKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(AdminSecretKey)) == 1
}

// AdminAuth guards the /admin routes with a bearer token issued by /admin/token.
func AdminAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			return router.ResponseUnauthorized(c, "Missing bearer token")
		}
		claims, err := ValidateAdminToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			return router.ResponseUnauthorized(c, "Invalid admin token")
		}
		c.Locals("admin_subject", claims.Subject)
		return c.Next()
	}
}
