package gateway

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt"

	"github.com/mediadesk/mediadesk/fields"
)

// JWTAuth signs and verifies the API's bearer tokens. Access and refresh
// tokens use separate HS256 secrets so a leaked refresh secret cannot mint
// access tokens and vice versa.
type JWTAuth struct {
	Config fields.Config

	accessKey  []byte
	refreshKey []byte
}

// TokenClaims is the mediadesk claim set: the numeric user id, the stable
// uid and the login email ride alongside the registered claims.
type TokenClaims struct {
	UserID uint   `json:"user_id"`
	UID    string `json:"uid"`
	Email  string `json:"email"`
	jwt.StandardClaims
}

// Init loads the signing keys from config, generating throwaway keys when
// none are configured (tests, local runs).
func (j *JWTAuth) Init() {
	if j.Config.AccessSecret != "" {
		j.accessKey = []byte(j.Config.AccessSecret)
	} else {
		key, _ := GenerateSecretKey(32)
		j.accessKey = key
	}
	if j.Config.RefreshSecret != "" {
		j.refreshKey = []byte(j.Config.RefreshSecret)
	} else {
		key, _ := GenerateSecretKey(32)
		j.refreshKey = key
	}
}

func (j *JWTAuth) claims(user fields.User, ttl time.Duration) TokenClaims {
	now := time.Now()
	return TokenClaims{
		UserID: user.ID,
		UID:    user.UID,
		Email:  user.Email,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(ttl).Unix(),
			Issuer:    j.Config.JWTIssuer,
		},
	}
}

// GenerateJWT issues a signed access token for the user.
func (j *JWTAuth) GenerateJWT(user fields.User) (string, error) {
	if len(j.accessKey) == 0 {
		return "", errors.New("empty jwt key")
	}
	ttl := time.Duration(j.Config.AccessTTLMinutes) * time.Minute
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, j.claims(user, ttl))
	return token.SignedString(j.accessKey)
}

// GenerateRefresh issues a signed refresh token for the user.
func (j *JWTAuth) GenerateRefresh(user fields.User) (string, error) {
	if len(j.refreshKey) == 0 {
		return "", errors.New("empty refresh key")
	}
	ttl := time.Duration(j.Config.RefreshTTLHours) * time.Hour
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, j.claims(user, ttl))
	return token.SignedString(j.refreshKey)
}

func (j *JWTAuth) verify(tokenString string, key []byte) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return key, nil
	})
	if token == nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*TokenClaims); ok && token.Valid {
		return claims, nil
	} else if ok {
		// expired/malformed: hand the claims back with the error so
		// callers can inspect both.
		return claims, err
	}
	return nil, err
}

// VerifyJWT validates an access token.
func (j *JWTAuth) VerifyJWT(tokenString string) (*TokenClaims, error) {
	return j.verify(tokenString, j.accessKey)
}

// VerifyRefresh validates a refresh token.
func (j *JWTAuth) VerifyRefresh(tokenString string) (*TokenClaims, error) {
	return j.verify(tokenString, j.refreshKey)
}

// AuthMiddleware guards a route group with bearer access tokens and stores
// the caller's identity in the request locals.
func (j *JWTAuth) AuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		h := c.Get("Authorization")
		if h == "" {
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"message": "empty header was sent", "code": "unauthorized"})
		}
		h = strings.TrimPrefix(h, "Bearer ")

		claims, err := j.VerifyJWT(h)
		if e, ok := err.(*jwt.ValidationError); ok {
			if e.Errors&jwt.ValidationErrorExpired != 0 {
				return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"message": "Token has expired", "code": "jwt_expired"})
			}
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"message": "Malformed token", "code": "jwt_malformed"})
		} else if err != nil || claims == nil {
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"message": "Malformed token", "code": "jwt_malformed"})
		}

		c.Locals("user_id", claims.UserID)
		c.Locals("uid", claims.UID)
		c.Locals("email", claims.Email)
		return c.Next()
	}
}

// GenerateSecretKey generates a signing key of n random bytes.
func GenerateSecretKey(n int) ([]byte, error) {
	key := make([]byte, n)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// GenerateAPIKey returns a url-safe random key for machine clients.
func GenerateAPIKey() (string, error) {
	key, err := GenerateSecretKey(24)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(key), nil
}
