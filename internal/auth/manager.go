// Package auth guards the agent's admin API with bearer tokens.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

const (
	RoleAdmin   = "admin"
	RoleAuditor = "auditor"
)

const issuer = "rasp-agent"

// User is an authenticated operator.
type User struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

func (u *User) HasRole(role string) bool {
	return slices.Contains(u.Roles, role) || slices.Contains(u.Roles, RoleAdmin)
}

type Claims struct {
	User User `json:"user"`
	jwt.RegisteredClaims
}

// Credential is a configured operator account.
type Credential struct {
	Name     string
	Password string
	Roles    []string
}

type Config struct {
	JWTSecret       string
	TokenExpiration time.Duration
	RequireAuth     bool
	Users           []Credential
}

type Manager struct {
	config Config
	secret []byte
}

func NewManager(config Config) *Manager {
	secret := config.JWTSecret
	if secret == "" && config.RequireAuth {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			panic(fmt.Sprintf("generate token secret: %v", err))
		}
		secret = base64.StdEncoding.EncodeToString(b)
		log.Warn().Msg("using generated token secret, tokens will not survive a restart")
	}
	if config.TokenExpiration == 0 {
		config.TokenExpiration = time.Hour
	}

	return &Manager{
		config: config,
		secret: []byte(secret),
	}
}

// Enabled reports whether tokens are checked at all.
func (m *Manager) Enabled() bool {
	return m.config.RequireAuth
}

// Middleware rejects requests without a valid bearer token. With auth
// disabled every request passes.
func (m *Manager) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !m.config.RequireAuth {
				return next(c)
			}

			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "missing authorization header",
				})
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "invalid authorization header format",
				})
			}

			user, err := m.ValidateToken(parts[1])
			if err != nil {
				log.Debug().Err(err).Str("remote_addr", c.RealIP()).Msg("rejected token")
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "invalid token",
				})
			}

			c.Set(userKey, user)
			return next(c)
		}
	}
}

// RequireRole admits users holding role. Admins hold every role.
func (m *Manager) RequireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !m.config.RequireAuth {
				return next(c)
			}

			user := UserFrom(c)
			if user == nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "authentication required",
				})
			}
			if !user.HasRole(role) {
				return c.JSON(http.StatusForbidden, map[string]string{
					"error": fmt.Sprintf("role %q required", role),
				})
			}
			return next(c)
		}
	}
}

func (m *Manager) GenerateToken(user User) (string, error) {
	now := time.Now()
	claims := &Claims{
		User: user,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Name,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.TokenExpiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *Manager) ValidateToken(tokenString string) (*User, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return &claims.User, nil
	}
	return nil, fmt.Errorf("invalid token")
}

const userKey = "user"

// UserFrom returns the user set by Middleware.
func UserFrom(c echo.Context) *User {
	if user, ok := c.Get(userKey).(*User); ok {
		return user
	}
	return nil
}
