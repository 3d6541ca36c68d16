package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type Handler struct {
	manager *Manager
}

func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

type LoginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		log.Warn().Err(err).Str("remote_addr", c.Request().RemoteAddr).Msg("invalid login request body")
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request",
		})
	}

	user, err := h.manager.authenticate(req.Name, req.Password)
	if err != nil {
		log.Warn().Str("user", req.Name).Msg("login failed")
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "invalid credentials",
		})
	}

	token, err := h.manager.GenerateToken(*user)
	if err != nil {
		log.Error().Err(err).Msg("failed to generate token")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to generate token",
		})
	}

	log.Info().Str("user", user.Name).Msg("operator logged in")

	return c.JSON(http.StatusOK, LoginResponse{
		Token: token,
		User:  *user,
	})
}

// Me returns the authenticated user.
func (h *Handler) Me(c echo.Context) error {
	user := UserFrom(c)
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "unauthorized",
		})
	}
	return c.JSON(http.StatusOK, user)
}

// authenticate compares against every configured account in constant time.
func (m *Manager) authenticate(name, password string) (*User, error) {
	var found *User
	for _, cred := range m.config.Users {
		nameOK := subtle.ConstantTimeCompare([]byte(name), []byte(cred.Name)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(password), []byte(cred.Password)) == 1
		if nameOK && passOK && found == nil {
			found = &User{Name: cred.Name, Roles: cred.Roles}
		}
	}
	if found == nil {
		return nil, ErrInvalidCredentials
	}
	return found, nil
}
