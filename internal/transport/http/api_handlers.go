package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pairchat/internal/auth"
)

// OIDCFlow is the part of an OpenID Connect provider the handlers drive.
type OIDCFlow interface {
	AuthCodeURL() (url, state string)
	Exchange(ctx context.Context, state, code string) (*auth.Identity, error)
}

// APIHandlers provides HTTP handlers for authentication endpoints.
type APIHandlers struct {
	authService *auth.Service
	oidc        OIDCFlow
	log         *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance. oidc may be nil.
func NewAPIHandlers(authService *auth.Service, oidc OIDCFlow, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		authService: authService,
		oidc:        oidc,
		log:         logger,
	}
}

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	Email           string `json:"email" binding:"required"`
	Username        string `json:"username" binding:"required"`
	Password        string `json:"password" binding:"required"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
}

// LoginRequest represents the login request body.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse represents the authentication response body.
type AuthResponse struct {
	Token string `json:"token"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Register handles user registration.
// POST /api/register
func (h *APIHandlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid register request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	token, err := h.authService.Register(c.Request.Context(), req.Email, req.Username, req.Password, req.ConfirmPassword)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidEmail),
			errors.Is(err, auth.ErrInvalidUsername),
			errors.Is(err, auth.ErrInvalidPassword),
			errors.Is(err, auth.ErrPasswordMismatch):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		case errors.Is(err, auth.ErrUserExists):
			c.JSON(http.StatusConflict, ErrorResponse{Error: "user already exists"})
		default:
			h.log.Error().Err(err).Str("username", req.Username).Msg("failed to register user")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}

	h.log.Info().Str("username", req.Username).Msg("user registered successfully")
	c.JSON(http.StatusCreated, AuthResponse{Token: token})
}

// Login handles user login.
// POST /api/login
func (h *APIHandlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid login request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	token, err := h.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
			return
		}
		h.log.Error().Err(err).Msg("failed to login user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, AuthResponse{Token: token})
}

// Logout revokes the caller's token.
// POST /api/logout
func (h *APIHandlers) Logout(c *gin.Context) {
	value, ok := c.Get(ContextKeyClaims)
	claims, isClaims := value.(*auth.Claims)
	if !ok || !isClaims {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	if err := h.authService.Logout(c.Request.Context(), claims); err != nil {
		h.log.Error().Err(err).Int64("user_id", claims.UserID).Msg("failed to logout")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.Status(http.StatusNoContent)
}

// OIDCLogin redirects to the identity provider.
// GET /api/oidc/login
func (h *APIHandlers) OIDCLogin(c *gin.Context) {
	if h.oidc == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "oidc sign-in is not configured"})
		return
	}
	url, _ := h.oidc.AuthCodeURL()
	c.Redirect(http.StatusFound, url)
}

// OIDCCallback completes the provider sign-in and returns a token.
// GET /api/oidc/callback?state=...&code=...
func (h *APIHandlers) OIDCCallback(c *gin.Context) {
	if h.oidc == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "oidc sign-in is not configured"})
		return
	}
	if errParam := c.Query("error"); errParam != "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: errParam})
		return
	}

	state, code := c.Query("state"), c.Query("code")
	if state == "" || code == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "state and code are required"})
		return
	}

	identity, err := h.oidc.Exchange(c.Request.Context(), state, code)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidState) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		h.log.Warn().Err(err).Msg("oidc exchange failed")
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "sign-in failed"})
		return
	}

	token, err := h.authService.SignInWithIdentity(c.Request.Context(), identity)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingEmail):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		case errors.Is(err, auth.ErrUserExists):
			c.JSON(http.StatusConflict, ErrorResponse{Error: "an account with this email already exists"})
		default:
			h.log.Error().Err(err).Str("subject", identity.Subject).Msg("failed to sign in with identity")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}

	c.JSON(http.StatusOK, AuthResponse{Token: token})
}
