package handlers

import (
	"errors"
	"net/http"

	"github.com/isdelr/ender-blog-be/internal/auth"
	"github.com/isdelr/ender-blog-be/internal/models"
	"github.com/isdelr/ender-blog-be/internal/services"
	"github.com/rs/zerolog/log"
)

// UserHandler handles registration and token endpoints.
type UserHandler struct {
	service services.UserServiceProvider
	tokens  *auth.TokenIssuer
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(service services.UserServiceProvider, tokens *auth.TokenIssuer) *UserHandler {
	return &UserHandler{service: service, tokens: tokens}
}

// AuthPayload defines the structure for login requests.
type AuthPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterPayload defines the structure for registration requests.
type RegisterPayload struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshPayload carries the refresh token to exchange.
type RefreshPayload struct {
	Refresh string `json:"refresh"`
}

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	auth.TokenPair
	User models.User `json:"user"`
}

// Register handles new user registration.
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var payload RegisterPayload
	if !decodeBody(w, r, &payload) {
		return
	}

	user, err := h.service.CreateUser(r.Context(), payload.Username, payload.Email, payload.Password)
	if err != nil {
		log.Info().Err(err).Str("username", payload.Username).Msg("Failed to register user")
		respondServiceError(w, err, "register user")
		return
	}

	log.Info().Int64("user_id", user.ID).Str("username", user.Username).Msg("User registered")
	respondJSON(w, http.StatusCreated, user)
}

// Login checks credentials and issues an access/refresh token pair.
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload AuthPayload
	if !decodeBody(w, r, &payload) {
		return
	}

	user, err := h.service.AuthenticateUser(r.Context(), payload.Username, payload.Password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			log.Warn().Str("username", payload.Username).Msg("Failed authentication attempt")
			respondDetail(w, http.StatusUnauthorized, "Invalid Credentials")
			return
		}
		respondServiceError(w, err, "authenticate user")
		return
	}

	pair, err := h.tokens.GenerateTokenPair(user)
	if err != nil {
		log.Error().Err(err).Int64("user_id", user.ID).Msg("Failed to generate tokens")
		respondDetail(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	respondJSON(w, http.StatusOK, LoginResponse{TokenPair: pair, User: user})
}

// Refresh exchanges a valid refresh token for a new access token.
func (h *UserHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var payload RefreshPayload
	if !decodeBody(w, r, &payload) {
		return
	}
	if payload.Refresh == "" {
		respondJSON(w, http.StatusBadRequest, map[string][]string{"refresh": {"This field is required."}})
		return
	}

	claims, err := h.tokens.Validate(payload.Refresh, auth.RefreshToken)
	if err != nil {
		log.Debug().Err(err).Msg("Rejected refresh token")
		respondDetail(w, http.StatusUnauthorized, "Token is invalid or expired")
		return
	}

	user, err := h.service.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			respondDetail(w, http.StatusUnauthorized, "User not found")
			return
		}
		respondServiceError(w, err, "refresh token")
		return
	}

	access, err := h.tokens.GenerateAccessToken(user)
	if err != nil {
		log.Error().Err(err).Int64("user_id", user.ID).Msg("Failed to generate access token")
		respondDetail(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"access": access})
}
