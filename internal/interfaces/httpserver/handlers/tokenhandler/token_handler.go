package tokenhandler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"vcu-server/services/token-api/internal/domain/token"
	"vcu-server/services/token-api/internal/domain/tokenservice"
	"vcu-server/services/token-api/internal/interfaces/httpserver/responses"
)

// Handler manages VCU token HTTP endpoints. It is a thin adapter: request
// validation happens here, every decision happens in the service.
type Handler struct {
	service *tokenservice.Service
	logger  zerolog.Logger
}

// NewHandler constructs a new token handler.
func NewHandler(service *tokenservice.Service, logger zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger.With().Str("component", "token-handler").Logger(),
	}
}

type createRequest struct {
	Value             string `json:"value" binding:"required"`
	OwnerID           string `json:"owner_id" binding:"required"`
	Quota             int64  `json:"quota,omitempty"`
	RateLimit         int64  `json:"rate_limit,omitempty"`
	RateWindowSeconds int64  `json:"rate_window_seconds,omitempty"`
	TTLSeconds        int64  `json:"ttl_seconds,omitempty"`
}

type rotateRequest struct {
	ConsecutiveFailures int `json:"consecutive_failures,omitempty"`
}

// tokenResponse never carries ciphertext, nonce or plaintext.
type tokenResponse struct {
	ID            string            `json:"id"`
	OwnerID       string            `json:"owner_id"`
	Status        string            `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	ExpiresAt     time.Time         `json:"expires_at"`
	LastRotatedAt *time.Time        `json:"last_rotated_at,omitempty"`
	UsageCount    int64             `json:"usage_count"`
	Quota         int64             `json:"quota"`
	RateLimit     int64             `json:"rate_limit"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func toResponse(rec *token.VCUToken) tokenResponse {
	return tokenResponse{
		ID:            rec.ID,
		OwnerID:       rec.OwnerID,
		Status:        effectiveStatus(rec),
		CreatedAt:     rec.CreatedAt,
		ExpiresAt:     rec.ExpiresAt,
		LastRotatedAt: rec.LastRotatedAt,
		UsageCount:    rec.UsageCount,
		Quota:         rec.Quota,
		RateLimit:     rec.RateLimit,
		Metadata:      rec.Metadata,
	}
}

func effectiveStatus(rec *token.VCUToken) string {
	now := time.Now()
	switch {
	case rec.Status == token.StatusRevoked:
		return string(token.StatusRevoked)
	case rec.ExpiredAt(now):
		return string(token.StatusExpired)
	default:
		return string(rec.Status)
	}
}

// Create stores a new token from a caller-supplied credential value.
func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.HandleErrorWithStatus(c, http.StatusBadRequest, err, "invalid request payload")
		return
	}

	rec, err := h.service.StoreToken(c.Request.Context(), req.Value, req.OwnerID, tokenservice.Policy{
		Quota:      req.Quota,
		RateLimit:  req.RateLimit,
		RateWindow: time.Duration(req.RateWindowSeconds) * time.Second,
		TTL:        time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		if errors.Is(err, tokenservice.ErrEmptyValue) || errors.Is(err, tokenservice.ErrEmptyOwner) {
			responses.HandleErrorWithStatus(c, http.StatusBadRequest, err, err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("failed to store token")
		responses.HandleError(c, err, "failed to store token")
		return
	}

	c.JSON(http.StatusCreated, toResponse(rec))
}

// Get returns token metadata, never the credential value.
func (h *Handler) Get(c *gin.Context) {
	rec, err := h.service.GetToken(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			responses.HandleErrorWithStatus(c, http.StatusNotFound, err, "token not found")
			return
		}
		h.logger.Error().Err(err).Msg("failed to fetch token")
		responses.HandleError(c, err, "failed to fetch token")
		return
	}

	c.JSON(http.StatusOK, toResponse(rec))
}

// Validate reports whether the token is usable right now.
func (h *Handler) Validate(c *gin.Context) {
	v, err := h.service.ValidateToken(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to validate token")
		responses.HandleError(c, err, "failed to validate token")
		return
	}

	c.JSON(http.StatusOK, v)
}

// Consume attempts to consume one unit of usage. Denials are structured
// outcomes in the decision body, not HTTP errors.
func (h *Handler) Consume(c *gin.Context) {
	decision, err := h.service.CheckQuota(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to check quota")
		responses.HandleError(c, err, "failed to check quota")
		return
	}

	c.JSON(http.StatusOK, decision)
}

// Rotate replaces the token's credential with a freshly issued one.
func (h *Handler) Rotate(c *gin.Context) {
	var req rotateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			responses.HandleErrorWithStatus(c, http.StatusBadRequest, err, "invalid request payload")
			return
		}
	}

	result, err := h.service.RotateToken(c.Request.Context(), c.Param("id"), req.ConsecutiveFailures)
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			responses.HandleErrorWithStatus(c, http.StatusNotFound, err, "token not found")
			return
		}
		h.logger.Error().Err(err).Msg("failed to rotate token")
		responses.HandleError(c, err, "failed to rotate token")
		return
	}

	if !result.Success {
		c.JSON(http.StatusOK, gin.H{
			"success":    false,
			"error":      result.Err.Error(),
			"backoff_ms": result.Backoff.Milliseconds(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"token":   toResponse(result.NewRecord),
	})
}

// Reveal is the explicit authorized read path for the credential value.
func (h *Handler) Reveal(c *gin.Context) {
	plaintext, err := h.service.RevealToken(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, token.ErrNotFound):
			responses.HandleErrorWithStatus(c, http.StatusNotFound, err, "token not found")
		case errors.Is(err, token.ErrNotActive):
			responses.HandleErrorWithStatus(c, http.StatusForbidden, err, "token not active")
		default:
			h.logger.Error().Err(err).Msg("failed to reveal token")
			responses.HandleError(c, err, "failed to reveal token")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"value": plaintext})
}

// Revoke flips the token to its terminal revoked status.
func (h *Handler) Revoke(c *gin.Context) {
	ok, err := h.service.RevokeToken(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			responses.HandleErrorWithStatus(c, http.StatusNotFound, err, "token not found")
			return
		}
		h.logger.Error().Err(err).Msg("failed to revoke token")
		responses.HandleError(c, err, "failed to revoke token")
		return
	}
	if !ok {
		responses.HandleErrorWithStatus(c, http.StatusConflict, nil, "token could not be revoked")
		return
	}

	c.Status(http.StatusNoContent)
}
