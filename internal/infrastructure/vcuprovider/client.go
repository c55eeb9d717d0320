// Package vcuprovider is the resty client for the external token-issuing
// provider. The provider is treated as unreliable; every non-2xx response,
// timeout or transport error becomes an EXTERNAL platform error that the
// rotation manager maps onto its backoff path.
package vcuprovider

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"resty.dev/v3"

	"vcu-server/services/token-api/internal/domain/rotation"
	"vcu-server/services/token-api/internal/utils/platformerrors"
)

const issuePath = "/credentials"

// Config configures the provider client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client issues fresh VCU credentials over HTTP.
type Client struct {
	http   *resty.Client
	logger zerolog.Logger
}

// NewClient constructs a provider client with request/response logging.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	log := logger.With().Str("component", "vcu-provider-client").Logger()

	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", fmt.Sprintf("Bearer %s", cfg.APIKey))
	}

	client.AddResponseMiddleware(func(c *resty.Client, r *resty.Response) error {
		log.Debug().
			Int("status", r.StatusCode()).
			Str("method", r.Request.Method).
			Str("path", r.Request.URL).
			Dur("latency", r.Duration()).
			Msg("provider request")
		return nil
	})

	return &Client{http: client, logger: log}
}

type issueRequestBody struct {
	OwnerID    string `json:"owner_id"`
	Quota      int64  `json:"quota"`
	RateLimit  int64  `json:"rate_limit"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

type issueResponseBody struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

type providerErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// IssueCredential requests a fresh credential for the owner/policy descriptor.
func (c *Client) IssueCredential(ctx context.Context, req rotation.IssueRequest) (*rotation.IssueResult, error) {
	var out issueResponseBody
	var provErr providerErrorBody

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(issueRequestBody{
			OwnerID:    req.OwnerID,
			Quota:      req.Quota,
			RateLimit:  req.RateLimit,
			TTLSeconds: int64(req.TTL / time.Second),
		}).
		SetResult(&out).
		SetError(&provErr).
		Post(issuePath)
	if err != nil {
		return nil, platformerrors.AsTypedError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal, err, "provider unreachable")
	}

	if resp.IsError() {
		msg := provErr.Message
		if msg == "" {
			msg = resp.Status()
		}
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal,
			fmt.Sprintf("provider rejected issue request: %s", msg), nil, "")
	}

	if out.Value == "" {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal,
			"provider returned empty credential value", nil, "")
	}

	return &rotation.IssueResult{Value: out.Value, ExpiresAt: out.ExpiresAt}, nil
}
