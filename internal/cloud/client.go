package cloud

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"factory-edge/internal/faults"
	"factory-edge/internal/observability/metrics"
	telemetry "factory-edge/internal/telemetry/domain"
)

// ErrNetworkOutage is returned when the simulated network outage fault
// is active. No I/O is attempted in that case.
var ErrNetworkOutage = errors.New("cloud client: simulated network outage")

const defaultTimeout = 5 * time.Second

// Client delivers single telemetry points to the cloud ingestion
// endpoint. It performs no retries; draining a backlog is the backfill
// loop's job, and re-delivery is safe because the endpoint is
// idempotent by point id.
type Client struct {
	baseURL    string
	client     *http.Client
	state      *faults.State
	tenantID   string
	hmacSecret []byte
	jwtSecret  []byte
	tokenTTL   time.Duration
}

// Option configures the client.
type Option func(*Client)

// WithTimeout overrides the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.client.Timeout = timeout
		}
	}
}

// WithHMACSecret enables ingest signature headers on every request.
func WithHMACSecret(secret []byte) Option {
	return func(c *Client) {
		if len(secret) > 0 {
			c.hmacSecret = secret
		}
	}
}

// WithJWTSecret enables a short-lived HS256 bearer token on every
// request.
func WithJWTSecret(secret []byte) Option {
	return func(c *Client) {
		if len(secret) > 0 {
			c.jwtSecret = secret
		}
	}
}

// NewClient constructs a delivery client.
func NewClient(baseURL, tenantID string, state *faults.State, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("cloud client: empty base url")
	}
	if state == nil {
		return nil, errors.New("cloud client: nil fault state")
	}
	client := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: defaultTimeout},
		state:    state,
		tenantID: tenantID,
		tokenTTL: time.Minute,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Send attempts to deliver one point. A nil return means the point is
// ingested (first receipt or duplicate, both terminal); any error means
// the point remains unsent and will be retried by a later backfill
// cycle.
func (c *Client) Send(ctx context.Context, point telemetry.Point) error {
	if c.state.IsActive(faults.NetworkOutage) {
		metrics.IncDeliveryAttempt(metrics.DeliveryResultOutage)
		return ErrNetworkOutage
	}

	payload, err := json.Marshal(point)
	if err != nil {
		metrics.IncDeliveryAttempt(metrics.DeliveryResultError)
		return fmt.Errorf("cloud client: marshal point %s: %w", point.ID, err)
	}

	start := time.Now()
	err = c.post(ctx, payload)
	metrics.ObserveDeliveryLatency(time.Since(start))
	if err != nil {
		metrics.IncDeliveryAttempt(metrics.DeliveryResultError)
		return err
	}
	metrics.IncDeliveryAttempt(metrics.DeliveryResultSuccess)
	return nil
}

func (c *Client) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ingest", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("cloud client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if len(c.hmacSecret) > 0 {
		timestamp := strconv.FormatInt(time.Now().Unix(), 10)
		req.Header.Set("X-Ingest-Timestamp", timestamp)
		req.Header.Set("X-Ingest-Signature", computeIngestSignature(c.hmacSecret, timestamp, payload))
	}
	if len(c.jwtSecret) > 0 {
		token, err := c.mintToken()
		if err != nil {
			return fmt.Errorf("cloud client: mint token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("cloud client: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusConflict:
		// 409 means the point was already ingested: the endpoint is
		// idempotent by id, so re-delivery still counts as success.
		return nil
	default:
		return fmt.Errorf("cloud client: http %d", resp.StatusCode)
	}
}

// ingestClaims is the token payload the ingestion service validates.
type ingestClaims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

func (c *Client) mintToken() (string, error) {
	now := time.Now().UTC()
	claims := ingestClaims{
		TenantID: c.tenantID,
		Role:     "ingest",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.jwtSecret)
}

func computeIngestSignature(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("\n"))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
