package mcpserver

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/cardlinkhq/settle/internal/signing"
)

// Config holds the configuration for connecting to the Settle platform.
type Config struct {
	APIURL     string // Base URL, e.g. "http://localhost:8080"
	PrivateKey string // Hex-encoded secp256k1 key used to sign requests
	Caller     string // Caller address; derived from PrivateKey when a key is set
}

// SettleClient is a pure HTTP client for the Settle platform API.
// Requests are signed with the wallet key so the platform can recover
// the caller address. Without a key it falls back to the bare X-Caller
// header, which only works against a server running with AUTH_DISABLED.
type SettleClient struct {
	cfg        Config
	key        *ecdsa.PrivateKey
	caller     string
	nonce      atomic.Uint64
	httpClient *http.Client
}

// NewSettleClient creates a new client for the Settle platform.
func NewSettleClient(cfg Config) (*SettleClient, error) {
	c := &SettleClient{
		cfg:    cfg,
		caller: strings.ToLower(cfg.Caller),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		c.key = key
		c.caller = strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())
	}

	if c.caller == "" {
		return nil, fmt.Errorf("either PrivateKey or Caller must be set")
	}

	// Nonces only need to differ between requests; seeding from the clock
	// keeps them fresh across restarts.
	c.nonce.Store(uint64(time.Now().UnixNano())) // #nosec G115

	return c, nil
}

// Caller returns the wallet address requests are made as.
func (c *SettleClient) Caller() string {
	return c.caller
}

// apiError represents an error response from the platform.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// sign attaches the wallet-signature auth headers to a request.
// The signed message covers the method and path only, matching what
// the platform middleware verifies.
func (c *SettleClient) sign(req *http.Request) error {
	req.Header.Set(signing.HeaderCaller, c.caller)
	if c.key == nil {
		return nil
	}

	nonce := c.nonce.Add(1)
	ts := time.Now().Unix()

	message := signing.CreateRequestMessage(req.Method, req.URL.Path, nonce, ts)
	sig, err := crypto.Sign(signing.HashMessage(message), c.key)
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	sig[64] += 27 // recovery ID to Ethereum v

	req.Header.Set(signing.HeaderNonce, strconv.FormatUint(nonce, 10))
	req.Header.Set(signing.HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(signing.HeaderSignature, "0x"+hex.EncodeToString(sig))
	return nil
}

// doRequest makes a signed HTTP request to the platform and returns the response body.
func (c *SettleClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if err := c.sign(req); err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// GetBalance returns the custody balance for an address.
func (c *SettleClient) GetBalance(ctx context.Context, address string) (json.RawMessage, error) {
	path := "/v1/accounts/" + address + "/balance"
	return c.doRequest(ctx, http.MethodGet, path, nil, nil)
}

// CreatePayment settles a direct transfer to the payee.
func (c *SettleClient) CreatePayment(ctx context.Context, payee, amount, memo string) (json.RawMessage, error) {
	body := map[string]string{
		"payee":  payee,
		"amount": amount,
		"value":  amount,
	}
	if memo != "" {
		body["memo"] = memo
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/payments", nil, body)
}

// GetPayment fetches a settled payment by ID.
func (c *SettleClient) GetPayment(ctx context.Context, id string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/payments/"+id, nil, nil)
}

// CreateEscrow funds a new escrow with the caller as payer.
func (c *SettleClient) CreateEscrow(ctx context.Context, payee, amount, terms, releaseTime string) (json.RawMessage, error) {
	body := map[string]string{
		"payee":  payee,
		"amount": amount,
		"value":  amount,
	}
	if terms != "" {
		body["terms"] = terms
	}
	if releaseTime != "" {
		body["releaseTime"] = releaseTime
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows", nil, body)
}

// GetEscrow fetches an escrow by ID.
func (c *SettleClient) GetEscrow(ctx context.Context, id string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/escrows/"+id, nil, nil)
}

// ReleaseEscrow releases escrowed funds to the payee.
func (c *SettleClient) ReleaseEscrow(ctx context.Context, id string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows/"+id+"/release", nil, nil)
}

// RefundEscrow refunds escrowed funds to the payer.
func (c *SettleClient) RefundEscrow(ctx context.Context, id string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows/"+id+"/refund", nil, nil)
}

// DisputeEscrow freezes an escrow pending arbiter resolution.
func (c *SettleClient) DisputeEscrow(ctx context.Context, id string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows/"+id+"/dispute", nil, nil)
}

// ListEvents queries the engine event log, optionally scoped to an address.
func (c *SettleClient) ListEvents(ctx context.Context, address string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if address != "" {
		q.Set("address", address)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/events", q, nil)
}

// GetPlatform returns the platform fee configuration.
func (c *SettleClient) GetPlatform(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/platform", nil, nil)
}
