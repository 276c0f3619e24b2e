package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/polyarb/internal/crypto"
	"github.com/alanyoungcy/polyarb/internal/domain"
)

// DefaultClobURL is the public CLOB API root.
const DefaultClobURL = "https://clob.polymarket.com"

// ErrOrderRejected is returned when the CLOB answers an order with
// success=false for a reason other than an empty book.
var ErrOrderRejected = errors.New("order rejected")

// ClobClient is the REST client for the Polymarket CLOB (Central Limit
// Order Book) API. It derives L2 credentials and posts signed orders.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer

	mu       sync.RWMutex
	hmacAuth *crypto.HMACAuth
}

// NewClobClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
// signer is the EIP-712 signer for order signatures and auth messages.
func NewClobClient(baseURL string, signer *crypto.Signer) *ClobClient {
	if baseURL == "" {
		baseURL = DefaultClobURL
	}
	return &ClobClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		signer: signer,
	}
}

// Signer returns the client's signer.
func (c *ClobClient) Signer() *crypto.Signer { return c.signer }

// Credentials returns the L2 credentials, or nil before DeriveAPIKey.
func (c *ClobClient) Credentials() *crypto.HMACAuth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hmacAuth
}

// SetCredentials installs previously derived L2 credentials.
func (c *ClobClient) SetCredentials(auth *crypto.HMACAuth) {
	c.mu.Lock()
	c.hmacAuth = auth
	c.mu.Unlock()
}

// DeriveAPIKey performs the L1 auth flow: it signs a ClobAuth EIP-712
// message and sends it with the POLY_ADDRESS, POLY_SIGNATURE,
// POLY_TIMESTAMP and POLY_NONCE headers to the derive-api-key endpoint. On
// success the credentials are installed on the client.
func (c *ClobClient) DeriveAPIKey(ctx context.Context, nonce int64) (*crypto.HMACAuth, error) {
	timestamp := time.Now().Unix()

	sig, err := c.signer.SignAuthMessage(timestamp, nonce)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", c.signer.Address().Hex())
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("POLY_NONCE", strconv.FormatInt(nonce, 10))

	respBody, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: derive api key: %w", err)
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return nil, fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}
	if authResp.APIKey == "" || authResp.Secret == "" {
		return nil, fmt.Errorf("polymarket/clob: derive api key: %w: empty credentials", domain.ErrUnauthorized)
	}

	auth := &crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}
	c.SetCredentials(auth)
	return auth, nil
}

// NegRisk asks the CLOB whether tokenID settles on the neg-risk exchange.
func (c *ClobClient) NegRisk(ctx context.Context, tokenID string) (bool, error) {
	params := url.Values{}
	params.Set("token_id", tokenID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/neg-risk?"+params.Encode(), nil)
	if err != nil {
		return false, fmt.Errorf("polymarket/clob: create request: %w", err)
	}
	body, err := c.do(req)
	if err != nil {
		return false, fmt.Errorf("polymarket/clob: neg-risk %s: %w", tokenID, err)
	}
	var out struct {
		NegRisk bool `json:"neg_risk"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return false, fmt.Errorf("polymarket/clob: decode neg-risk: %w", err)
	}
	return out.NegRisk, nil
}

// PostOrder submits a signed order to the CLOB API and returns the result.
// An order that found nothing to match is not an error: it comes back with
// Success false and Status failed so the caller can treat it as an empty
// fill.
func (c *ClobClient) PostOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	auth := c.Credentials()
	if auth == nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w: no api credentials", domain.ErrUnauthorized)
	}
	salt, err := strconv.ParseInt(order.Salt, 10, 64)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w: salt %q", domain.ErrInvalidOrder, order.Salt)
	}

	body := postOrderRequest{
		Order: signedOrder{
			Salt:          salt,
			Maker:         order.Maker,
			Signer:        order.Signer,
			Taker:         zeroAddress,
			TokenID:       order.TokenID,
			MakerAmount:   order.MakerAmount.String(),
			TakerAmount:   order.TakerAmount.String(),
			Expiration:    "0",
			Nonce:         "0",
			FeeRateBps:    "0",
			Side:          strings.ToUpper(string(order.Side)),
			SignatureType: order.SigType,
			Signature:     order.Signature,
		},
		Owner:     auth.Key,
		OrderType: string(order.Type),
	}

	respBody, err := c.doAuthenticatedRequest(ctx, auth, http.MethodPost, "/order", body)
	if err != nil {
		if noMatch(err.Error()) {
			return domain.OrderResult{Status: domain.OrderStatusFailed, Message: err.Error()}, nil
		}
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var apiResult APIOrderResult
	if err := json.Unmarshal(respBody, &apiResult); err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}

	result := apiResult.ToDomainOrderResult()
	if !result.Success && !noMatch(result.Message) {
		return result, fmt.Errorf("polymarket/clob: %w: %s", ErrOrderRejected, result.Message)
	}
	return result, nil
}

// noMatch reports whether msg is the CLOB's answer to an immediate order
// that found no liquidity.
func noMatch(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "no orders found to match") || strings.Contains(m, "no match")
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

const zeroAddress = "0x0000000000000000000000000000000000000000"

// doAuthenticatedRequest builds, signs (HMAC), sends, and reads an HTTP
// request against the CLOB API. It returns the raw response body.
func (c *ClobClient) doAuthenticatedRequest(ctx context.Context, auth *crypto.HMACAuth, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range auth.L2Headers(c.signer.Address().Hex(), method, path, bodyStr) {
		req.Header.Set(k, v)
	}

	return c.do(req)
}

func (c *ClobClient) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", domain.ErrInvalidOrder, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
