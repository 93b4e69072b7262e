package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/karlseguin/ccache/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apperrors "github.com/Laynholt/ymd2/internal/errors"
	"github.com/Laynholt/ymd2/internal/monitoring"
	"github.com/Laynholt/ymd2/internal/network"
)

const (
	// DefaultBaseURL is the music service API root
	DefaultBaseURL = "https://api.music.yandex.net"

	userAgent = "ymd2/2.2"

	// Download info links are signed and expire within a minute or two
	downloadInfoTTL = 30 * time.Second
)

// Config holds the client settings
type Config struct {
	BaseURL           string
	Token             string
	UserID            int64
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	Workers           int
	ChunkSize         int
}

// Client talks to the music service. It implements both the catalog side
// (account, playlists, liked tracks) and the transport side (download info,
// audio, covers, lyrics) used by the download engine.
type Client struct {
	httpClient     *http.Client
	transferClient *http.Client
	baseURL        string
	token          string
	chunkSize      int
	storageScheme  string
	rateLimiter    *rate.Limiter
	infoCache      *ccache.Cache[[]downloadInfo]
	logger         *zap.Logger

	mu     sync.RWMutex
	userID int64
}

// NewClient creates a new API client
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, apperrors.NewAuthError("token cannot be empty", nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ChunkSize < 1 {
		cfg.ChunkSize = 20
	}

	apiConfig := network.DefaultClientConfig()
	apiConfig.Timeout = cfg.Timeout

	return &Client{
		httpClient:     network.NewClient(apiConfig),
		transferClient: network.GetTransferClient(4*cfg.Timeout, cfg.Workers),
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		token:          cfg.Token,
		chunkSize:      cfg.ChunkSize,
		storageScheme:  "https",
		rateLimiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		infoCache:      ccache.New(ccache.Configure[[]downloadInfo]().MaxSize(1000)),
		logger:         logger,
		userID:         cfg.UserID,
	}, nil
}

// Close releases the client's background resources
func (c *Client) Close() {
	c.infoCache.Stop()
}

// Authenticate resolves the account id of the token owner
func (c *Client) Authenticate(ctx context.Context) (int64, error) {
	var status accountStatus
	if err := c.getResult(ctx, "account_status", http.MethodGet, "/account/status", nil, &status); err != nil {
		return 0, err
	}

	if status.Account.UID == 0 {
		return 0, apperrors.NewAuthError("token is not bound to an account", nil)
	}

	c.mu.Lock()
	c.userID = int64(status.Account.UID)
	c.mu.Unlock()

	c.logger.Debug("Authenticated", zap.Int64("user_id", int64(status.Account.UID)))
	return int64(status.Account.UID), nil
}

// UserID returns the account id, authenticating on first use
func (c *Client) UserID(ctx context.Context) (int64, error) {
	c.mu.RLock()
	uid := c.userID
	c.mu.RUnlock()

	if uid != 0 {
		return uid, nil
	}
	return c.Authenticate(ctx)
}

func (c *Client) userPath(ctx context.Context, format string, args ...any) (string, error) {
	uid, err := c.UserID(ctx)
	if err != nil {
		return "", err
	}
	return "/users/" + strconv.FormatInt(uid, 10) + fmt.Sprintf(format, args...), nil
}

// doRequest performs an authorized API request with rate limiting
func (c *Client) doRequest(ctx context.Context, endpoint string, req *http.Request) (*http.Response, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	req.Header.Set("Authorization", "OAuth "+c.token)
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		monitoring.RecordAPIRequest(endpoint, "error", time.Since(start))
		return nil, network.Classify(fmt.Sprintf("%s request failed", endpoint), err)
	}
	monitoring.RecordAPIRequest(endpoint, strconv.Itoa(resp.StatusCode), time.Since(start))

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, apperrors.NewAuthError("authentication required or token expired", nil)
	}

	return resp, nil
}

// getResult performs an API call and decodes its "result" member into out
func (c *Client) getResult(ctx context.Context, endpoint, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.doRequest(ctx, endpoint, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return network.Classify(fmt.Sprintf("failed to read %s response", endpoint), err)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *apiError       `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		if resp.StatusCode != http.StatusOK {
			return apperrors.NewTransferError(fmt.Sprintf("%s returned status %d", endpoint, resp.StatusCode), nil)
		}
		return apperrors.NewTransferError(fmt.Sprintf("failed to decode %s response", endpoint), err)
	}

	if envelope.Error != nil {
		if resp.StatusCode == http.StatusNotFound {
			return apperrors.NewUnavailableError(fmt.Sprintf("%s: %s", endpoint, envelope.Error))
		}
		return apperrors.NewTransferError(fmt.Sprintf("%s failed", endpoint), envelope.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return apperrors.NewTransferError(fmt.Sprintf("%s returned status %d", endpoint, resp.StatusCode), nil)
	}

	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return apperrors.NewTransferError(fmt.Sprintf("failed to decode %s result", endpoint), err)
	}
	return nil
}

// fetch downloads rawURL without credentials. Storage and cover hosts are
// not the API host and never see the token.
func (c *Client) fetch(ctx context.Context, endpoint, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.transferClient.Do(req)
	if err != nil {
		monitoring.RecordAPIRequest(endpoint, "error", time.Since(start))
		return nil, network.Classify(fmt.Sprintf("%s request failed", endpoint), err)
	}
	monitoring.RecordAPIRequest(endpoint, strconv.Itoa(resp.StatusCode), time.Since(start))

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, apperrors.NewTransferError(fmt.Sprintf("%s returned status %d", endpoint, resp.StatusCode), nil)
	}
	return resp, nil
}
