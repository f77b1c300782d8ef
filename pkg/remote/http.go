package remote

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/ccinv/ccinv/pkg/metrics"
	"github.com/ccinv/ccinv/pkg/util"
	"github.com/ccinv/ccinv/pkg/version"
)

const (
	authPath = "/dna/system/api/v1/auth/token"

	defaultTimeout   = 60 * time.Second
	defaultRate      = 10
	defaultBurst     = 5
	defaultRetries   = 3
	defaultBackoff   = 2 * time.Second
	tokenRefreshSkew = 60 * time.Second
	// Tokens without a readable expiry are treated as valid this long.
	fallbackTokenTTL = 55 * time.Minute
)

// Config holds connection settings for an HTTPClient.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// Verify enables TLS certificate verification.
	Verify  bool
	Timeout time.Duration
	// RateLimit is the steady-state request rate in calls per second.
	RateLimit float64
	Burst     int
	// Retries bounds how often a throttled (429/503) call is re-sent.
	Retries int
}

// BaseURL returns the scheme, host and port the client talks to.
func (c Config) BaseURL() string {
	host := strings.TrimRight(c.Host, "/")
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	if c.Port > 0 && c.Port != 443 {
		u, err := url.Parse(host)
		if err == nil && u.Port() == "" {
			u.Host = fmt.Sprintf("%s:%d", u.Host, c.Port)
			return u.String()
		}
	}
	return host
}

// HTTPClient is the production Client backed by the controller REST API.
type HTTPClient struct {
	cfg     Config
	baseURL string
	http    *http.Client
	limiter *rate.Limiter

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewHTTPClient creates a client for the controller described by cfg.
func NewHTTPClient(cfg Config) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRate
	}
	if cfg.Burst == 0 {
		cfg.Burst = defaultBurst
	}
	if cfg.Retries == 0 {
		cfg.Retries = defaultRetries
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: !cfg.Verify} //nolint:gosec
	return &HTTPClient{
		cfg:     cfg,
		baseURL: cfg.BaseURL(),
		http:    &http.Client{Timeout: cfg.Timeout, Transport: transport},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// Invoke performs the call named by op.
func (c *HTTPClient) Invoke(ctx context.Context, op Op, params Params) (*Response, error) {
	rt, ok := routes[op]
	if !ok {
		return nil, &util.RemoteError{Family: op.Family, Operation: op.Operation, Message: "unknown operation"}
	}
	metrics.RecordRemoteCall(op.Family)
	path, query, body, err := buildRequest(rt.Path, params)
	if err != nil {
		return nil, &util.RemoteError{Family: op.Family, Operation: op.Operation, Message: err.Error()}
	}

	reauthed := false
	for attempt := 0; ; attempt++ {
		token, err := c.ensureToken(ctx)
		if err != nil {
			return nil, &util.RemoteError{Family: op.Family, Operation: op.Operation, Message: err.Error()}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := c.do(ctx, rt.Method, path, query, body, token)
		if err != nil {
			return nil, &util.RemoteError{Family: op.Family, Operation: op.Operation, Message: err.Error()}
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized && !reauthed:
			resp.Body.Close()
			reauthed = true
			c.invalidateToken()
			util.WithField("op", op.String()).Debug("token rejected, re-authenticating")
			continue
		case (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable) && attempt < c.cfg.Retries:
			wait := retryAfter(resp.Header.Get("Retry-After"), defaultBackoff*time.Duration(attempt+1))
			resp.Body.Close()
			util.WithField("op", op.String()).Debugf("throttled (%d), retrying in %s", resp.StatusCode, wait)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}
		return c.decode(op, rt, resp)
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body []byte, token string) (*http.Response, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("X-Auth-Token", token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

func (c *HTTPClient) decode(op Op, rt route, resp *http.Response) (*Response, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &util.RemoteError{Family: op.Family, Operation: op.Operation, Status: resp.StatusCode, Message: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &util.RemoteError{
			Family:    op.Family,
			Operation: op.Operation,
			Status:    resp.StatusCode,
			Message:   errorMessage(data),
		}
	}
	if rt.Download {
		return NewFileResponse(attachmentName(resp.Header.Get("Content-Disposition")), data), nil
	}
	return &Response{Body: data}, nil
}

// ensureToken returns a valid token, authenticating when the cached one is
// missing or about to expire.
func (c *HTTPClient) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Add(tokenRefreshSkew).Before(c.tokenExpiry) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+authPath, nil)
	if err != nil {
		return "", fmt.Errorf("creating auth request: %w", err)
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("authenticating: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading auth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("authentication returned %d: %s", resp.StatusCode, errorMessage(data))
	}

	var out struct {
		Token string `json:"Token"`
	}
	if err := json.Unmarshal(data, &out); err != nil || out.Token == "" {
		return "", fmt.Errorf("authentication response carries no token")
	}

	c.token = out.Token
	c.tokenExpiry = c.tokenExpiryOf(out.Token)
	util.Logger.Debugf("authenticated to %s, token valid until %s", c.baseURL, c.tokenExpiry.Format(time.RFC3339))
	return c.token, nil
}

// tokenExpiryOf reads the exp claim without verifying the signature; the
// client only needs it to schedule re-authentication.
func (c *HTTPClient) tokenExpiryOf(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return c.now().Add(fallbackTokenTTL)
}

func (c *HTTPClient) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// buildRequest splits params into path, query and body.
func buildRequest(template string, params Params) (string, url.Values, []byte, error) {
	path := template
	query := url.Values{}
	var body []byte

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := params[k]
		if k == PayloadKey {
			data, err := json.Marshal(v)
			if err != nil {
				return "", nil, nil, fmt.Errorf("encoding payload: %w", err)
			}
			body = data
			continue
		}
		placeholder := "{" + k + "}"
		if strings.Contains(path, placeholder) {
			path = strings.ReplaceAll(path, placeholder, url.PathEscape(fmt.Sprint(v)))
			continue
		}
		for _, s := range queryValues(v) {
			query.Add(queryKey(k), s)
		}
	}
	if i := strings.Index(path, "{"); i >= 0 {
		return "", nil, nil, fmt.Errorf("missing path parameter in %s", template)
	}
	return path, query, body, nil
}

// queryKey converts snake_case parameter names to the camelCase the
// controller expects in query strings.
func queryKey(k string) string {
	parts := strings.Split(k, "_")
	if len(parts) == 1 {
		return k
	}
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]) + p[1:])
	}
	return b.String()
}

func queryValues(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return []string{t}
	case []string:
		return t
	case bool:
		return []string{strconv.FormatBool(t)}
	case int:
		return []string{strconv.Itoa(t)}
	case int64:
		return []string{strconv.FormatInt(t, 10)}
	default:
		return []string{fmt.Sprint(t)}
	}
}

func errorMessage(data []byte) string {
	var body struct {
		Message  string `json:"message"`
		Error    string `json:"error"`
		Response struct {
			Message   string `json:"message"`
			ErrorCode string `json:"errorCode"`
			Detail    string `json:"detail"`
		} `json:"response"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		for _, s := range []string{body.Response.Detail, body.Response.Message, body.Message, body.Error} {
			if s != "" {
				return s
			}
		}
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return msg
}

func attachmentName(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}

func retryAfter(header string, fallback time.Duration) time.Duration {
	if header == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return fallback
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
