// Package betfair 实现 Betfair Exchange REST(JSON) 网关。
package betfair

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"betexec/internal/config"
	"betexec/internal/logger"
	"betexec/internal/metrics"
	"betexec/internal/pkg/circuit"

	"golang.org/x/time/rate"
)

const (
	sessionTTL           = 8 * time.Hour
	defaultTimeout       = 30 * time.Second
	breakerThreshold     = 5
	breakerCooldown      = 30 * time.Second
	errInvalidSession    = "INVALID_SESSION_INFORMATION"
	errNoSession         = "NO_SESSION"
	headerApplication    = "X-Application"
	headerAuthentication = "X-Authentication"
)

var ErrNotAuthenticated = errors.New("betfair: not authenticated")

// Client 线程安全；会话过期（8 小时）或被服务端判定失效时自动重新登录。
type Client struct {
	apiURL     string
	accountURL string
	loginURL   string
	appKey     string
	username   string
	password   string

	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *circuit.CircuitBreaker
	nowFn      func() time.Time

	mu      sync.RWMutex
	session string
	expiry  time.Time
}

func NewClient(cfg config.ExchangeConfig) (*Client, error) {
	if strings.TrimSpace(cfg.AppKey) == "" {
		return nil, fmt.Errorf("exchange.app_key 不能为空")
	}
	for name, raw := range map[string]string{"api_url": cfg.APIURL, "login_url": cfg.LoginURL, "account_url": cfg.AccountURL} {
		if _, err := url.ParseRequestURI(strings.TrimSpace(raw)); err != nil {
			return nil, fmt.Errorf("解析 exchange.%s 失败: %w", name, err)
		}
	}
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("加载 betfair 客户端证书失败: %w", err)
		}
		transport.TLSClientConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
		logger.Infof("betfair: loaded client certificate %s", cfg.CertFile)
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	c := &Client{
		apiURL:     withSlash(cfg.APIURL),
		accountURL: withSlash(cfg.AccountURL),
		loginURL:   strings.TrimSpace(cfg.LoginURL),
		appKey:     strings.TrimSpace(cfg.AppKey),
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		breaker:    circuit.NewCircuitBreaker("betfair", breakerThreshold, breakerCooldown),
		nowFn:      time.Now,
	}
	c.breaker.SetStateChangeHandler(func(name string, from, to circuit.State) {
		logger.Warnf("betfair: connection breaker %s -> %s", from, to)
		metrics.SetGatewayConnected(to == circuit.StateClosed)
	})
	return c, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func (c *Client) Name() string { return "betfair" }

func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session != "" && c.nowFn().Before(c.expiry)
}

func (c *Client) sessionToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Client) dropSession() {
	c.mu.Lock()
	c.session = ""
	c.expiry = time.Time{}
	c.mu.Unlock()
	metrics.SetGatewayConnected(false)
}

type loginResponse struct {
	SessionToken string `json:"sessionToken"`
	LoginStatus  string `json:"loginStatus"`
}

// Authenticate 证书登录（certlogin），成功后会话有效 8 小时。
func (c *Client) Authenticate(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("构造登录请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(headerApplication, c.appKey)

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.GatewayError("login")
		return fmt.Errorf("betfair 登录失败: %w", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 300 {
		metrics.GatewayError("login")
		return fmt.Errorf("betfair 登录失败(%s): %s", resp.Status, strings.TrimSpace(string(data)))
	}
	var out loginResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("解析 betfair 登录响应失败: %w", err)
	}
	if !strings.EqualFold(out.LoginStatus, "SUCCESS") || out.SessionToken == "" {
		metrics.GatewayError("login")
		return fmt.Errorf("betfair 登录被拒绝: %s", out.LoginStatus)
	}
	c.mu.Lock()
	c.session = out.SessionToken
	c.expiry = c.nowFn().Add(sessionTTL)
	expiry := c.expiry
	c.mu.Unlock()
	metrics.SetGatewayConnected(true)
	logger.Infof("betfair: authenticated, session expires %s", expiry.UTC().Format(time.RFC3339))
	return nil
}

func (c *Client) ensureSession(ctx context.Context) error {
	if c.Authenticated() {
		return nil
	}
	logger.Infof("betfair: session missing or expired, re-authenticating")
	return c.Authenticate(ctx)
}

// apiError 是 Betfair 返回的错误体。
type apiError struct {
	FaultCode string `json:"faultcode"`
	Detail    struct {
		APINGException struct {
			ErrorCode    string `json:"errorCode"`
			ErrorDetails string `json:"errorDetails"`
		} `json:"APINGException"`
	} `json:"detail"`
}

func (e apiError) code() string {
	return e.Detail.APINGException.ErrorCode
}

// call 调用 {base}{method}/，带限流、连接熔断和会话失效重登。
func (c *Client) call(ctx context.Context, base, method string, payload, out any) error {
	if err := c.ensureSession(ctx); err != nil {
		return err
	}
	err := c.do(ctx, base, method, payload, out)
	var ae *sessionError
	if errors.As(err, &ae) {
		c.dropSession()
		if err := c.Authenticate(ctx); err != nil {
			return err
		}
		err = c.do(ctx, base, method, payload, out)
	}
	if err != nil {
		metrics.GatewayError(method)
	}
	return err
}

type sessionError struct{ code string }

func (e *sessionError) Error() string { return "betfair session rejected: " + e.code }

func (c *Client) do(ctx context.Context, base, method string, payload, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.breaker.Do(func() error {
		return c.doRequest(ctx, base+method+"/", payload, out)
	})
}

func (c *Client) doRequest(ctx context.Context, endpoint string, payload, out any) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化请求失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("构造请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(headerApplication, c.appKey)
	req.Header.Set(headerAuthentication, c.sessionToken())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("调用 betfair 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var ae apiError
		if json.Unmarshal(data, &ae) == nil {
			switch ae.code() {
			case errInvalidSession, errNoSession:
				return &sessionError{code: ae.code()}
			}
		}
		if len(data) == 0 {
			return fmt.Errorf("betfair 返回错误: %s", resp.Status)
		}
		return fmt.Errorf("betfair 返回错误(%s): %s", resp.Status, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析 betfair 响应失败: %w", err)
	}
	return nil
}

func withSlash(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	return raw
}
