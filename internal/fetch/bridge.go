// Package fetch is the only network path available to hog scripts. It enforces the
// egress policy (scheme, host patterns, private addresses, redirects, body size),
// applies a per-host rate limit and circuit breaker, and turns transport failures
// into synthetic 598/599 responses.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gobwas/glob"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"hogflow/internal/config"
	"hogflow/internal/constants"
	"hogflow/internal/logger"
	"hogflow/pkg/circuitbreaker"
	"hogflow/pkg/hog"
	"hogflow/pkg/metrics"
	"hogflow/pkg/tracing"
)

const (
	outcomeOK          = "ok"
	outcomeHTTPError   = "http_error"
	outcomeTimeout     = "timeout"
	outcomeError       = "error"
	outcomeDenied      = "denied"
	outcomeCircuitOpen = "circuit_open"
	outcomeOversize    = "oversize"
)

var (
	errPrivateAddress   = errors.New("destination resolves to a private network address")
	errTooManyRedirects = errors.New("too many redirects")
	errResponseTooLarge = errors.New("response body too large")
)

// serverError makes 5xx responses count as breaker failures while still being
// handed back to the script.
type serverError struct {
	resp hog.FetchResponse
}

func (e *serverError) Error() string {
	return fmt.Sprintf("server responded with status %d", e.resp.Status)
}

// Bridge implements hog.Fetcher over net/http.
type Bridge struct {
	cfg      config.FetchConfig
	client   *http.Client
	allow    []glob.Glob
	deny     []glob.Glob
	breakers *circuitbreaker.Group

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter

	logger logger.Logger
}

type Option func(*Bridge)

// WithTransport replaces the dialing transport. Policy checks on URLs and
// redirects still apply; the private address check lives in the default dialer.
func WithTransport(rt http.RoundTripper) Option {
	return func(b *Bridge) {
		b.client.Transport = rt
	}
}

func NewBridge(cfg config.FetchConfig, log logger.Logger, opts ...Option) (*Bridge, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = constants.DefaultFetchTimeout
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = constants.DefaultFetchMaxResponseBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = constants.DefaultUserAgent
	}

	allow, err := compilePatterns(cfg.AllowedHosts)
	if err != nil {
		return nil, fmt.Errorf("invalid allowed host pattern: %w", err)
	}
	deny, err := compilePatterns(cfg.DeniedHosts)
	if err != nil {
		return nil, fmt.Errorf("invalid denied host pattern: %w", err)
	}

	b := &Bridge{
		cfg:      cfg,
		allow:    allow,
		deny:     deny,
		limiters: map[string]*rate.Limiter{},
		logger:   log,
	}

	if cfg.CircuitBreaker.Enabled {
		b.breakers = circuitbreaker.NewGroup(circuitbreaker.SettingsFrom("fetch", cfg.CircuitBreaker))
	}

	dialer := &net.Dialer{Timeout: cfg.Timeout, KeepAlive: 30 * time.Second}
	if !cfg.AllowPrivateNetworks {
		dialer.Control = denyPrivateAddresses
	}
	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   cfg.Timeout,
		ResponseHeaderTimeout: cfg.Timeout,
	}

	b.client = &http.Client{
		Transport:     tracing.Transport(transport),
		CheckRedirect: b.checkRedirect,
	}
	for _, opt := range opts {
		opt(b)
	}

	return b, nil
}

// Fetch performs one script request. Only policy denials and cancellation of ctx
// are returned as errors; everything else is a response.
func (b *Bridge) Fetch(ctx context.Context, req hog.FetchRequest) (hog.FetchResponse, error) {
	started := time.Now()
	resp, outcome, err := b.fetch(ctx, req)
	metrics.ObserveFetch(req.Method, outcome, time.Since(started))
	return resp, err
}

func (b *Bridge) fetch(ctx context.Context, req hog.FetchRequest) (hog.FetchResponse, string, error) {
	target, err := url.Parse(req.URL)
	if err != nil || target.Host == "" {
		return hog.FetchResponse{}, outcomeDenied, hog.DeniedError("invalid URL")
	}
	if err := b.checkURL(target); err != nil {
		b.logger.WarnwCtx(ctx, "Fetch denied by policy", "host", target.Hostname(), "reason", err.Error())
		return hog.FetchResponse{}, outcomeDenied, err
	}
	host := strings.ToLower(target.Hostname())

	ctx, span := tracing.StartSpan(ctx, "hogflow-fetch", "fetch "+req.Method,
		attribute.String("http.method", req.Method),
		attribute.String("net.peer.name", host),
	)
	defer span.End()

	if err := b.wait(ctx, host); err != nil {
		if ctx.Err() != nil {
			return hog.FetchResponse{}, outcomeTimeout, ctx.Err()
		}
		return synthetic(hog.StatusFetchTimeout, "rate limit wait exceeded for "+host), outcomeTimeout, nil
	}

	call := func() (hog.FetchResponse, error) {
		resp, err := b.do(ctx, req)
		if err != nil {
			return hog.FetchResponse{}, err
		}
		if resp.Status >= 500 {
			return hog.FetchResponse{}, &serverError{resp: resp}
		}
		return resp, nil
	}

	var resp hog.FetchResponse
	if b.breakers != nil {
		resp, err = circuitbreaker.Execute(ctx, b.breakers.Get(host), call)
	} else {
		resp, err = call()
	}

	var srvErr *serverError
	switch {
	case err == nil:
		if resp.Status >= 400 {
			return resp, outcomeHTTPError, nil
		}
		return resp, outcomeOK, nil
	case errors.As(err, &srvErr):
		return srvErr.resp, outcomeHTTPError, nil
	case errors.Is(err, circuitbreaker.ErrOpen):
		return synthetic(hog.StatusFetchError, "circuit open for "+host), outcomeCircuitOpen, nil
	}
	span.RecordError(err)
	return b.classify(ctx, host, err)
}

func (b *Bridge) do(ctx context.Context, req hog.FetchRequest) (hog.FetchResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return hog.FetchResponse{}, hog.DeniedError("invalid request: %v", err)
	}
	httpReq.Header.Set("User-Agent", b.cfg.UserAgent)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := b.client.Do(httpReq)
	if err != nil {
		return hog.FetchResponse{}, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, b.cfg.MaxResponseBytes+1))
	if err != nil {
		return hog.FetchResponse{}, err
	}
	if int64(len(data)) > b.cfg.MaxResponseBytes {
		return hog.FetchResponse{}, errResponseTooLarge
	}

	headers := make(map[string]string, len(httpResp.Header))
	for k := range httpResp.Header {
		headers[k] = httpResp.Header.Get(k)
	}
	return hog.FetchResponse{Status: httpResp.StatusCode, Body: string(data), Headers: headers}, nil
}

// classify maps a transport error onto the script-visible outcome.
func (b *Bridge) classify(ctx context.Context, host string, err error) (hog.FetchResponse, string, error) {
	var denied *hog.Error
	if errors.As(err, &denied) && denied.Kind == hog.FetchDenied {
		return hog.FetchResponse{}, outcomeDenied, denied
	}
	if errors.Is(err, errPrivateAddress) {
		return hog.FetchResponse{}, outcomeDenied, hog.DeniedError("host %s resolves to a private address", host)
	}
	if ctx.Err() != nil {
		return hog.FetchResponse{}, outcomeTimeout, ctx.Err()
	}
	if errors.Is(err, errResponseTooLarge) {
		return synthetic(hog.StatusFetchError, fmt.Sprintf("response body exceeds %d bytes", b.cfg.MaxResponseBytes)), outcomeOversize, nil
	}
	if errors.Is(err, errTooManyRedirects) {
		return synthetic(hog.StatusFetchError, err.Error()), outcomeError, nil
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return synthetic(hog.StatusFetchTimeout, fmt.Sprintf("request to %s timed out after %s", host, b.cfg.Timeout)), outcomeTimeout, nil
	}

	b.logger.Debugw("Fetch failed", "host", host, "error", err)
	return synthetic(hog.StatusFetchError, transportMessage(err)), outcomeError, nil
}

func (b *Bridge) checkURL(u *url.URL) error {
	switch strings.ToLower(u.Scheme) {
	case "https":
	case "http":
		if !b.cfg.AllowHTTP {
			return hog.DeniedError("scheme http is not allowed")
		}
	default:
		return hog.DeniedError("scheme %q is not allowed", u.Scheme)
	}
	if u.User != nil {
		return hog.DeniedError("credentials in URL are not allowed")
	}

	host := strings.ToLower(u.Hostname())
	for _, g := range b.deny {
		if g.Match(host) {
			return hog.DeniedError("host %s is denied", host)
		}
	}
	if len(b.allow) > 0 {
		allowed := false
		for _, g := range b.allow {
			if g.Match(host) {
				allowed = true
				break
			}
		}
		if !allowed {
			return hog.DeniedError("host %s is not allowed", host)
		}
	}

	if !b.cfg.AllowPrivateNetworks {
		if host == "localhost" || strings.HasSuffix(host, ".localhost") {
			return hog.DeniedError("host %s is a private address", host)
		}
		if ip := net.ParseIP(host); ip != nil && isPrivate(ip) {
			return hog.DeniedError("host %s is a private address", host)
		}
	}
	return nil
}

func (b *Bridge) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) > b.cfg.MaxRedirects {
		return errTooManyRedirects
	}
	return b.checkURL(req.URL)
}

func (b *Bridge) wait(ctx context.Context, host string) error {
	if b.cfg.RatePerHost <= 0 {
		return nil
	}
	b.limitersMu.Lock()
	l, ok := b.limiters[host]
	if !ok {
		burst := b.cfg.BurstPerHost
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(b.cfg.RatePerHost), burst)
		b.limiters[host] = l
	}
	b.limitersMu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	return l.Wait(waitCtx)
}

func compilePatterns(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(strings.ToLower(strings.TrimSpace(p)), '.')
		if err != nil {
			return nil, fmt.Errorf("%q: %w", p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

func denyPrivateAddresses(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	if ip := net.ParseIP(host); ip != nil && isPrivate(ip) {
		return errPrivateAddress
	}
	return nil
}

func isPrivate(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast()
}

func synthetic(status int, message string) hog.FetchResponse {
	return hog.FetchResponse{Status: status, Body: message}
}

// transportMessage strips the request URL from *url.Error so query secrets do not
// end up in the script-visible body.
func transportMessage(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Op + ": " + urlErr.Err.Error()
	}
	return err.Error()
}
