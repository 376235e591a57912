package probe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
)

const (
	userAgent = "sitewatch/1.0"
	// maxBodyBytes bounds how much of a response body is hashed or drained.
	maxBodyBytes = 10 << 20
)

var _ Checker = (*HTTPChecker)(nil)

type HTTPChecker struct {
	Client  *http.Client
	Timeout time.Duration
}

// NewHTTPChecker returns a checker whose default per-request timeout is timeout.
// The deadline is carried by the request context so callers can override it per target.
func NewHTTPChecker(timeout time.Duration) *HTTPChecker {
	if timeout <= 0 {
		timeout = domain.DefaultTimeoutSeconds * time.Second
	}
	return &HTTPChecker{
		Client: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		Timeout: timeout,
	}
}

func (h *HTTPChecker) Check(ctx context.Context, target string, opts Options) (res domain.CheckResult) {
	res.CheckedAt = time.Now().UTC()
	defer func() {
		if p := recover(); p != nil {
			res = domain.CheckResult{
				Kind:      domain.CheckError,
				Error:     fmt.Sprintf("unexpected error: %v", p),
				CheckedAt: res.CheckedAt,
			}
		}
	}()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = h.Timeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		res.Kind = domain.CheckError
		res.Error = "unexpected error: " + err.Error()
		return res
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := h.Client.Do(req)
	if err != nil {
		if isTimeout(cctx, err) {
			res.Kind = domain.CheckTimeout
			res.Error = "timeout"
			return res
		}
		res.Kind = domain.CheckError
		res.Error = err.Error()
		return res
	}
	defer resp.Body.Close()

	ms := float64(time.Since(start)) / float64(time.Millisecond)
	code := resp.StatusCode
	res.ResponseTimeMS = &ms
	res.StatusCode = &code
	if resp.ContentLength >= 0 {
		n := resp.ContentLength
		res.ContentLength = &n
	}
	if resp.TLS != nil && len(resp.TLS.PeerCertificates) > 0 {
		leaf := resp.TLS.PeerCertificates[0]
		expiry := leaf.NotAfter.UTC()
		res.SSLExpiry = &expiry
		res.SSLIssuer = leaf.Issuer.CommonName
	}

	body := io.LimitReader(resp.Body, maxBodyBytes)
	if opts.TrackContent {
		sum := sha256.New()
		if _, err := io.Copy(sum, body); err == nil {
			hash := hex.EncodeToString(sum.Sum(nil))
			res.ContentHash = &hash
		}
	} else {
		_, _ = io.Copy(io.Discard, body)
	}

	if code >= 200 && code < 400 {
		res.Kind = domain.CheckUp
		return res
	}
	res.Kind = domain.CheckDown
	res.Error = fmt.Sprintf("HTTP %d", code)
	return res
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
