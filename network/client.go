// Package network wraps HTTP access for the bot: paced GET requests for the
// remote catalog and downloads of images into temporary files.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"
)

const (
	defaultUserAgent = "telegram-pig-bot/1.0 (+https://pighub.top/)"
	maxDownloadBytes = 20 << 20
)

var ErrTooLarge = errors.New("response body exceeds size limit")

// HTTPError carries the status of a non-200 response.
type HTTPError struct {
	StatusCode int
	URL        string
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s (URL: %s)", e.StatusCode, e.Message, e.URL)
}

// Settings configures a Client.
type Settings struct {
	UserAgent         string
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	TempDir           string
}

// Client is an HTTP client with a rate limiter per host.
type Client struct {
	httpClient        *http.Client
	userAgent         string
	tempDir           string
	requestsPerSecond float64

	rateLimiters      map[string]*rate.Limiter
	rateLimitersMutex sync.Mutex
}

func NewClient(settings Settings) *Client {
	timeout := settings.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	userAgent := settings.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	tempDir := settings.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}

	return &Client{
		httpClient:        &http.Client{Timeout: timeout},
		userAgent:         userAgent,
		tempDir:           tempDir,
		requestsPerSecond: settings.RequestsPerSecond,
		rateLimiters:      make(map[string]*rate.Limiter),
	}
}

// Get sends a paced GET request and returns the body of a 200 response.
func (c *Client) Get(ctx context.Context, reqURL string) ([]byte, error) {
	resp, err := c.do(ctx, reqURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cannot read response body (%s): %w", reqURL, err)
	}

	slog.Debug("network: GET finished", "url", reqURL, "size", humanize.Bytes(uint64(len(body))))

	return body, nil
}

// DownloadToTemp stores the body of reqURL in a new file under the client temp
// directory and returns its path. The file keeps the extension of the URL
// path, or one derived from Content-Type when the path has none. The caller
// owns the file.
func (c *Client) DownloadToTemp(ctx context.Context, reqURL string) (string, error) {
	resp, err := c.do(ctx, reqURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(c.tempDir, 0o755); err != nil {
		return "", fmt.Errorf("cannot create download directory %s: %w", c.tempDir, err)
	}

	ext := extensionFor(reqURL, resp.Header.Get("Content-Type"))
	out, err := os.CreateTemp(c.tempDir, "pig-*"+ext)
	if err != nil {
		return "", fmt.Errorf("cannot create download file: %w", err)
	}
	outPath := out.Name()

	written, copyErr := io.Copy(out, io.LimitReader(resp.Body, maxDownloadBytes+1))
	closeErr := out.Close()

	switch {
	case copyErr != nil:
		_ = os.Remove(outPath)
		return "", fmt.Errorf("cannot save download (%s): %w", reqURL, copyErr)
	case closeErr != nil:
		_ = os.Remove(outPath)
		return "", fmt.Errorf("cannot save download (%s): %w", reqURL, closeErr)
	case written > maxDownloadBytes:
		_ = os.Remove(outPath)
		return "", fmt.Errorf("%w: %s", ErrTooLarge, reqURL)
	}

	slog.Debug("network: Download finished", "url", reqURL, "path", outPath, "size", humanize.Bytes(uint64(written)))

	return outPath, nil
}

func (c *Client) do(ctx context.Context, reqURL string) (*http.Response, error) {
	parsedURL, err := url.Parse(reqURL)
	if err != nil {
		return nil, fmt.Errorf("cannot parse request url (%s): %w", reqURL, err)
	}

	limiter := c.getLimiterForHost(parsedURL.Hostname())
	if err := limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot create GET request (%s): %w", reqURL, err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET request failed (%s): %w", reqURL, err)
	}

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			URL:        reqURL,
			Message:    http.StatusText(resp.StatusCode),
		}
	}

	return resp, nil
}

// getLimiterForHost returns the limiter of host, creating it on first use.
// A non-positive rate disables pacing.
func (c *Client) getLimiterForHost(host string) *rate.Limiter {
	c.rateLimitersMutex.Lock()
	defer c.rateLimitersMutex.Unlock()

	if limiter, exists := c.rateLimiters[host]; exists {
		return limiter
	}

	limit := rate.Inf
	burst := 1
	if c.requestsPerSecond > 0 {
		limit = rate.Limit(c.requestsPerSecond)
		burst = max(1, int(c.requestsPerSecond))
	}

	limiter := rate.NewLimiter(limit, burst)
	c.rateLimiters[host] = limiter

	return limiter
}

func extensionFor(reqURL string, contentType string) string {
	if u, err := url.Parse(reqURL); err == nil {
		if ext := strings.ToLower(path.Ext(u.Path)); ext != "" && len(ext) <= 6 {
			return ext
		}
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}

	switch mediaType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/bmp":
		return ".bmp"
	}

	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}

	return ""
}
