// Package arxiv queries the arXiv Atom API and downloads paper PDFs with
// bounded, rate-limit-aware retries.
package arxiv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultAPIURL = "http://export.arxiv.org/api/query"
	DefaultPDFURL = "https://arxiv.org/pdf/"
	userAgent     = "paperdex/1.0 (+https://github.com/kalambet/paperdex)"
)

// Config controls endpoints, pacing and retry budget.
type Config struct {
	APIURL         string
	PDFURL         string
	PageSize       int
	APIDelay       time.Duration
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MaxRetries     int
}

// DefaultConfig matches arXiv's published API etiquette.
func DefaultConfig() Config {
	return Config{
		APIURL:         DefaultAPIURL,
		PDFURL:         DefaultPDFURL,
		PageSize:       2000,
		APIDelay:       3 * time.Second,
		ConnectTimeout: 30 * time.Second,
		ReadTimeout:    120 * time.Second,
		MaxRetries:     3,
	}
}

// Client talks to arXiv. It is safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	backoff func(attempt int) time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewClient fills zero-valued config fields from DefaultConfig.
func NewClient(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.APIURL == "" {
		cfg.APIURL = def.APIURL
	}
	if cfg.PDFURL == "" {
		cfg.PDFURL = def.PDFURL
	}
	if !strings.HasSuffix(cfg.PDFURL, "/") {
		cfg.PDFURL += "/"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext
	transport.ResponseHeaderTimeout = cfg.ReadTimeout

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Transport: transport},
		logger:     slog.Default(),
		backoff: func(attempt int) time.Duration {
			return time.Duration(1<<attempt) * time.Second
		},
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// FetchError is returned once a request failed terminally or exhausted its
// retry budget.
type FetchError struct {
	Op         string
	Target     string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("arxiv %s %s", e.Op, e.Target)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": HTTP %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" (after %d attempts)", e.Attempts)
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether the failure was a rate limit, a temporary outage
// or a network-level error such as a timeout.
func (e *FetchError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	case 0:
		var netErr net.Error
		return errors.As(e.Err, &netErr) || errors.Is(e.Err, io.ErrUnexpectedEOF)
	}
	return false
}

// retry runs fn until it succeeds, fails terminally or the retry budget is
// spent. Attempt n (n >= 1) waits 2^n seconds first.
func (c *Client) retry(ctx context.Context, op, target string, fn func(ctx context.Context) error) error {
	var last *FetchError
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt)
			c.logger.Warn("retrying arxiv request", "op", op, "target", target, "attempt", attempt, "backoff", delay, "error", last.Err)
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		var fe *FetchError
		if !errors.As(err, &fe) {
			fe = &FetchError{Op: op, Target: target, Err: err}
		}
		fe.Attempts = attempt + 1
		if ctx.Err() != nil || !fe.Retryable() {
			return fe
		}
		last = fe
	}
	return last
}

func (c *Client) get(ctx context.Context, op, target, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{Op: op, Target: target, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Op: op, Target: target, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &FetchError{Op: op, Target: target, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// SearchByCategory returns up to maxResults papers in category, newest
// submissions first. Pages are fetched PageSize at a time with APIDelay
// between them; a short or empty page ends the scan.
func (c *Client) SearchByCategory(ctx context.Context, category string, maxResults int) ([]PaperInfo, error) {
	if category == "" {
		return nil, errors.New("category is required")
	}

	var papers []PaperInfo
	for start := 0; start < maxResults; {
		size := min(c.cfg.PageSize, maxResults-start)
		batch, err := c.searchPage(ctx, category, start, size)
		if err != nil {
			return nil, err
		}
		papers = append(papers, batch...)
		c.logger.Info("fetched arxiv page", "category", category, "start", start, "count", len(batch), "total", len(papers))

		if len(batch) < size {
			break
		}
		start += len(batch)
		if start < maxResults {
			if err := c.sleep(ctx, c.cfg.APIDelay); err != nil {
				return nil, err
			}
		}
	}
	if len(papers) > maxResults {
		papers = papers[:maxResults]
	}
	return papers, nil
}

func (c *Client) searchPage(ctx context.Context, category string, start, size int) ([]PaperInfo, error) {
	q := url.Values{}
	q.Set("search_query", "cat:"+category)
	q.Set("start", strconv.Itoa(start))
	q.Set("max_results", strconv.Itoa(size))
	q.Set("sortBy", "submittedDate")
	q.Set("sortOrder", "descending")
	rawURL := c.cfg.APIURL + "?" + q.Encode()
	target := fmt.Sprintf("cat:%s[%d:%d]", category, start, start+size)

	var papers []PaperInfo
	err := c.retry(ctx, "search", target, func(ctx context.Context) error {
		resp, err := c.get(ctx, "search", target, rawURL)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		papers, err = parseFeed(resp.Body, c.cfg.PDFURL)
		if err != nil {
			return &FetchError{Op: "search", Target: target, Err: err}
		}
		return nil
	})
	return papers, err
}

// DownloadPDF fetches the PDF for paperID into targetDir and returns its
// path. The file name is the paper id with "/" replaced by "_".
func (c *Client) DownloadPDF(ctx context.Context, paperID, targetDir string) (string, error) {
	if paperID == "" {
		return "", errors.New("paper id is required")
	}
	dest := filepath.Join(targetDir, FileName(paperID))
	rawURL := c.cfg.PDFURL + paperID + ".pdf"

	err := c.retry(ctx, "download", paperID, func(ctx context.Context) error {
		resp, err := c.get(ctx, "download", paperID, rawURL)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if err := writeFile(dest, resp.Body); err != nil {
			return &FetchError{Op: "download", Target: paperID, Err: err}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return dest, nil
}

// FileName is the local PDF name used for a paper id.
func FileName(paperID string) string {
	return strings.ReplaceAll(paperID, "/", "_") + ".pdf"
}

// writeFile streams r into dest, removing the partial file on failure.
func writeFile(dest string, r io.Reader) (err error) {
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dest)
		}
	}()
	_, err = io.Copy(f, r)
	return err
}
