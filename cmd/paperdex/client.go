package main

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kalambet/paperdex/internal/config"
)

// errUnreachable wraps transport failures so callers can tell a stopped
// server apart from an error response.
var errUnreachable = errors.New("server not reachable, is paperdex serve running?")

// apiClient talks to a running paperdex server.
type apiClient struct {
	baseURL string
	token   string
	hc      *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	c := &apiClient{
		baseURL: strings.TrimRight(serverURL, "/"),
		token:   cmp.Or(serverToken, cfg.Server.APIToken),
		// Uploads of large PDFs are one request.
		hc: &http.Client{Timeout: 5 * time.Minute},
	}
	if c.baseURL == "" {
		c.baseURL = fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	}
	return c, nil
}

// roundTrip sends one request and decodes a JSON response into out. A
// status of 400 or above becomes an error carrying the server's message.
func (c *apiClient) roundTrip(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w (%v)", errUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return responseError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) getJSON(ctx context.Context, path string, out any) error {
	return c.roundTrip(ctx, http.MethodGet, path, "", nil, out)
}

func (c *apiClient) deleteJSON(ctx context.Context, path string, out any) error {
	return c.roundTrip(ctx, http.MethodDelete, path, "", nil, out)
}

func (c *apiClient) postJSON(ctx context.Context, path string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	return c.roundTrip(ctx, http.MethodPost, path, "application/json", bytes.NewReader(data), out)
}

// uploadFiles streams each file as a "file" part of one multipart body
// without buffering it in memory.
func (c *apiClient) uploadFiles(ctx context.Context, path string, files []string, out any) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		var err error
		for _, name := range files {
			if err = copyPart(mw, name); err != nil {
				break
			}
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()
	err := c.roundTrip(ctx, http.MethodPost, path, mw.FormDataContentType(), pr, out)
	// Unblocks the writer if the request ended before the body was consumed.
	pr.Close()
	return err
}

func copyPart(mw *multipart.Writer, name string) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	part, err := mw.CreateFormFile("file", filepath.Base(name))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

// responseError reads the server's {"error":{"message","type"}} envelope,
// falling back to the raw body.
func responseError(resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &env) == nil && env.Error.Message != "" {
		msg = env.Error.Message
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, msg)
}
