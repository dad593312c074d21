package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"miku/model"
	"miku/stream"
)

const (
	completionPath    = "/api/chat/completion"
	downloadImagePath = "/api/utils/download-image"
)

// Transport opens a completion stream for a request.
type Transport interface {
	Stream(ctx context.Context, req Request) (*stream.Decoder, error)
}

// RelayClient talks to the completion relay over HTTP.
type RelayClient struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// NewRelayClient returns a client for the relay at baseURL. token, when
// set, is sent as a bearer credential.
func NewRelayClient(baseURL, token string, hc *http.Client, logger *zap.Logger) *RelayClient {
	if hc == nil {
		// No overall timeout: a completion streams for as long as it takes.
		hc = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    hc,
		logger:  logger.Named("relay"),
	}
}

func (c *RelayClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do sends req and maps refused credentials to *model.UpstreamError.
func (c *RelayClient) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &model.NetworkError{Err: err}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
		return nil, &model.UpstreamError{
			Service: "relay",
			Err:     &model.NetworkError{StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))},
		}
	}
	return resp, nil
}

// Stream posts req to the completion endpoint.
func (c *RelayClient) Stream(ctx context.Context, r Request) (*stream.Decoder, error) {
	body, contentType, err := r.Encode()
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, completionPath, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/x-ndjson")

	start := time.Now()
	resp, err := c.do(req)
	if err != nil {
		c.logger.Warn("completion request failed", zap.Error(err))
		return nil, err
	}
	c.logger.Debug("completion stream opened",
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
		zap.Int("messages", len(r.Messages)),
		zap.Int("files", len(r.Files)))
	return stream.Open(resp, c.logger)
}

// DownloadImage saves the image at imageURL into dir through the relay's
// download proxy and returns the written path.
func (c *RelayClient) DownloadImage(ctx context.Context, imageURL, dir string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, downloadImagePath+"?url="+url.QueryEscape(imageURL), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &model.NetworkError{StatusCode: resp.StatusCode, Err: errors.New("image download failed")}
	}

	name := fallbackImageName(resp.Header.Get("Content-Type"))
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = filepath.Base(params["filename"])
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		return "", &model.NetworkError{Err: fmt.Errorf("read image: %w", err)}
	}
	return path, f.Close()
}

// fallbackImageName names an image the relay sent without a filename. The
// random part keeps several such downloads from overwriting each other.
func fallbackImageName(contentType string) string {
	name := "image-" + uuid.NewString()[:8]
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		if exts, _ := mime.ExtensionsByType(mt); len(exts) > 0 {
			name += exts[0]
		}
	}
	return name
}
