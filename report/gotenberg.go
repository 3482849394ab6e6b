package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	healthPath     = "/health"
	convertHTMLURL = "/forms/chromium/convert/html"
	maxErrorBody   = 512
)

// StatusError is returned when Gotenberg answers with a non-success status.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gotenberg %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("gotenberg %s: status %d: %s", e.Op, e.Status, e.Body)
}

// PageOptions controls the chromium print settings for close packs.
type PageOptions struct {
	Landscape    bool
	MarginInches float64
}

// Client talks to a Gotenberg instance used to print close packs.
type Client struct {
	baseURL    string
	httpClient *http.Client
	page       PageOptions
}

// ClientOption customises the Gotenberg client.
type ClientOption func(*Client)

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithPageOptions overrides the default A4 portrait layout.
func WithPageOptions(page PageOptions) ClientOption {
	return func(c *Client) { c.page = page }
}

// NewClient builds a client for the Gotenberg base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		page:       PageOptions{MarginInches: 0.5},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ping reports whether the renderer is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return err
	}
	_, err = c.do(req, "health")
	return err
}

// RenderHTML prints a self-contained HTML document to PDF.
func (c *Client) RenderHTML(ctx context.Context, html []byte) ([]byte, error) {
	if len(html) == 0 {
		return nil, errors.New("gotenberg render: empty document")
	}
	body, contentType, err := c.htmlForm(html)
	if err != nil {
		return nil, fmt.Errorf("gotenberg render: build form: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+convertHTMLURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return c.do(req, "render")
}

func (c *Client) htmlForm(html []byte) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	// chromium only converts an entry file named index.html
	part, err := writer.CreateFormFile("files", "index.html")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(html); err != nil {
		return nil, "", err
	}
	margin := fmt.Sprintf("%g", c.page.MarginInches)
	fields := [][2]string{
		{"preferCssPageSize", "true"},
		{"printBackground", "true"},
		{"landscape", fmt.Sprint(c.page.Landscape)},
		{"marginTop", margin},
		{"marginBottom", margin},
		{"marginLeft", margin},
		{"marginRight", margin},
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}

func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gotenberg %s: %w", op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	return io.ReadAll(resp.Body)
}
