// Package client talks to the document REST API. It is what the editor
// uses to load documents and what the autosave scheduler writes through.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/docedit/docedit/internal/document"
)

// HTTPError is an unexpected answer from the server.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

type Client struct {
	base string
	http *http.Client
}

// New returns a client for the API rooted at base, e.g. http://localhost:5001.
func New(base string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{base: strings.TrimRight(base, "/"), http: &http.Client{Timeout: timeout}}
}

func (c *Client) docURL(id string) string {
	return c.base + "/api/documents/" + url.PathEscape(id)
}

func (c *Client) List(ctx context.Context) ([]*document.Document, error) {
	var out []*document.Document
	err := c.do(ctx, http.MethodGet, c.base+"/api/documents", nil, &out)
	return out, err
}

func (c *Client) Get(ctx context.Context, id string) (*document.Document, error) {
	var out document.Document
	if err := c.do(ctx, http.MethodGet, c.docURL(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Create(ctx context.Context, s document.Snapshot) (*document.Document, error) {
	var out document.Document
	if err := c.do(ctx, http.MethodPost, c.base+"/api/documents", s, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Update(ctx context.Context, id string, p document.Patch) (*document.Document, error) {
	var out document.Document
	if err := c.do(ctx, http.MethodPut, c.docURL(id), p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Save writes snap as a full update. It satisfies autosave.Saver.
func (c *Client) Save(ctx context.Context, id string, snap document.Snapshot) (*document.Document, error) {
	return c.Update(ctx, id, document.PatchFrom(snap))
}

func (c *Client) Delete(ctx context.Context, id string) (*document.Document, error) {
	var out struct {
		Document *document.Document `json:"document"`
	}
	if err := c.do(ctx, http.MethodDelete, c.docURL(id), nil, &out); err != nil {
		return nil, err
	}
	return out.Document, nil
}

type errorBody struct {
	Errors  []string `json:"errors"`
	Message string   `json:"message"`
}

func (c *Client) do(ctx context.Context, method, u string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, u, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, u, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%s %s: decode: %w", method, u, err)
		}
		return nil
	}

	var eb errorBody
	_ = json.Unmarshal(raw, &eb)
	switch resp.StatusCode {
	case http.StatusNotFound:
		return document.ErrNotFound
	case http.StatusBadRequest:
		if len(eb.Errors) > 0 {
			return &document.ValidationError{Errors: eb.Errors}
		}
	}
	msg := eb.Message
	if msg == "" && len(eb.Errors) > 0 {
		msg = strings.Join(eb.Errors, "; ")
	}
	return &HTTPError{Status: resp.StatusCode, Message: msg}
}

// IsNotFound reports whether err means the document does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, document.ErrNotFound)
}
