// Package registry implements the Ticket Registry client: a small remote
// key/value service keyed by (kind, name) storing opaque published ticket
// bytes. Transport is out of scope of the core design, so HTTPClient speaks
// a plain REST mapping over net/http; callers that need a different
// transport can supply any other Client implementation.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Kind namespaces names within the registry. The core uses a single kind
// for advertisement tickets, but the client is not hardcoded to it.
type Kind string

// Entry is one (name, value) pair as returned by List.
type Entry struct {
	Name  string
	Value []byte
}

// Client is the Ticket Registry consumer contract: publish/unpublish/get/
// list against (kind, name) pairs of opaque bytes.
type Client interface {
	Publish(ctx context.Context, kind Kind, name string, value []byte) error
	Unpublish(ctx context.Context, kind Kind, name string) error
	Get(ctx context.Context, kind Kind, name string) ([]byte, error)
	List(ctx context.Context, kind Kind, offset, limit int) ([]Entry, error)
}

// HTTPClient is a Client backed by an HTTP(S) endpoint. Publish is an
// upsert (PUT), Get/List are GETs, Unpublish is a DELETE.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient builds a Client against baseURL, attaching token as a
// bearer credential on every request if non-empty.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPClient) entryURL(kind Kind, name string) string {
	return fmt.Sprintf("%s/v1/%s/%s", c.baseURL, url.PathEscape(string(kind)), url.PathEscape(name))
}

func (c *HTTPClient) do(req *http.Request) (*http.Response, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(ErrTransientUnavailable, err.Error())
	}
	return resp, nil
}

// Publish upserts value under (kind, name).
func (c *HTTPClient) Publish(ctx context.Context, kind Kind, name string, value []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.entryURL(kind, name), bytes.NewReader(value))
	if err != nil {
		return errors.Wrap(err, "registry: build publish request")
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return classifyStatus(resp.StatusCode, "publish")
}

// Unpublish removes any value stored at (kind, name). It is idempotent: a
// missing entry is not an error.
func (c *HTTPClient) Unpublish(ctx context.Context, kind Kind, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.entryURL(kind, name), nil)
	if err != nil {
		return errors.Wrap(err, "registry: build unpublish request")
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return classifyStatus(resp.StatusCode, "unpublish")
}

// Get returns the current value stored at (kind, name), or ErrNotFound.
func (c *HTTPClient) Get(ctx context.Context, kind Kind, name string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.entryURL(kind, name), nil)
	if err != nil {
		return nil, errors.Wrap(err, "registry: build get request")
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp.StatusCode, "get"); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(ErrTransientUnavailable, "registry: read get response: "+err.Error())
	}
	return body, nil
}

type listResponse struct {
	Entries []listEntry `json:"entries"`
}

type listEntry struct {
	Name  string `json:"name"`
	Value []byte `json:"value"`
}

// List returns up to limit entries of kind starting at offset, in the
// registry's own stable-ish order.
func (c *HTTPClient) List(ctx context.Context, kind Kind, offset, limit int) ([]Entry, error) {
	u := fmt.Sprintf("%s/v1/%s?offset=%s&limit=%s", c.baseURL, url.PathEscape(string(kind)),
		strconv.Itoa(offset), strconv.Itoa(limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "registry: build list request")
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp.StatusCode, "list"); err != nil {
		return nil, err
	}
	var parsed listResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.Wrap(ErrTransientUnavailable, "registry: decode list response: "+err.Error())
	}
	out := make([]Entry, len(parsed.Entries))
	for i, e := range parsed.Entries {
		out[i] = Entry{Name: e.Name, Value: e.Value}
	}
	return out, nil
}

func classifyStatus(status int, op string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		return ErrForbidden
	case status >= 500:
		return errors.Wrapf(ErrTransientUnavailable, "registry: %s returned %d", op, status)
	default:
		return errors.Wrapf(ErrTransientUnavailable, "registry: %s returned unexpected status %d", op, status)
	}
}
