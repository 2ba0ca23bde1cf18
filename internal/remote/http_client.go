package remote

import (
	"bytes"
	"context"
	stderrors "errors"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/autogratuity/tipsync/internal/errors"
	"github.com/autogratuity/tipsync/internal/models"
)

// Config holds document store connection configuration.
type Config struct {
	BaseURL   string        // e.g. https://sync.example.com/v1
	AuthToken string        // bearer token, empty for unauthenticated stores
	Timeout   time.Duration // per-request bound, default 30s
}

// HTTPClient implements DocumentStore over a JSON REST document API:
// GET/PATCH/DELETE {base}/{collection}/{id}.
type HTTPClient struct {
	config     Config
	httpClient *http.Client
}

// document is the wire shape of an entity snapshot.
type document struct {
	Fields    map[string]interface{} `json:"fields"`
	UpdatedAt int64                  `json:"updated_at,omitempty"`
	Version   int64                  `json:"version,omitempty"`
}

// NewHTTPClient creates a new document store client.
func NewHTTPClient(config Config) *HTTPClient {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// Get implements DocumentStore.
func (c *HTTPClient) Get(ctx context.Context, collection, id string) (*models.Document, error) {
	body, err := c.do(ctx, http.MethodGet, collection, id, nil)
	if err != nil {
		return nil, err
	}

	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "malformed document response", err)
	}

	return &models.Document{
		Collection: collection,
		ID:         id,
		Fields:     doc.Fields,
		UpdatedAt:  doc.UpdatedAt,
		Version:    doc.Version,
	}, nil
}

// Put implements DocumentStore. The server merges the named fields into the
// entity, creating it when absent.
func (c *HTTPClient) Put(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	payload, err := json.Marshal(document{Fields: fields})
	if err != nil {
		return errors.Wrap(errors.ErrInvalid, "payload is not serializable", err)
	}
	_, err = c.do(ctx, http.MethodPatch, collection, id, payload)
	return err
}

// Delete implements DocumentStore.
func (c *HTTPClient) Delete(ctx context.Context, collection, id string) error {
	_, err := c.do(ctx, http.MethodDelete, collection, id, nil)
	return err
}

// do executes one request and maps the response to an application error.
func (c *HTTPClient) do(ctx context.Context, method, collection, id string, body []byte) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/%s/%s",
		strings.TrimSuffix(c.config.BaseURL, "/"),
		url.PathEscape(collection),
		url.PathEscape(id),
	)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "failed to build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.AuthToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, errors.Wrap(errors.ErrRemoteTimeout, "request timed out", err)
		}
		return nil, errors.Wrap(errors.ErrRemoteUnavailable, "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrRemoteUnavailable, "failed to read response", err)
	}

	if err := statusError(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// statusError maps an HTTP status to the sync error taxonomy.
func statusError(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	detail := strings.TrimSpace(string(body))
	if len(detail) > 200 {
		detail = detail[:200]
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.New(errors.ErrRemotePermission, detail)
	case status == http.StatusNotFound:
		return errors.New(errors.ErrRemoteNotFound, detail)
	case status == http.StatusConflict || status == http.StatusPreconditionFailed:
		return errors.New(errors.ErrRemoteConflict, detail)
	case status == http.StatusRequestTimeout:
		return errors.New(errors.ErrRemoteTimeout, detail)
	case status == http.StatusTooManyRequests || status >= 500:
		return errors.New(errors.ErrRemoteUnavailable,
			fmt.Sprintf("server returned %d: %s", status, detail))
	default:
		return errors.New(errors.ErrInternal,
			fmt.Sprintf("unexpected status %d: %s", status, detail))
	}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	var t timeouter
	if stderrors.As(err, &t) {
		return t.Timeout()
	}
	return false
}
