// Package api provides the client for the PedidoList remote API.
//
// The client classifies failures at the call boundary: transient failures
// (network errors, 5xx, timeouts, throttling) are retryable, server-side
// rejections (other 4xx) are terminal, and 409 carries the server's copy of
// the record for conflict resolution.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pedidolist/pedidolist-core/internal/models"
)

// Client talks to the remote PedidoList API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// NewClientWithHTTP creates a Client with a custom http.Client.
func NewClientWithHTTP(baseURL string, httpClient *http.Client) *Client {
	return &Client{baseURL: baseURL, http: httpClient}
}

// APIError is a failed remote call. StatusCode is zero for network-level
// failures that never produced a response.
type APIError struct {
	StatusCode int
	Body       string
	// ServerRecord holds the server's copy of the entity on a 409 conflict.
	ServerRecord models.Syncable
	Err          error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote api unreachable: %v", e.Err)
	}
	return fmt.Sprintf("remote api returned %d: %s", e.StatusCode, e.Body)
}

// Unwrap returns the underlying transport error, if any.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is transient. Network errors, 5xx,
// request timeouts and throttling are worth retrying; other rejections are
// terminal and retrying cannot succeed.
func (e *APIError) Retryable() bool {
	if e.StatusCode == 0 {
		return true
	}
	if e.StatusCode >= 500 {
		return true
	}
	return e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusTooManyRequests
}

// IsConflict reports whether the server rejected the write because its copy
// of the record diverged.
func (e *APIError) IsConflict() bool {
	return e.StatusCode == http.StatusConflict
}

// CreateResponse is the body returned by a successful create.
type CreateResponse struct {
	ID string `json:"id"`
}

// Create pushes a locally-created record. It returns the server-assigned id;
// the server adopts the client-generated id as an idempotency key, so a
// duplicate create (foreground and background racing on the same queue) maps
// to the same remote record.
func (c *Client) Create(ctx context.Context, token string, rec models.Syncable) (string, error) {
	body, status, err := c.do(ctx, http.MethodPost, c.collectionPath(rec.EntityType()), token, rec)
	if err != nil {
		return "", err
	}
	if apiErr := c.checkStatus(status, body, rec.EntityType()); apiErr != nil {
		return "", apiErr
	}

	var resp CreateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		// Tolerate empty/opaque success bodies; the client id remains the key.
		return "", nil
	}
	return resp.ID, nil
}

// Update pushes a locally-updated record. A 409 response returns an APIError
// whose ServerRecord carries the server's copy for conflict resolution.
func (c *Client) Update(ctx context.Context, token string, rec models.Syncable) error {
	body, status, err := c.do(ctx, http.MethodPut, c.collectionPath(rec.EntityType()), token, rec)
	if err != nil {
		return err
	}
	if apiErr := c.checkStatus(status, body, rec.EntityType()); apiErr != nil {
		return apiErr
	}
	return nil
}

// Delete removes a record remotely. A 404 is treated as success: the record
// is already gone, which is the state the caller wanted.
func (c *Client) Delete(ctx context.Context, token string, entityType models.EntityType, id models.UUID) error {
	path := fmt.Sprintf("%s/%s", c.collectionPath(entityType), id)
	body, status, err := c.do(ctx, http.MethodDelete, path, token, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return nil
	}
	if apiErr := c.checkStatus(status, body, entityType); apiErr != nil {
		return apiErr
	}
	return nil
}

// do issues one request and returns the raw response.
func (c *Client) do(ctx context.Context, method, path, token string, payload interface{}) ([]byte, int, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, &APIError{Err: fmt.Errorf("failed to encode request: %w", err)}
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, 0, &APIError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, &APIError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, &APIError{Err: err}
	}
	return body, resp.StatusCode, nil
}

// checkStatus maps a non-2xx response to an APIError, decoding the server's
// record copy on 409.
func (c *Client) checkStatus(status int, body []byte, entityType models.EntityType) *APIError {
	if status >= 200 && status < 300 {
		return nil
	}

	apiErr := &APIError{StatusCode: status, Body: string(body)}
	if status == http.StatusConflict {
		if rec := newRecord(entityType); rec != nil {
			if err := json.Unmarshal(body, rec); err == nil {
				apiErr.ServerRecord = rec
			}
		}
	}
	return apiErr
}

// collectionPath maps an entity type to its REST collection.
func (c *Client) collectionPath(entityType models.EntityType) string {
	switch entityType {
	case models.EntityTypeOrder:
		return "/api/orders"
	case models.EntityTypeProduct:
		return "/api/products"
	case models.EntityTypeBusinessCategory:
		return "/api/business_categories"
	default:
		return "/api/" + string(entityType) + "s"
	}
}

// newRecord allocates an empty record of the given type for decoding.
func newRecord(entityType models.EntityType) models.Syncable {
	switch entityType {
	case models.EntityTypeOrder:
		return &models.Order{}
	case models.EntityTypeProduct:
		return &models.Product{}
	case models.EntityTypeBusinessCategory:
		return &models.BusinessCategory{}
	default:
		return nil
	}
}
