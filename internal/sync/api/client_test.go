// Package api provides unit tests for the remote API client.
package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pedidolist/pedidolist-core/internal/models"
)

func testOrder() *models.Order {
	return &models.Order{
		ID:           "11111111-2222-4333-8444-555555555555",
		BusinessID:   "biz-1",
		CustomerName: "Ana",
		Status:       models.OrderStatusPending,
		Version:      1,
		UpdatedAt:    10_000,
	}
}

// TestCreateSendsAuthAndBody tests the happy create path.
func TestCreateSendsAuthAndBody(t *testing.T) {
	var gotAuth, gotPath, gotMethod string
	var gotBody models.Order

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotMethod = r.Method
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(CreateResponse{ID: "srv-42"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	serverID, err := client.Create(context.Background(), "tok-1", testOrder())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if serverID != "srv-42" {
		t.Errorf("Expected server id srv-42, got %q", serverID)
	}
	if gotAuth != "Bearer tok-1" {
		t.Errorf("Expected bearer header, got %q", gotAuth)
	}
	if gotMethod != http.MethodPost || gotPath != "/api/orders" {
		t.Errorf("Expected POST /api/orders, got %s %s", gotMethod, gotPath)
	}
	if gotBody.CustomerName != "Ana" {
		t.Errorf("Expected full record in body, got %+v", gotBody)
	}
}

// TestErrorClassification tests the retryable/terminal split.
func TestErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusForbidden, false},
		{http.StatusUnprocessableEntity, false},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))

		err := NewClient(srv.URL).Update(context.Background(), "tok", testOrder())
		srv.Close()

		var apiErr *APIError
		if !stderrors.As(err, &apiErr) {
			t.Fatalf("status %d: expected *APIError, got %v", tt.status, err)
		}
		if apiErr.StatusCode != tt.status {
			t.Errorf("Expected status %d recorded, got %d", tt.status, apiErr.StatusCode)
		}
		if apiErr.Retryable() != tt.retryable {
			t.Errorf("status %d: Retryable = %v, want %v", tt.status, apiErr.Retryable(), tt.retryable)
		}
	}
}

// TestNetworkErrorIsRetryable tests classification when no response arrives.
func TestNetworkErrorIsRetryable(t *testing.T) {
	// Closed server: connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	err := NewClient(srv.URL).Update(context.Background(), "tok", testOrder())

	var apiErr *APIError
	if !stderrors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != 0 {
		t.Errorf("Expected no status code, got %d", apiErr.StatusCode)
	}
	if !apiErr.Retryable() {
		t.Error("Expected network error to be retryable")
	}
}

// TestConflictCarriesServerRecord tests that a 409 response decodes the
// server's copy for conflict resolution.
func TestConflictCarriesServerRecord(t *testing.T) {
	serverCopy := testOrder()
	serverCopy.CustomerName = "Beatriz"
	serverCopy.Version = 3
	serverCopy.UpdatedAt = 50_000

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(serverCopy)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).Update(context.Background(), "tok", testOrder())

	var apiErr *APIError
	if !stderrors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %v", err)
	}
	if !apiErr.IsConflict() {
		t.Fatal("Expected conflict classification")
	}
	if apiErr.Retryable() {
		t.Error("Conflicts resolve, they do not blind-retry")
	}

	rec, ok := apiErr.ServerRecord.(*models.Order)
	if !ok {
		t.Fatalf("Expected server order decoded, got %T", apiErr.ServerRecord)
	}
	if rec.CustomerName != "Beatriz" || rec.Version != 3 {
		t.Errorf("Server record wrong: %+v", rec)
	}
}

// TestDeleteTreatsNotFoundAsSuccess tests delete idempotence.
func TestDeleteTreatsNotFoundAsSuccess(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).Delete(context.Background(), "tok", models.EntityTypeProduct, "p-1")
	if err != nil {
		t.Errorf("Expected 404 treated as success, got %v", err)
	}
	if gotPath != "/api/products/p-1" {
		t.Errorf("Expected /api/products/p-1, got %s", gotPath)
	}
}

// TestCollectionPaths tests the entity-to-collection mapping.
func TestCollectionPaths(t *testing.T) {
	c := NewClient("")
	tests := []struct {
		entityType models.EntityType
		want       string
	}{
		{models.EntityTypeOrder, "/api/orders"},
		{models.EntityTypeProduct, "/api/products"},
		{models.EntityTypeBusinessCategory, "/api/business_categories"},
	}
	for _, tt := range tests {
		if got := c.collectionPath(tt.entityType); got != tt.want {
			t.Errorf("collectionPath(%s) = %s, want %s", tt.entityType, got, tt.want)
		}
	}
}
