package openbanking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-banking-archiver/internal/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// writeJSON responds like the aggregator does: JSON body with the matching
// content type, which the client relies on for unmarshaling
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	cfg := &config.OpenBankingConfig{
		SecretID:          "secret-id",
		SecretKey:         "secret-key",
		BaseURL:           server.URL,
		Timeout:           5 * time.Second,
		Country:           "GB",
		RedirectURI:       "https://example.com/redirect",
		MaxHistoricalDays: 730,
		AccessValidDays:   90,
	}
	return NewClient(newTestLogger(), cfg)
}

// tokenEndpoint serves /token/new/ with configurable lifetimes, counting
// how often a fresh pair is generated
func tokenEndpoint(mux *http.ServeMux, generated *int, accessExpires, refreshExpires int) {
	mux.HandleFunc("/token/new/", func(w http.ResponseWriter, r *http.Request) {
		*generated++
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access":          fmt.Sprintf("access-%d", *generated),
			"access_expires":  accessExpires,
			"refresh":         "refresh-token",
			"refresh_expires": refreshExpires,
		})
	})
}

func TestClient_TokenReuse(t *testing.T) {
	generated := 0
	mux := http.NewServeMux()
	tokenEndpoint(mux, &generated, 3600, 86400)
	mux.HandleFunc("/institutions/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		assert.Equal(t, "GB", r.URL.Query().Get("country"))
		writeJSON(w, http.StatusOK, []Institution{{ID: "ACME_GB", Name: "Acme Bank"}})
	})

	client := newTestClient(t, mux)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		institutions, err := client.Institutions(ctx)
		require.NoError(t, err)
		require.Len(t, institutions, 1)
		assert.Equal(t, "Acme Bank", institutions[0].Name)
	}

	// A long-lived access token is generated once and reused
	assert.Equal(t, 1, generated)
}

func TestClient_TokenRefresh(t *testing.T) {
	generated := 0
	refreshed := 0
	mux := http.NewServeMux()
	// Access tokens die inside the safety window, forcing a refresh on the
	// next request; the refresh token stays valid
	tokenEndpoint(mux, &generated, 30, 86400)
	mux.HandleFunc("/token/refresh/", func(w http.ResponseWriter, r *http.Request) {
		refreshed++
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "refresh-token", body["refresh"])
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access":         "access-refreshed",
			"access_expires": 3600,
		})
	})
	mux.HandleFunc("/institutions/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []Institution{})
	})

	client := newTestClient(t, mux)
	ctx := context.Background()

	_, err := client.Institutions(ctx)
	require.NoError(t, err)
	_, err = client.Institutions(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, generated)
	assert.Equal(t, 1, refreshed)
}

func TestClient_TokenGenerationFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token/new/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"summary": "Invalid secrets", "detail": "bad credentials"})
	})

	client := newTestClient(t, mux)

	_, err := client.Institutions(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to generate token")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "bad credentials", apiErr.Detail)
}

func TestClient_Requisition(t *testing.T) {
	generated := 0
	mux := http.NewServeMux()
	tokenEndpoint(mux, &generated, 3600, 86400)
	mux.HandleFunc("/requisitions/req-1/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":             "req-1",
			"status":         "LN",
			"link":           "https://consent.example/req-1",
			"institution_id": "ACME_GB",
			"accounts":       []string{"provider-acc-1", "provider-acc-2"},
		})
	})
	mux.HandleFunc("/requisitions/req-gone/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
	})

	client := newTestClient(t, mux)
	ctx := context.Background()

	t.Run("decodes status codes", func(t *testing.T) {
		req, err := client.Requisition(ctx, "req-1")
		require.NoError(t, err)
		assert.Equal(t, "req-1", req.ID)
		assert.Equal(t, StatusLinked, req.Status)
		assert.Equal(t, []string{"provider-acc-1", "provider-acc-2"}, req.Accounts)
	})

	t.Run("vanished session yields sentinel error", func(t *testing.T) {
		req, err := client.Requisition(ctx, "req-gone")
		assert.Nil(t, req)
		assert.ErrorIs(t, err, ErrRequisitionNotFound)
	})
}

func TestClient_RequisitionsPagination(t *testing.T) {
	generated := 0
	mux := http.NewServeMux()
	tokenEndpoint(mux, &generated, 3600, 86400)

	var serverURL string
	mux.HandleFunc("/requisitions/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("offset") == "" {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"next": serverURL + "/requisitions/?offset=1",
				"results": []map[string]interface{}{
					{"id": "req-1", "status": "LN"},
				},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"next": "",
			"results": []map[string]interface{}{
				{"id": "req-2", "status": "EX"},
			},
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	serverURL = server.URL

	cfg := &config.OpenBankingConfig{
		SecretID:  "secret-id",
		SecretKey: "secret-key",
		BaseURL:   server.URL,
		Timeout:   5 * time.Second,
		Country:   "GB",
	}
	client := NewClient(newTestLogger(), cfg)

	requisitions, err := client.Requisitions(context.Background())
	require.NoError(t, err)
	require.Len(t, requisitions, 2)
	assert.Equal(t, "req-1", requisitions[0].ID)
	assert.Equal(t, StatusLinked, requisitions[0].Status)
	assert.Equal(t, "req-2", requisitions[1].ID)
	assert.Equal(t, StatusExpired, requisitions[1].Status)
}

func TestClient_CreateRequisition(t *testing.T) {
	generated := 0
	mux := http.NewServeMux()
	tokenEndpoint(mux, &generated, 3600, 86400)
	mux.HandleFunc("/requisitions/", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ACME_GB", body["institution_id"])
		assert.Equal(t, "https://example.com/redirect", body["redirect"])
		assert.NotEmpty(t, body["reference"])
		assert.EqualValues(t, 730, body["max_historical_days"])
		assert.EqualValues(t, 90, body["access_valid_for_days"])

		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"id":             "req-new",
			"status":         "CR",
			"link":           "https://consent.example/req-new",
			"institution_id": "ACME_GB",
		})
	})

	client := newTestClient(t, mux)

	req, err := client.CreateRequisition(context.Background(), "ACME_GB")
	require.NoError(t, err)
	assert.Equal(t, "req-new", req.ID)
	assert.Equal(t, StatusCreated, req.Status)
	assert.Equal(t, "https://consent.example/req-new", req.Link)
}

func TestClient_DeleteRequisition(t *testing.T) {
	generated := 0
	mux := http.NewServeMux()
	tokenEndpoint(mux, &generated, 3600, 86400)
	mux.HandleFunc("/requisitions/req-1/", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		writeJSON(w, http.StatusOK, map[string]string{"summary": "deleted"})
	})
	mux.HandleFunc("/requisitions/req-gone/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
	})

	client := newTestClient(t, mux)
	ctx := context.Background()

	assert.NoError(t, client.DeleteRequisition(ctx, "req-1"))
	assert.ErrorIs(t, client.DeleteRequisition(ctx, "req-gone"), ErrRequisitionNotFound)
}

func TestClient_AccountDetails(t *testing.T) {
	generated := 0
	mux := http.NewServeMux()
	tokenEndpoint(mux, &generated, 3600, 86400)
	mux.HandleFunc("/accounts/provider-acc-1/details/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"account": map[string]string{
				"resourceId": "resource-1",
				"name":       "Main",
				"details":    "Current Account",
				"currency":   "GBP",
			},
		})
	})
	mux.HandleFunc("/accounts/provider-acc-gone/details/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Account not found."})
	})

	client := newTestClient(t, mux)
	ctx := context.Background()

	t.Run("unwraps the account envelope", func(t *testing.T) {
		details, err := client.AccountDetails(ctx, "provider-acc-1")
		require.NoError(t, err)
		assert.Equal(t, "resource-1", details.ResourceID)
		assert.Equal(t, "Current Account", details.Details)
		assert.Equal(t, "GBP", details.Currency)
	})

	t.Run("missing account is not a missing requisition", func(t *testing.T) {
		details, err := client.AccountDetails(ctx, "provider-acc-gone")
		assert.Nil(t, details)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrRequisitionNotFound)

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	})
}

func TestClient_AccountTransactionsPagination(t *testing.T) {
	generated := 0
	mux := http.NewServeMux()
	tokenEndpoint(mux, &generated, 3600, 86400)

	var serverURL string
	mux.HandleFunc("/accounts/provider-acc-1/transactions/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "" {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"transactions": map[string]interface{}{
					"booked":  []map[string]string{{"transactionId": "txn-2"}},
					"pending": []map[string]string{{"transactionId": "txn-3"}},
				},
				"next": serverURL + "/accounts/provider-acc-1/transactions/?page=2",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"transactions": map[string]interface{}{
				"booked": []map[string]string{{"transactionId": "txn-1"}},
			},
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	serverURL = server.URL

	cfg := &config.OpenBankingConfig{
		SecretID:  "secret-id",
		SecretKey: "secret-key",
		BaseURL:   server.URL,
		Timeout:   5 * time.Second,
	}
	client := NewClient(newTestLogger(), cfg)

	page, err := client.AccountTransactions(context.Background(), "provider-acc-1")
	require.NoError(t, err)
	require.Len(t, page.Booked, 2)
	require.Len(t, page.Pending, 1)
	assert.JSONEq(t, `{"transactionId":"txn-2"}`, string(page.Booked[0]))
	assert.JSONEq(t, `{"transactionId":"txn-1"}`, string(page.Booked[1]))
	assert.JSONEq(t, `{"transactionId":"txn-3"}`, string(page.Pending[0]))
}
