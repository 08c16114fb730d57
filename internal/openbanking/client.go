// Package openbanking is a thin client for the aggregator's Bank Account
// Data API: token management, institution catalogue, requisition lifecycle,
// and per-account detail/transaction fetches. Pagination is handled here so
// callers always see a single unified result.
package openbanking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/open-banking-archiver/internal/config"
)

// ErrRequisitionNotFound indicates the aggregator no longer knows the
// requested consent session
var ErrRequisitionNotFound = errors.New("requisition not found")

// tokenSafetyWindow is subtracted from token lifetimes so a token is never
// used within a minute of its expiry.
const tokenSafetyWindow = 60 * time.Second

// Client talks to the aggregator API. It is safe for sequential use from a
// single sync run; token refresh is guarded for callers that share it.
type Client struct {
	http   *resty.Client
	cfg    *config.OpenBankingConfig
	logger *slog.Logger

	mu               sync.Mutex
	accessToken      string
	refreshToken     string
	accessExpiresAt  time.Time
	refreshExpiresAt time.Time
}

// NewClient creates an aggregator client from configuration. No network
// call is made until the first request needs a token.
func NewClient(logger *slog.Logger, cfg *config.OpenBankingConfig) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &Client{
		http:   httpClient,
		cfg:    cfg,
		logger: logger,
	}
}

type tokenResponse struct {
	Access         string `json:"access"`
	AccessExpires  int    `json:"access_expires"`
	Refresh        string `json:"refresh"`
	RefreshExpires int    `json:"refresh_expires"`
}

// ensureToken makes sure a usable access token is held, refreshing or
// regenerating as its expiry windows close.
func (c *Client) ensureToken(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if c.accessToken != "" && now.Before(c.accessExpiresAt.Add(-tokenSafetyWindow)) {
		return nil
	}

	if c.refreshToken != "" && now.Before(c.refreshExpiresAt.Add(-tokenSafetyWindow)) {
		if err := c.exchangeToken(ctx); err == nil {
			c.logger.Debug("Exchanged access token using the refresh token")
			return nil
		}
		// Fall through to full regeneration when the exchange fails
	}

	if err := c.generateToken(ctx); err != nil {
		return err
	}
	c.logger.Debug("Generated new aggregator token pair")
	return nil
}

func (c *Client) generateToken(ctx context.Context) error {
	var token tokenResponse
	apiErr := &APIError{}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"secret_id":  c.cfg.SecretID,
			"secret_key": c.cfg.SecretKey,
		}).
		SetResult(&token).
		SetError(apiErr).
		Post("/token/new/")
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}
	if resp.IsError() {
		apiErr.StatusCode = resp.StatusCode()
		return fmt.Errorf("failed to generate token: %w", apiErr)
	}

	now := time.Now()
	c.accessToken = token.Access
	c.refreshToken = token.Refresh
	c.accessExpiresAt = now.Add(time.Duration(token.AccessExpires) * time.Second)
	c.refreshExpiresAt = now.Add(time.Duration(token.RefreshExpires) * time.Second)
	return nil
}

func (c *Client) exchangeToken(ctx context.Context) error {
	var token tokenResponse
	apiErr := &APIError{}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"refresh": c.refreshToken}).
		SetResult(&token).
		SetError(apiErr).
		Post("/token/refresh/")
	if err != nil {
		return fmt.Errorf("failed to refresh token: %w", err)
	}
	if resp.IsError() {
		apiErr.StatusCode = resp.StatusCode()
		return fmt.Errorf("failed to refresh token: %w", apiErr)
	}

	c.accessToken = token.Access
	c.accessExpiresAt = time.Now().Add(time.Duration(token.AccessExpires) * time.Second)
	return nil
}

// get issues an authenticated GET and decodes the response into out
func (c *Client) get(ctx context.Context, path string, query map[string]string, out interface{}) error {
	if err := c.ensureToken(ctx); err != nil {
		return err
	}

	apiErr := &APIError{}
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.accessToken).
		SetQueryParams(query).
		SetResult(out).
		SetError(apiErr).
		Get(path)
	if err != nil {
		return fmt.Errorf("GET %s failed: %w", path, err)
	}
	if resp.IsError() {
		apiErr.StatusCode = resp.StatusCode()
		return fmt.Errorf("GET %s: %w", path, apiErr)
	}

	return nil
}

// isNotFound reports whether err carries an HTTP 404 from the aggregator
func isNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Institutions lists the institutions available in the configured country
func (c *Client) Institutions(ctx context.Context) ([]Institution, error) {
	var institutions []Institution
	err := c.get(ctx, "/institutions/", map[string]string{"country": c.cfg.Country}, &institutions)
	if err != nil {
		return nil, err
	}
	return institutions, nil
}

type requisitionListPage struct {
	Next    string            `json:"next"`
	Results []requisitionWire `json:"results"`
}

// Requisitions lists every consent session held with the aggregator,
// following pagination links until exhausted.
func (c *Client) Requisitions(ctx context.Context) ([]*Requisition, error) {
	var requisitions []*Requisition

	path := "/requisitions/"
	query := map[string]string{}
	for {
		var page requisitionListPage
		if err := c.get(ctx, path, query, &page); err != nil {
			return nil, err
		}
		for i := range page.Results {
			requisitions = append(requisitions, page.Results[i].toRequisition())
		}
		if page.Next == "" {
			break
		}
		// Next is an absolute URL; resty resolves it against the base
		path = page.Next
		query = nil
	}

	return requisitions, nil
}

// Requisition fetches a single consent session by id. A session the
// aggregator no longer knows yields ErrRequisitionNotFound.
func (c *Client) Requisition(ctx context.Context, id string) (*Requisition, error) {
	var wire requisitionWire
	if err := c.get(ctx, fmt.Sprintf("/requisitions/%s/", id), nil, &wire); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("requisition %s: %w", id, ErrRequisitionNotFound)
		}
		return nil, err
	}
	return wire.toRequisition(), nil
}

// CreateRequisition starts a new consent session with an institution and
// returns it, including the link the user must visit to grant access.
func (c *Client) CreateRequisition(ctx context.Context, institutionID string) (*Requisition, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	var wire requisitionWire
	apiErr := &APIError{}
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.accessToken).
		SetBody(map[string]interface{}{
			"redirect":              c.cfg.RedirectURI,
			"institution_id":        institutionID,
			"reference":             uuid.New().String(),
			"max_historical_days":   c.cfg.MaxHistoricalDays,
			"access_valid_for_days": c.cfg.AccessValidDays,
		}).
		SetResult(&wire).
		SetError(apiErr).
		Post("/requisitions/")
	if err != nil {
		return nil, fmt.Errorf("failed to create requisition: %w", err)
	}
	if resp.IsError() {
		apiErr.StatusCode = resp.StatusCode()
		return nil, fmt.Errorf("failed to create requisition: %w", apiErr)
	}

	return wire.toRequisition(), nil
}

// DeleteRequisition removes a consent session from the aggregator
func (c *Client) DeleteRequisition(ctx context.Context, id string) error {
	if err := c.ensureToken(ctx); err != nil {
		return err
	}

	apiErr := &APIError{}
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.accessToken).
		SetError(apiErr).
		Delete(fmt.Sprintf("/requisitions/%s/", id))
	if err != nil {
		return fmt.Errorf("failed to delete requisition %s: %w", id, err)
	}
	if resp.IsError() {
		if resp.StatusCode() == http.StatusNotFound {
			return ErrRequisitionNotFound
		}
		apiErr.StatusCode = resp.StatusCode()
		return fmt.Errorf("failed to delete requisition %s: %w", id, apiErr)
	}

	return nil
}

// AccountDetails fetches the provider's detail record for an account
func (c *Client) AccountDetails(ctx context.Context, accountID string) (*AccountDetails, error) {
	var wrapper struct {
		Account AccountDetails `json:"account"`
	}
	if err := c.get(ctx, fmt.Sprintf("/accounts/%s/details/", accountID), nil, &wrapper); err != nil {
		return nil, err
	}
	return &wrapper.Account, nil
}

type transactionsPageWire struct {
	Transactions struct {
		Booked  []json.RawMessage `json:"booked"`
		Pending []json.RawMessage `json:"pending"`
	} `json:"transactions"`
	Next string `json:"next"`
}

// AccountTransactions fetches the full visible transaction window for an
// account as one unified page, following windowed pagination when the
// provider splits the response.
func (c *Client) AccountTransactions(ctx context.Context, accountID string) (*TransactionPage, error) {
	page := &TransactionPage{}

	path := fmt.Sprintf("/accounts/%s/transactions/", accountID)
	for {
		var wire transactionsPageWire
		if err := c.get(ctx, path, nil, &wire); err != nil {
			return nil, err
		}
		page.Booked = append(page.Booked, wire.Transactions.Booked...)
		page.Pending = append(page.Pending, wire.Transactions.Pending...)
		if wire.Next == "" {
			break
		}
		path = wire.Next
	}

	return page, nil
}
