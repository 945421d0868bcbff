// Package aggregator implements the Open-Banking aggregator integration:
// the HTTP proxy capability, the credential/token manager and the
// authenticated API client.
package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Client is the authenticated request layer over the aggregator API.
// Every call resolves its bearer token through the token manager.
type Client struct {
	proxy   Proxy
	tokens  *TokenManager
	baseURL string
	logger  *slog.Logger
}

// NewClient constructs the API client.
func NewClient(proxy Proxy, tokens *TokenManager, baseURL string, logger *slog.Logger) *Client {
	return &Client{proxy: proxy, tokens: tokens, baseURL: baseURL, logger: logger}
}

// do issues one authenticated JSON request. Responses outside [200,300)
// become *APIError; when out is non-nil the body is decoded into it.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("aggregator: marshal request: %w", err)
		}
	}

	resp, err := c.proxy.Do(ctx, ProxyRequest{
		Method: method,
		URL:    c.baseURL + path,
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"Accept":        "application/json",
			"Authorization": "Bearer " + token,
		},
		Body: payload,
	})
	if err != nil {
		return err
	}
	if resp.Status < 200 || resp.Status >= 300 {
		apiErr := newAPIError(resp.Status, resp.Body)
		c.logger.Warn("aggregator request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.Status),
			slog.String("detail", apiErr.Detail))
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("aggregator: decode %s %s response: %w", method, path, err)
	}
	return nil
}

// Institutions lists institutions available in the given country.
// The country code is lower-cased before it hits the wire.
func (c *Client) Institutions(ctx context.Context, country string) ([]Institution, error) {
	path := "/institutions/?country=" + url.QueryEscape(strings.ToLower(country))
	var out []Institution
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Institution fetches one institution by id.
func (c *Client) Institution(ctx context.Context, id string) (*Institution, error) {
	var out Institution
	if err := c.do(ctx, http.MethodGet, "/institutions/"+url.PathEscape(id)+"/", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateAgreement creates an end-user agreement. Agreements are immutable
// after creation.
func (c *Client) CreateAgreement(ctx context.Context, req AgreementRequest) (*Agreement, error) {
	var out Agreement
	if err := c.do(ctx, http.MethodPost, "/agreements/enduser/", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateRequisition starts a bank-consent handshake.
func (c *Client) CreateRequisition(ctx context.Context, req RequisitionRequest) (*Requisition, error) {
	var out Requisition
	if err := c.do(ctx, http.MethodPost, "/requisitions/", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Requisition fetches the latest handshake state. Never cached: the status
// is mutated externally by the bank's hosted consent flow.
func (c *Client) Requisition(ctx context.Context, id string) (*Requisition, error) {
	var out Requisition
	if err := c.do(ctx, http.MethodGet, "/requisitions/"+url.PathEscape(id)+"/", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteRequisition removes a requisition server-side.
func (c *Client) DeleteRequisition(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/requisitions/"+url.PathEscape(id)+"/", nil, nil)
}

// AccountMetadata fetches the aggregator-side account record.
func (c *Client) AccountMetadata(ctx context.Context, id string) (*AccountMetadata, error) {
	var out AccountMetadata
	if err := c.do(ctx, http.MethodGet, "/accounts/"+url.PathEscape(id)+"/", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AccountDetails fetches the account detail sub-resource.
func (c *Client) AccountDetails(ctx context.Context, id string) (*AccountDetails, error) {
	var out AccountDetails
	if err := c.do(ctx, http.MethodGet, "/accounts/"+url.PathEscape(id)+"/details/", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AccountBalances fetches all balances for an account.
func (c *Client) AccountBalances(ctx context.Context, id string) ([]Balance, error) {
	var out struct {
		Balances []Balance `json:"balances"`
	}
	if err := c.do(ctx, http.MethodGet, "/accounts/"+url.PathEscape(id)+"/balances/", nil, &out); err != nil {
		return nil, err
	}
	return out.Balances, nil
}

// AccountTransactions fetches transactions, optionally date-bounded.
// Dates are YYYY-MM-DD; empty strings omit the bound.
func (c *Client) AccountTransactions(ctx context.Context, id, dateFrom, dateTo string) (*TransactionBuckets, error) {
	path := "/accounts/" + url.PathEscape(id) + "/transactions/"
	query := url.Values{}
	if dateFrom != "" {
		query.Set("date_from", dateFrom)
	}
	if dateTo != "" {
		query.Set("date_to", dateTo)
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var out struct {
		Transactions TransactionBuckets `json:"transactions"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out.Transactions, nil
}
