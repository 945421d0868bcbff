package aggregator

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, proxy *fakeProxy) *Client {
	t.Helper()
	m, store := newTestManager(t, proxy)
	seedTokens(t, store, TokenPair{
		Access:           "bearer-token",
		AccessExpiresAt:  testNow.Unix() + 3600,
		Refresh:          "ref",
		RefreshExpiresAt: testNow.Unix() + 86400,
	})
	return NewClient(proxy, m, "https://aggregator.test/api/v2", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestClientAuthorizesEveryRequest(t *testing.T) {
	proxy := &fakeProxy{handler: func(req ProxyRequest) (*ProxyResponse, error) {
		require.Equal(t, "Bearer bearer-token", req.Headers["Authorization"])
		require.Equal(t, "application/json", req.Headers["Content-Type"])
		return jsonResponse(200, `[]`)
	}}
	client := newTestClient(t, proxy)

	_, err := client.Institutions(context.Background(), "PT")
	require.NoError(t, err)
}

func TestClientLowercasesCountryFilter(t *testing.T) {
	proxy := &fakeProxy{handler: func(req ProxyRequest) (*ProxyResponse, error) {
		require.True(t, strings.HasSuffix(req.URL, "/institutions/?country=de"), req.URL)
		return jsonResponse(200, `[{"id":"N26_NTSBDEB1","name":"N26","bic":"NTSBDEB1","transaction_total_days":"730","countries":["DE"]}]`)
	}}
	client := newTestClient(t, proxy)

	institutions, err := client.Institutions(context.Background(), "DE")
	require.NoError(t, err)
	require.Len(t, institutions, 1)
	require.Equal(t, "N26_NTSBDEB1", institutions[0].ID)
	require.Equal(t, "730", institutions[0].MaxHistoryDays)
}

func TestClientAPIErrorParsesDetail(t *testing.T) {
	proxy := &fakeProxy{handler: func(req ProxyRequest) (*ProxyResponse, error) {
		return jsonResponse(404, `{"summary":"Not found","detail":"Requisition not found","status_code":404}`)
	}}
	client := newTestClient(t, proxy)

	_, err := client.Requisition(context.Background(), "missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 404, apiErr.Status)
	require.Equal(t, "Requisition not found", apiErr.Detail)
}

func TestClientAPIErrorFallsBackToRawBody(t *testing.T) {
	proxy := &fakeProxy{handler: func(req ProxyRequest) (*ProxyResponse, error) {
		return jsonResponse(502, `upstream unavailable`)
	}}
	client := newTestClient(t, proxy)

	_, err := client.AccountBalances(context.Background(), "acc-1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 502, apiErr.Status)
	require.Equal(t, "upstream unavailable", apiErr.Detail)
}

func TestClientCreateRequisitionPayload(t *testing.T) {
	proxy := &fakeProxy{handler: func(req ProxyRequest) (*ProxyResponse, error) {
		require.Contains(t, req.URL, "/requisitions/")
		require.JSONEq(t, `{
			"institution_id": "N26_NTSBDEB1",
			"redirect": "https://app.test/callback",
			"reference": "ref-123",
			"user_language": "EN",
			"agreement": "agr-1"
		}`, string(req.Body))
		return jsonResponse(201, `{"id":"req-1","status":"CR","institution_id":"N26_NTSBDEB1","reference":"ref-123","accounts":[],"link":"https://bank.test/consent"}`)
	}}
	client := newTestClient(t, proxy)

	req, err := client.CreateRequisition(context.Background(), RequisitionRequest{
		InstitutionID: "N26_NTSBDEB1",
		Redirect:      "https://app.test/callback",
		Reference:     "ref-123",
		UserLanguage:  "EN",
		Agreement:     "agr-1",
	})
	require.NoError(t, err)
	require.Equal(t, "req-1", req.ID)
	require.Equal(t, "CR", req.Status)
	require.Empty(t, req.Accounts)
}

func TestClientTransactionsDateBounds(t *testing.T) {
	proxy := &fakeProxy{handler: func(req ProxyRequest) (*ProxyResponse, error) {
		require.Contains(t, req.URL, "/accounts/acc-1/transactions/?")
		require.Contains(t, req.URL, "date_from=2024-01-01")
		require.Contains(t, req.URL, "date_to=2024-02-01")
		return jsonResponse(200, `{"transactions":{"booked":[{"transactionId":"tx-1","bookingDate":"2024-01-15","transactionAmount":{"amount":"-12.30","currency":"EUR"}}],"pending":[{"transactionAmount":{"amount":"5.00","currency":"EUR"}}]}}`)
	}}
	client := newTestClient(t, proxy)

	buckets, err := client.AccountTransactions(context.Background(), "acc-1", "2024-01-01", "2024-02-01")
	require.NoError(t, err)
	require.Len(t, buckets.Booked, 1)
	require.Len(t, buckets.Pending, 1)
	require.Equal(t, "tx-1", buckets.Booked[0].TransactionID)
	require.Equal(t, "-12.30", buckets.Booked[0].TransactionAmount.Amount)
}

func TestClientDecodeFailure(t *testing.T) {
	proxy := &fakeProxy{handler: func(req ProxyRequest) (*ProxyResponse, error) {
		return jsonResponse(200, `{not json`)
	}}
	client := newTestClient(t, proxy)

	_, err := client.AccountDetails(context.Background(), "acc-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode")
}
