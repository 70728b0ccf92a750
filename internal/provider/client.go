package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/amifistore/cekot-sub000/internal/model"
)

// Dispatch outcomes. Unknown covers timeouts, transport failures and 5xx:
// the dispatch may or may not have landed, so the engine leaves the order
// non-terminal for the reconciler.
const (
	DispatchAccepted = "accepted"
	DispatchRejected = "rejected"
	DispatchUnknown  = "unknown"
)

type DispatchResult struct {
	Outcome string
	Reason  string // set for rejections
}

type QueryResult struct {
	Status string // one of the model.Observed* values
	SN     string
	Note   string
}

type ProductInfo struct {
	Code     string `json:"kode_produk"`
	Name     string `json:"nama_produk"`
	Price    int64  `json:"harga"`
	Status   string `json:"status"`
	Category string `json:"kategori"`
}

// Client talks to the upstream fulfillment API. Transport failures never
// surface as errors from Dispatch/Query; they come back as unknown results
// and the engine decides.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type apiResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Status string `json:"status"`
		SN     string `json:"sn"`
		Note   string `json:"keterangan"`
	} `json:"data"`
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (*apiResponse, int, error) {
	params.Set("api_key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return &parsed, resp.StatusCode, nil
}

// Dispatch submits the order under the caller-generated providerRef. The ref
// is the sole correlation key for webhook and query paths.
func (c *Client) Dispatch(ctx context.Context, productCode, target, providerRef string) DispatchResult {
	params := url.Values{}
	params.Set("produk", productCode)
	params.Set("tujuan", target)
	params.Set("reff_id", providerRef)

	resp, code, err := c.get(ctx, "/trx", params)
	if err != nil || code >= 500 {
		return DispatchResult{Outcome: DispatchUnknown}
	}

	switch normalizeAPIStatus(resp.Status, resp.Data.Status) {
	case model.ObservedFailed:
		reason := resp.Message
		if reason == "" {
			reason = resp.Data.Note
		}
		return DispatchResult{Outcome: DispatchRejected, Reason: reason}
	case model.ObservedUnknown:
		if code >= 400 {
			// 4xx with no recognizable status is an explicit refusal.
			return DispatchResult{Outcome: DispatchRejected, Reason: resp.Message}
		}
		return DispatchResult{Outcome: DispatchUnknown}
	default:
		// success / processing / pending all mean the provider took it.
		return DispatchResult{Outcome: DispatchAccepted}
	}
}

// Query checks the order's state, trying /history first and /status as the
// fallback some deployments use.
func (c *Client) Query(ctx context.Context, providerRef string) QueryResult {
	params := url.Values{}
	params.Set("refid", providerRef)

	resp, code, err := c.get(ctx, "/history", params)
	if err != nil || code >= 500 || resp.Data.Status == "" {
		params = url.Values{}
		params.Set("reff_id", providerRef)
		resp, code, err = c.get(ctx, "/status", params)
		if err != nil || code >= 500 {
			return QueryResult{Status: model.ObservedUnknown}
		}
	}

	note := resp.Data.Note
	if note == "" {
		note = resp.Message
	}
	return QueryResult{
		Status: normalizeAPIStatus(resp.Data.Status, ""),
		SN:     resp.Data.SN,
		Note:   note,
	}
}

// ListProducts pulls the catalog for the importer.
func (c *Client) ListProducts(ctx context.Context) ([]ProductInfo, error) {
	params := url.Values{}
	params.Set("api_key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/list_product?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list_product: unexpected status %d", resp.StatusCode)
	}

	var parsed struct {
		Data []ProductInfo `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode list_product: %w", err)
	}
	return parsed.Data, nil
}

// normalizeAPIStatus maps the API's status strings onto the closed observed
// set. Status may appear at the envelope or data level depending on endpoint.
func normalizeAPIStatus(statuses ...string) string {
	for _, s := range statuses {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "success", "sukses":
			return model.ObservedSuccess
		case "failed", "gagal":
			return model.ObservedFailed
		case "processing", "proses":
			return model.ObservedProcessing
		case "pending":
			return model.ObservedPending
		case "refund", "refunded":
			return model.ObservedRefunded
		}
	}
	return model.ObservedUnknown
}
