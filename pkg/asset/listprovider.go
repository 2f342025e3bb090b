package asset

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
)

// ListProvider returns the set of symbols (plus per-asset metadata,
// folded into the returned USStock instances) this process should trade.
// It is the out-of-scope "asset-list source" collaborator,
// modeled here as an interface so the strategy driver can depend on it
// without caring how the list is sourced.
type ListProvider interface {
	ListAssets(ctx context.Context) ([]*USStock, error)
}

// RESTListProvider fetches a tradable US-equity asset list from a broker's
// REST endpoint, grounded on quantrion/asset/alpaca.py:AlpacaUSStockListProvider.
// The result is cached for the process lifetime after the first
// successful fetch, same as the Python source's `self._cache`.
type RESTListProvider struct {
	BaseURL    string
	APIKeyID   string
	APISecret  string
	HTTPClient *retryablehttp.Client
	Registry   *Registry

	mu    sync.Mutex
	cache []*USStock
}

// NewRESTListProvider builds a provider using a retrying HTTP client
// (hashicorp/go-retryablehttp) so a transient 5xx/429 from the asset-list
// endpoint does not abort strategy startup.
func NewRESTListProvider(baseURL, apiKeyID, apiSecret string, registry *Registry) *RESTListProvider {
	client := retryablehttp.NewClient()
	client.Logger = nil
	return &RESTListProvider{
		BaseURL:    baseURL,
		APIKeyID:   apiKeyID,
		APISecret:  apiSecret,
		HTTPClient: client,
		Registry:   registry,
	}
}

type brokerAssetDTO struct {
	Symbol       string `json:"symbol"`
	Tradable     bool   `json:"tradable"`
	Fractionable bool   `json:"fractionable"`
	AssetClass   string `json:"class"`
}

func (p *RESTListProvider) ListAssets(ctx context.Context) ([]*USStock, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cache != nil {
		return p.cache, nil
	}

	endpoint, err := url.Parse(p.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("asset: invalid base url: %w", err)
	}
	endpoint.Path = "/v2/assets"
	q := endpoint.Query()
	q.Set("status", "active")
	q.Set("asset_class", "us_equity")
	endpoint.RawQuery = q.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("asset: building request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", p.APIKeyID)
	req.Header.Set("APCA-API-SECRET-KEY", p.APISecret)

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("asset: listing assets: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("asset: upstream rejected list request: status %d", resp.StatusCode)
	}

	var dtos []brokerAssetDTO
	if err := json.NewDecoder(resp.Body).Decode(&dtos); err != nil {
		return nil, fmt.Errorf("asset: decoding asset list: %w", err)
	}

	result := make([]*USStock, 0, len(dtos))
	for _, dto := range dtos {
		if !dto.Tradable || !dto.Fractionable {
			continue
		}
		result = append(result, GetOrCreate(p.Registry, dto.Symbol, NewUSStock))
	}
	p.cache = result
	return result, nil
}
