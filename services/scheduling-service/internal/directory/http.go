package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPProvider talks to the provider directory's REST API.
type HTTPProvider struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewHTTPProvider(baseURL, token string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http: &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type providerResponse struct {
	ProviderID            string `json:"provider_id"`
	HourlyRateCents       int64  `json:"hourly_rate_cents"`
	LicenseVerified       bool   `json:"license_verified"`
	BackgroundCheckPassed bool   `json:"background_check_passed"`
}

func (p *HTTPProvider) GetProvider(ctx context.Context, providerID string) (ProviderRecord, error) {
	var resp providerResponse
	err := p.getJSON(ctx, "/api/v1/providers/"+url.PathEscape(providerID), &resp)
	if err != nil {
		return ProviderRecord{}, err
	}
	return ProviderRecord{
		ProviderID:            resp.ProviderID,
		HourlyRateCents:       resp.HourlyRateCents,
		LicenseVerified:       resp.LicenseVerified,
		BackgroundCheckPassed: resp.BackgroundCheckPassed,
	}, nil
}

func (p *HTTPProvider) ResolveProviderID(ctx context.Context, userID string) (string, error) {
	var resp struct {
		ProviderID string `json:"provider_id"`
	}
	err := p.getJSON(ctx, "/api/v1/providers/by-user/"+url.PathEscape(userID), &resp)
	if err != nil {
		if err == ErrProviderUnknown {
			return "", nil
		}
		return "", err
	}
	return resp.ProviderID, nil
}

func (p *HTTPProvider) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return err
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrProviderUnknown
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("directory returned status %d for %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
