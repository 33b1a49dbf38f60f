package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"affsync/internal/domain"
	"affsync/pkg/config"
	"affsync/pkg/logger"
	"affsync/pkg/metrics"
)

var _ domain.BrandLookup = (*BrandLookupClient)(nil)

// brand API payload, narrowed to the logo list
type brandResponse struct {
	Name  string `json:"name"`
	Logos []struct {
		Type    string `json:"type"`
		Theme   string `json:"theme"`
		Formats []struct {
			Src    string `json:"src"`
			Format string `json:"format"`
		} `json:"formats"`
	} `json:"logos"`
}

var (
	logoTypePreference   = []string{"logo", "icon", "symbol"}
	logoFormatPreference = []string{"png", "svg", "jpeg", "jpg", "webp"}
)

// BrandLookupClient resolves logos by domain from a brand API
type BrandLookupClient struct {
	client  *http.Client
	apiURL  string
	apiKey  string
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewBrandLookupClient(cfg config.BrandConfig, logger *logger.Logger, metrics *metrics.Metrics) *BrandLookupClient {
	return &BrandLookupClient{
		client:  &http.Client{Timeout: cfg.Timeout},
		apiURL:  strings.TrimRight(cfg.APIURL, "/"),
		apiKey:  cfg.APIKey,
		logger:  logger,
		metrics: metrics,
	}
}

// LogoURL returns the best logo for domain, or "" when the brand is unknown
func (c *BrandLookupClient) LogoURL(ctx context.Context, domainName string) (string, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/"+url.PathEscape(domainName), nil)
	if err != nil {
		c.metrics.RecordExternalAPIFailure("brand", "request_creation")
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.RecordExternalAPIFailure("brand", "network_error")
		c.metrics.RecordBrandLookup("error")
		return "", fmt.Errorf("failed to look up brand: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start)

	if resp.StatusCode == http.StatusNotFound {
		c.metrics.RecordExternalAPICall("brand", "not_found", duration)
		c.metrics.RecordBrandLookup("miss")
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		c.metrics.RecordExternalAPICall("brand", fmt.Sprintf("error_%d", resp.StatusCode), duration)
		c.metrics.RecordBrandLookup("error")
		return "", fmt.Errorf("brand API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.RecordExternalAPIFailure("brand", "read_body")
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	var brand brandResponse
	if err := json.Unmarshal(body, &brand); err != nil {
		c.metrics.RecordExternalAPIFailure("brand", "json_parse")
		return "", fmt.Errorf("failed to parse brand response: %w", err)
	}

	c.metrics.RecordExternalAPICall("brand", "success", duration)

	logo := pickLogo(brand)
	if logo == "" {
		c.metrics.RecordBrandLookup("miss")
	} else {
		c.metrics.RecordBrandLookup("hit")
	}

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"domain":   domainName,
		"found":    logo != "",
		"duration": duration,
	}).Debug("Brand lookup finished")

	return logo, nil
}

func pickLogo(brand brandResponse) string {
	for _, kind := range logoTypePreference {
		for _, format := range logoFormatPreference {
			for _, logo := range brand.Logos {
				if logo.Type != kind {
					continue
				}
				for _, f := range logo.Formats {
					if strings.EqualFold(f.Format, format) && f.Src != "" {
						return f.Src
					}
				}
			}
		}
	}
	return ""
}
