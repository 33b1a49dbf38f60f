package network

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"affsync/internal/domain"
	"affsync/pkg/config"
	"affsync/pkg/logger"
	"affsync/pkg/metrics"
)

var _ domain.NetworkAdapter = (*ImpactAdapter)(nil)

// guards against a server that keeps handing out cursors
const maxCursorPages = 10000

// impactPage is the envelope shared by every Impact list resource
type impactPage struct {
	NextPageURI string            `json:"@nextpageuri"`
	Campaigns   []json.RawMessage `json:"Campaigns"`
	Ads         []json.RawMessage `json:"Ads"`
	Catalogs    []json.RawMessage `json:"Catalogs"`
	Items       []json.RawMessage `json:"Items"`
}

type impactCampaign struct {
	CampaignID          string   `json:"CampaignId"`
	CampaignName        string   `json:"CampaignName"`
	CampaignURL         string   `json:"CampaignUrl"`
	CampaignDescription string   `json:"CampaignDescription"`
	CampaignLogoURI     string   `json:"CampaignLogoUri"`
	AdvertiserName      string   `json:"AdvertiserName"`
	AdvertiserURL       string   `json:"AdvertiserUrl"`
	ContractStatus      string   `json:"ContractStatus"`
	ShippingRegions     []string `json:"ShippingRegions"`
}

type impactAd struct {
	ID             string `json:"Id"`
	Name           string `json:"Name"`
	Description    string `json:"Description"`
	CampaignID     string `json:"CampaignId"`
	CampaignName   string `json:"CampaignName"`
	DiscountCode   string `json:"DiscountCode"`
	StartDate      string `json:"StartDate"`
	EndDate        string `json:"EndDate"`
	TrackingLink   string `json:"TrackingLink"`
	LandingPageURL string `json:"LandingPageUrl"`
	CreativeURL    string `json:"CreativeUrl"`
}

type impactCatalog struct {
	ID         string `json:"Id"`
	Name       string `json:"Name"`
	CampaignID string `json:"CampaignId"`
	ItemsURI   string `json:"ItemsUri"`
}

type impactItem struct {
	ID            string `json:"Id"`
	CatalogItemID string `json:"CatalogItemId"`
	CampaignID    string `json:"CampaignId"`
	CampaignName  string `json:"CampaignName"`
	Name          string `json:"Name"`
	Description   string `json:"Description"`
	URL           string `json:"Url"`
	ImageURL      string `json:"ImageUrl"`
	CurrentPrice  string `json:"CurrentPrice"`
	OriginalPrice string `json:"OriginalPrice"`
	Currency      string `json:"Currency"`
	LastUpdated   string `json:"LastUpdated"`
}

// ImpactAdapter reads the Impact partner API, following its continuation
// cursors
type ImpactAdapter struct {
	cfg    config.ImpactConfig
	client *apiClient
	logger *logger.Logger
	base   *url.URL
}

func NewImpactAdapter(cfg config.ImpactConfig, timeout time.Duration, logger *logger.Logger, metrics *metrics.Metrics) *ImpactAdapter {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		base = &url.URL{Scheme: "https", Host: "api.impact.com"}
	}
	return &ImpactAdapter{
		cfg:    cfg,
		client: newAPIClient(domain.NetworkImpact, cfg.Delay, timeout, logger, metrics),
		logger: logger,
		base:   base,
	}
}

func (a *ImpactAdapter) Network() domain.Network {
	return domain.NetworkImpact
}

func (a *ImpactAdapter) configured() bool {
	return a.cfg.AccountSID != "" && a.cfg.AuthToken != ""
}

func (a *ImpactAdapter) headers() http.Header {
	req := &http.Request{Header: http.Header{}}
	req.SetBasicAuth(a.cfg.AccountSID, a.cfg.AuthToken)
	return req.Header
}

// resolve turns a server-issued relative uri into an absolute URL
func (a *ImpactAdapter) resolve(uri string) string {
	ref, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	return a.base.ResolveReference(ref).String()
}

func (a *ImpactAdapter) resource(name string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	query.Set("PageSize", strconv.Itoa(a.cfg.PageSize))
	return fmt.Sprintf("/Mediapartners/%s/%s?%s", url.PathEscape(a.cfg.AccountSID), name, query.Encode())
}

// walk follows @nextpageuri from first until the cursor runs out. visit
// returns false to stop early.
func (a *ImpactAdapter) walk(ctx context.Context, first, op string, visit func(impactPage) bool) error {
	seen := make(map[string]bool)
	next := first
	for pages := 0; next != "" && pages < maxCursorPages; pages++ {
		if seen[next] {
			return fmt.Errorf("%s cursor repeated %q", op, next)
		}
		seen[next] = true

		var page impactPage
		if err := a.client.getJSON(ctx, a.resolve(next), op, a.headers(), &page); err != nil {
			return err
		}
		if !visit(page) {
			return nil
		}
		next = strings.TrimSpace(page.NextPageURI)
	}
	return nil
}

func (a *ImpactAdapter) FetchAdvertisers(ctx context.Context) ([]domain.Advertiser, error) {
	if !a.configured() {
		a.logger.WithContext(ctx).WithField("network", domain.NetworkImpact).Warn("Credentials missing, skipping advertisers")
		return nil, nil
	}

	var advertisers []domain.Advertiser
	err := a.walk(ctx, a.resource("Campaigns", nil), "campaigns", func(page impactPage) bool {
		for _, raw := range page.Campaigns {
			var c impactCampaign
			if err := json.Unmarshal(raw, &c); err != nil || strings.TrimSpace(c.CampaignID) == "" {
				continue
			}
			advertisers = append(advertisers, a.mapCampaign(c, raw))
		}
		return true
	})
	if err != nil {
		if len(advertisers) == 0 {
			return nil, err
		}
		return advertisers, partialResult(1, err)
	}
	return advertisers, nil
}

func (a *ImpactAdapter) mapCampaign(c impactCampaign, raw json.RawMessage) domain.Advertiser {
	country := ""
	if len(c.ShippingRegions) > 0 {
		country = c.ShippingRegions[0]
	}
	logo := strings.TrimSpace(c.CampaignLogoURI)
	if logo != "" {
		logo = a.resolve(logo)
	}
	return domain.Advertiser{
		Network:     domain.NetworkImpact,
		NetworkID:   strings.TrimSpace(c.CampaignID),
		Name:        firstNonEmpty(c.AdvertiserName, c.CampaignName),
		Status:      strings.ToLower(strings.TrimSpace(c.ContractStatus)),
		URL:         firstNonEmpty(c.AdvertiserURL, c.CampaignURL),
		Country:     country,
		Description: cleanText(c.CampaignDescription),
		LogoURL:     logo,
		RawData:     raw,
	}
}

func (a *ImpactAdapter) FetchOffers(ctx context.Context, oc domain.OfferContext) ([]domain.Offer, error) {
	if !a.configured() {
		return nil, nil
	}

	var offers []domain.Offer
	err := a.walk(ctx, a.resource("Ads", url.Values{"Type": {"COUPON"}}), "ads", func(page impactPage) bool {
		for _, raw := range page.Ads {
			var ad impactAd
			if err := json.Unmarshal(raw, &ad); err != nil {
				continue
			}
			campaignID := strings.TrimSpace(ad.CampaignID)
			offers = append(offers, domain.Offer{
				Network:        domain.NetworkImpact,
				OfferID:        strings.TrimSpace(ad.ID),
				AdvertiserID:   campaignID,
				AdvertiserName: firstNonEmpty(oc.AdvertiserNames[campaignID], ad.CampaignName),
				Title:          cleanText(ad.Name),
				Description:    cleanText(ad.Description),
				Code:           optionalString(ad.DiscountCode),
				StartDate:      parseTime(ad.StartDate),
				EndDate:        parseTime(ad.EndDate),
				Link:           firstNonEmpty(ad.TrackingLink, ad.LandingPageURL),
				ImageURL:       ad.CreativeURL,
				RawData:        raw,
			})
		}
		return true
	})
	if err != nil {
		a.logger.WithContext(ctx).WithError(err).Error("Impact ads walk failed")
		return offers, partialResult(1, err)
	}
	return offers, nil
}

// FetchProducts lists catalogs, then walks each catalog's items in turn.
// A failed catalog is yielded as an error and the next one follows.
func (a *ImpactAdapter) FetchProducts(ctx context.Context) iter.Seq2[[]domain.Product, error] {
	return singleUse(func(yield func([]domain.Product, error) bool) {
		if !a.configured() {
			a.logger.WithContext(ctx).WithField("network", domain.NetworkImpact).Warn("Credentials missing, skipping products")
			return
		}

		var catalogs []impactCatalog
		err := a.walk(ctx, a.resource("Catalogs", nil), "catalogs", func(page impactPage) bool {
			for _, raw := range page.Catalogs {
				var c impactCatalog
				if err := json.Unmarshal(raw, &c); err == nil && c.ID != "" {
					catalogs = append(catalogs, c)
				}
			}
			return true
		})
		if err != nil {
			yield(nil, fmt.Errorf("failed to list catalogs: %w", err))
			return
		}

		for _, catalog := range catalogs {
			first := catalog.ItemsURI
			if first == "" {
				first = fmt.Sprintf("/Mediapartners/%s/Catalogs/%s/Items", url.PathEscape(a.cfg.AccountSID), url.PathEscape(catalog.ID))
			}
			first = withPageSize(first, a.cfg.PageSize)

			stopped := false
			err := a.walk(ctx, first, "items", func(page impactPage) bool {
				products := make([]domain.Product, 0, len(page.Items))
				for _, raw := range page.Items {
					var item impactItem
					if err := json.Unmarshal(raw, &item); err != nil {
						continue
					}
					products = append(products, mapImpactItem(item, catalog, raw))
				}
				if len(products) > 0 && !yield(products, nil) {
					stopped = true
					return false
				}
				return true
			})
			if stopped {
				return
			}
			if err != nil && !yield(nil, fmt.Errorf("catalog %s items: %w", catalog.ID, err)) {
				return
			}
		}
	})
}

func withPageSize(uri string, size int) string {
	u, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	q := u.Query()
	if q.Get("PageSize") == "" {
		q.Set("PageSize", strconv.Itoa(size))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func mapImpactItem(item impactItem, catalog impactCatalog, raw json.RawMessage) domain.Product {
	current := domain.ParsePrice(item.CurrentPrice)
	original := domain.ParsePrice(item.OriginalPrice)

	price, sale := current, (*float64)(nil)
	if domain.IsOnSale(original, current) {
		price, sale = original, current
	} else if current == nil {
		price = original
	}

	return domain.Product{
		Network:          domain.NetworkImpact,
		ItemID:           strings.TrimSpace(item.ID),
		SKU:              strings.TrimSpace(item.CatalogItemID),
		AdvertiserID:     firstNonEmpty(item.CampaignID, catalog.CampaignID),
		AdvertiserName:   strings.TrimSpace(item.CampaignName),
		Name:             cleanText(item.Name),
		Price:            price,
		SalePrice:        sale,
		Currency:         item.Currency,
		Link:             item.URL,
		ImageURL:         item.ImageURL,
		Description:      cleanText(item.Description),
		NetworkUpdatedAt: parseTime(item.LastUpdated),
		RawData:          raw,
	}
}
