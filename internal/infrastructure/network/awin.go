package network

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"affsync/internal/domain"
	"affsync/pkg/config"
	"affsync/pkg/logger"
	"affsync/pkg/metrics"
)

var _ domain.NetworkAdapter = (*AwinAdapter)(nil)

const maxFeedLine = 4 << 20

type awinProgramme struct {
	ID              int    `json:"id"`
	Name            string `json:"name"`
	DisplayURL      string `json:"displayUrl"`
	ClickThroughURL string `json:"clickThroughUrl"`
	LogoURL         string `json:"logoUrl"`
	Description     string `json:"description"`
	PrimarySector   string `json:"primarySector"`
	PrimaryRegion   struct {
		Name        string `json:"name"`
		CountryCode string `json:"countryCode"`
	} `json:"primaryRegion"`
}

type awinPromotionPage struct {
	Data       []json.RawMessage `json:"data"`
	Pagination struct {
		Page     int `json:"page"`
		PageSize int `json:"pageSize"`
		Total    int `json:"total"`
	} `json:"pagination"`
}

type awinPromotion struct {
	PromotionID int    `json:"promotionId"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Terms       string `json:"terms"`
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate"`
	URL         string `json:"url"`
	URLTracking string `json:"urlTracking"`
	Advertiser  struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"advertiser"`
	Voucher *struct {
		Code string `json:"code"`
	} `json:"voucher"`
}

type awinFeedRow struct {
	AwProductID       string `json:"aw_product_id"`
	MerchantProductID string `json:"merchant_product_id"`
	MerchantID        string `json:"merchant_id"`
	MerchantName      string `json:"merchant_name"`
	ProductName       string `json:"product_name"`
	Description       string `json:"description"`
	AwDeepLink        string `json:"aw_deep_link"`
	MerchantImageURL  string `json:"merchant_image_url"`
	AwImageURL        string `json:"aw_image_url"`
	SearchPrice       string `json:"search_price"`
	RRPPrice          string `json:"rrp_price"`
	Currency          string `json:"currency"`
	LastUpdated       string `json:"last_updated"`
}

// AwinAdapter reads joined programmes, promotions and per-advertiser
// product feeds from Awin
type AwinAdapter struct {
	cfg    config.AwinConfig
	client *apiClient
	logger *logger.Logger

	mu            sync.Mutex
	advertiserIDs []string
}

func NewAwinAdapter(cfg config.AwinConfig, timeout time.Duration, logger *logger.Logger, metrics *metrics.Metrics) *AwinAdapter {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.FeedURL = strings.TrimRight(cfg.FeedURL, "/")
	if cfg.PageSize <= 0 {
		cfg.PageSize = 200
	}
	return &AwinAdapter{
		cfg:    cfg,
		client: newAPIClient(domain.NetworkAwin, cfg.Delay, timeout, logger, metrics),
		logger: logger,
	}
}

func (a *AwinAdapter) Network() domain.Network {
	return domain.NetworkAwin
}

func (a *AwinAdapter) configured() bool {
	return a.cfg.Token != "" && a.cfg.PublisherID != ""
}

func (a *AwinAdapter) FetchAdvertisers(ctx context.Context) ([]domain.Advertiser, error) {
	if !a.configured() {
		a.logger.WithContext(ctx).WithField("network", domain.NetworkAwin).Warn("Credentials missing, skipping advertisers")
		return nil, nil
	}

	endpoint := fmt.Sprintf("%s/publishers/%s/programmes?relationship=joined", a.cfg.BaseURL, url.PathEscape(a.cfg.PublisherID))
	var raw []json.RawMessage
	if err := a.client.getJSON(ctx, endpoint, "programmes", bearer(a.cfg.Token), &raw); err != nil {
		return nil, err
	}

	advertisers := make([]domain.Advertiser, 0, len(raw))
	ids := make([]string, 0, len(raw))
	for _, item := range raw {
		var p awinProgramme
		if err := json.Unmarshal(item, &p); err != nil || p.ID == 0 {
			a.logger.WithContext(ctx).WithError(err).Warn("Skipping malformed Awin programme")
			continue
		}
		id := strconv.Itoa(p.ID)
		ids = append(ids, id)

		var categories []string
		if p.PrimarySector != "" {
			categories = []string{p.PrimarySector}
		}
		advertisers = append(advertisers, domain.Advertiser{
			Network:     domain.NetworkAwin,
			NetworkID:   id,
			Name:        strings.TrimSpace(p.Name),
			Status:      "joined",
			URL:         firstNonEmpty(p.DisplayURL, p.ClickThroughURL),
			Country:     p.PrimaryRegion.CountryCode,
			Description: cleanText(p.Description),
			Categories:  categories,
			LogoURL:     p.LogoURL,
			RawData:     item,
		})
	}

	a.mu.Lock()
	a.advertiserIDs = ids
	a.mu.Unlock()

	return advertisers, nil
}

func (a *AwinAdapter) FetchOffers(ctx context.Context, oc domain.OfferContext) ([]domain.Offer, error) {
	if !a.configured() {
		return nil, nil
	}

	endpoint := fmt.Sprintf("%s/publisher/%s/promotions", a.cfg.BaseURL, url.PathEscape(a.cfg.PublisherID))

	var (
		offers   []domain.Offer
		failures int
		lastErr  error
	)
	for page := 1; ; page++ {
		payload := map[string]any{
			"filters": map[string]any{
				"membership": "joined",
				"status":     "active",
			},
			"pagination": map[string]any{
				"page":     page,
				"pageSize": a.cfg.PageSize,
			},
		}

		var resp awinPromotionPage
		if err := a.client.postJSON(ctx, endpoint, "promotions", bearer(a.cfg.Token), payload, &resp); err != nil {
			failures++
			lastErr = err
			a.logger.WithContext(ctx).WithError(err).WithField("page", page).Error("Awin promotions page failed")
			break
		}

		for _, item := range resp.Data {
			var p awinPromotion
			if err := json.Unmarshal(item, &p); err != nil {
				continue
			}
			offers = append(offers, a.mapPromotion(p, item, oc))
		}

		if len(resp.Data) == 0 || page*a.cfg.PageSize >= resp.Pagination.Total {
			break
		}
	}

	return offers, partialResult(failures, lastErr)
}

func (a *AwinAdapter) mapPromotion(p awinPromotion, raw json.RawMessage, oc domain.OfferContext) domain.Offer {
	advertiserID := ""
	if p.Advertiser.ID != 0 {
		advertiserID = strconv.Itoa(p.Advertiser.ID)
	}
	name := p.Advertiser.Name
	if name == "" {
		name = oc.AdvertiserNames[advertiserID]
	}
	var code *string
	if p.Voucher != nil {
		code = optionalString(p.Voucher.Code)
	}
	offerID := ""
	if p.PromotionID != 0 {
		offerID = strconv.Itoa(p.PromotionID)
	}
	return domain.Offer{
		Network:        domain.NetworkAwin,
		OfferID:        offerID,
		AdvertiserID:   advertiserID,
		AdvertiserName: name,
		Title:          cleanText(p.Title),
		Description:    cleanText(firstNonEmpty(p.Description, p.Terms)),
		Code:           code,
		StartDate:      parseTime(p.StartDate),
		EndDate:        parseTime(p.EndDate),
		Link:           firstNonEmpty(p.URLTracking, p.URL),
		RawData:        raw,
	}
}

// FetchProducts streams each joined advertiser's JSONL feed in turn,
// yielding fixed-size pages
func (a *AwinAdapter) FetchProducts(ctx context.Context) iter.Seq2[[]domain.Product, error] {
	return singleUse(func(yield func([]domain.Product, error) bool) {
		if !a.configured() || a.cfg.FeedKey == "" {
			a.logger.WithContext(ctx).WithField("network", domain.NetworkAwin).Warn("Feed credentials missing, skipping products")
			return
		}

		ids, err := a.feedAdvertisers(ctx)
		if err != nil {
			yield(nil, err)
			return
		}

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !a.streamFeed(ctx, id, yield) {
				return
			}
		}
	})
}

func (a *AwinAdapter) feedAdvertisers(ctx context.Context) ([]string, error) {
	a.mu.Lock()
	ids := a.advertiserIDs
	a.mu.Unlock()
	if ids != nil {
		return ids, nil
	}
	if _, err := a.FetchAdvertisers(ctx); err != nil {
		return nil, fmt.Errorf("failed to list advertisers for feeds: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.advertiserIDs, nil
}

// streamFeed reports false once the consumer stops ranging
func (a *AwinAdapter) streamFeed(ctx context.Context, advertiserID string, yield func([]domain.Product, error) bool) bool {
	endpoint := fmt.Sprintf("%s/datafeed/download/apikey/%s/mid/%s/format/jsonl",
		a.cfg.FeedURL, url.PathEscape(a.cfg.FeedKey), url.PathEscape(advertiserID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return yield(nil, fmt.Errorf("advertiser %s feed: %w", advertiserID, err))
	}
	body, err := a.client.openStream(ctx, req, "feed")
	if err != nil {
		return yield(nil, fmt.Errorf("advertiser %s feed: %w", advertiserID, err))
	}
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxFeedLine)

	page := make([]domain.Product, 0, defaultChunkSize)
	malformed := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var row awinFeedRow
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			malformed++
			continue
		}
		page = append(page, mapFeedRow(row, advertiserID, json.RawMessage(line)))
		if len(page) == defaultChunkSize {
			if !yield(page, nil) {
				return false
			}
			page = make([]domain.Product, 0, defaultChunkSize)
		}
	}

	if malformed > 0 {
		a.logger.WithContext(ctx).WithFields(map[string]any{
			"advertiser_id": advertiserID,
			"malformed":     malformed,
		}).Warn("Skipped malformed feed lines")
	}

	if len(page) > 0 && !yield(page, nil) {
		return false
	}
	if err := scanner.Err(); err != nil {
		return yield(nil, fmt.Errorf("advertiser %s feed: %w", advertiserID, err))
	}
	return true
}

func mapFeedRow(row awinFeedRow, feedAdvertiserID string, raw json.RawMessage) domain.Product {
	search := domain.ParsePrice(row.SearchPrice)
	rrp := domain.ParsePrice(row.RRPPrice)

	price, sale := search, (*float64)(nil)
	if rrp != nil && search != nil && *search < *rrp {
		price, sale = rrp, search
	} else if search == nil {
		price = rrp
	}

	return domain.Product{
		Network:          domain.NetworkAwin,
		ItemID:           strings.TrimSpace(row.AwProductID),
		SKU:              strings.TrimSpace(row.MerchantProductID),
		AdvertiserID:     firstNonEmpty(row.MerchantID, feedAdvertiserID),
		AdvertiserName:   strings.TrimSpace(row.MerchantName),
		Name:             cleanText(row.ProductName),
		Price:            price,
		SalePrice:        sale,
		Currency:         row.Currency,
		Link:             row.AwDeepLink,
		ImageURL:         firstNonEmpty(row.MerchantImageURL, row.AwImageURL),
		Description:      cleanText(row.Description),
		NetworkUpdatedAt: parseTime(row.LastUpdated),
		RawData:          raw,
	}
}
