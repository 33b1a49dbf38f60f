package network

import (
	"context"
	"encoding/base64"
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

var _ domain.NetworkAdapter = (*RakutenAdapter)(nil)

// tokens are refreshed this long before they expire
const tokenRefreshMargin = 60 * time.Second

type rakutenTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type rakutenMerchResponse struct {
	Merchants []rakutenMerchant `xml:"return"`
}

type rakutenMerchant struct {
	MID               string `xml:"mid" json:"mid"`
	Name              string `xml:"name" json:"name"`
	ApplicationStatus string `xml:"applicationStatus" json:"applicationStatus"`
	Categories        string `xml:"categories" json:"categories"`
}

type rakutenCouponFeed struct {
	TotalMatches int             `xml:"TotalMatches"`
	TotalPages   int             `xml:"TotalPages"`
	PageNumber   int             `xml:"PageNumberRequested"`
	Links        []rakutenCoupon `xml:"link"`
}

type rakutenCoupon struct {
	Categories        []string `xml:"categories>category" json:"categories"`
	PromotionTypes    []string `xml:"promotiontypes>promotiontype" json:"promotionTypes"`
	OfferDescription  string   `xml:"offerdescription" json:"offerDescription"`
	OfferStartDate    string   `xml:"offerstartdate" json:"offerStartDate"`
	OfferEndDate      string   `xml:"offerenddate" json:"offerEndDate"`
	CouponCode        string   `xml:"couponcode" json:"couponCode"`
	CouponRestriction string   `xml:"couponrestriction" json:"couponRestriction"`
	ClickURL          string   `xml:"clickurl" json:"clickUrl"`
	AdvertiserID      string   `xml:"advertiserid" json:"advertiserId"`
	AdvertiserName    string   `xml:"advertisername" json:"advertiserName"`
}

type rakutenProductResult struct {
	TotalMatches int           `xml:"TotalMatches"`
	TotalPages   int           `xml:"TotalPages"`
	PageNumber   int           `xml:"PageNumber"`
	Items        []rakutenItem `xml:"item"`
}

type rakutenPrice struct {
	Currency string `xml:"currency,attr" json:"currency"`
	Value    string `xml:",chardata" json:"value"`
}

type rakutenItem struct {
	MID          string `xml:"mid" json:"mid"`
	MerchantName string `xml:"merchantname" json:"merchantName"`
	LinkID       string `xml:"linkid" json:"linkId"`
	SKU          string `xml:"sku" json:"sku"`
	ProductName  string `xml:"productname" json:"productName"`
	Category     struct {
		Primary   string `xml:"primary" json:"primary"`
		Secondary string `xml:"secondary" json:"secondary"`
	} `xml:"category" json:"category"`
	Price       rakutenPrice `xml:"price" json:"price"`
	SalePrice   rakutenPrice `xml:"saleprice" json:"salePrice"`
	Description struct {
		Short string `xml:"short" json:"short"`
		Long  string `xml:"long" json:"long"`
	} `xml:"description" json:"description"`
	Keywords string `xml:"keywords" json:"keywords"`
	LinkURL  string `xml:"linkurl" json:"linkUrl"`
	ImageURL string `xml:"imageurl" json:"imageUrl"`
}

// RakutenAdapter reads Rakuten Advertising's XML services behind an
// exchanged bearer token
type RakutenAdapter struct {
	cfg    config.RakutenConfig
	client *apiClient
	logger *logger.Logger
	now    func() time.Time

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time

	mu   sync.Mutex
	mids []string
}

func NewRakutenAdapter(cfg config.RakutenConfig, timeout time.Duration, logger *logger.Logger, metrics *metrics.Metrics) *RakutenAdapter {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	if cfg.ProductPageSize <= 0 {
		cfg.ProductPageSize = 100
	}
	return &RakutenAdapter{
		cfg:    cfg,
		client: newAPIClient(domain.NetworkRakuten, cfg.Delay, timeout, logger, metrics),
		logger: logger,
		now:    time.Now,
	}
}

func (r *RakutenAdapter) Network() domain.Network {
	return domain.NetworkRakuten
}

func (r *RakutenAdapter) configured() bool {
	return r.cfg.ClientID != "" && r.cfg.ClientSecret != "" && r.cfg.SID != ""
}

// accessToken returns the cached token, exchanging credentials for a new
// one when it is missing or close to expiry
func (r *RakutenAdapter) accessToken(ctx context.Context) (string, error) {
	r.tokenMu.Lock()
	defer r.tokenMu.Unlock()

	now := r.now()
	if r.token != "" && now.Before(r.tokenExpiry.Add(-tokenRefreshMargin)) {
		return r.token, nil
	}

	form := url.Values{
		"grant_type": {"client_credentials"},
		"scope":      {r.cfg.SID},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	credentials := base64.StdEncoding.EncodeToString([]byte(r.cfg.ClientID + ":" + r.cfg.ClientSecret))
	req.Header.Set("Authorization", "Bearer "+credentials)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	body, err := r.client.do(ctx, req, "token")
	if err != nil {
		return "", fmt.Errorf("failed to exchange token: %w", err)
	}
	var resp rakutenTokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("token response carried no access token")
	}

	r.token = resp.AccessToken
	r.tokenExpiry = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	return r.token, nil
}

func (r *RakutenAdapter) authHeaders(ctx context.Context) (http.Header, error) {
	token, err := r.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	return bearer(token), nil
}

func (r *RakutenAdapter) FetchAdvertisers(ctx context.Context) ([]domain.Advertiser, error) {
	if !r.configured() {
		r.logger.WithContext(ctx).WithField("network", domain.NetworkRakuten).Warn("Credentials missing, skipping advertisers")
		return nil, nil
	}

	headers, err := r.authHeaders(ctx)
	if err != nil {
		return nil, err
	}

	var resp rakutenMerchResponse
	if err := r.client.getXML(ctx, r.cfg.BaseURL+"/linklocator/1.0/getMerchByAppStatus/approved", "merchants", headers, &resp); err != nil {
		return nil, err
	}

	advertisers := make([]domain.Advertiser, 0, len(resp.Merchants))
	mids := make([]string, 0, len(resp.Merchants))
	for _, m := range resp.Merchants {
		mid := strings.TrimSpace(m.MID)
		if mid == "" {
			continue
		}
		mids = append(mids, mid)
		advertisers = append(advertisers, domain.Advertiser{
			Network:   domain.NetworkRakuten,
			NetworkID: mid,
			Name:      strings.TrimSpace(m.Name),
			Status:    strings.ToLower(strings.TrimSpace(m.ApplicationStatus)),
			RawData:   rawJSON(m),
		})
	}

	r.mu.Lock()
	r.mids = mids
	r.mu.Unlock()

	return advertisers, nil
}

// FetchOffers reads the coupon feed. Coupons carry no native id, so their
// keys derive from the click link.
func (r *RakutenAdapter) FetchOffers(ctx context.Context, oc domain.OfferContext) ([]domain.Offer, error) {
	if !r.configured() {
		return nil, nil
	}

	var (
		offers   []domain.Offer
		failures int
		lastErr  error
	)
	for page, totalPages := 1, 1; page <= totalPages; page++ {
		headers, err := r.authHeaders(ctx)
		if err != nil {
			return offers, err
		}

		query := url.Values{
			"resultsperpage": {strconv.Itoa(r.cfg.PageSize)},
			"pagenumber":     {strconv.Itoa(page)},
		}
		var feed rakutenCouponFeed
		if err := r.client.getXML(ctx, r.cfg.BaseURL+"/coupon/1.0?"+query.Encode(), "coupons", headers, &feed); err != nil {
			failures++
			lastErr = err
			r.logger.WithContext(ctx).WithError(err).WithField("page", page).Error("Rakuten coupon page failed")
			break
		}
		totalPages = feed.TotalPages

		for _, c := range feed.Links {
			advertiserID := strings.TrimSpace(c.AdvertiserID)
			description := cleanText(c.OfferDescription)
			if restriction := cleanText(c.CouponRestriction); restriction != "" {
				description = strings.TrimSpace(description + " " + restriction)
			}
			offers = append(offers, domain.Offer{
				Network:        domain.NetworkRakuten,
				AdvertiserID:   advertiserID,
				AdvertiserName: firstNonEmpty(c.AdvertiserName, oc.AdvertiserNames[advertiserID]),
				Title:          cleanText(c.OfferDescription),
				Description:    description,
				Code:           optionalString(c.CouponCode),
				StartDate:      parseTime(c.OfferStartDate),
				EndDate:        parseTime(c.OfferEndDate),
				Link:           strings.TrimSpace(c.ClickURL),
				RawData:        rawJSON(c),
			})
		}
	}

	return offers, partialResult(failures, lastErr)
}

// FetchProducts walks the product search advertiser by advertiser
func (r *RakutenAdapter) FetchProducts(ctx context.Context) iter.Seq2[[]domain.Product, error] {
	return singleUse(func(yield func([]domain.Product, error) bool) {
		if !r.configured() {
			r.logger.WithContext(ctx).WithField("network", domain.NetworkRakuten).Warn("Credentials missing, skipping products")
			return
		}

		mids, err := r.productAdvertisers(ctx)
		if err != nil {
			yield(nil, err)
			return
		}

		for _, mid := range mids {
			if !r.walkProducts(ctx, mid, yield) {
				return
			}
		}
	})
}

func (r *RakutenAdapter) productAdvertisers(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	mids := r.mids
	r.mu.Unlock()
	if mids != nil {
		return mids, nil
	}
	if _, err := r.FetchAdvertisers(ctx); err != nil {
		return nil, fmt.Errorf("failed to list advertisers for products: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mids, nil
}

// walkProducts reports false once the consumer stops ranging
func (r *RakutenAdapter) walkProducts(ctx context.Context, mid string, yield func([]domain.Product, error) bool) bool {
	for page, totalPages := 1, 1; page <= totalPages; page++ {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return false
		}

		headers, err := r.authHeaders(ctx)
		if err != nil {
			return yield(nil, fmt.Errorf("advertiser %s products: %w", mid, err))
		}

		query := url.Values{
			"mid":        {mid},
			"max":        {strconv.Itoa(r.cfg.ProductPageSize)},
			"pagenumber": {strconv.Itoa(page)},
		}
		var result rakutenProductResult
		if err := r.client.getXML(ctx, r.cfg.BaseURL+"/productsearch/1.0?"+query.Encode(), "products", headers, &result); err != nil {
			return yield(nil, fmt.Errorf("advertiser %s products page %d: %w", mid, page, err))
		}
		totalPages = result.TotalPages

		products := make([]domain.Product, 0, len(result.Items))
		for _, item := range result.Items {
			products = append(products, mapRakutenItem(item, mid))
		}
		if len(products) > 0 && !yield(products, nil) {
			return false
		}
	}
	return true
}

func mapRakutenItem(item rakutenItem, mid string) domain.Product {
	price := domain.ParsePrice(item.Price.Value)
	sale := domain.ParsePrice(item.SalePrice.Value)
	if !domain.IsOnSale(price, sale) {
		sale = nil
	}

	name := cleanText(item.ProductName)
	// network tags are "~" separated and extend the name's search terms
	tags := strings.ReplaceAll(item.Keywords, "~", " ")

	return domain.Product{
		Network:        domain.NetworkRakuten,
		ItemID:         strings.TrimSpace(item.LinkID),
		SKU:            strings.TrimSpace(item.SKU),
		AdvertiserID:   firstNonEmpty(item.MID, mid),
		AdvertiserName: strings.TrimSpace(item.MerchantName),
		Name:           name,
		Price:          price,
		SalePrice:      sale,
		Currency:       firstNonEmpty(item.Price.Currency, item.SalePrice.Currency),
		Link:           strings.TrimSpace(item.LinkURL),
		ImageURL:       strings.TrimSpace(item.ImageURL),
		Description:    cleanText(firstNonEmpty(item.Description.Long, item.Description.Short)),
		Keywords:       domain.SearchKeywords(name + " " + tags),
		RawData:        rawJSON(item),
	}
}
