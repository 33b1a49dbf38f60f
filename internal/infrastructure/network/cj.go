package network

import (
	"context"
	"encoding/xml"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"strings"
	"time"

	"affsync/internal/domain"
	"affsync/pkg/config"
	"affsync/pkg/logger"
	"affsync/pkg/metrics"
)

var _ domain.NetworkAdapter = (*CJAdapter)(nil)

type cjPageAttrs struct {
	TotalMatched    int `xml:"total-matched,attr"`
	RecordsReturned int `xml:"records-returned,attr"`
	PageNumber      int `xml:"page-number,attr"`
}

type cjAdvertiserLookup struct {
	XMLName     xml.Name `xml:"cj-api"`
	Advertisers struct {
		cjPageAttrs
		Items []cjAdvertiser `xml:"advertiser"`
	} `xml:"advertisers"`
}

type cjAdvertiser struct {
	ID                 string `xml:"advertiser-id" json:"advertiserId"`
	AccountStatus      string `xml:"account-status" json:"accountStatus"`
	Name               string `xml:"advertiser-name" json:"advertiserName"`
	ProgramURL         string `xml:"program-url" json:"programUrl"`
	RelationshipStatus string `xml:"relationship-status" json:"relationshipStatus"`
	Language           string `xml:"language" json:"language"`
	PrimaryCategory    struct {
		Parent string `xml:"parent" json:"parent"`
		Child  string `xml:"child" json:"child"`
	} `xml:"primary-category" json:"primaryCategory"`
}

type cjLinkSearch struct {
	XMLName xml.Name `xml:"cj-api"`
	Links   struct {
		cjPageAttrs
		Items []cjLink `xml:"link"`
	} `xml:"links"`
}

type cjLink struct {
	LinkID             string `xml:"link-id" json:"linkId"`
	AdvertiserID       string `xml:"advertiser-id" json:"advertiserId"`
	AdvertiserName     string `xml:"advertiser-name" json:"advertiserName"`
	LinkName           string `xml:"link-name" json:"linkName"`
	Description        string `xml:"description" json:"description"`
	PromotionType      string `xml:"promotion-type" json:"promotionType"`
	PromotionStartDate string `xml:"promotion-start-date" json:"promotionStartDate"`
	PromotionEndDate   string `xml:"promotion-end-date" json:"promotionEndDate"`
	CouponCode         string `xml:"coupon-code" json:"couponCode"`
	ClickURL           string `xml:"clickUrl" json:"clickUrl"`
	Destination        string `xml:"destination" json:"destination"`
}

const cjProductsQuery = `query products($companyId: ID!, $limit: Int, $offset: Int) {
  shoppingProducts(companyId: $companyId, partnerStatus: JOINED, limit: $limit, offset: $offset) {
    totalCount
    count
    resultList {
      id
      title
      description
      link
      imageLink
      advertiserId
      advertiserName
      price { amount currency }
      salePrice { amount currency }
      lastUpdated
    }
  }
}`

type cjMoney struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type cjProduct struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Link           string   `json:"link"`
	ImageLink      string   `json:"imageLink"`
	AdvertiserID   string   `json:"advertiserId"`
	AdvertiserName string   `json:"advertiserName"`
	Price          *cjMoney `json:"price"`
	SalePrice      *cjMoney `json:"salePrice"`
	LastUpdated    string   `json:"lastUpdated"`
}

type cjProductsResponse struct {
	Data struct {
		ShoppingProducts struct {
			TotalCount int         `json:"totalCount"`
			Count      int         `json:"count"`
			ResultList []cjProduct `json:"resultList"`
		} `json:"shoppingProducts"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// CJAdapter reads Commission Junction's XML lookup services and its
// GraphQL product search
type CJAdapter struct {
	cfg    config.CJConfig
	client *apiClient
	logger *logger.Logger
}

func NewCJAdapter(cfg config.CJConfig, timeout time.Duration, logger *logger.Logger, metrics *metrics.Metrics) *CJAdapter {
	cfg.LookupURL = strings.TrimRight(cfg.LookupURL, "/")
	cfg.LinkSearchURL = strings.TrimRight(cfg.LinkSearchURL, "/")
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.ProductLimit <= 0 {
		cfg.ProductLimit = 500
	}
	return &CJAdapter{
		cfg:    cfg,
		client: newAPIClient(domain.NetworkCJ, cfg.Delay, timeout, logger, metrics),
		logger: logger,
	}
}

func (c *CJAdapter) Network() domain.Network {
	return domain.NetworkCJ
}

func (c *CJAdapter) configured() bool {
	return c.cfg.Token != "" && c.cfg.CompanyID != ""
}

func (c *CJAdapter) FetchAdvertisers(ctx context.Context) ([]domain.Advertiser, error) {
	if !c.configured() {
		c.logger.WithContext(ctx).WithField("network", domain.NetworkCJ).Warn("Credentials missing, skipping advertisers")
		return nil, nil
	}

	var (
		advertisers []domain.Advertiser
		failures    int
		lastErr     error
	)
	for page, seen := 1, 0; ; page++ {
		query := url.Values{
			"requestor-cid":    {c.cfg.CompanyID},
			"advertiser-ids":   {"joined"},
			"records-per-page": {strconv.Itoa(c.cfg.PageSize)},
			"page-number":      {strconv.Itoa(page)},
		}
		var resp cjAdvertiserLookup
		if err := c.client.getXML(ctx, c.cfg.LookupURL+"/v2/advertiser-lookup?"+query.Encode(), "advertiser_lookup", bearer(c.cfg.Token), &resp); err != nil {
			if page == 1 {
				return nil, err
			}
			failures++
			lastErr = err
			break
		}

		for _, item := range resp.Advertisers.Items {
			if strings.TrimSpace(item.ID) == "" {
				continue
			}
			var categories []string
			for _, label := range []string{item.PrimaryCategory.Parent, item.PrimaryCategory.Child} {
				if strings.TrimSpace(label) != "" {
					categories = append(categories, label)
				}
			}
			advertisers = append(advertisers, domain.Advertiser{
				Network:    domain.NetworkCJ,
				NetworkID:  strings.TrimSpace(item.ID),
				Name:       strings.TrimSpace(item.Name),
				Status:     strings.ToLower(firstNonEmpty(item.RelationshipStatus, item.AccountStatus)),
				URL:        strings.TrimSpace(item.ProgramURL),
				Categories: categories,
				RawData:    rawJSON(item),
			})
		}

		seen += len(resp.Advertisers.Items)
		if len(resp.Advertisers.Items) == 0 || seen >= resp.Advertisers.TotalMatched {
			break
		}
	}

	return advertisers, partialResult(failures, lastErr)
}

func (c *CJAdapter) FetchOffers(ctx context.Context, oc domain.OfferContext) ([]domain.Offer, error) {
	if !c.configured() || c.cfg.WebsiteID == "" {
		return nil, nil
	}

	var (
		offers   []domain.Offer
		failures int
		lastErr  error
	)
	for page, seen := 1, 0; ; page++ {
		query := url.Values{
			"website-id":       {c.cfg.WebsiteID},
			"advertiser-ids":   {"joined"},
			"promotion-type":   {"coupon"},
			"records-per-page": {strconv.Itoa(c.cfg.PageSize)},
			"page-number":      {strconv.Itoa(page)},
		}
		var resp cjLinkSearch
		if err := c.client.getXML(ctx, c.cfg.LinkSearchURL+"/v2/link-search?"+query.Encode(), "link_search", bearer(c.cfg.Token), &resp); err != nil {
			failures++
			lastErr = err
			c.logger.WithContext(ctx).WithError(err).WithField("page", page).Error("CJ link search page failed")
			break
		}

		for _, link := range resp.Links.Items {
			offers = append(offers, domain.Offer{
				Network:        domain.NetworkCJ,
				OfferID:        strings.TrimSpace(link.LinkID),
				AdvertiserID:   strings.TrimSpace(link.AdvertiserID),
				AdvertiserName: firstNonEmpty(link.AdvertiserName, oc.AdvertiserNames[strings.TrimSpace(link.AdvertiserID)]),
				Title:          cleanText(link.LinkName),
				Description:    cleanText(link.Description),
				Code:           optionalString(link.CouponCode),
				StartDate:      parseTime(link.PromotionStartDate),
				EndDate:        parseTime(link.PromotionEndDate),
				Link:           firstNonEmpty(link.ClickURL, link.Destination),
				RawData:        rawJSON(link),
			})
		}

		seen += len(resp.Links.Items)
		if len(resp.Links.Items) == 0 || seen >= resp.Links.TotalMatched {
			break
		}
	}

	return offers, partialResult(failures, lastErr)
}

// FetchProducts pages the joined-advertiser product search by offset
func (c *CJAdapter) FetchProducts(ctx context.Context) iter.Seq2[[]domain.Product, error] {
	return singleUse(func(yield func([]domain.Product, error) bool) {
		if !c.configured() {
			c.logger.WithContext(ctx).WithField("network", domain.NetworkCJ).Warn("Credentials missing, skipping products")
			return
		}

		for offset := 0; ; offset += c.cfg.ProductLimit {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			payload := map[string]any{
				"query": cjProductsQuery,
				"variables": map[string]any{
					"companyId": c.cfg.CompanyID,
					"limit":     c.cfg.ProductLimit,
					"offset":    offset,
				},
			}
			var resp cjProductsResponse
			err := c.client.postJSON(ctx, c.cfg.GraphQLURL, "products", bearer(c.cfg.Token), payload, &resp)
			if err == nil && len(resp.Errors) > 0 {
				err = fmt.Errorf("products query failed: %s", resp.Errors[0].Message)
			}
			if err != nil {
				yield(nil, fmt.Errorf("products offset %d: %w", offset, err))
				return
			}

			result := resp.Data.ShoppingProducts
			products := make([]domain.Product, 0, len(result.ResultList))
			for _, p := range result.ResultList {
				products = append(products, mapCJProduct(p))
			}
			if len(products) > 0 && !yield(products, nil) {
				return
			}

			if len(result.ResultList) == 0 || offset+len(result.ResultList) >= result.TotalCount {
				return
			}
		}
	})
}

func mapCJProduct(p cjProduct) domain.Product {
	product := domain.Product{
		Network:          domain.NetworkCJ,
		ItemID:           strings.TrimSpace(p.ID),
		AdvertiserID:     strings.TrimSpace(p.AdvertiserID),
		AdvertiserName:   strings.TrimSpace(p.AdvertiserName),
		Name:             cleanText(p.Title),
		Link:             p.Link,
		ImageURL:         p.ImageLink,
		Description:      cleanText(p.Description),
		NetworkUpdatedAt: parseTime(p.LastUpdated),
		RawData:          rawJSON(p),
	}
	if p.Price != nil {
		product.Price = domain.ParsePrice(p.Price.Amount)
		product.Currency = p.Price.Currency
	}
	if p.SalePrice != nil {
		product.SalePrice = domain.ParsePrice(p.SalePrice.Amount)
	}
	return product
}
