package domain

import (
	"encoding/json"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Advertiser as mapped from a network payload
type Advertiser struct {
	Network          Network         `json:"network"`
	NetworkID        string          `json:"networkId"`
	Name             string          `json:"name"`
	Status           string          `json:"status"`
	URL              string          `json:"url"`
	Country          string          `json:"country"`
	Description      string          `json:"description"`
	Categories       []string        `json:"categories"`
	LogoURL          string          `json:"logoUrl"`
	NetworkUpdatedAt *time.Time      `json:"networkUpdatedAt,omitempty"`
	RawData          json.RawMessage `json:"raw_data,omitempty"`
}

func (a Advertiser) Key() string {
	return AdvertiserKey(a.Network, a.NetworkID)
}

// Domain returns the bare host of the advertiser URL, used for brand lookups
func (a Advertiser) Domain() string {
	return HostOf(a.URL)
}

func (a Advertiser) ToDocument() (Document, error) {
	a.Categories = NormalizeCategories(a.Categories)
	return ToDocument(a)
}

// AdvertiserRecord is the full stored advertiser including operator and
// derived fields
type AdvertiserRecord struct {
	Advertiser
	StorageLogoURL    string     `json:"storageLogoUrl,omitempty"`
	IsManualLogo      bool       `json:"isManualLogo"`
	IsManualCategory  bool       `json:"isManualCategory"`
	ManualDescription string     `json:"manualDescription,omitempty"`
	CustomHomeLink    string     `json:"customHomeLink,omitempty"`
	ProductCount      int        `json:"productCount"`
	OfferCount        int        `json:"offerCount"`
	SaleProductCount  int        `json:"saleProductCount"`
	HasPromoCodes     bool       `json:"hasPromoCodes"`
	HasSaleItems      bool       `json:"hasSaleItems"`
	UpdatedAt         *time.Time `json:"updatedAt,omitempty"`
}

// NormalizeCategories trims, dedupes and sorts labels; order carries no meaning
func NormalizeCategories(categories []string) []string {
	seen := make(map[string]bool, len(categories))
	out := make([]string, 0, len(categories))
	for _, c := range categories {
		c = strings.Join(strings.Fields(c), " ")
		if c == "" || seen[strings.ToLower(c)] {
			continue
		}
		seen[strings.ToLower(c)] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// HostOf extracts a lowercase host without a leading www.
func HostOf(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
