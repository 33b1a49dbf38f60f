package domain

import (
	"encoding/json"
	"time"
)

// Product is a catalog item
type Product struct {
	Network          Network         `json:"network"`
	ItemID           string          `json:"itemId"`
	SKU              string          `json:"sku"`
	AdvertiserID     string          `json:"advertiserId"`
	AdvertiserName   string          `json:"advertiserName"`
	Name             string          `json:"name"`
	Price            *float64        `json:"price"`
	SalePrice        *float64        `json:"salePrice"`
	Currency         string          `json:"currency"`
	Link             string          `json:"link"`
	ImageURL         string          `json:"imageUrl"`
	Description      string          `json:"description"`
	Keywords         []string        `json:"keywords"`
	NetworkUpdatedAt *time.Time      `json:"networkUpdatedAt,omitempty"`
	RawData          json.RawMessage `json:"raw_data,omitempty"`
}

func (p Product) Key() (string, error) {
	return ProductKey(p.Network, p.ItemID, p.SKU, p.Link)
}

// ToDocument fills the search keyword set from the name before converting
func (p Product) ToDocument() (Document, error) {
	if len(p.Keywords) == 0 {
		p.Keywords = SearchKeywords(p.Name)
	}
	return ToDocument(p)
}

func (p Product) IsOnSale() bool {
	return IsOnSale(p.Price, p.SalePrice)
}

// IsOnSale is true only when both prices are known and sale < price
func IsOnSale(price, salePrice *float64) bool {
	return price != nil && salePrice != nil && *salePrice < *price
}
