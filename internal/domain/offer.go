package domain

import (
	"encoding/json"
	"time"
)

// Offer is a coupon or promotional link
type Offer struct {
	Network          Network         `json:"network"`
	OfferID          string          `json:"offerId"`
	AdvertiserID     string          `json:"advertiserId"`
	AdvertiserName   string          `json:"advertiserName"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	Code             *string         `json:"code"`
	StartDate        *time.Time      `json:"startDate"`
	EndDate          *time.Time      `json:"endDate"`
	Link             string          `json:"link"`
	ImageURL         string          `json:"imageUrl,omitempty"`
	NetworkUpdatedAt *time.Time      `json:"networkUpdatedAt,omitempty"`
	RawData          json.RawMessage `json:"raw_data,omitempty"`
}

func (o Offer) Key() (string, error) {
	return OfferKey(o.Network, o.OfferID, o.Link)
}

func (o Offer) ToDocument() (Document, error) {
	return ToDocument(o)
}

// IsExpired reports whether the offer ended before now. Open-ended offers
// never expire.
func (o Offer) IsExpired(now time.Time) bool {
	return o.EndDate != nil && o.EndDate.Before(now)
}

func (o Offer) EffectiveCode() string {
	code := ""
	if o.Code != nil {
		code = *o.Code
	}
	return EffectiveCode(code, o.Description)
}

// OfferView reads the fields reconciliation needs from a stored offer
type OfferView struct {
	EndDate     *time.Time
	Code        string
	Description string
}

func OfferViewOf(doc Document) OfferView {
	view := OfferView{
		Code:        doc.String(FieldCode),
		Description: doc.String(FieldDescription),
	}
	if end, ok := doc.Time(FieldEndDate); ok {
		view.EndDate = &end
	}
	return view
}

func (v OfferView) IsExpired(now time.Time) bool {
	return v.EndDate != nil && v.EndDate.Before(now)
}

func (v OfferView) HasRealCode() bool {
	return EffectiveCode(v.Code, v.Description) != ""
}
