package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Stored field names shared by the sync passes and operator writes
const (
	FieldNetwork           = "network"
	FieldNetworkID         = "networkId"
	FieldAdvertiserID      = "advertiserId"
	FieldOfferID           = "offerId"
	FieldItemID            = "itemId"
	FieldSKU               = "sku"
	FieldLink              = "link"
	FieldURL               = "url"
	FieldCode              = "code"
	FieldDescription       = "description"
	FieldEndDate           = "endDate"
	FieldPrice             = "price"
	FieldSalePrice         = "salePrice"
	FieldImageURL          = "imageUrl"
	FieldStorageImageURL   = "storageImageUrl"
	FieldCategories        = "categories"
	FieldLogoURL           = "logoUrl"
	FieldStorageLogoURL    = "storageLogoUrl"
	FieldIsManualLogo      = "isManualLogo"
	FieldIsManualCategory  = "isManualCategory"
	FieldManualDescription = "manualDescription"
	FieldCustomHomeLink    = "customHomeLink"
	FieldProductCount      = "productCount"
	FieldOfferCount        = "offerCount"
	FieldSaleProductCount  = "saleProductCount"
	FieldHasPromoCodes     = "hasPromoCodes"
	FieldHasSaleItems      = "hasSaleItems"
	FieldUpdatedAt         = "updatedAt"
	FieldNetworkUpdatedAt  = "networkUpdatedAt"
	FieldRawData           = "raw_data"
)

// Document is a stored record in JSON-normalized form: numbers are float64,
// timestamps are RFC3339 strings, nested values are maps and slices.
type Document map[string]any

// Record pairs a document with its key
type Record struct {
	Key  string
	Data Document
}

// ToDocument converts any JSON-serializable value into a Document
func ToDocument(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return doc, nil
}

// NormalizeValue brings a Go value into the same representation a stored
// document would carry for it.
func NormalizeValue(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

// Decode unmarshals the document into out
func (d Document) Decode(out any) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	return nil
}

// Clone returns a deep copy
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out, err := ToDocument(d)
	if err != nil {
		out = make(Document, len(d))
		for k, v := range d {
			out[k] = v
		}
	}
	return out
}

// String returns a field as a string. Numbers are formatted without a
// trailing fraction so legacy numeric ids read back as their string form.
func (d Document) String(field string) string {
	switch v := d[field].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	}
	return ""
}

func (d Document) Bool(field string) bool {
	b, _ := d[field].(bool)
	return b
}

// Float returns a numeric field; strings are parsed as prices
func (d Document) Float(field string) *float64 {
	switch v := d[field].(type) {
	case float64:
		return &v
	case int:
		f := float64(v)
		return &f
	case int64:
		f := float64(v)
		return &f
	case string:
		return ParsePrice(v)
	}
	return nil
}

// Time returns a date-like field as an instant
func (d Document) Time(field string) (time.Time, bool) {
	return asInstant(d[field])
}

// Strings returns a list field as strings, skipping non-string entries
func (d Document) Strings(field string) []string {
	switch v := d[field].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
