package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const linkHashPrefix = "affsync/link/v1"

// LinkHash derives a stable identity from a destination link and its network.
// The result depends on nothing else, so re-ingesting a source without native
// ids always lands on the same document.
func LinkHash(link string, network Network) string {
	h := sha256.New()
	h.Write([]byte(linkHashPrefix))
	h.Write([]byte{0})
	h.Write([]byte(network))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(link)))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

func AdvertiserKey(network Network, networkID string) string {
	return fmt.Sprintf("%s-%s", network, strings.TrimSpace(networkID))
}

// OfferKey uses the network offer id, else a hash of the link
func OfferKey(network Network, offerID, link string) (string, error) {
	if id := strings.TrimSpace(offerID); id != "" {
		return fmt.Sprintf("%s-%s", network, id), nil
	}
	if strings.TrimSpace(link) != "" {
		return fmt.Sprintf("%s-%s", network, LinkHash(link, network)), nil
	}
	return "", ErrMissingIdentity
}

// ProductKey uses the network item id, else the sku, else a hash of the link
func ProductKey(network Network, itemID, sku, link string) (string, error) {
	if id := strings.TrimSpace(itemID); id != "" {
		return fmt.Sprintf("%s-%s", network, id), nil
	}
	if s := strings.TrimSpace(sku); s != "" {
		return fmt.Sprintf("%s-%s", network, s), nil
	}
	if strings.TrimSpace(link) != "" {
		return fmt.Sprintf("%s-%s", network, LinkHash(link, network)), nil
	}
	return "", ErrMissingIdentity
}

// KeyFor derives the document key of a record in the given collection
func KeyFor(collection Collection, doc Document) (string, error) {
	network := Network(doc.String(FieldNetwork))
	if network == "" {
		return "", fmt.Errorf("%w: missing network", ErrMissingIdentity)
	}

	switch collection {
	case CollectionAdvertisers:
		id := doc.String(FieldNetworkID)
		if strings.TrimSpace(id) == "" {
			return "", ErrMissingIdentity
		}
		return AdvertiserKey(network, id), nil
	case CollectionOffers:
		return OfferKey(network, doc.String(FieldOfferID), doc.String(FieldLink))
	case CollectionProducts:
		return ProductKey(network, doc.String(FieldItemID), doc.String(FieldSKU), doc.String(FieldLink))
	}
	return "", fmt.Errorf("no key derivation for collection %q", collection)
}
