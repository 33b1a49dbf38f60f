package domain

import (
	"fmt"
	"strings"
)

// Network identifies an affiliate network
type Network string

const (
	NetworkAwin    Network = "awin"
	NetworkCJ      Network = "cj"
	NetworkRakuten Network = "rakuten"
	NetworkImpact  Network = "impact"
)

// AllNetworks lists networks in the order a full sync visits them
var AllNetworks = []Network{NetworkAwin, NetworkCJ, NetworkRakuten, NetworkImpact}

// ParseNetwork resolves a case-insensitive network name
func ParseNetwork(s string) (Network, error) {
	name := Network(strings.ToLower(strings.TrimSpace(s)))
	for _, n := range AllNetworks {
		if n == name {
			return n, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownNetwork, s)
}

func (n Network) String() string {
	return string(n)
}

// Collection is a logical record collection in the store
type Collection string

const (
	CollectionAdvertisers Collection = "advertisers"
	CollectionOffers      Collection = "offers"
	CollectionProducts    Collection = "products"
	CollectionSettings    Collection = "settings"
)

func (c Collection) String() string {
	return string(c)
}
