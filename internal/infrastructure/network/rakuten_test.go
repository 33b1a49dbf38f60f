package network

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"affsync/internal/domain"
	"affsync/pkg/config"
)

const rakutenMerchantsXML = "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>\n" +
	`<ns1:getMerchByAppStatusResponse xmlns:ns1="http://endpoint.linkservice.linkshare.com/">` +
	`<ns1:return><ns1:applicationStatus>Approved</ns1:applicationStatus><ns1:categories>1 4</ns1:categories>` +
	"<ns1:mid>2149</ns1:mid><ns1:name>Caf\xe9 Mundo</ns1:name></ns1:return>" +
	`<ns1:return><ns1:applicationStatus>Approved</ns1:applicationStatus><ns1:mid>3000</ns1:mid><ns1:name>Globex</ns1:name></ns1:return>` +
	`</ns1:getMerchByAppStatusResponse>`

func rakutenCouponsXML(page int) string {
	if page == 1 {
		return `<couponfeed><TotalMatches>2</TotalMatches><TotalPages>2</TotalPages><PageNumberRequested>1</PageNumberRequested>
  <link type="TEXT"><categories><category id="1">Food</category></categories>
    <offerdescription>15% off coffee</offerdescription><offerstartdate>2025-01-01</offerstartdate><offerenddate>2030-06-30</offerenddate>
    <couponcode>BEANS15</couponcode><couponrestriction>Online only</couponrestriction>
    <clickurl>https://click.linksynergy.example/fs-bin/click?id=x&amp;offerid=1</clickurl>
    <advertiserid>2149</advertiserid><advertisername>Cafe Mundo</advertisername></link>
</couponfeed>`
	}
	return `<couponfeed><TotalMatches>2</TotalMatches><TotalPages>2</TotalPages><PageNumberRequested>2</PageNumberRequested>
  <link type="TEXT"><offerdescription>Free mug</offerdescription><clickurl>https://click.linksynergy.example/fs-bin/click?id=x&amp;offerid=2</clickurl>
    <advertiserid>3000</advertiserid></link>
</couponfeed>`
}

const rakutenProductsXML = `<result><TotalMatches>1</TotalMatches><TotalPages>1</TotalPages><PageNumber>1</PageNumber>
  <item><mid>2149</mid><merchantname>Cafe Mundo</merchantname><linkid>77001</linkid><sku>BEAN-1KG</sku>
    <productname>House Blend Beans</productname><category><primary>Coffee</primary></category>
    <price currency="USD">24.00</price><saleprice currency="USD">19.50</saleprice>
    <description><short>Beans</short><long>&lt;p&gt;Medium roast&lt;/p&gt;</long></description>
    <keywords>espresso~whole bean</keywords>
    <linkurl>https://click.linksynergy.example/link?id=x&amp;offerid=77001</linkurl><imageurl>https://img.example/beans.jpg</imageurl></item>
</result>`

type rakutenServer struct {
	*httptest.Server
	tokenHits atomic.Int32
}

func newRakutenServer(t *testing.T) *rakutenServer {
	s := &rakutenServer{}
	wantBasic := "Bearer " + base64.StdEncoding.EncodeToString([]byte("client:secret"))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		s.tokenHits.Add(1)
		assert.Equal(t, wantBasic, r.Header.Get("Authorization"))
		if assert.NoError(t, r.ParseForm()) {
			assert.Equal(t, "sid-1", r.PostForm.Get("scope"))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token": "at-%d", "token_type": "bearer", "expires_in": 3600}`, s.tokenHits.Load())
	})
	mux.HandleFunc("GET /linklocator/1.0/getMerchByAppStatus/approved", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/xml; charset=ISO-8859-1")
		w.Write([]byte(rakutenMerchantsXML))
	})
	mux.HandleFunc("GET /coupon/1.0", func(w http.ResponseWriter, r *http.Request) {
		page := 1
		fmt.Sscan(r.URL.Query().Get("pagenumber"), &page)
		w.Write([]byte(rakutenCouponsXML(page)))
	})
	mux.HandleFunc("GET /productsearch/1.0", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("mid") != "2149" {
			http.Error(w, "upstream timeout", http.StatusGatewayTimeout)
			return
		}
		w.Write([]byte(rakutenProductsXML))
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func newTestRakuten(srv *rakutenServer) *RakutenAdapter {
	return NewRakutenAdapter(config.RakutenConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		SID:          "sid-1",
		BaseURL:      srv.URL,
		PageSize:     1,
	}, 0, testLogger(), testMetrics())
}

func TestRakutenTokenIsCachedUntilNearExpiry(t *testing.T) {
	srv := newRakutenServer(t)
	adapter := newTestRakuten(srv)

	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	adapter.now = func() time.Time { return now }
	ctx := context.Background()

	token, err := adapter.accessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "at-1", token)

	now = now.Add(30 * time.Minute)
	token, err = adapter.accessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "at-1", token)
	assert.Equal(t, int32(1), srv.tokenHits.Load())

	// inside the last minute of validity
	now = now.Add(29*time.Minute + 1*time.Second)
	token, err = adapter.accessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "at-2", token)
	assert.Equal(t, int32(2), srv.tokenHits.Load())
}

func TestRakutenFetchAdvertisersDecodesLatin1(t *testing.T) {
	adapter := newTestRakuten(newRakutenServer(t))

	advertisers, err := adapter.FetchAdvertisers(context.Background())
	require.NoError(t, err)
	require.Len(t, advertisers, 2)

	assert.Equal(t, "rakuten-2149", advertisers[0].Key())
	assert.Equal(t, "Café Mundo", advertisers[0].Name)
	assert.Equal(t, "approved", advertisers[0].Status)
	assert.Equal(t, "Globex", advertisers[1].Name)
}

func TestRakutenCouponsUseLinkIdentity(t *testing.T) {
	adapter := newTestRakuten(newRakutenServer(t))

	offers, err := adapter.FetchOffers(context.Background(), domain.OfferContext{
		AdvertiserNames: map[string]string{"3000": "Globex"},
	})
	require.NoError(t, err)
	require.Len(t, offers, 2)

	coffee := offers[0]
	assert.Empty(t, coffee.OfferID)
	assert.Equal(t, "BEANS15", *coffee.Code)
	assert.Equal(t, "15% off coffee Online only", coffee.Description)
	assert.Equal(t, "https://click.linksynergy.example/fs-bin/click?id=x&offerid=1", coffee.Link)

	key, err := coffee.Key()
	require.NoError(t, err)
	assert.Equal(t, "rakuten-"+domain.LinkHash(coffee.Link, domain.NetworkRakuten), key)

	again, err := offers[0].Key()
	require.NoError(t, err)
	assert.Equal(t, key, again)

	assert.Equal(t, "Globex", offers[1].AdvertiserName)
}

func TestRakutenProductsContinuePastFailedAdvertiser(t *testing.T) {
	adapter := newTestRakuten(newRakutenServer(t))

	products, err := CollectProducts(adapter.FetchProducts(context.Background()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPartialResult))
	require.Len(t, products, 1)

	beans := products[0]
	assert.Equal(t, "77001", beans.ItemID)
	assert.Equal(t, "BEAN-1KG", beans.SKU)
	assert.Equal(t, 24.0, *beans.Price)
	assert.Equal(t, 19.5, *beans.SalePrice)
	assert.Equal(t, "Medium roast", beans.Description)
	assert.Contains(t, beans.Keywords, "espresso")
	assert.Contains(t, beans.Keywords, "house")
}
