package extract

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const amazonPage = `<!DOCTYPE html>
<html>
<head><title>Amazon.com: Widget Deluxe</title></head>
<body>
  <h1><span id="productTitle"> Widget Deluxe, Stainless Steel </span></h1>
  <div class="a-price"><span class="a-offscreen">$29.99</span></div>
  <img id="landingImage" src="https://m.media-amazon.com/images/I/widget.jpg"/>
</body>
</html>`

const genericPage = `<!DOCTYPE html>
<html>
<head>
  <meta property="og:title" content="Gadget Pro"/>
  <meta property="product:price:amount" content="1299.00"/>
  <meta property="og:image" content="/images/gadget.png"/>
</head>
<body><h1>Ignored heading</h1></body>
</html>`

func TestExtract_AmazonSelectors(t *testing.T) {
	res := Extract([]byte(amazonPage), "https://www.amazon.com/dp/B000TEST")

	require.NotNil(t, res.Title)
	assert.Equal(t, "Widget Deluxe, Stainless Steel", *res.Title)

	require.NotNil(t, res.Price)
	assert.Equal(t, 29.99, *res.Price)

	require.NotNil(t, res.ImageURL)
	assert.Equal(t, "https://m.media-amazon.com/images/I/widget.jpg", *res.ImageURL)

	assert.Equal(t, "USD", res.Currency)
	assert.False(t, res.Empty())
}

func TestExtract_GenericMetaFallback(t *testing.T) {
	res := Extract([]byte(genericPage), "https://shop.example.com/p/gadget")

	require.NotNil(t, res.Title)
	assert.Equal(t, "Gadget Pro", *res.Title)

	require.NotNil(t, res.Price)
	assert.Equal(t, 1299.00, *res.Price)

	// Relative og:image resolves against the page origin.
	require.NotNil(t, res.ImageURL)
	assert.Equal(t, "https://shop.example.com/images/gadget.png", *res.ImageURL)
}

func TestExtract_UnknownRetailerUsesGenericRules(t *testing.T) {
	page := `<html><body><h1>Plain Thing</h1><span class="price">  49.50 </span></body></html>`

	res := Extract([]byte(page), "https://unknown-store.test/item/1")

	require.NotNil(t, res.Title)
	assert.Equal(t, "Plain Thing", *res.Title)
	require.NotNil(t, res.Price)
	assert.Equal(t, 49.50, *res.Price)
	assert.Nil(t, res.ImageURL)
}

func TestExtract_NothingUsableIsEmpty(t *testing.T) {
	res := Extract([]byte(`<html><body><p>out of stock</p></body></html>`), "https://shop.example.com/p/1")

	assert.Nil(t, res.Title)
	assert.Nil(t, res.Price)
	assert.Nil(t, res.ImageURL)
	assert.True(t, res.Empty())
}

func TestExtract_MalformedMarkup(t *testing.T) {
	res := Extract([]byte("<<<<not html at all"), "https://shop.example.com/p/1")

	assert.True(t, res.Empty())
}

func TestExtract_TitleOnlyIsPartialSuccess(t *testing.T) {
	page := `<html><head><meta property="og:title" content="Mystery Box"/></head><body></body></html>`

	res := Extract([]byte(page), "https://shop.example.com/p/2")

	require.NotNil(t, res.Title)
	assert.Nil(t, res.Price)
	assert.False(t, res.Empty())
}

func TestExtract_LongTitleTruncated(t *testing.T) {
	page := `<html><body><h1>` + strings.Repeat("a", 700) + `</h1></body></html>`

	res := Extract([]byte(page), "https://shop.example.com/p/3")

	require.NotNil(t, res.Title)
	assert.Len(t, *res.Title, 500)
}

func TestExtract_LongTitleTruncatedOnRunes(t *testing.T) {
	// A multi-byte rune straddling the 500th position must not be cut
	// mid-sequence.
	title := strings.Repeat("a", 499) + strings.Repeat("日本語のタイトル", 10)
	page := `<html><body><h1>` + title + `</h1></body></html>`

	res := Extract([]byte(page), "https://shop.example.com/p/3")

	require.NotNil(t, res.Title)
	assert.True(t, utf8.ValidString(*res.Title))
	assert.Equal(t, 500, utf8.RuneCountInString(*res.Title))
	assert.True(t, strings.HasSuffix(*res.Title, "日"))
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want float64
		ok   bool
	}{
		{name: "dollar sign", raw: "$29.99", want: 29.99, ok: true},
		{name: "currency code prefix", raw: "USD 45.00", want: 45.00, ok: true},
		{name: "thousand separator dots", raw: "1.299.99", want: 1299.99, ok: true},
		{name: "comma thousands", raw: "$1,299.99", want: 1299.99, ok: true},
		{name: "whitespace and symbol", raw: "  € 15.50 ", want: 15.50, ok: true},
		{name: "integer price", raw: "300", want: 300, ok: true},
		{name: "zero rejected", raw: "$0.00", ok: false},
		{name: "no digits", raw: "call for price", ok: false},
		{name: "empty", raw: "", ok: false},
		{name: "lone dot", raw: ".", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parsePrice(tt.raw)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestRulesFor(t *testing.T) {
	assert.Equal(t, retailerRules["amazon"].title, rulesFor("https://www.amazon.com/dp/B0").title)
	assert.Equal(t, retailerRules["walmart"].title, rulesFor("https://www.walmart.com/ip/1").title)
	assert.Equal(t, retailerRules["bestbuy"].title, rulesFor("https://www.bestbuy.com/site/1").title)
	assert.Equal(t, genericRules.title, rulesFor("https://shop.example.com/p/1").title)
	assert.Equal(t, genericRules.title, rulesFor("://bad-url").title)
}

func TestAbsoluteURL(t *testing.T) {
	assert.Equal(t,
		"https://cdn.example.com/a.jpg",
		absoluteURL("https://cdn.example.com/a.jpg", "https://shop.example.com/p/1"),
	)
	assert.Equal(t,
		"https://shop.example.com/images/a.jpg",
		absoluteURL("/images/a.jpg", "https://shop.example.com/p/1"),
	)
	assert.Equal(t,
		"https://shop.example.com/p/images/a.jpg",
		absoluteURL("images/a.jpg", "https://shop.example.com/p/1"),
	)
}
