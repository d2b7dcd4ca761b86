// Package extract turns raw product HTML into a normalized record.
// Retailer-specific selector tables are tried in order; a generic rule
// set covers everything else. "Nothing found" is a nil field, never an
// error — the queue layer decides whether an empty record fails the job.
package extract

import (
	"bytes"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	maxTitleLen     = 500
	defaultCurrency = "USD"
)

var priceCleanRe = regexp.MustCompile(`[^0-9.]`)

// Result is the normalized extraction output. Empty() records are
// treated as retryable failures by the caller; a record with at least a
// title is a valid partial success.
type Result struct {
	Title    *string
	Price    *float64
	ImageURL *string
	Currency string
}

// Empty reports whether nothing usable was extracted.
func (r *Result) Empty() bool {
	return r.Title == nil && r.Price == nil
}

// ruleSet is an ordered list of selector strategies per field; the first
// non-empty match wins.
type ruleSet struct {
	title []string
	price []string
	image []string
}

var retailerRules = map[string]ruleSet{
	"amazon": {
		title: []string{"#productTitle", "#title", "h1.a-size-large"},
		price: []string{
			".a-price .a-offscreen",
			"#priceblock_ourprice",
			"#priceblock_dealprice",
			"#corePrice_feature_div .a-price .a-offscreen",
		},
		image: []string{"#landingImage", "#imgBlkFront"},
	},
	"walmart": {
		title: []string{`h1[itemprop="name"]`, "h1.prod-ProductTitle"},
		price: []string{
			`span[itemprop="price"]`,
			`[data-automation-id="product-price"] span.f2`,
			"span.price-characteristic",
		},
		image: []string{`img[data-testid="hero-image"]`, "img.prod-hero-image-image"},
	},
	"bestbuy": {
		title: []string{".sku-title h1", "h1.heading-5"},
		price: []string{
			".priceView-hero-price span[aria-hidden='true']",
			".priceView-customer-price span",
		},
		image: []string{"img.primary-image"},
	},
}

var genericRules = ruleSet{
	title: []string{
		`meta[property="og:title"]`,
		`meta[name="twitter:title"]`,
		"h1",
		"title",
	},
	price: []string{
		`meta[property="product:price:amount"]`,
		`meta[property="og:price:amount"]`,
		`[itemprop="price"]`,
		".price",
		".product-price",
		"#price",
	},
	image: []string{
		`meta[property="og:image"]`,
		`img[itemprop="image"]`,
		"img#main-image",
	},
}

// Parser is the stateless extractor handed to the job pipeline.
type Parser struct{}

func (Parser) Extract(body []byte, pageURL string) *Result {
	return Extract(body, pageURL)
}

// Extract parses the document and applies the rule set for the page's
// retailer. Malformed markup yields an empty result, not an error.
func Extract(body []byte, pageURL string) *Result {
	res := &Result{Currency: defaultCurrency}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return res
	}

	rules := rulesFor(pageURL)

	if title := firstMatch(doc, rules.title); title != "" {
		t := truncate(title, maxTitleLen)
		res.Title = &t
	}

	if raw := firstMatch(doc, rules.price); raw != "" {
		if p, ok := parsePrice(raw); ok {
			res.Price = &p
		}
	}

	if img := firstAttr(doc, rules.image); img != "" {
		if abs := absoluteURL(img, pageURL); abs != "" {
			res.ImageURL = &abs
		}
	}

	return res
}

func rulesFor(pageURL string) ruleSet {
	u, err := url.Parse(pageURL)
	if err != nil {
		return genericRules
	}
	host := strings.ToLower(u.Hostname())

	for retailer, rules := range retailerRules {
		if strings.Contains(host, retailer) {
			return rules
		}
	}
	return genericRules
}

// firstMatch returns the first non-empty text (or content attribute for
// meta tags) among the selectors.
func firstMatch(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		s := doc.Find(sel).First()
		if s.Length() == 0 {
			continue
		}

		var text string
		if goquery.NodeName(s) == "meta" {
			text, _ = s.Attr("content")
		} else if content, ok := s.Attr("content"); ok && strings.TrimSpace(s.Text()) == "" {
			text = content
		} else {
			text = s.Text()
		}

		if text = strings.TrimSpace(text); text != "" {
			return text
		}
	}
	return ""
}

func firstAttr(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		s := doc.Find(sel).First()
		if s.Length() == 0 {
			continue
		}

		var val string
		if goquery.NodeName(s) == "meta" {
			val, _ = s.Attr("content")
		} else {
			val, _ = s.Attr("src")
		}

		if val = strings.TrimSpace(val); val != "" {
			return val
		}
	}
	return ""
}

// parsePrice strips everything but digits and dots and parses the
// result. Values that do not parse or are not positive report not-found.
func parsePrice(raw string) (float64, bool) {
	cleaned := priceCleanRe.ReplaceAllString(raw, "")
	if cleaned == "" {
		return 0, false
	}

	// "1.299.99" style artifacts from thousand separators: keep the last
	// dot as the decimal point.
	if strings.Count(cleaned, ".") > 1 {
		last := strings.LastIndex(cleaned, ".")
		cleaned = strings.ReplaceAll(cleaned[:last], ".", "") + cleaned[last:]
	}

	p, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || p <= 0 {
		return 0, false
	}
	return p, true
}

// truncate caps s at n runes. Cutting on bytes could split a multi-byte
// rune and produce invalid UTF-8, which the datastore rejects.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// absoluteURL resolves ref against the product page's origin when it was
// extracted as relative.
func absoluteURL(ref, base string) string {
	refURL, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if refURL.IsAbs() {
		return refURL.String()
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return baseURL.ResolveReference(refURL).String()
}
