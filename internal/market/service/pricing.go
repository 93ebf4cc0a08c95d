package service

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// tldPrice holds first-year and renewal pricing in micro-USDC.
type tldPrice struct {
	firstYear int64
	renewal   int64
}

// Retail price table per TLD. Domains on unlisted TLDs fall back to the
// default. Prices already include the service markup over registrar cost.
var tldPricing = map[string]tldPrice{
	"com": {firstYear: 12_990_000, renewal: 14_990_000},
	"net": {firstYear: 12_990_000, renewal: 14_990_000},
	"org": {firstYear: 12_990_000, renewal: 14_990_000},
	"dev": {firstYear: 14_990_000, renewal: 16_990_000},
	"app": {firstYear: 16_990_000, renewal: 18_990_000},
	"io":  {firstYear: 34_990_000, renewal: 39_990_000},
	"co":  {firstYear: 29_990_000, renewal: 34_990_000},
	"xyz": {firstYear: 4_990_000, renewal: 14_990_000},
	"ai":  {firstYear: 79_990_000, renewal: 89_990_000},
}

var defaultPrice = tldPrice{firstYear: 12_990_000, renewal: 14_990_000}

// Markup applied on top of live registrar quotes, in micro-USDC.
const (
	registrationMarkupMicro = 2_500_000
	renewalMarkupMicro      = 3_000_000
)

// Quote returns the total price in micro-USDC for registering a domain for
// the given number of years: first-year price plus renewals for each
// additional year.
func Quote(domain string, years int) int64 {
	price := priceForTLD(tldOf(domain))
	total := price.firstYear
	for i := 1; i < years; i++ {
		total += price.renewal
	}
	return total
}

// QuoteFromRegistrar converts a live registrar dollar quote into retail
// micro-USDC with the service markup. Falls back to the table when the
// registrar returned no price.
func QuoteFromRegistrar(domain, registration, renewal string) (firstYearMicro, renewalMicro int64) {
	regMicro, err := parseDollarsMicro(registration)
	if err != nil {
		price := priceForTLD(tldOf(domain))
		return price.firstYear, price.renewal
	}
	renMicro, err := parseDollarsMicro(renewal)
	if err != nil {
		renMicro = regMicro
	}
	return regMicro + registrationMarkupMicro, renMicro + renewalMarkupMicro
}

func priceForTLD(tld string) tldPrice {
	if p, ok := tldPricing[tld]; ok {
		return p
	}
	return defaultPrice
}

func tldOf(domain string) string {
	parts := strings.Split(strings.ToLower(domain), ".")
	return parts[len(parts)-1]
}

func parseDollarsMicro(s string) (int64, error) {
	dollars, err := strconv.ParseFloat(s, 64)
	if err != nil || dollars <= 0 {
		return 0, fmt.Errorf("invalid price %q", s)
	}
	return int64(math.Round(dollars * 1_000_000)), nil
}
