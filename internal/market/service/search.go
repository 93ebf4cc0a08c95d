package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/clawdlabs/clawd-domains/internal/market/model"
	"github.com/clawdlabs/clawd-domains/internal/registrar"
)

// defaultSearchTLDs is the set checked when the caller names none.
var defaultSearchTLDs = []string{"com", "net", "org", "io", "dev", "xyz", "ai"}

// SearchResult is one domain's availability and retail pricing.
type SearchResult struct {
	Domain         string `json:"domain"`
	Available      bool   `json:"available"`
	Premium        bool   `json:"premium"`
	FirstYearPrice string `json:"first_year_price_usdc,omitempty"`
	RenewalPrice   string `json:"renewal_price_usdc,omitempty"`
}

// SearchService checks availability and pricing across TLDs.
type SearchService struct {
	gateway registrar.Gateway
	logger  *zap.Logger
}

// NewSearchService creates a SearchService.
func NewSearchService(gateway registrar.Gateway, logger *zap.Logger) *SearchService {
	return &SearchService{gateway: gateway, logger: logger}
}

// Search checks query.<tld> for each requested TLD. A gateway failure for
// one TLD reads as unavailable rather than failing the whole search.
func (s *SearchService) Search(ctx context.Context, query string, tlds []string) ([]SearchResult, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" || strings.Contains(query, ".") {
		return nil, ErrInvalidDomain
	}
	if len(tlds) == 0 {
		tlds = defaultSearchTLDs
	}
	if len(tlds) > 20 {
		tlds = tlds[:20]
	}

	results := make([]SearchResult, 0, len(tlds))
	for _, tld := range tlds {
		tld = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(tld)), ".")
		domain := query + "." + tld
		if !domainNameRe.MatchString(domain) {
			results = append(results, SearchResult{Domain: domain})
			continue
		}

		avail, err := s.gateway.CheckAvailability(ctx, domain)
		recordRegistrarCall("check_availability", err)
		if err != nil {
			s.logger.Warn("availability check failed", zap.String("domain", domain), zap.Error(err))
			results = append(results, SearchResult{Domain: domain})
			continue
		}

		result := SearchResult{
			Domain:    domain,
			Available: avail.Available,
			Premium:   avail.Premium,
		}
		if avail.Available {
			firstYear, renewal := QuoteFromRegistrar(domain, avail.RegistrationPrice, avail.RenewalPrice)
			result.FirstYearPrice = model.FormatMicroUSDC(firstYear)
			result.RenewalPrice = model.FormatMicroUSDC(renewal)
		}
		results = append(results, result)
	}
	return results, nil
}
