package registrar

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	porkbunBaseURL    = "https://api.porkbun.com/api/json/v3"
	porkbunSandboxURL = "https://api-ipv4.porkbun.com/api/json/v3"
)

// PorkbunConfig configures the production gateway.
type PorkbunConfig struct {
	APIKey    string
	SecretKey string
	Sandbox   bool
	Timeout   time.Duration
	// BaseURL overrides the API endpoint when set.
	BaseURL string
	// Registrant is the ICANN contact recorded as the legal owner at the
	// registrar.
	Registrant Registrant
}

// Registrant is the ICANN registrant contact submitted with registrations.
type Registrant struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	City      string `json:"city"`
	State     string `json:"state"`
	Zip       string `json:"zip"`
	Country   string `json:"country"`
}

// Porkbun is the production Gateway backed by the Porkbun JSON API. Every
// call is a POST carrying the API credentials in the body.
type Porkbun struct {
	rest       *resty.Client
	apiKey     string
	secretKey  string
	registrant Registrant
	logger     *zap.Logger
}

// NewPorkbun creates a Porkbun gateway.
func NewPorkbun(cfg PorkbunConfig, logger *zap.Logger) *Porkbun {
	baseURL := porkbunBaseURL
	if cfg.Sandbox {
		baseURL = porkbunSandboxURL
	}
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Porkbun{
		rest:       resty.New().SetBaseURL(baseURL).SetTimeout(timeout),
		apiKey:     cfg.APIKey,
		secretKey:  cfg.SecretKey,
		registrant: cfg.Registrant,
		logger:     logger,
	}
}

type porkbunStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s porkbunStatus) ok() bool { return s.Status == "SUCCESS" }

func (p *Porkbun) authBody() map[string]interface{} {
	return map[string]interface{}{
		"apikey":       p.apiKey,
		"secretapikey": p.secretKey,
	}
}

func (p *Porkbun) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	resp, err := p.rest.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(out).
		Post(path)
	if err != nil {
		return fmt.Errorf("registrar %s: %w", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: %s returned HTTP %d", ErrUpstream, path, resp.StatusCode())
	}
	return nil
}

// Ping hits the API's ping endpoint, which also validates the credentials.
func (p *Porkbun) Ping(ctx context.Context) error {
	var out porkbunStatus
	if err := p.post(ctx, "/ping", p.authBody(), &out); err != nil {
		return err
	}
	if !out.ok() {
		return fmt.Errorf("%w: %s", ErrUpstream, out.Message)
	}
	return nil
}

type checkDomainResponse struct {
	porkbunStatus
	Response struct {
		Avail      string `json:"avail"`
		Premium    string `json:"premium"`
		Price      string `json:"price"`
		Additional struct {
			Renewal struct {
				Price string `json:"price"`
			} `json:"renewal"`
		} `json:"additional"`
	} `json:"response"`
}

func (p *Porkbun) CheckAvailability(ctx context.Context, domain string) (*Availability, error) {
	var out checkDomainResponse
	if err := p.post(ctx, "/domain/checkDomain/"+domain, p.authBody(), &out); err != nil {
		return nil, err
	}
	if !out.ok() {
		return nil, fmt.Errorf("%w: %s", ErrUpstream, out.Message)
	}
	return &Availability{
		Domain:            domain,
		Available:         out.Response.Avail == "yes",
		Premium:           out.Response.Premium == "yes",
		RegistrationPrice: out.Response.Price,
		RenewalPrice:      out.Response.Additional.Renewal.Price,
	}, nil
}

type registerResponse struct {
	porkbunStatus
	NS []string `json:"ns"`
}

func (p *Porkbun) Register(ctx context.Context, domain string, years int, costCents int64) (*Registration, error) {
	body := p.authBody()
	body["cost"] = costCents
	body["agreeToTerms"] = "yes"
	body["firstName"] = p.registrant.FirstName
	body["lastName"] = p.registrant.LastName
	body["email"] = p.registrant.Email
	body["phone"] = p.registrant.Phone
	body["address"] = p.registrant.Address
	body["city"] = p.registrant.City
	body["state"] = p.registrant.State
	body["zip"] = p.registrant.Zip
	body["country"] = p.registrant.Country

	var out registerResponse
	if err := p.post(ctx, "/domain/create/"+domain, body, &out); err != nil {
		return nil, err
	}
	if !out.ok() {
		p.logger.Error("domain registration rejected",
			zap.String("domain", domain),
			zap.String("message", out.Message))
		return nil, fmt.Errorf("%w: %s", ErrUpstream, out.Message)
	}

	nameservers := out.NS
	if len(nameservers) == 0 {
		nameservers = []string{"ns1.porkbun.com", "ns2.porkbun.com"}
	}
	p.logger.Info("domain registered at registrar",
		zap.String("domain", domain),
		zap.Int("years", years))
	return &Registration{
		Domain:      domain,
		Expiration:  time.Now().UTC().AddDate(years, 0, 0).Format("2006-01-02"),
		Nameservers: nameservers,
	}, nil
}

func (p *Porkbun) UpdateNameservers(ctx context.Context, domain string, nameservers []string) error {
	body := p.authBody()
	body["ns"] = nameservers

	var out porkbunStatus
	if err := p.post(ctx, "/domain/updateNs/"+domain, body, &out); err != nil {
		return err
	}
	if !out.ok() {
		return fmt.Errorf("%w: %s", ErrUpstream, out.Message)
	}
	return nil
}

// flexInt decodes numeric fields the Porkbun API serves inconsistently,
// sometimes as a bare number and sometimes as a quoted string.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid numeric field %q", s)
	}
	*f = flexInt(n)
	return nil
}

type dnsRetrieveResponse struct {
	porkbunStatus
	Records []struct {
		ID      string  `json:"id"`
		Type    string  `json:"type"`
		Name    string  `json:"name"`
		Content string  `json:"content"`
		TTL     flexInt `json:"ttl"`
	} `json:"records"`
}

func (p *Porkbun) ListDNSRecords(ctx context.Context, domain string) ([]DNSRecord, error) {
	var out dnsRetrieveResponse
	if err := p.post(ctx, "/dns/retrieve/"+domain, p.authBody(), &out); err != nil {
		return nil, err
	}
	if !out.ok() {
		return nil, fmt.Errorf("%w: %s", ErrUpstream, out.Message)
	}
	records := make([]DNSRecord, 0, len(out.Records))
	for _, r := range out.Records {
		records = append(records, DNSRecord{
			ID:      r.ID,
			Type:    r.Type,
			Name:    r.Name,
			Content: r.Content,
			TTL:     int(r.TTL),
		})
	}
	return records, nil
}

type dnsCreateResponse struct {
	porkbunStatus
	ID int64 `json:"id"`
}

func (p *Porkbun) CreateDNSRecord(ctx context.Context, domain string, rec DNSRecord) (string, error) {
	body := p.authBody()
	body["type"] = rec.Type
	body["name"] = rec.Name
	body["content"] = rec.Content
	body["ttl"] = strconv.Itoa(rec.TTL)

	var out dnsCreateResponse
	if err := p.post(ctx, "/dns/create/"+domain, body, &out); err != nil {
		return "", err
	}
	if !out.ok() {
		return "", fmt.Errorf("%w: %s", ErrUpstream, out.Message)
	}
	return strconv.FormatInt(out.ID, 10), nil
}

func (p *Porkbun) DeleteDNSRecord(ctx context.Context, domain, recordID string) error {
	var out porkbunStatus
	if err := p.post(ctx, "/dns/delete/"+domain+"/"+recordID, p.authBody(), &out); err != nil {
		return err
	}
	if !out.ok() {
		return fmt.Errorf("%w: %s", ErrUpstream, out.Message)
	}
	return nil
}

// AuthCode always returns ErrManualStep: the Porkbun API has no endpoint
// for EPP codes, they are only issued through the dashboard.
func (p *Porkbun) AuthCode(ctx context.Context, domain string) (string, error) {
	return "", fmt.Errorf("%w: retrieve the code at https://porkbun.com/account/domain-details/%s", ErrManualStep, domain)
}
