// Package hubspot pages through the HubSpot CRM v3 object endpoints.
package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// DefaultBaseURL is the public HubSpot API.
const DefaultBaseURL = "https://api.hubapi.com"

// DefaultPageLimit is the number of results requested per page.
const DefaultPageLimit = 100

var (
	// ErrInsecureURL is returned for any endpoint that is not https.
	ErrInsecureURL = errors.New("hubspot: only https protocol is allowed")
	// ErrNoToken is returned when no access token is configured.
	ErrNoToken = errors.New("hubspot: can't request HubSpot without token")
)

// StatusError is a non-success response after retries.
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("hubspot: GET %s: status %d: %s", e.URL, e.Status, e.Body)
}

// Object is a CRM object type.
type Object string

const (
	Companies Object = "companies"
	Contacts  Object = "contacts"
	Deals     Object = "deals"
)

var objectProperties = map[Object][]string{
	Companies: {"name", "industry", "address", "country", "domain"},
	Contacts:  {"firstname", "lastname", "email", "phone", "address", "country", "jobtitle"},
	Deals:     {"dealname", "closedate", "dealstage", "amount", "dealtype"},
}

// Path returns the API path of o, e.g. /crm/objects/v3/contacts.
func (o Object) Path() string { return "/crm/objects/v3/" + string(o) }

// Properties returns the requested properties of o.
func (o Object) Properties() []string { return objectProperties[o] }

// associated reports whether results of o carry company associations.
func (o Object) associated() bool { return o != Companies }

// Page is one response of a list endpoint.
type Page struct {
	Results []Result `json:"results"`
	Paging  *Paging  `json:"paging,omitempty"`
}

// Paging holds the cursor to the next page.
type Paging struct {
	Next *struct {
		After string `json:"after,omitempty"`
		Link  string `json:"link"`
	} `json:"next,omitempty"`
}

// NextLink returns the URL of the following page, "" on the last one.
func (p *Page) NextLink() string {
	if p.Paging == nil || p.Paging.Next == nil {
		return ""
	}
	return p.Paging.Next.Link
}

// Result is one CRM object.
type Result struct {
	ID           string         `json:"id"`
	Properties   map[string]any `json:"properties"`
	Associations *Associations  `json:"associations,omitempty"`
}

// Associations lists linked objects by type.
type Associations struct {
	Companies *struct {
		Results []any `json:"results"`
	} `json:"companies,omitempty"`
}

// CompanyAssociations returns the raw associations.companies.results list,
// nil when absent.
func (r Result) CompanyAssociations() []any {
	if r.Associations == nil || r.Associations.Companies == nil {
		return nil
	}
	return r.Associations.Companies.Results
}

// Getter performs a GET with retries.
type Getter interface {
	Get(ctx context.Context, url string, headers http.Header) (*http.Response, error)
}

// Config configures a Client.
type Config struct {
	Token     string
	BaseURL   string
	PageLimit int
}

// Client lists CRM objects.
type Client struct {
	http    Getter
	token   string
	baseURL string
	limit   int
}

// New returns a Client that sends requests through g.
func New(cfg Config, g Getter) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrNoToken
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if err := checkHTTPS(cfg.BaseURL); err != nil {
		return nil, err
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = DefaultPageLimit
	}
	return &Client{
		http:    g,
		token:   cfg.Token,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		limit:   cfg.PageLimit,
	}, nil
}

// URL returns the first-page URL for o.
func (c *Client) URL(o Object) string {
	q := "limit=" + strconv.Itoa(c.limit) + "&properties=" + strings.Join(o.Properties(), ",")
	if o.associated() {
		q += "&associations=companies"
	}
	return c.baseURL + o.Path() + "?" + q
}

// Walk fetches every page of o in order and calls fn with the decoded page
// and its size in bytes. It stops at the first error from fn.
func (c *Client) Walk(ctx context.Context, o Object, fn func(p *Page, size int) error) error {
	for link := c.URL(o); link != ""; {
		p, size, err := c.fetch(ctx, link)
		if err != nil {
			return err
		}
		if err := fn(p, size); err != nil {
			return err
		}
		link = p.NextLink()
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, link string) (*Page, int, error) {
	if err := checkHTTPS(link); err != nil {
		return nil, 0, err
	}
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+c.token)
	hdr.Set("Accept", "application/json")

	resp, err := c.http.Get(ctx, link, hdr)
	if err != nil {
		return nil, 0, fmt.Errorf("hubspot: GET %s: %w", link, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("hubspot: read %s: %w", link, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, len(body), &StatusError{URL: link, Status: resp.StatusCode, Body: snippet(body)}
	}

	var p Page
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, len(body), fmt.Errorf("hubspot: decode %s: %w", link, err)
	}
	return &p, len(body), nil
}

func checkHTTPS(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("hubspot: parse url %q: %w", raw, err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("%w: %s", ErrInsecureURL, raw)
	}
	return nil
}

func snippet(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
