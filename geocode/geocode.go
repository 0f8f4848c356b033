// Package geocode proxies city autocomplete queries to Nominatim. It is a
// thin collaborator outside the coordination core: a fixed-timeout HTTP
// client and a chi-mountable handler, no caching, no persistence.
package geocode

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultEndpoint is the public Nominatim search API.
const DefaultEndpoint = "https://nominatim.openstreetmap.org/search"

// City is one autocomplete suggestion.
type City struct {
	Label       string `json:"label"`
	CountryCode string `json:"country_code"`
	Type        string `json:"type"`
}

// Client queries a Nominatim-compatible endpoint.
type Client struct {
	endpoint string
	http     *http.Client
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the upstream URL (used by tests).
func WithEndpoint(u string) Option { return func(c *Client) { c.endpoint = u } }

// WithLogger sets a custom logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// New creates a geocoding client with a fixed 6-second request timeout.
func New(opts ...Option) *Client {
	c := &Client{
		endpoint: DefaultEndpoint,
		http:     &http.Client{Timeout: 6 * time.Second},
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Search returns up to limit city suggestions for q, labelled in lang.
// Upstream failures degrade to an empty result, never an error to the user.
func (c *Client) Search(ctx context.Context, q string, limit int, lang string) []City {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil
	}
	if limit <= 0 {
		limit = 8
	}
	if lang == "" {
		lang = "en"
	}

	params := url.Values{
		"format":          {"jsonv2"},
		"addressdetails":  {"1"},
		"limit":           {strconv.Itoa(limit)},
		"q":               {q},
		"accept-language": {lang},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil
	}
	req.Header.Set("Accept-Language", lang)
	req.Header.Set("User-Agent", "freightboard-autocomplete/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("geocode: upstream unreachable", "error", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("geocode: upstream status", "status", resp.StatusCode)
		return nil
	}

	var rows []struct {
		DisplayName string `json:"display_name"`
		Type        string `json:"type"`
		Address     struct {
			CountryCode string `json:"country_code"`
		} `json:"address"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		c.logger.Warn("geocode: bad upstream payload", "error", err)
		return nil
	}

	seen := make(map[string]bool)
	var out []City
	for _, r := range rows {
		label := strings.TrimSpace(r.DisplayName)
		if label == "" {
			continue
		}
		code := strings.ToUpper(r.Address.CountryCode)
		key := strings.ToLower(label) + "|" + code
		if seen[key] {
			continue
		}
		seen[key] = true
		typ := r.Type
		if typ == "" {
			typ = "city"
		}
		out = append(out, City{Label: label, CountryCode: code, Type: typ})
	}
	return out
}

// Handler serves GET ?q=...&limit=...&lang=... as a JSON array of City.
func (c *Client) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		lang := r.URL.Query().Get("lang")
		if lang == "" {
			// First tag of Accept-Language, language part only.
			lang = strings.ToLower(strings.SplitN(strings.SplitN(
				r.Header.Get("Accept-Language"), ",", 2)[0], "-", 2)[0])
		}
		cities := c.Search(r.Context(), r.URL.Query().Get("q"), limit, lang)
		if cities == nil {
			cities = []City{}
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if err := json.NewEncoder(w).Encode(cities); err != nil {
			c.logger.Warn("geocode: write response", "error", err)
		}
	}
}
