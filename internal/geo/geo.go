package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/nyaya-platform/nyaya-backend/pkg/models"
)

// DefaultLatitude and DefaultLongitude point at New Delhi. Used as the last
// resort when a reporter explicitly accepts the fallback location.
const (
	DefaultLatitude  = 28.6139
	DefaultLongitude = 77.2090
	DefaultLabel     = "New Delhi, India (default)"
)

// ErrNoLocation means every step of the fallback chain failed and the caller
// did not opt into the default coordinates.
var ErrNoLocation = errors.New("no usable location")

// Location is a resolved coordinate pair plus where it came from.
type Location struct {
	Latitude  float64
	Longitude float64
	Label     string
	Source    models.LocationSource
}

// Client resolves locations from IP addresses and free-text place names.
// Lookups are cached because emergency retries tend to repeat the same
// IP or query within seconds.
type Client struct {
	http        *http.Client
	cache       *cache.Cache
	ipBase      string // e.g. http://ip-api.com
	geocodeBase string // e.g. https://nominatim.openstreetmap.org
	country     string // ISO country code bias for geocoding
}

func NewClient(ipBase, geocodeBase, country string, timeout, cacheTTL time.Duration) *Client {
	return &Client{
		http:        &http.Client{Timeout: timeout},
		cache:       cache.New(cacheTTL, 2*cacheTTL),
		ipBase:      ipBase,
		geocodeBase: geocodeBase,
		country:     country,
	}
}

/* ============================== IP lookup =============================== */

// ip-api.com response shape (only the fields we read).
type ipAPIResponse struct {
	Status  string  `json:"status"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	City    string  `json:"city"`
	Region  string  `json:"regionName"`
	Country string  `json:"country"`
}

// IPLocate resolves coordinates from a client IP. Private and loopback
// addresses are rejected by the upstream API with status "fail".
func (c *Client) IPLocate(ctx context.Context, ip string) (*Location, error) {
	key := "ip:" + ip
	if v, ok := c.cache.Get(key); ok {
		loc := v.(Location)
		return &loc, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ipBase+"/json/"+url.PathEscape(ip), nil)
	if err != nil {
		return nil, err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ip lookup: unexpected status %s", res.Status)
	}

	var out ipAPIResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, err
	}
	if out.Status != "success" {
		return nil, fmt.Errorf("ip lookup failed for %s", ip)
	}

	label := out.City
	if label != "" && out.Region != "" {
		label += ", " + out.Region
	}
	if label == "" {
		label = out.Country
	}

	loc := Location{
		Latitude:  out.Lat,
		Longitude: out.Lon,
		Label:     label,
		Source:    models.LocationIP,
	}
	c.cache.SetDefault(key, loc)
	return &loc, nil
}

/* ============================ Place search ============================== */

// Nominatim search result (subset).
type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Search geocodes a free-text place name, biased to the configured country.
// Returns the top hit only.
func (c *Client) Search(ctx context.Context, query string) (*Location, error) {
	key := "q:" + query
	if v, ok := c.cache.Get(key); ok {
		loc := v.(Location)
		return &loc, nil
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("limit", "1")
	if c.country != "" {
		q.Set("countrycodes", c.country)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.geocodeBase+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	// Nominatim's usage policy requires an identifying User-Agent.
	req.Header.Set("User-Agent", "nyaya-backend/1.0")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode: unexpected status %s", res.Status)
	}

	var hits []nominatimResult
	if err := json.NewDecoder(res.Body).Decode(&hits); err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, fmt.Errorf("no geocode result for %q", query)
	}

	lat, err := strconv.ParseFloat(hits[0].Lat, 64)
	if err != nil {
		return nil, err
	}
	lon, err := strconv.ParseFloat(hits[0].Lon, 64)
	if err != nil {
		return nil, err
	}

	loc := Location{
		Latitude:  lat,
		Longitude: lon,
		Label:     hits[0].DisplayName,
		Source:    models.LocationSearch,
	}
	c.cache.SetDefault(key, loc)
	return &loc, nil
}

/* =========================== Fallback chain ============================= */

// ResolveInput carries every location hint the reporter supplied.
type ResolveInput struct {
	// Device coordinates, if the browser shared them.
	Latitude  *float64
	Longitude *float64
	Label     string

	// Client IP for the IP-geolocation fallback.
	IP string

	// Free-text place name typed by the reporter.
	Query string

	// Whether the reporter agreed to use the default city coordinates
	// when everything else fails.
	AcceptDefault bool
}

// Resolve walks the location fallback chain: device coordinates, then IP
// geolocation, then place-name search, then the explicit default. An event
// is never stored without coordinates; if the chain is exhausted and the
// reporter did not accept the default, ErrNoLocation is returned.
func (c *Client) Resolve(ctx context.Context, in ResolveInput) (*Location, error) {
	if in.Latitude != nil && in.Longitude != nil {
		return &Location{
			Latitude:  *in.Latitude,
			Longitude: *in.Longitude,
			Label:     in.Label,
			Source:    models.LocationDevice,
		}, nil
	}

	if in.IP != "" {
		if loc, err := c.IPLocate(ctx, in.IP); err == nil {
			return loc, nil
		}
	}

	if in.Query != "" {
		if loc, err := c.Search(ctx, in.Query); err == nil {
			return loc, nil
		}
	}

	if in.AcceptDefault {
		return &Location{
			Latitude:  DefaultLatitude,
			Longitude: DefaultLongitude,
			Label:     DefaultLabel,
			Source:    models.LocationDefault,
		}, nil
	}

	return nil, ErrNoLocation
}
