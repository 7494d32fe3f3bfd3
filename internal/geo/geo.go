package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultLookupURL returns the caller's public IP location as JSON.
const DefaultLookupURL = "https://ipinfo.io/json"

// Unknown labels metrics when the region cannot be determined.
const Unknown = "unknown"

type ipInfo struct {
	Country string `json:"country"`
	Region  string `json:"region"`
}

// Lookup resolves the host's region as "COUNTRY-REGION", e.g. "US-California".
func Lookup(ctx context.Context, client *http.Client, url string) (string, error) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if url == "" {
		url = DefaultLookupURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build geo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("geo lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geo lookup returned %s", resp.Status)
	}

	var info ipInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&info); err != nil {
		return "", fmt.Errorf("failed to decode geo response: %w", err)
	}

	country := strings.TrimSpace(info.Country)
	region := strings.TrimSpace(info.Region)
	if country == "" || region == "" {
		return "", fmt.Errorf("geo response missing country or region")
	}

	return country + "-" + region, nil
}

// Resolve returns override when set, otherwise the looked-up region, falling back to Unknown.
func Resolve(ctx context.Context, override, url string) (string, error) {
	if override != "" {
		return override, nil
	}
	region, err := Lookup(ctx, nil, url)
	if err != nil {
		return Unknown, err
	}
	return region, nil
}
