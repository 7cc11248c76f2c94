package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"resbac/internal/models"
)

const hereBaseURL = "https://revgeocode.search.hereapi.com"

// Here is the HERE reverse geocoding API.
type Here struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewHere(apiKey, baseURL string) *Here {
	if baseURL == "" {
		baseURL = hereBaseURL
	}
	return &Here{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (h *Here) Name() string { return "here" }

func (h *Here) Reverse(ctx context.Context, c models.Coordinate) (string, error) {
	q := url.Values{}
	q.Set("at", strconv.FormatFloat(c.Lat, 'f', -1, 64)+","+strconv.FormatFloat(c.Lng, 'f', -1, 64))
	q.Set("lang", "en-US")
	q.Set("apikey", h.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/v1/revgeocode?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call HERE: %w: %w", models.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &models.APIError{StatusCode: resp.StatusCode}
	}

	var body struct {
		Items []struct {
			Address struct {
				Label string `json:"label"`
			} `json:"address"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode HERE response: %w", models.ErrMalformedResponse)
	}
	if len(body.Items) == 0 || body.Items[0].Address.Label == "" {
		return "", ErrNoResult
	}
	return body.Items[0].Address.Label, nil
}
