package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const openMeteoAPIBase = "https://api.open-meteo.com/v1/forecast"

// OpenMeteoClient fetches hourly irradiance from the Open-Meteo API.
type OpenMeteoClient struct {
	httpClient *http.Client
	baseURL    string
	site       Site
}

// NewOpenMeteoClient creates a new Open-Meteo client for a site.
func NewOpenMeteoClient(site Site) *OpenMeteoClient {
	return &OpenMeteoClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    openMeteoAPIBase,
		site:       site,
	}
}

// openMeteoResponse represents the API response
type openMeteoResponse struct {
	Hourly struct {
		Time          []string  `json:"time"`
		Shortwave     []float64 `json:"shortwave_radiation"`
		Temperature2m []float64 `json:"temperature_2m"`
		WindSpeed10m  []float64 `json:"wind_speed_10m"`
		CloudCover    []float64 `json:"cloudcover"`
	} `json:"hourly"`
}

// Fetch returns hourly samples for the next three days.
func (c *OpenMeteoClient) Fetch(ctx context.Context) ([]Sample, error) {
	loc, err := time.LoadLocation(c.site.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.site.Timezone, err)
	}

	params := url.Values{}
	params.Add("latitude", fmt.Sprintf("%.4f", c.site.Latitude))
	params.Add("longitude", fmt.Sprintf("%.4f", c.site.Longitude))
	params.Add("hourly", "shortwave_radiation,temperature_2m,wind_speed_10m,cloudcover")
	params.Add("forecast_days", "3")
	params.Add("timezone", c.site.Timezone)

	fullURL := fmt.Sprintf("%s?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, "GET", fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching forecast: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var meteoResp openMeteoResponse
	if err := json.NewDecoder(resp.Body).Decode(&meteoResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	// Hourly stamps arrive in the site's local time
	samples := make([]Sample, 0, len(meteoResp.Hourly.Time))
	for i, stamp := range meteoResp.Hourly.Time {
		t, err := time.ParseInLocation("2006-01-02T15:04", stamp, loc)
		if err != nil {
			continue
		}

		samples = append(samples, Sample{
			Time:       t.UTC(),
			GHI:        meteoResp.Hourly.Shortwave[i],
			TempAir:    meteoResp.Hourly.Temperature2m[i],
			WindSpeed:  meteoResp.Hourly.WindSpeed10m[i],
			CloudCover: meteoResp.Hourly.CloudCover[i],
		})
	}

	return samples, nil
}
