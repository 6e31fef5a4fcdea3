package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"time"
)

const nasaPowerAPIBase = "https://power.larc.nasa.gov/api/temporal/hourly/point"

// NASAPowerClient fetches hourly irradiance from the NASA POWER API.
type NASAPowerClient struct {
	httpClient *http.Client
	baseURL    string
	site       Site
}

// NewNASAPowerClient creates a new NASA POWER client for a site.
func NewNASAPowerClient(site Site) *NASAPowerClient {
	return &NASAPowerClient{
		httpClient: &http.Client{Timeout: 45 * time.Second},
		baseURL:    nasaPowerAPIBase,
		site:       site,
	}
}

// nasaPowerResponse represents the API response
type nasaPowerResponse struct {
	Properties struct {
		Parameter map[string]map[string]float64 `json:"parameter"`
	} `json:"properties"`
}

// Fetch returns hourly samples covering today and the next two days.
func (c *NASAPowerClient) Fetch(ctx context.Context) ([]Sample, error) {
	loc, err := time.LoadLocation(c.site.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.site.Timezone, err)
	}
	today := time.Now().In(loc)
	end := today.AddDate(0, 0, 2)

	params := url.Values{}
	params.Add("parameters", "ALLSKY_SFC_SW_DWN,T2M,WS10M,CLRSKY_SFC_SW_DWN")
	params.Add("community", "RE")
	params.Add("latitude", fmt.Sprintf("%.4f", c.site.Latitude))
	params.Add("longitude", fmt.Sprintf("%.4f", c.site.Longitude))
	params.Add("format", "JSON")
	params.Add("start", today.Format("20060102"))
	params.Add("end", end.Format("20060102"))

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

	var powerResp nasaPowerResponse
	if err := json.NewDecoder(resp.Body).Decode(&powerResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	param := powerResp.Properties.Parameter
	ghi := param["ALLSKY_SFC_SW_DWN"]
	clr := param["CLRSKY_SFC_SW_DWN"]
	temp := param["T2M"]
	wind := param["WS10M"]

	// Values are keyed by UTC hour stamps like 2026082415
	stamps := make([]string, 0, len(ghi))
	for stamp := range ghi {
		stamps = append(stamps, stamp)
	}
	sort.Strings(stamps)

	samples := make([]Sample, 0, len(stamps))
	for _, stamp := range stamps {
		t, err := time.Parse("2006010215", stamp)
		if err != nil {
			continue
		}

		s := Sample{
			Time:      t,
			GHI:       ghi[stamp],
			TempAir:   temp[stamp],
			WindSpeed: wind[stamp],
		}
		// POWER carries no cloud cover field; derive it from the clear-sky
		// ratio. Missing hours come through as -999, hence the lower clamp.
		if clear := clr[stamp]; clear > 0 {
			ratio := math.Max(0, math.Min(ghi[stamp]/clear, 1))
			s.CloudCover = (1 - ratio) * 100
		}
		samples = append(samples, s)
	}

	return samples, nil
}
