package forecast

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMeteoFetch(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"hourly": {
				"time": ["2026-03-10T10:00", "2026-03-10T11:00"],
				"shortwave_radiation": [420.5, 510.0],
				"temperature_2m": [11.2, 12.0],
				"wind_speed_10m": [3.4, 3.1],
				"cloudcover": [40, 25]
			}
		}`))
	}))
	defer srv.Close()

	client := NewOpenMeteoClient(Site{Latitude: 38.58157, Longitude: -121.4944, Timezone: "UTC"})
	client.baseURL = srv.URL

	samples, err := client.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, samples, 2)

	assert.Equal(t, "38.5816", gotQuery.Get("latitude"))
	assert.Equal(t, "-121.4944", gotQuery.Get("longitude"))
	assert.Equal(t, "shortwave_radiation,temperature_2m,wind_speed_10m,cloudcover", gotQuery.Get("hourly"))
	assert.Equal(t, "3", gotQuery.Get("forecast_days"))

	assert.True(t, samples[0].Time.Equal(time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)),
		"time = %v", samples[0].Time)
	assert.Equal(t, 420.5, samples[0].GHI)
	assert.Equal(t, 11.2, samples[0].TempAir)
	assert.Equal(t, 40.0, samples[0].CloudCover)
	assert.Equal(t, 510.0, samples[1].GHI)
}

func TestOpenMeteoFetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewOpenMeteoClient(Site{Timezone: "UTC"})
	client.baseURL = srv.URL

	_, err := client.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestOpenMeteoFetchBadTimezone(t *testing.T) {
	client := NewOpenMeteoClient(Site{Timezone: "Not/AZone"})

	_, err := client.Fetch(context.Background())
	require.Error(t, err)
}
