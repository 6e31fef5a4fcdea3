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

func TestNASAPowerFetch(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"properties": {
				"parameter": {
					"ALLSKY_SFC_SW_DWN": {"2026031011": 400, "2026031009": 0, "2026031010": 300},
					"CLRSKY_SFC_SW_DWN": {"2026031011": 800, "2026031009": 0, "2026031010": 600},
					"T2M": {"2026031011": 12.5, "2026031009": 10.0, "2026031010": 11.0},
					"WS10M": {"2026031011": 3.0, "2026031009": 2.0, "2026031010": 2.5}
				}
			}
		}`))
	}))
	defer srv.Close()

	client := NewNASAPowerClient(Site{Latitude: 38.58157, Longitude: -121.4944, Timezone: "UTC"})
	client.baseURL = srv.URL

	samples, err := client.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, samples, 3)

	assert.Equal(t, "ALLSKY_SFC_SW_DWN,T2M,WS10M,CLRSKY_SFC_SW_DWN", gotQuery.Get("parameters"))
	assert.Equal(t, "RE", gotQuery.Get("community"))
	assert.Equal(t, "JSON", gotQuery.Get("format"))

	// map keys come back in chronological order
	assert.True(t, samples[0].Time.Before(samples[1].Time))
	assert.True(t, samples[1].Time.Before(samples[2].Time))
	assert.True(t, samples[1].Time.Equal(time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)),
		"time = %v", samples[1].Time)

	assert.Equal(t, 300.0, samples[1].GHI)
	assert.Equal(t, 11.0, samples[1].TempAir)

	// cloud cover is derived from the clear-sky ratio: 1 - 300/600 = 50%
	assert.Equal(t, 50.0, samples[1].CloudCover)

	// a zero clear-sky hour cannot produce a ratio
	assert.Equal(t, 0.0, samples[0].CloudCover)
}

func TestNASAPowerFetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewNASAPowerClient(Site{Timezone: "UTC"})
	client.baseURL = srv.URL

	_, err := client.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
