package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loadshift/loadshift/internal/engine"
	"github.com/loadshift/loadshift/internal/forecast"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustWindow(t *testing.T, start, end string) engine.Window {
	t.Helper()
	st, err := engine.ParseClockTime(start)
	require.NoError(t, err)
	en, err := engine.ParseClockTime(end)
	require.NoError(t, err)
	return engine.Window{Start: st, End: en}
}

func TestTariffRoundTrip(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetTariff()
	assert.ErrorIs(t, err, ErrNotFound)

	in := engine.Tariff{
		OnPeakRate:  0.40,
		OffPeakRate: 0.20,
		OnPeak:      []engine.Window{mustWindow(t, "16:00", "21:00")},
	}
	require.NoError(t, s.SaveTariff(in))

	out, err := s.GetTariff()
	require.NoError(t, err)
	assert.Equal(t, in, out)

	// saving again replaces the single row
	in.OffPeakRate = 0.22
	require.NoError(t, s.SaveTariff(in))

	out, err = s.GetTariff()
	require.NoError(t, err)
	assert.Equal(t, 0.22, out.OffPeakRate)
}

func TestApplianceCatalogOrder(t *testing.T) {
	s := newTestStore(t)

	first := engine.Appliance{
		Name:        "dishwasher",
		DurationMin: 60,
		KWh:         1.5,
		FlexWindows: engine.WindowList{mustWindow(t, "10:00", "22:00")},
	}
	second := engine.Appliance{
		Name:        "washer",
		DurationMin: 45,
		KWh:         0.9,
		FlexWindows: engine.WindowList{mustWindow(t, "08:00", "20:00")},
	}

	require.NoError(t, s.SaveAppliance(first))
	require.NoError(t, s.SaveAppliance(second))

	// updating the first appliance must not move it to the back
	first.KWh = 1.8
	require.NoError(t, s.SaveAppliance(first))

	apps, err := s.ListAppliances()
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, "dishwasher", apps[0].Name)
	assert.Equal(t, 1.8, apps[0].KWh)
	assert.Equal(t, "washer", apps[1].Name)
}

func TestGetAppliance(t *testing.T) {
	s := newTestStore(t)

	in := engine.Appliance{
		Name:        "dryer",
		DurationMin: 90,
		KWh:         2.2,
		FlexWindows: engine.WindowList{mustWindow(t, "09:00", "21:00")},
	}
	require.NoError(t, s.SaveAppliance(in))

	out, err := s.GetAppliance("dryer")
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = s.GetAppliance("toaster")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteAppliance(t *testing.T) {
	s := newTestStore(t)

	in := engine.Appliance{
		Name:        "dryer",
		DurationMin: 90,
		KWh:         2.2,
		FlexWindows: engine.WindowList{mustWindow(t, "09:00", "21:00")},
	}
	require.NoError(t, s.SaveAppliance(in))

	require.NoError(t, s.DeleteAppliance("dryer"))
	_, err := s.GetAppliance("dryer")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.DeleteAppliance("dryer"), ErrNotFound)
}

func TestForecastCacheRoundTrip(t *testing.T) {
	s := newTestStore(t)
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	_, err := s.GetCachedForecast("open-meteo", day)
	assert.ErrorIs(t, err, ErrNotFound)

	samples := []forecast.Sample{
		{Time: day.Add(10 * time.Hour), GHI: 420.5, TempAir: 11.2, WindSpeed: 3.4, CloudCover: 40},
	}
	require.NoError(t, s.CacheForecast("open-meteo", day, samples))

	got, err := s.GetCachedForecast("open-meteo", day)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 420.5, got[0].GHI)
	assert.True(t, got[0].Time.Equal(samples[0].Time), "time = %v", got[0].Time)

	// a different provider does not see it
	_, err = s.GetCachedForecast("nasa-power", day)
	assert.ErrorIs(t, err, ErrNotFound)

	// refetching the same day overwrites
	samples[0].GHI = 500
	require.NoError(t, s.CacheForecast("open-meteo", day, samples))
	got, err = s.GetCachedForecast("open-meteo", day)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 500.0, got[0].GHI)
}

func TestSaveRunAndLatest(t *testing.T) {
	s := newTestStore(t)

	_, _, err := s.LatestRun()
	assert.ErrorIs(t, err, ErrNotFound)

	recs := []engine.Recommendation{
		{Appliance: "washer", SuggestedStart: engine.ClockTime(600), Window: "10:00-10:45", EstSavingsUSD: 0.42},
		{Appliance: "dishwasher", SuggestedStart: engine.ClockTime(660), Window: "11:00-12:00", EstSavingsUSD: 0.30},
	}
	run, err := s.SaveRun(recs)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, 2, run.Recommendations)
	assert.InDelta(t, 0.72, run.TotalSavingsUSD, 1e-9)

	// a second run becomes the latest
	later, err := s.SaveRun(recs[:1])
	require.NoError(t, err)

	got, gotRecs, err := s.LatestRun()
	require.NoError(t, err)
	assert.Equal(t, later.ID, got.ID)
	require.Len(t, gotRecs, 1)
	assert.Equal(t, "washer", gotRecs[0].Appliance)
	assert.Equal(t, "10:00", gotRecs[0].SuggestedStart.String())
}

func TestSaveRunEmpty(t *testing.T) {
	s := newTestStore(t)

	run, err := s.SaveRun(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, run.Recommendations)

	got, gotRecs, err := s.LatestRun()
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Empty(t, gotRecs)
}
