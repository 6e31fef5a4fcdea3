package engine

import (
	"errors"
	"math"
	"reflect"
	"slices"
	"testing"
)

func closeTo(got, want float64) bool {
	return math.Abs(got-want) < 1e-9
}

func TestEffectiveRate(t *testing.T) {
	tariff := Tariff{
		OnPeakRate:  0.40,
		OffPeakRate: 0.20,
		OnPeak:      []Window{mustWindow(t, "16:00", "21:00")},
	}

	tests := []struct {
		name   string
		window Window
		want   float64
	}{
		{name: "exactly the block", window: mustWindow(t, "16:00", "21:00"), want: 0.40},
		{name: "strictly before", window: mustWindow(t, "10:00", "11:00"), want: 0.20},
		{name: "strictly after", window: mustWindow(t, "21:00", "22:00"), want: 0.20},
		{name: "ends as the block starts", window: mustWindow(t, "15:00", "16:00"), want: 0.20},
		{name: "grazes the block start", window: mustWindow(t, "15:30", "16:15"), want: 0.40},
		{name: "grazes the block end", window: mustWindow(t, "20:45", "21:45"), want: 0.40},
		{name: "inside the block", window: mustWindow(t, "17:00", "18:00"), want: 0.40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tariff.EffectiveRate(tt.window); got != tt.want {
				t.Errorf("effective rate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEffectiveRateMultipleBlocks(t *testing.T) {
	tariff := Tariff{
		OnPeakRate:  0.50,
		OffPeakRate: 0.18,
		OnPeak: []Window{
			mustWindow(t, "07:00", "09:00"),
			mustWindow(t, "17:00", "20:00"),
		},
	}

	if got := tariff.EffectiveRate(mustWindow(t, "10:00", "16:00")); got != 0.18 {
		t.Errorf("between blocks: rate = %v, want 0.18", got)
	}
	if got := tariff.EffectiveRate(mustWindow(t, "06:00", "07:30")); got != 0.50 {
		t.Errorf("into the morning block: rate = %v, want 0.50", got)
	}
}

func TestScoreCandidateOffPeakWithSolar(t *testing.T) {
	tariff := Tariff{
		OnPeakRate:  0.40,
		OffPeakRate: 0.20,
		OnPeak:      []Window{mustWindow(t, "16:00", "21:00")},
	}
	app := Appliance{
		Name:        "dishwasher",
		DurationMin: 60,
		KWh:         1.5,
		FlexWindows: WindowList{mustWindow(t, "10:00", "22:00")},
	}

	var points []ForecastPoint
	for m := 0; m < 24*60; m += StepMinutes {
		points = append(points, ForecastPoint{TSLocal: ClockTime(m), SolarKW: 2.0, GridCO2: 350})
	}
	profile := BuildProfile(points)

	cand := ScoreCandidate(app, mustClock(t, "10:00"), tariff, profile, DefaultScoring())

	// four slices at 2 kW give 2 kWh of solar, capped at the 1.5 kWh draw
	if cand.SolarOffsetKWh != 1.5 {
		t.Errorf("solar offset = %v, want 1.5", cand.SolarOffsetKWh)
	}
	if cand.EffectiveRate != 0.20 {
		t.Errorf("effective rate = %v, want 0.20", cand.EffectiveRate)
	}
	if want := -0.30 + 0.25*1.5*1.5; !closeTo(cand.Score, want) {
		t.Errorf("score = %v, want %v", cand.Score, want)
	}
	if !closeTo(cand.SuggestedUSD, 0.30) {
		t.Errorf("suggested cost = %v, want 0.30", cand.SuggestedUSD)
	}
	if !closeTo(cand.BaselineUSD, 0.60) {
		t.Errorf("baseline cost = %v, want 0.60", cand.BaselineUSD)
	}
	if !closeTo(cand.DeltaUSD, 0.30) {
		t.Errorf("savings = %v, want 0.30", cand.DeltaUSD)
	}
	if !closeTo(cand.SuggestedCO2Kg, 0.525) {
		t.Errorf("suggested co2 = %v, want 0.525", cand.SuggestedCO2Kg)
	}
	if !closeTo(cand.BaselineCO2Kg, 0.78) {
		t.Errorf("baseline co2 = %v, want 0.78", cand.BaselineCO2Kg)
	}
	if !cand.OnPeakAvoided {
		t.Error("expected on-peak avoided")
	}
}

func TestScoreCandidateInsidePeak(t *testing.T) {
	tariff := Tariff{
		OnPeakRate:  0.40,
		OffPeakRate: 0.20,
		OnPeak:      []Window{mustWindow(t, "16:00", "21:00")},
	}
	app := Appliance{
		Name:        "dryer",
		DurationMin: 60,
		KWh:         1.5,
		FlexWindows: WindowList{mustWindow(t, "10:00", "22:00")},
	}

	cand := ScoreCandidate(app, mustClock(t, "17:00"), tariff, BuildProfile(nil), DefaultScoring())

	if cand.EffectiveRate != 0.40 {
		t.Errorf("effective rate = %v, want 0.40", cand.EffectiveRate)
	}
	if cand.DeltaUSD != 0 {
		t.Errorf("savings = %v, want 0 inside the peak", cand.DeltaUSD)
	}
	if cand.OnPeakAvoided {
		t.Error("a window inside the peak cannot avoid it")
	}
	if cand.SolarOffsetKWh != 0 {
		t.Errorf("solar offset = %v, want 0 with no forecast", cand.SolarOffsetKWh)
	}
	if want := -0.40 * 1.5; !closeTo(cand.Score, want) {
		t.Errorf("score = %v, want %v", cand.Score, want)
	}
}

func TestBestWindowNoFeasibleStart(t *testing.T) {
	tariff := Tariff{OnPeakRate: 0.40, OffPeakRate: 0.20}

	tests := []struct {
		name string
		app  Appliance
	}{
		{
			name: "duration exceeds the window",
			app: Appliance{
				Name:        "oven",
				DurationMin: 121,
				KWh:         2,
				FlexWindows: WindowList{mustWindow(t, "10:00", "12:00")},
			},
		},
		{
			name: "no windows at all",
			app:  Appliance{Name: "oven", DurationMin: 60, KWh: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := BestWindow(tt.app, tariff, BuildProfile(nil), DefaultScoring()); rec != nil {
				t.Errorf("expected nil, got %+v", rec)
			}
		})
	}
}

func TestBestWindowFirstSeenWinsTies(t *testing.T) {
	// flat tariff and no solar: every start scores the same
	tariff := Tariff{OnPeakRate: 0.40, OffPeakRate: 0.20}
	app := Appliance{
		Name:        "washer",
		DurationMin: 45,
		KWh:         0.9,
		FlexWindows: WindowList{mustWindow(t, "09:00", "12:00")},
	}

	rec := BestWindow(app, tariff, BuildProfile(nil), DefaultScoring())
	if rec == nil {
		t.Fatal("expected a recommendation")
	}
	if got := rec.SuggestedStart.String(); got != "09:00" {
		t.Errorf("suggested start = %s, want 09:00 (first candidate)", got)
	}
}

func TestBestWindowPoolsAcrossWindows(t *testing.T) {
	// the second flex window holds the only solar and should win
	tariff := Tariff{OnPeakRate: 0.40, OffPeakRate: 0.20}
	points := []ForecastPoint{
		{TSLocal: mustClock(t, "13:00"), SolarKW: 3, GridCO2: 380},
		{TSLocal: mustClock(t, "13:15"), SolarKW: 3, GridCO2: 380},
	}
	app := Appliance{
		Name:        "washer",
		DurationMin: 30,
		KWh:         1,
		FlexWindows: WindowList{mustWindow(t, "08:00", "09:00"), mustWindow(t, "13:00", "14:00")},
	}

	rec := BestWindow(app, tariff, BuildProfile(points), DefaultScoring())
	if rec == nil {
		t.Fatal("expected a recommendation")
	}
	if got := rec.SuggestedStart.String(); got != "13:00" {
		t.Errorf("suggested start = %s, want 13:00", got)
	}
	if rec.EstSavingsKWh != 1.0 {
		t.Errorf("solar offset = %v, want the full 1 kWh draw", rec.EstSavingsKWh)
	}
}

func TestRankDishwasherScenario(t *testing.T) {
	tariff := Tariff{
		OnPeakRate:  0.40,
		OffPeakRate: 0.20,
		OnPeak:      []Window{mustWindow(t, "16:00", "21:00")},
	}
	apps := []Appliance{{
		Name:        "dishwasher",
		DurationMin: 60,
		KWh:         1.5,
		FlexWindows: WindowList{mustWindow(t, "10:00", "22:00")},
	}}

	recs, err := Rank(tariff, apps, nil, DefaultScoring())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d recommendations, want 1", len(recs))
	}

	rec := recs[0]
	peak := mustWindow(t, "16:00", "21:00")
	run := Window{Start: rec.SuggestedStart, End: rec.SuggestedStart.Add(60)}
	if run.Overlaps(peak) {
		t.Errorf("suggested window %s overlaps the on-peak block", run)
	}
	if !rec.OnPeakAvoided {
		t.Error("expected on_peak_avoided")
	}

	// every solar-saturated morning start ties on score, so the earliest wins
	if got := rec.SuggestedStart.String(); got != "10:00" {
		t.Errorf("suggested start = %s, want 10:00", got)
	}
	if rec.Window != "10:00-11:00" {
		t.Errorf("window = %s, want 10:00-11:00", rec.Window)
	}
	if rec.EstCostSuggestedUSD != 0.30 {
		t.Errorf("suggested cost = %v, want 0.30", rec.EstCostSuggestedUSD)
	}
	if rec.EstCostBaselineUSD != 0.60 {
		t.Errorf("baseline cost = %v, want 0.60", rec.EstCostBaselineUSD)
	}
	if rec.EstSavingsUSD != 0.30 {
		t.Errorf("savings = %v, want 0.30", rec.EstSavingsUSD)
	}
	if rec.EstSavingsKWh != 1.5 {
		t.Errorf("solar offset = %v, want 1.5", rec.EstSavingsKWh)
	}
	if rec.EstCO2Kg != 0.21 {
		t.Errorf("co2 delta = %v, want 0.21", rec.EstCO2Kg)
	}
	if rec.Confidence != 0.75 {
		t.Errorf("confidence = %v, want 0.75", rec.Confidence)
	}
	if rec.Reason == "" {
		t.Error("reason must not be empty")
	}
	if !rec.RespectsQuietHours {
		t.Error("respects_quiet_hours should default true")
	}
	if rec.StormPreschedule {
		t.Error("storm_preschedule should default false")
	}
}

func TestRankIdempotent(t *testing.T) {
	tariff := Tariff{
		OnPeakRate:  0.40,
		OffPeakRate: 0.20,
		OnPeak:      []Window{mustWindow(t, "16:00", "21:00")},
	}
	apps := []Appliance{
		{Name: "dishwasher", DurationMin: 60, KWh: 1.5, FlexWindows: WindowList{mustWindow(t, "10:00", "22:00")}},
		{Name: "washer", DurationMin: 45, KWh: 0.9, FlexWindows: WindowList{mustWindow(t, "08:00", "20:00")}},
		{Name: "ev-charger", DurationMin: 180, KWh: 7.5, FlexWindows: WindowList{mustWindow(t, "00:00", "23:45")}},
	}

	first, err := Rank(tariff, apps, nil, DefaultScoring())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := Rank(tariff, apps, nil, DefaultScoring())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("runs differ:\nfirst  %+v\nsecond %+v", first, second)
	}
}

func TestRankTiesReverseCatalogOrder(t *testing.T) {
	tariff := Tariff{
		OnPeakRate:  0.40,
		OffPeakRate: 0.20,
		OnPeak:      []Window{mustWindow(t, "16:00", "21:00")},
	}
	twin := func(name string) Appliance {
		return Appliance{
			Name:        name,
			DurationMin: 60,
			KWh:         1.5,
			FlexWindows: WindowList{mustWindow(t, "10:00", "22:00")},
		}
	}
	apps := []Appliance{twin("washer-a"), twin("washer-b"), twin("washer-c")}

	recs, err := Rank(tariff, apps, nil, DefaultScoring())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var names []string
	for _, r := range recs {
		names = append(names, r.Appliance)
	}
	want := []string{"washer-c", "washer-b", "washer-a"}
	if !slices.Equal(names, want) {
		t.Errorf("order = %v, want %v", names, want)
	}
}

func TestRankSkipsUnusableAppliances(t *testing.T) {
	tariff := Tariff{
		OnPeakRate:  0.40,
		OffPeakRate: 0.20,
		OnPeak:      []Window{mustWindow(t, "16:00", "21:00")},
	}
	apps := []Appliance{
		{Name: "broken", DurationMin: 0, KWh: 1, FlexWindows: WindowList{mustWindow(t, "10:00", "12:00")}},
		{Name: "marathon", DurationMin: 13 * 60, KWh: 9, FlexWindows: WindowList{mustWindow(t, "10:00", "12:00")}},
		{Name: "dishwasher", DurationMin: 60, KWh: 1.5, FlexWindows: WindowList{mustWindow(t, "10:00", "22:00")}},
	}

	recs, err := Rank(tariff, apps, nil, DefaultScoring())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d recommendations, want 1", len(recs))
	}
	if recs[0].Appliance != "dishwasher" {
		t.Errorf("survivor = %s, want dishwasher", recs[0].Appliance)
	}
}

func TestRankRejectsMalformedTariff(t *testing.T) {
	tariff := Tariff{
		OnPeakRate:  0.40,
		OffPeakRate: 0.20,
		OnPeak:      []Window{{Start: 1260, End: 960}},
	}
	apps := []Appliance{
		{Name: "dishwasher", DurationMin: 60, KWh: 1.5, FlexWindows: WindowList{mustWindow(t, "10:00", "22:00")}},
	}

	_, err := Rank(tariff, apps, nil, DefaultScoring())
	if err == nil {
		t.Fatal("expected error for inverted on-peak block")
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("expected *ValidationError, got %T", err)
	}
}
