package engine

// DayProfile is the forecast folded into a repeating daily table with
// one entry per StepMinutes slot, so a window lookup is O(1) per slice
// and the wrap-within-one-day semantics are explicit.
type DayProfile struct {
	solarKW [SlotsPerDay]float64
	co2     [SlotsPerDay]float64
	present [SlotsPerDay]bool
}

// BuildProfile folds a point series into slot form. Labels off the
// 15-minute grid snap down to the slot they fall in; when two points
// land on the same slot the last one wins.
func BuildProfile(points []ForecastPoint) *DayProfile {
	p := &DayProfile{}
	for _, pt := range points {
		i := pt.TSLocal.slot()
		p.solarKW[i] = pt.SolarKW
		p.co2[i] = pt.GridCO2
		p.present[i] = true
	}
	return p
}

// SolarEnergy sums generation over the StepMinutes slices of w, in kWh.
// Slices with no forecast point contribute nothing.
func (p *DayProfile) SolarEnergy(w Window) float64 {
	total := 0.0
	for t := w.Start; t < w.End; t += StepMinutes {
		i := t.slot()
		if p.present[i] {
			total += p.solarKW[i] * (StepMinutes / 60.0)
		}
	}
	return total
}

// AvgCarbon averages grid intensity over the slices of w in g/kWh,
// substituting defaultCO2 for missing slices. A window too short to
// contain a slice reports defaultCO2 outright.
func (p *DayProfile) AvgCarbon(w Window, defaultCO2 float64) float64 {
	sum := 0.0
	n := 0
	for t := w.Start; t < w.End; t += StepMinutes {
		i := t.slot()
		if p.present[i] {
			sum += p.co2[i]
		} else {
			sum += defaultCO2
		}
		n++
	}
	if n == 0 {
		return defaultCO2
	}
	return sum / float64(n)
}
