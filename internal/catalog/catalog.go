// Package catalog loads tariff, appliance, and forecast definitions from
// JSON files on disk.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/loadshift/loadshift/internal/engine"
)

// LoadTariff reads and validates a tariff definition.
func LoadTariff(path string) (engine.Tariff, error) {
	var t engine.Tariff
	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("reading tariff: %w", err)
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("parsing tariff %s: %w", path, err)
	}
	if err := t.Validate(); err != nil {
		return t, err
	}
	return t, nil
}

// LoadAppliances reads an appliance catalog. Records that fail to parse or
// validate are reported in skipped and left out of the result; only an
// unreadable or non-array file is a hard error. Catalog order is preserved.
func LoadAppliances(path string) (apps []engine.Appliance, skipped []error, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading appliances: %w", err)
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, nil, fmt.Errorf("parsing appliances %s: %w", path, err)
	}

	seen := make(map[string]bool, len(raws))
	for i, raw := range raws {
		var app engine.Appliance
		if err := json.Unmarshal(raw, &app); err != nil {
			skipped = append(skipped, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		if err := app.Validate(); err != nil {
			skipped = append(skipped, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		if seen[app.Name] {
			skipped = append(skipped, fmt.Errorf("record %d: duplicate appliance %q", i, app.Name))
			continue
		}
		seen[app.Name] = true
		apps = append(apps, app)
	}
	return apps, skipped, nil
}

// LoadForecast reads quarter-hour forecast points.
func LoadForecast(path string) ([]engine.ForecastPoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading forecast: %w", err)
	}

	var points []engine.ForecastPoint
	if err := json.Unmarshal(data, &points); err != nil {
		return nil, fmt.Errorf("parsing forecast %s: %w", path, err)
	}
	for i, p := range points {
		if p.SolarKW < 0 {
			return nil, fmt.Errorf("forecast point %d (%s): solar output must not be negative", i, p.TSLocal)
		}
		if p.GridCO2 < 0 {
			return nil, fmt.Errorf("forecast point %d (%s): carbon intensity must not be negative", i, p.TSLocal)
		}
	}
	return points, nil
}
