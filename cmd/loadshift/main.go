package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/loadshift/loadshift/internal/catalog"
	"github.com/loadshift/loadshift/internal/config"
	"github.com/loadshift/loadshift/internal/engine"
	"github.com/loadshift/loadshift/internal/forecast"
	"github.com/loadshift/loadshift/internal/store"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	dbPath  string
	cfg     *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "loadshift",
		Short: "LoadShift - Shift appliance runs into the cheapest, greenest windows",
		Long: `LoadShift ranks your flexible household appliances into the start
windows where they cost the least and soak up the most solar, using
your time-of-use tariff and a solar forecast.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.loadshift/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (default is $HOME/.loadshift/loadshift.db)")

	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(tariffCmd())
	rootCmd.AddCommand(applianceCmd())
	rootCmd.AddCommand(fetchCmd())
	rootCmd.AddCommand(planCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if dbPath == "" {
		dbPath = cfg.DBPath
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Seed a starter tariff and appliance catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.NewStore(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			tariff := engine.Tariff{
				OnPeakRate:  0.40,
				OffPeakRate: 0.20,
				OnPeak:      []engine.Window{mustWindow("16:00", "21:00")},
			}
			if err := st.SaveTariff(tariff); err != nil {
				return err
			}

			appliances := []engine.Appliance{
				{Name: "dishwasher", DurationMin: 60, KWh: 1.5, FlexWindows: engine.WindowList{mustWindow("10:00", "22:00")}},
				{Name: "washing-machine", DurationMin: 90, KWh: 0.9, FlexWindows: engine.WindowList{mustWindow("08:00", "22:00")}},
				{Name: "dryer", DurationMin: 75, KWh: 2.5, FlexWindows: engine.WindowList{mustWindow("08:00", "22:00")}},
				{Name: "ev-charger", DurationMin: 240, KWh: 7.5, FlexWindows: engine.WindowList{mustWindow("00:00", "07:00"), mustWindow("21:00", "23:45")}},
			}
			for _, a := range appliances {
				if err := st.SaveAppliance(a); err != nil {
					return err
				}
			}

			fmt.Println("✓ Seeded default tariff and starter appliances")
			fmt.Printf("Database: %s\n", dbPath)
			fmt.Println("\nNext steps:")
			fmt.Println("  1. Review the catalog: loadshift appliance list")
			fmt.Println("  2. Fetch a forecast: loadshift fetch")
			fmt.Println("  3. Generate a plan: loadshift plan")

			return nil
		},
	}
}

func tariffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tariff",
		Short: "Manage the time-of-use tariff",
	}

	cmd.AddCommand(tariffShowCmd())
	cmd.AddCommand(tariffSetCmd())

	return cmd
}

func tariffShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the stored tariff",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.NewStore(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			tariff, err := st.GetTariff()
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no tariff configured (run 'loadshift init' or 'loadshift tariff set')")
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(tariff)
		},
	}
}

func tariffSetCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Replace the stored tariff from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			tariff, err := catalog.LoadTariff(file)
			if err != nil {
				return err
			}

			st, err := store.NewStore(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.SaveTariff(tariff); err != nil {
				return err
			}

			fmt.Printf("✓ Tariff set: on-peak %.2f/kWh, off-peak %.2f/kWh\n", tariff.OnPeakRate, tariff.OffPeakRate)
			for _, w := range tariff.OnPeak {
				fmt.Printf("  on-peak block: %s\n", w)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Tariff JSON file (required)")
	cmd.MarkFlagRequired("file")

	return cmd
}

func applianceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "appliance",
		Short: "Manage the appliance catalog",
	}

	cmd.AddCommand(applianceAddCmd())
	cmd.AddCommand(applianceListCmd())
	cmd.AddCommand(applianceRmCmd())

	return cmd
}

func applianceAddCmd() *cobra.Command {
	var name string
	var durationMin int
	var kwh float64
	var windows []string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or update an appliance",
		RunE: func(cmd *cobra.Command, args []string) error {
			flex := make(engine.WindowList, 0, len(windows))
			for _, w := range windows {
				win, err := parseWindow(w)
				if err != nil {
					return err
				}
				flex = append(flex, win)
			}

			appliance := engine.Appliance{
				Name:        name,
				DurationMin: durationMin,
				KWh:         kwh,
				FlexWindows: flex,
			}
			if err := appliance.Validate(); err != nil {
				return err
			}

			st, err := store.NewStore(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.SaveAppliance(appliance); err != nil {
				return err
			}

			fmt.Printf("✓ Added appliance: %s\n", name)
			fmt.Printf("  Duration: %d minutes\n", durationMin)
			fmt.Printf("  Est. consumption: %.2f kWh\n", kwh)
			fmt.Printf("  Windows: %s\n", strings.Join(windows, ", "))

			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Appliance name (required)")
	cmd.Flags().IntVarP(&durationMin, "duration", "d", 60, "Run duration in minutes")
	cmd.Flags().Float64VarP(&kwh, "kwh", "k", 1.0, "Energy per run in kWh")
	cmd.Flags().StringArrayVarP(&windows, "window", "w", []string{"08:00-22:00"}, "Allowed start window HH:MM-HH:MM (repeatable)")

	cmd.MarkFlagRequired("name")

	return cmd
}

func applianceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the appliance catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.NewStore(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			appliances, err := st.ListAppliances()
			if err != nil {
				return err
			}

			if len(appliances) == 0 {
				fmt.Println("No appliances configured")
				return nil
			}

			fmt.Printf("%-20s %10s %8s  %s\n", "NAME", "DURATION", "KWH", "WINDOWS")
			fmt.Println("------------------------------------------------------------")

			for _, a := range appliances {
				wins := make([]string, len(a.FlexWindows))
				for i, w := range a.FlexWindows {
					wins[i] = w.String()
				}
				fmt.Printf("%-20s %9dm %8.2f  %s\n", a.Name, a.DurationMin, a.KWh, strings.Join(wins, ", "))
			}

			return nil
		},
	}
}

func applianceRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <name>",
		Short: "Remove an appliance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.NewStore(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			err = st.DeleteAppliance(args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("appliance not found: %s", args[0])
			}
			if err != nil {
				return err
			}

			fmt.Printf("✓ Removed appliance: %s\n", args[0])
			return nil
		},
	}
}

func fetchCmd() *cobra.Command {
	var provider string
	var lat, lon float64
	var tz string

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch a solar forecast and cache it for planning",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			site := cfg.Site
			if cmd.Flags().Changed("lat") {
				site.Latitude = lat
			}
			if cmd.Flags().Changed("lon") {
				site.Longitude = lon
			}
			if cmd.Flags().Changed("tz") {
				site.Timezone = tz
			}

			var samples []forecast.Sample
			var err error
			switch provider {
			case forecast.SourceOpenMeteo:
				samples, err = forecast.NewOpenMeteoClient(site).Fetch(ctx)
			case forecast.SourceNASAPower:
				samples, err = forecast.NewNASAPowerClient(site).Fetch(ctx)
			default:
				return fmt.Errorf("unknown provider %q (use %s or %s)", provider, forecast.SourceOpenMeteo, forecast.SourceNASAPower)
			}
			if err != nil {
				return err
			}

			st, err := store.NewStore(dbPath)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer st.Close()

			loc, err := time.LoadLocation(site.Timezone)
			if err != nil {
				return fmt.Errorf("invalid timezone %q: %w", site.Timezone, err)
			}
			day := time.Now().In(loc)

			// the fetch covers three days; cache it under each one
			for d := 0; d < 3; d++ {
				if err := st.CacheForecast(provider, day.AddDate(0, 0, d), samples); err != nil {
					return err
				}
			}
			fmt.Fprintf(os.Stderr, "Cached %d hourly samples from %s\n", len(samples), provider)

			// Output today's planning points as JSON
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(forecast.Points(samples, day, loc, cfg.System))
		},
	}

	cmd.Flags().StringVarP(&provider, "provider", "p", forecast.SourceOpenMeteo, "Forecast provider (open-meteo or nasa-power)")
	cmd.Flags().Float64Var(&lat, "lat", 38.58157, "Site latitude")
	cmd.Flags().Float64Var(&lon, "lon", -121.49440, "Site longitude")
	cmd.Flags().StringVar(&tz, "tz", "America/Los_Angeles", "Site IANA timezone")

	return cmd
}

func planCmd() *cobra.Command {
	var tariffFile, appliancesFile, forecastFile, outFile string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Rank appliances into their best start windows",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.NewStore(dbPath)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer st.Close()

			var tariff engine.Tariff
			if tariffFile != "" {
				tariff, err = catalog.LoadTariff(tariffFile)
			} else {
				tariff, err = st.GetTariff()
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("no tariff configured (run 'loadshift init' first)")
				}
			}
			if err != nil {
				return err
			}

			var appliances []engine.Appliance
			if appliancesFile != "" {
				var skipped []error
				appliances, skipped, err = catalog.LoadAppliances(appliancesFile)
				if err != nil {
					return err
				}
				for _, skip := range skipped {
					fmt.Fprintf(os.Stderr, "Warning: %v\n", skip)
				}
			} else {
				appliances, err = st.ListAppliances()
				if err != nil {
					return err
				}
			}
			if len(appliances) == 0 {
				return fmt.Errorf("no appliances configured (use 'loadshift appliance add')")
			}

			points, source, err := resolveForecast(st, forecastFile)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Planning %d appliances against the %s forecast\n", len(appliances), source)

			recs, err := engine.Rank(tariff, appliances, points, cfg.Scoring)
			if err != nil {
				return err
			}

			run, err := st.SaveRun(recs)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Saved run %s: %d recommendations, est. savings $%.2f\n", run.ID, run.Recommendations, run.TotalSavingsUSD)

			if outFile != "" {
				data, err := json.MarshalIndent(recs, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(outFile, data, 0644); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "Wrote %s\n", outFile)
				return nil
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(recs)
		},
	}

	cmd.Flags().StringVarP(&tariffFile, "tariff", "t", "", "Tariff JSON file (default: stored tariff)")
	cmd.Flags().StringVarP(&appliancesFile, "appliances", "a", "", "Appliance catalog JSON file (default: stored catalog)")
	cmd.Flags().StringVarP(&forecastFile, "forecast", "f", "", "Forecast JSON file (default: cached fetch, else synthetic)")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "Write recommendations to a file instead of stdout")

	return cmd
}

// resolveForecast picks the forecast a plan should use: an explicit
// file, else the freshest cached fetch for today, else nothing (the
// engine then synthesizes its default clear-sky day).
func resolveForecast(st *store.Store, path string) ([]engine.ForecastPoint, string, error) {
	if path != "" {
		points, err := catalog.LoadForecast(path)
		if err != nil {
			return nil, "", err
		}
		return points, path, nil
	}

	loc, err := time.LoadLocation(cfg.Site.Timezone)
	if err != nil {
		loc = time.UTC
	}
	day := time.Now().In(loc)

	for _, source := range []string{forecast.SourceOpenMeteo, forecast.SourceNASAPower} {
		samples, err := st.GetCachedForecast(source, day)
		if err != nil {
			continue
		}
		if points := forecast.Points(samples, day, loc, cfg.System); len(points) > 0 {
			return points, source, nil
		}
	}
	return nil, "synthetic", nil
}

func parseWindow(s string) (engine.Window, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return engine.Window{}, fmt.Errorf("invalid window %q (use HH:MM-HH:MM)", s)
	}
	start, err := engine.ParseClockTime(strings.TrimSpace(parts[0]))
	if err != nil {
		return engine.Window{}, fmt.Errorf("invalid window %q: %w", s, err)
	}
	end, err := engine.ParseClockTime(strings.TrimSpace(parts[1]))
	if err != nil {
		return engine.Window{}, fmt.Errorf("invalid window %q: %w", s, err)
	}
	return engine.Window{Start: start, End: end}, nil
}

func mustWindow(start, end string) engine.Window {
	s, err := engine.ParseClockTime(start)
	if err != nil {
		panic(err)
	}
	e, err := engine.ParseClockTime(end)
	if err != nil {
		panic(err)
	}
	return engine.Window{Start: s, End: e}
}
