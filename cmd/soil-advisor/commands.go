package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/agsys/soil-advisor/internal/crops"
	"github.com/agsys/soil-advisor/internal/engine"
	"github.com/agsys/soil-advisor/internal/soil"
	"github.com/agsys/soil-advisor/internal/voice"
)

// measurementFlags maps each form field to its command-line flag
var measurementFlags = []struct {
	field, flag, usage string
}{
	{soil.FieldName, "field", "Field label"},
	{soil.FieldPH, "ph", "Soil pH (0-14)"},
	{soil.FieldNitrogen, "nitrogen", "Nitrogen, percent of optimal"},
	{soil.FieldPhosphorus, "phosphorus", "Phosphorus, percent of optimal"},
	{soil.FieldPotassium, "potassium", "Potassium, percent of optimal"},
	{soil.FieldMoisture, "moisture", "Soil moisture percent"},
	{soil.FieldOrganicMatter, "organic-matter", "Organic matter percent (optional)"},
	{soil.FieldTemperature, "temperature", "Soil temperature in Celsius (optional)"},
	{soil.FieldLat, "lat", "Latitude (optional, requires --lng)"},
	{soil.FieldLng, "lng", "Longitude (optional, requires --lat)"},
}

func (c *cli) newRecordCmd() *cobra.Command {
	values := make(map[string]*string, len(measurementFlags))
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a soil measurement and print its assessment",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), c.cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			raw := make(map[string]string, len(values))
			for field, v := range values {
				if *v != "" {
					raw[field] = *v
				}
			}

			assessment, err := a.engine.Record(cmd.Context(), raw)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), assessment)
			}
			printAssessment(cmd.OutOrStdout(), assessment)
			return nil
		},
	}
	for _, f := range measurementFlags {
		values[f.field] = cmd.Flags().String(f.flag, "", f.usage)
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the assessment as JSON")
	return cmd
}

func (c *cli) newCropsCmd() *cobra.Command {
	var lowWater bool
	var season string

	cmd := &cobra.Command{
		Use:   "crops [measurement-id]",
		Short: "Rank crops for a stored measurement (default: the latest)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), c.cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			id := ""
			if len(args) > 0 {
				id = args[0]
			} else if cur, ok := a.engine.Current(); ok {
				id = cur.ID
			} else {
				return eris.New("no measurements recorded yet")
			}

			assessment, err := a.engine.Assess(id)
			if err != nil {
				return err
			}
			list := assessment.Suggestions
			if lowWater {
				list = crops.FilterByWater(list, crops.TierLow)
			}
			if season != "" {
				list = crops.FilterBySeason(list, season)
			}
			printSuggestions(cmd.OutOrStdout(), list)
			return nil
		},
	}
	cmd.Flags().BoolVar(&lowWater, "low-water", false, "Only crops with a low water requirement")
	cmd.Flags().StringVar(&season, "season", "", "Only crops suited to a season (Kharif, Rabi)")
	return cmd
}

func (c *cli) newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List recorded measurements",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), c.cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			cur, _ := a.engine.Current()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "\tID\tFIELD\tPH\tN\tP\tK\tMOISTURE\tCAPTURED\tSYNC")
			fmt.Fprintln(w, "\t--\t-----\t--\t-\t-\t-\t--------\t--------\t----")
			for _, m := range a.engine.History() {
				marker := ""
				if m.ID == cur.ID {
					marker = "*"
				}
				syncStr := "?"
				if env, err := a.store.Load(cmd.Context(), m.StoreKey()); err == nil && env != nil {
					syncStr = yesNo(env.Synced)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%.1f\t%.0f\t%.0f\t%.0f\t%.0f%%\t%s\t%s\n",
					marker, m.ID, m.FieldName, m.PH, m.Nitrogen, m.Phosphorus, m.Potassium, m.Moisture,
					m.CapturedAt.Format("2006-01-02 15:04"), syncStr)
			}
			return w.Flush()
		},
	}
}

func (c *cli) newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push unsynced measurements to the cloud once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.Cloud.BaseURL == "" {
				return eris.New("cloud.base_url is not configured")
			}
			a, err := newApp(cmd.Context(), c.cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.engine.Sync(cmd.Context())
			if !res.Success {
				return eris.Errorf("sync failed: %s", res.Error)
			}

			out := cmd.OutOrStdout()
			for _, item := range res.Results {
				if item.Success {
					fmt.Fprintf(out, "synced  %s\n", item.Key)
				} else {
					fmt.Fprintf(out, "failed  %s: %s\n", item.Key, item.Error)
				}
			}
			fmt.Fprintf(out, "%d synced, %d failed\n", len(res.Results)-res.Failed(), res.Failed())
			return nil
		},
	}
}

func (c *cli) newListenCmd() *cobra.Command {
	var record bool

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Fill a measurement form from transcript lines on stdin",
		Long:  "Reads one transcript per line (for example \"pH 6.5 nitrogen 220\") until end of input, then prints the collected form. With --record the form is recorded.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), c.cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			form, err := a.engine.ListenForm(cmd.Context(), voice.NewLineInput(cmd.InOrStdin()))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fields := make([]string, 0, len(form))
			for k := range form {
				fields = append(fields, k)
			}
			sort.Strings(fields)
			for _, k := range fields {
				fmt.Fprintf(out, "%s=%s\n", k, form[k])
			}

			if !record {
				return nil
			}
			assessment, err := a.engine.Record(cmd.Context(), form)
			if err != nil {
				return err
			}
			printAssessment(out, assessment)
			return nil
		},
	}
	cmd.Flags().BoolVar(&record, "record", false, "Record the collected form")
	return cmd
}

func printAssessment(w io.Writer, a *engine.Assessment) {
	m := a.Measurement
	fmt.Fprintf(w, "Measurement %s (%s)\n", m.ID, m.FieldName)
	fmt.Fprintf(w, "Health: pH %s, nutrients %s, moisture %s, overall %.0f\n",
		a.Health.PH, a.Health.Nutrients, a.Health.Moisture, a.Health.Overall)
	fmt.Fprintf(w, "Range index: %d\n", a.RangeIndex)
	if !a.Persisted {
		fmt.Fprintln(w, "Warning: measurement could not be saved offline")
	}
	fmt.Fprintln(w)
	printSuggestions(w, a.Suggestions)
}

func printSuggestions(w io.Writer, list []crops.Suggestion) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CROP\tSCORE\tWATER\tSEASON\tYIELD\tREASONS")
	fmt.Fprintln(tw, "----\t-----\t-----\t------\t-----\t-------")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
			s.Name, s.SuitabilityScore, s.WaterRequirement, s.BestSeason, s.ExpectedYield,
			strings.Join(s.Reasons, "; "))
	}
	tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func yesNo(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}
