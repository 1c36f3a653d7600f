package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sells-group/lead-engine/internal/dashboard"
	"github.com/sells-group/lead-engine/internal/dedupe"
	"github.com/sells-group/lead-engine/internal/export"
	"github.com/sells-group/lead-engine/internal/model"
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Inspect and export lead segments",
	Long:  "Commands for listing, deduplicating, and exporting the leads of one loan type.",
}

// -- leads list --

var leadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the filtered leads of a segment",
	RunE: func(cmd *cobra.Command, _ []string) error {
		view, err := loadView(cmd)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(view)
		}

		limit, _ := cmd.Flags().GetInt("limit")
		formatLeadsList(os.Stdout, view.Leads, limit)
		formatSummary(os.Stdout, view)
		return nil
	},
}

// -- leads duplicates --

var leadsDuplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "Show leads sharing a contact number",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		segment, _ := cmd.Flags().GetString("segment")

		env, err := initEngine(ctx, "fetch")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := switchSegment(ctx, env.Session, segment); err != nil {
			return err
		}

		groups := env.Session.Duplicates()
		if len(groups) == 0 {
			fmt.Fprintln(os.Stderr, "No duplicate numbers found.")
			return nil
		}
		formatDuplicates(os.Stdout, groups)
		return nil
	},
}

// -- leads export --

var leadsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the filtered leads of a segment to XLSX or CSV",
	RunE: func(cmd *cobra.Command, _ []string) error {
		formatName, _ := cmd.Flags().GetString("format")
		format, err := export.ParseFormat(formatName)
		if err != nil {
			return err
		}

		view, err := loadView(cmd)
		if err != nil {
			return err
		}

		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = fmt.Sprintf("leads-%s-%s.%s", view.Segment, time.Now().Format("20060102"), format)
		}
		f, err := os.Create(out)
		if err != nil {
			return eris.Wrapf(err, "leads export: create %s", out)
		}
		defer f.Close() //nolint:errcheck

		if err := export.Write(f, format, view.Leads); err != nil {
			return eris.Wrap(err, "leads export")
		}

		zap.L().Info("exported leads",
			zap.String("segment", view.Segment),
			zap.Int("leads", len(view.Leads)),
			zap.String("file", out),
		)
		fmt.Fprintf(os.Stderr, "Wrote %d leads to %s\n", len(view.Leads), out)
		return nil
	},
}

// loadView opens the engine, loads the --segment and applies the filter
// flags.
func loadView(cmd *cobra.Command) (dashboard.ViewState, error) {
	ctx := cmd.Context()
	segment, _ := cmd.Flags().GetString("segment")

	c, err := criteriaFromFlags(cmd.Flags())
	if err != nil {
		return dashboard.ViewState{}, err
	}

	env, err := initEngine(ctx, "fetch")
	if err != nil {
		return dashboard.ViewState{}, err
	}
	defer env.Close()

	if err := switchSegment(ctx, env.Session, segment); err != nil {
		return dashboard.ViewState{}, err
	}
	if err := env.Session.SetCriteria(c); err != nil {
		return dashboard.ViewState{}, err
	}
	return env.Session.View(), nil
}

// switchSegment loads segment, tolerating a failed refresh when a cached
// snapshot can be shown instead.
func switchSegment(ctx context.Context, s *dashboard.Session, segment string) error {
	err := s.SwitchSegment(ctx, segment)
	if err == nil {
		return nil
	}
	if eris.Is(err, dashboard.ErrRefreshFailed) && len(s.View().Leads) > 0 {
		zap.L().Warn("showing cached leads after failed refresh", zap.String("segment", segment), zap.Error(err))
		return nil
	}
	return eris.Wrapf(err, "load segment %q", segment)
}

func addFilterFlags(fs *pflag.FlagSet) {
	fs.String("segment", "", "loan type to load (required)")
	fs.String("search", "", "free-text search")
	fs.StringSlice("status", nil, "status or sub-status (repeatable)")
	fs.StringSlice("team", nil, "team name (repeatable)")
	fs.StringSlice("creator", nil, "creator name (repeatable)")
	fs.StringSlice("tl", nil, `team leader name, or "`+model.NotAssigned+`" (repeatable)`)
	fs.String("from", "", "lead date from (YYYY-MM-DD)")
	fs.String("to", "", "lead date to (YYYY-MM-DD)")
	fs.String("login-from", "", "sent-to-login date from (YYYY-MM-DD)")
	fs.String("login-to", "", "sent-to-login date to (YYYY-MM-DD)")
	fs.Int("age-from", 0, "minimum lead age in days")
	fs.Int("age-to", 0, "maximum lead age in days")
	fs.Float64("income-from", 0, "minimum total income")
	fs.Float64("income-to", 0, "maximum total income")
	fs.String("sort", "", "income sort (highest, lowest)")
	fs.Bool("duplicates", false, "only leads sharing a contact number")
}

// criteriaFromFlags reads the filter flags. Range flags apply only when set.
func criteriaFromFlags(fs *pflag.FlagSet) (model.FilterCriteria, error) {
	var c model.FilterCriteria
	c.Search, _ = fs.GetString("search")
	c.Statuses, _ = fs.GetStringSlice("status")
	c.Teams, _ = fs.GetStringSlice("team")
	c.Creators, _ = fs.GetStringSlice("creator")
	c.TeamLeaders, _ = fs.GetStringSlice("tl")
	sortMode, _ := fs.GetString("sort")
	c.Sort = model.SortMode(strings.ToLower(sortMode))
	c.DuplicatesOnly, _ = fs.GetBool("duplicates")

	dates := []struct {
		flag string
		dst  **time.Time
	}{
		{"from", &c.LeadDateFrom},
		{"to", &c.LeadDateTo},
		{"login-from", &c.SentToLoginFrom},
		{"login-to", &c.SentToLoginTo},
	}
	for _, d := range dates {
		v, _ := fs.GetString(d.flag)
		if v == "" {
			continue
		}
		t, err := time.ParseInLocation("2006-01-02", v, time.Local)
		if err != nil {
			return c, eris.Errorf("--%s: invalid date %q", d.flag, v)
		}
		*d.dst = &t
	}

	if fs.Changed("age-from") {
		n, _ := fs.GetInt("age-from")
		c.AgeFromDays = &n
	}
	if fs.Changed("age-to") {
		n, _ := fs.GetInt("age-to")
		c.AgeToDays = &n
	}
	if fs.Changed("income-from") {
		f, _ := fs.GetFloat64("income-from")
		c.IncomeFrom = &f
	}
	if fs.Changed("income-to") {
		f, _ := fs.GetFloat64("income-to")
		c.IncomeTo = &f
	}
	return c, c.Validate()
}

func formatLeadsList(w io.Writer, leads []model.Lead, limit int) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPHONE\tSTATUS\tSUB STATUS\tCREATED\tINCOME")
	for i, l := range leads {
		if limit > 0 && i >= limit {
			break
		}
		phone := ""
		if len(l.ContactNumbers) > 0 {
			phone = l.ContactNumbers[0]
		}
		created := ""
		if !l.CreatedAt.IsZero() {
			created = l.CreatedAt.Format("2006-01-02 15:04")
		}
		income := "-"
		if l.TotalIncome != nil {
			income = fmt.Sprintf("%.0f", *l.TotalIncome)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncate(l.ID, 12), truncate(l.DisplayName, 28), phone, l.Status, l.SubStatusValue(), created, income)
	}
	tw.Flush() //nolint:errcheck
}

func formatSummary(w io.Writer, v dashboard.ViewState) {
	fmt.Fprintf(w, "\nShowing %d of %d leads in %s", len(v.Leads), v.Total, v.Segment)
	if v.Stale {
		fmt.Fprint(w, " (stale)")
	}
	fmt.Fprintln(w)
	for _, c := range model.Categories {
		fmt.Fprintf(w, "  %-20s %d\n", c, v.Counts[c])
	}
	if v.LastError != "" {
		fmt.Fprintf(w, "Last refresh error: %s\n", v.LastError)
	}
}

func formatDuplicates(w io.Writer, groups []dedupe.Group) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NUMBER\tLEADS\tIDS")
	for _, g := range groups {
		ids := make([]string, 0, len(g.Leads))
		for _, l := range g.Leads {
			ids = append(ids, l.ID)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", g.Number, len(g.Leads), strings.Join(ids, ", "))
	}
	tw.Flush() //nolint:errcheck
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func init() {
	for _, c := range []*cobra.Command{leadsListCmd, leadsExportCmd} {
		addFilterFlags(c.Flags())
		_ = c.MarkFlagRequired("segment")
	}
	leadsListCmd.Flags().Int("limit", 50, "max number of leads to display (0 for all)")
	leadsListCmd.Flags().Bool("json", false, "print the full view as JSON")

	leadsExportCmd.Flags().String("format", "xlsx", "export format (xlsx, csv)")
	leadsExportCmd.Flags().String("out", "", "output file (default leads-<segment>-<date>.<format>)")

	leadsDuplicatesCmd.Flags().String("segment", "", "loan type to load (required)")
	_ = leadsDuplicatesCmd.MarkFlagRequired("segment")

	leadsCmd.AddCommand(leadsListCmd)
	leadsCmd.AddCommand(leadsDuplicatesCmd)
	leadsCmd.AddCommand(leadsExportCmd)
	rootCmd.AddCommand(leadsCmd)
}
