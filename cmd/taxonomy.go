package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/lead-engine/internal/category"
	"github.com/sells-group/lead-engine/internal/taxonomy"
)

var taxonomyCmd = &cobra.Command{
	Use:   "taxonomy",
	Short: "Inspect the status hierarchy",
}

var taxonomyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the status hierarchy with each status's category",
	Long:  "Loads the status hierarchy from the lead service, or the fallback taxonomy with --offline or when the service is unavailable.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		offline, _ := cmd.Flags().GetBool("offline")

		var (
			tax      *taxonomy.Taxonomy
			fallback bool
			err      error
		)
		switch {
		case offline && cfg.Taxonomy.File != "":
			tax, err = taxonomy.ReadFile(cfg.Taxonomy.File)
			if err != nil {
				return err
			}
			fallback = true
		case offline:
			tax, fallback = taxonomy.Default(), true
		default:
			if err := cfg.Validate("fetch"); err != nil {
				return err
			}
			tax, fallback = taxonomy.Load(ctx, initSource())
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(tax.Nodes())
		}
		if fallback {
			fmt.Fprintln(os.Stderr, "Using fallback taxonomy.")
		}
		formatTaxonomy(os.Stdout, tax)
		return nil
	},
}

func formatTaxonomy(w io.Writer, tax *taxonomy.Taxonomy) {
	for _, main := range tax.MainStatuses() {
		fmt.Fprintf(w, "%s [%s]\n", main, category.Categorize(main, ""))
		for _, sub := range tax.SubStatuses(main) {
			fmt.Fprintf(w, "  - %s [%s]\n", sub, category.Categorize(main, sub))
		}
	}
}

func init() {
	taxonomyShowCmd.Flags().Bool("offline", false, "show the fallback taxonomy without calling the service")
	taxonomyShowCmd.Flags().Bool("json", false, "print the hierarchy as JSON")

	taxonomyCmd.AddCommand(taxonomyShowCmd)
	rootCmd.AddCommand(taxonomyCmd)
}
