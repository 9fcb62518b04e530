package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/rand/guesstimate/internal/learning"
	"github.com/rand/guesstimate/internal/report"
)

var errNoListing = errors.New("the configured rule store cannot list rules")

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect learned rules",
	}
	cmd.AddCommand(newRulesListCmd(), newRulesStatsCmd())
	return cmd
}

func newRulesListCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List learned rules, newest first",
		Example: heredoc.Doc(`
			guesstimate rules list -n 20
			guesstimate rules list --json
		`),
		RunE: func(cmd *cobra.Command, _ []string) error {
			lister, cleanup, err := openLister(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			rules, err := lister.List(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list rules: %w", err)
			}
			for i := range rules {
				rules[i].Embedding = nil
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), rules)
			}
			if len(rules) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No rules learned yet.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), rulesTable(rules))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of rules")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")
	return cmd
}

func newRulesStatsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show rule store statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			lister, cleanup, err := openLister(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := lister.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("rule stats: %w", err)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), stats)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Rules: %d\n", stats.Rules)
			fmt.Fprintf(w, "Hits:  %d\n", stats.Hits)
			printCounts(w, "By tier", stats.ByTier)
			printCounts(w, "By domain", stats.ByDomain)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")
	return cmd
}

func openLister(cmd *cobra.Command) (learning.Lister, func(), error) {
	engine, _, cleanup, err := openEngine(cmd)
	if err != nil {
		return nil, nil, err
	}
	lister, ok := engine.Lister()
	if !ok {
		cleanup()
		return nil, nil, errNoListing
	}
	return lister, cleanup, nil
}

func rulesTable(rules []learning.LearnedRule) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("QUESTION", "VALUE", "CONF", "ORIGIN", "USES")
	for _, r := range rules {
		t.Row(
			r.Question,
			report.FormatValue(r.Value),
			strconv.FormatFloat(r.Confidence, 'f', 2, 64),
			fmt.Sprintf("%s/%s", r.TierOrigin, r.PhaseOrigin),
			strconv.FormatInt(r.UsageCount, 10),
		)
	}
	return t.String()
}

func printCounts(w io.Writer, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", title)
	for _, k := range slices.Sorted(maps.Keys(counts)) {
		fmt.Fprintf(w, "  %-16s %d\n", k, counts[k])
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
