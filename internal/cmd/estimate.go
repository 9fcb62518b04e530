package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/rand/guesstimate/internal/estimate"
	"github.com/rand/guesstimate/internal/report"
)

func newEstimateCmd() *cobra.Command {
	var (
		facts   []string
		ectx    estimate.Context
		intent  string
		asJSON  bool
		trace   bool
		plain   bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "estimate [question...]",
		Short: "Estimate the answer to a quantitative question",
		Long: heredoc.Doc(`
			Estimate the answer to a quantitative question. The question can be
			given as arguments or piped on stdin.
		`),
		Example: heredoc.Doc(`
			# Answer from a known fact
			guesstimate estimate --fact churn_rate=0.05 "monthly churn rate"

			# Decompose with context and show the model tree
			guesstimate estimate --domain saas --period 2024 --trace "customer lifetime value"

			# Machine-readable output
			echo "average saas arpu" | guesstimate estimate --json
		`),
		RunE: func(cmd *cobra.Command, args []string) error {
			question, err := readQuestion(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if question == "" {
				return errors.New("no question provided")
			}
			if ectx.Facts, err = parseFacts(facts); err != nil {
				return err
			}
			if ectx.Intent, err = parseIntent(intent); err != nil {
				return err
			}

			engine, _, cleanup, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			r := engine.Estimate(ctx, question, ectx)
			return writeResult(cmd.OutOrStdout(), r, asJSON, trace, plain || !isTerminal(cmd.OutOrStdout()))
		},
	}

	f := cmd.Flags()
	f.StringArrayVarP(&facts, "fact", "f", nil, "Known value as name=value (repeatable)")
	f.StringVar(&ectx.Domain, "domain", "", "Domain, e.g. saas or ecommerce")
	f.StringVar(&ectx.Region, "region", "", "Region the question applies to")
	f.StringVar(&ectx.TimePeriod, "period", "", "Time period, e.g. 2024, 2024-Q3 or 2024-06")
	f.StringVar(&ectx.Granularity, "granularity", "", "Granularity, e.g. monthly")
	f.StringVar(&intent, "intent", "", "Intent (informational, decision_making, planning)")
	f.DurationVar(&timeout, "timeout", 0, "Abandon the estimate after this long, e.g. 30s")
	f.BoolVarP(&asJSON, "json", "j", false, "Output as JSON")
	f.BoolVarP(&trace, "trace", "t", false, "Include the decomposition trace")
	f.BoolVar(&plain, "plain", false, "Disable colors")
	return cmd
}

// readQuestion joins args, or reads stdin when there are none and stdin is
// not a terminal.
func readQuestion(args []string, stdin io.Reader) (string, error) {
	if q := strings.TrimSpace(strings.Join(args, " ")); q != "" {
		return q, nil
	}
	if stdin == nil || isTerminal(stdin) {
		return "", nil
	}
	data, err := io.ReadAll(io.LimitReader(stdin, 1<<16))
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func parseFacts(raw []string) (map[string]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	facts := make(map[string]float64, len(raw))
	for _, kv := range raw {
		name, value, ok := strings.Cut(kv, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid fact %q: want name=value", kv)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid fact %q: %w", kv, err)
		}
		facts[name] = v
	}
	return facts, nil
}

func parseIntent(s string) (estimate.Intent, error) {
	switch i := estimate.Intent(s); i {
	case "", estimate.IntentInformational, estimate.IntentDecisionMaking, estimate.IntentPlanning:
		return i, nil
	default:
		return "", fmt.Errorf("unknown intent %q", s)
	}
}

func writeResult(w io.Writer, r *estimate.Result, asJSON, trace, plain bool) error {
	switch {
	case asJSON && trace:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case asJSON:
		doc, err := report.JSON(r)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(doc))
		return err
	default:
		_, err := fmt.Fprintln(w, report.Text(r, report.TextOptions{Plain: plain, Trace: trace}))
		return err
	}
}
