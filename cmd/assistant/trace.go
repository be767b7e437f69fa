package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/assistant/internal/domain"
	"github.com/xiaot623/gogo/assistant/internal/repository"
)

func buildTraceCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "trace <trace-id>",
		Short: "Print the span tree of a recorded trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			db, err := repository.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer db.Close()

			spans, err := db.GetTraceSpans(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to load trace: %w", err)
			}
			if len(spans) == 0 {
				return fmt.Errorf("trace %s not found", args[0])
			}
			printTraceTree(cmd.OutOrStdout(), spans)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

// printTraceTree writes one line per span, children indented under their
// parent in start order. Spans whose parent is missing are printed as roots.
func printTraceTree(w io.Writer, spans []domain.Span) {
	byID := make(map[string]bool, len(spans))
	for _, s := range spans {
		byID[s.ID] = true
	}
	children := map[string][]domain.Span{}
	var roots []domain.Span
	for _, s := range spans {
		if s.IsRoot() || !byID[*s.ParentSpanID] {
			roots = append(roots, s)
			continue
		}
		children[*s.ParentSpanID] = append(children[*s.ParentSpanID], s)
	}

	var walk func(s domain.Span, depth int)
	walk = func(s domain.Span, depth int) {
		fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), describeSpan(s))
		kids := children[s.ID]
		sort.SliceStable(kids, func(i, j int) bool { return kids[i].StartTime.Before(kids[j].StartTime) })
		for _, k := range kids {
			walk(k, depth+1)
		}
	}
	sort.SliceStable(roots, func(i, j int) bool { return roots[i].StartTime.Before(roots[j].StartTime) })
	for _, r := range roots {
		walk(r, 0)
	}
}

func describeSpan(s domain.Span) string {
	line := fmt.Sprintf("%s %s", s.Type, s.Name)
	if s.EndTime != nil {
		line += fmt.Sprintf(" (%dms)", s.EndTime.Sub(s.StartTime).Milliseconds())
	} else {
		line += " (open)"
	}
	if s.Error != nil {
		line += " error: " + *s.Error
	}
	return line
}
