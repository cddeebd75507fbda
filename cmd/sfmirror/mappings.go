// Mappings command lists the configured mappings and their sync state.
package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/sfmirror/internal/schedule"
)

var mappingsCmd = &cobra.Command{
	Use:   "mappings",
	Short: "List configured mappings and their sync state",
	Long: `Mappings lists every configured mapping with its active flag, entity
count, watermark, and the next instant a schedule entry comes due.

Example:
  sfmirror mappings
  sfmirror mappings --json`,
	Args: cobra.NoArgs,
	RunE: runMappings,
}

func runMappings(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := loadState(ctx, store); err != nil {
		return err
	}

	eval := schedule.New(store, nil)

	if flagJSON {
		type mappingInfo struct {
			Name      string     `json:"name"`
			Active    bool       `json:"active"`
			Entities  int        `json:"entities"`
			Watermark *time.Time `json:"watermark,omitempty"`
			NextDue   *time.Time `json:"next_due,omitempty"`
		}
		out := make([]mappingInfo, 0, len(cfg.Mappings))
		for _, m := range cfg.Mappings {
			info := mappingInfo{Name: m.Name, Active: m.Active, Entities: len(m.Entities)}
			if !m.LastCompletedRefresh.IsZero() {
				w := m.LastCompletedRefresh
				info.Watermark = &w
			}
			if next, ok := eval.NextDue(m); ok {
				info.NextDue = &next
			}
			out = append(out, info)
		}
		return printJSON(out)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tACTIVE\tENTITIES\tWATERMARK\tNEXT DUE")
	for _, m := range cfg.Mappings {
		watermark := "never"
		if !m.LastCompletedRefresh.IsZero() {
			watermark = m.LastCompletedRefresh.UTC().Format(time.RFC3339)
		}
		nextDue := "-"
		if next, ok := eval.NextDue(m); ok {
			nextDue = next.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%t\t%d\t%s\t%s\n", m.Name, m.Active, len(m.Entities), watermark, nextDue)
	}
	return w.Flush()
}
