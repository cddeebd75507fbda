// Run command executes one scheduler tick.
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/sfmirror/internal/engine"
	"github.com/mesh-intelligence/sfmirror/internal/schedule"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one scheduler tick, syncing every due mapping",
	Long: `Run evaluates every schedule entry of every configured mapping and
synchronizes the due ones, sequentially. A failure in one mapping is reported
and the tick carries on to the next.

Example:
  sfmirror run
  sfmirror run --verbose`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := loadState(ctx, store); err != nil {
		return err
	}

	loader := engine.New(store, store, logger, nil)
	eval := schedule.New(store, nil)
	runner := engine.NewRunner(loader, eval, fetcherSource(), logger)

	results := runner.RunDue(ctx, cfg.Mappings)

	if flagJSON {
		type tickResult struct {
			Mapping string `json:"mapping"`
			Synced  bool   `json:"synced"`
			Error   string `json:"error,omitempty"`
		}
		out := make([]tickResult, 0, len(results))
		for _, r := range results {
			tr := tickResult{Mapping: r.Mapping, Synced: r.Synced}
			if r.Err != nil {
				tr.Error = r.Err.Error()
			}
			out = append(out, tr)
		}
		return printJSON(out)
	}

	if len(results) == 0 {
		fmt.Println("no mappings due")
		return nil
	}
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Printf("%s: failed: %v\n", r.Mapping, r.Err)
			continue
		}
		fmt.Printf("%s: synced\n", r.Mapping)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d mappings failed", failed, len(results))
	}
	return nil
}
