// Plan command prints the compiled remote queries for a mapping without
// contacting the remote.
package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/sfmirror/internal/soql"
)

var planCmd = &cobra.Command{
	Use:   "plan <mapping>",
	Short: "Print the compiled remote queries for a mapping",
	Long: `Plan compiles the mapping into the query a sync pass would issue for
its master entity, plus the dependency queries that pull each referenced
entity through the master's foreign keys. Nothing is fetched.

Example:
  sfmirror plan orders`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	m := cfg.Mapping(args[0])
	if m == nil {
		return fmt.Errorf("unknown mapping %q", args[0])
	}

	master, err := m.Master()
	if err != nil {
		return err
	}

	now := time.Now()
	related := soql.RelatedQueries(m, master, now)

	if flagJSON {
		type plannedQuery struct {
			Entity string `json:"entity"`
			Query  string `json:"query"`
		}
		out := []plannedQuery{{Entity: master.Local, Query: soql.BuildQuery(m, master, "", now)}}
		for _, rq := range related {
			out = append(out, plannedQuery{Entity: rq.Target.Local, Query: rq.Query})
		}
		return printJSON(out)
	}

	fmt.Printf("%s (master):\n  %s\n", master.Local, soql.BuildQuery(m, master, "", now))
	for _, rq := range related {
		fmt.Printf("%s:\n  %s\n", rq.Target.Local, rq.Query)
	}
	return nil
}
