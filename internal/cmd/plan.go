package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trendops/evreport/internal/plan"
	"github.com/trendops/evreport/internal/request"
)

var planCmd = &cobra.Command{
	Use:   "plan <request.yaml>",
	Short: "Show the execution graph for a request without running it",
	Long: `Plan a request and print the stage graph that a run would execute,
in dispatch order with each stage's dependencies. Nothing is invoked.

Examples:
  # Inspect the graph for a request
  evreport plan request.yaml

  # Machine-readable graph
  evreport plan request.yaml --json`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

var planJSON bool

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().BoolVar(&planJSON, "json", false, "Print the graph as JSON")
}

func runPlan(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read request: %w", err)
	}
	cfg, err := request.Parse(raw)
	if err != nil {
		return err
	}
	g, err := plan.Plan(cfg)
	if err != nil {
		return err
	}

	if planJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(orderedNodes(g))
	}

	fmt.Printf("Plan for %s: %d stages, depth %s\n\n", cfg.RunID, len(g.Nodes), cfg.Depth)
	for _, node := range orderedNodes(g) {
		marker := " "
		if node.Critical {
			marker = "*"
		}
		deps := "-"
		if len(node.DependsOn) > 0 {
			deps = strings.Join(node.DependsOn, ", ")
		}
		fmt.Printf("%s %-32s after: %s\n", marker, node.Name, deps)
	}
	fmt.Println("\n* critical stage")
	return nil
}

func orderedNodes(g *plan.Graph) []*plan.StageNode {
	nodes := make([]*plan.StageNode, 0, len(g.Order))
	for _, name := range g.Order {
		nodes = append(nodes, g.Nodes[name])
	}
	return nodes
}
