package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"roundtable/internal/cache"
	"roundtable/internal/types"
)

const version = "0.3.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the roundtable version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("roundtable %s\n", version)
	},
}

// ---------------------------------------------------------------------------
// agents

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Inspect and discover agent identities",
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the effective agent roster",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		discovered := a.discoverAgents(cmd.Context())
		roster := a.cfg.ResolveRoster(discovered)

		fmt.Printf("%-18s %-12s %-8s %-10s %s\n", "ID", "LABEL", "ORIGIN", "PROVIDER", "ENDPOINT")
		for _, agent := range roster {
			endpoint := agent.Endpoint
			if endpoint == "" {
				endpoint = "-"
			}
			fmt.Printf("%-18s %-12s %-8s %-10s %s\n",
				agent.ID, agent.Label, agent.Origin, agent.Provider, endpoint)
		}
		return nil
	},
}

var agentsDiscoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Probe the configured endpoints for local model runtimes",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		found := a.discoverAgents(cmd.Context())
		if len(found) == 0 {
			fmt.Println("No local model runtimes found.")
			fmt.Printf("Probed: %s\n", strings.Join(a.cfg.Discovery.Endpoints, ", "))
			return nil
		}
		for _, agent := range found {
			fmt.Printf("%s  %s (%s)\n", agent.ID, agent.Label, agent.Model)
			logger.Info("discovered agent",
				zap.String("id", agent.ID), zap.String("endpoint", agent.Endpoint))
		}
		return nil
	},
}

// ---------------------------------------------------------------------------
// facts

var factsCmd = &cobra.Command{
	Use:   "facts",
	Short: "Manage the long-term fact memory",
}

var factsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List remembered facts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		facts := a.facts.All()
		if len(facts) == 0 {
			fmt.Println("Nothing remembered yet.")
			return nil
		}
		for _, f := range facts {
			source := "manual"
			if f.AutoExtracted {
				source = "auto"
			}
			fmt.Printf("%s  [%-10s] %.2f  used %dx  (%s)\n  %s\n",
				f.ID, f.Kind, f.Confidence, f.UsageCount, source, f.Text)
		}
		return nil
	},
}

var factsAddCmd = &cobra.Command{
	Use:   "add [text]",
	Short: "Remember a fact manually",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		text := strings.Join(args, " ")
		f, inserted := a.facts.Insert(types.NewFact(types.FactProfile, a.cfg.Owner, text, 1.0))
		if inserted {
			fmt.Printf("Remembered: %s\n", f.Text)
		} else {
			fmt.Printf("Already knew that, reinforced: %s\n", f.Text)
		}
		return nil
	},
}

var factsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop stale, weak, unused facts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		n := a.facts.Prune()
		fmt.Printf("Pruned %d fact(s), %d remain.\n", n, a.facts.Len())
		return nil
	},
}

var factsFeedbackCmd = &cobra.Command{
	Use:   "feedback [fact-id]",
	Short: "Mark a fact as confirmed useful",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.facts.Feedback(args[0]); err != nil {
			return err
		}
		fmt.Println("Fact reinforced.")
		return nil
	},
}

// ---------------------------------------------------------------------------
// cache

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the response cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache entry count",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		swept := a.cache.Sweep()
		fmt.Printf("%d live entries (%d expired swept).\n", a.cache.Len(), swept)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every cached response",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		n := a.cache.Len()
		if err := a.store.SaveCache(map[string]cache.Entry{}); err != nil {
			return err
		}
		fmt.Printf("Cleared %d entries.\n", n)
		return nil
	},
}

func init() {
	agentsCmd.AddCommand(agentsListCmd, agentsDiscoverCmd)
	factsCmd.AddCommand(factsListCmd, factsAddCmd, factsPruneCmd, factsFeedbackCmd)
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)
}
