// roundtable is a multi-agent group chat for the terminal: several
// model-backed agents share one room, each replying in its own voice.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"roundtable/cmd/roundtable/chat"
	"roundtable/internal/config"
	"roundtable/internal/skills"
	"roundtable/internal/transport"
	"roundtable/internal/turn"
	"roundtable/internal/types"
)

var (
	configPath string
	workspace  string
	verbose    bool
	chatID     string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "roundtable",
	Short: "roundtable - multi-agent group chat for the terminal",
	Long: `roundtable puts several model-backed agents in one chat room.

Address an agent with @label, or say nothing and the whole room answers.
Each agent keeps its own voice, its own view of the conversation, and a
shared long-term memory of what it learns about you.

Run without arguments to start the interactive chat.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// The chat UI owns the terminal; skip the process logger there.
		if cmd.Name() == "roundtable" || cmd.Name() == "chat" {
			return nil
		}
		zc := zap.NewProductionConfig()
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat()
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start the interactive chat (default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat()
	},
}

func runChat() error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	discovered := a.discoverAgents(context.Background())
	roster := a.cfg.ResolveRoster(discovered)

	a.cache.StartSweep(a.cfg.SweepInterval())

	orc := turn.New(turn.Config{
		Owner:           a.cfg.Owner,
		ModeratorName:   "moderator",
		MaxConcurrent:   a.cfg.Chat.MaxConcurrent,
		HistoryWindow:   a.cfg.Chat.HistoryWindow,
		SummaryTurns:    a.cfg.Chat.SummaryTurns,
		FactLimit:       a.cfg.Memory.FactLimit,
		CacheTTLSeconds: a.cfg.Cache.TTLSeconds,
	}, a.store, a.cache, a.facts, transport.NewHTTPStreamer(0), &transport.MockStreamer{Delay: 15 * time.Millisecond})

	session, err := resolveChat(a, chatID)
	if err != nil {
		return err
	}

	deps := chat.Deps{
		Config:       a.cfg,
		Store:        a.store,
		Orchestrator: orc,
		Facts:        a.facts,
		Skills:       skills.NewRegistry(),
		Roster:       roster,
		Chat:         session,
	}

	var watcher *config.Watcher
	err = chat.RunInteractiveChat(deps, func(send func(tea.Msg)) {
		w, werr := config.NewWatcher(configPath, func(next *config.Config) {
			send(chat.RosterMsg{Roster: next.ResolveRoster(discovered)})
		})
		if werr != nil {
			return
		}
		if werr := w.Start(); werr != nil {
			return
		}
		watcher = w
	})
	if watcher != nil {
		watcher.Stop()
	}
	return err
}

// resolveChat resumes the requested session or starts a fresh one.
func resolveChat(a *app, id string) (types.Chat, error) {
	if id != "" {
		for _, c := range a.store.Chats() {
			if c.ID == id {
				return c, nil
			}
		}
		return types.Chat{}, fmt.Errorf("no chat with id %s", id)
	}
	c := types.NewChat(time.Now().Format("Jan 2 15:04"))
	if err := a.store.SaveChat(c); err != nil {
		return types.Chat{}, err
	}
	return c, nil
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to the YAML config file")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory for logs and state")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose process logging")
	chatCmd.Flags().StringVar(&chatID, "chat", "", "resume an existing chat session by id")
	rootCmd.Flags().StringVar(&chatID, "chat", "", "resume an existing chat session by id")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(factsCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	return filepath.Join(".roundtable", "roundtable.yaml")
}
