package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hearthd/hearth/internal/api"
	"github.com/hearthd/hearth/internal/clock"
	"github.com/hearthd/hearth/internal/config"
	"github.com/hearthd/hearth/internal/convlog"
	"github.com/hearthd/hearth/internal/engine"
	"github.com/hearthd/hearth/internal/logging"
	"github.com/hearthd/hearth/internal/people"
)

var version = "dev"

var (
	cfgPath string

	factConfidence float64
	factSource     string

	convImportance string
	convTopics     []string
	convMood       string
	convFacts      []string

	mentionRelationship string
	mentionDetails      []string
	mentionVisiting     bool
	mentionVisitTime    string

	observedAt string
)

var rootCmd = &cobra.Command{
	Use:   "hearth",
	Short: "hearth - household memory engine",
	Long:  `hearth keeps a household assistant's long-term memory: learned facts with confidence decay, behavioral patterns promoted to routines, conversation history with retention tiers, and a consolidated understanding of the occupant.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "hearth.toml", "path to config file")

	learnCmd.Flags().Float64Var(&factConfidence, "confidence", 0.8, "initial confidence in [0,1]")
	learnCmd.Flags().StringVar(&factSource, "source", "stated", "where the fact came from")

	converseCmd.Flags().StringVar(&convImportance, "importance", "normal", "trivial|normal|important")
	converseCmd.Flags().StringSliceVar(&convTopics, "topic", nil, "topics covered (repeatable)")
	converseCmd.Flags().StringVar(&convMood, "mood", "", "detected mood")
	converseCmd.Flags().StringSliceVar(&convFacts, "fact", nil, "fact learned during the conversation (repeatable)")

	mentionCmd.Flags().StringVar(&mentionRelationship, "relationship", "", "relationship type hint")
	mentionCmd.Flags().StringSliceVar(&mentionDetails, "detail", nil, "detail about the person (repeatable)")
	mentionCmd.Flags().BoolVar(&mentionVisiting, "visiting", false, "person is expected to visit")
	mentionCmd.Flags().StringVar(&mentionVisitTime, "visit-time", "", "when the visit is expected")

	observeCmd.Flags().StringVar(&observedAt, "at", "", "event time (RFC 3339, default now)")

	rootCmd.AddCommand(learnCmd)
	rootCmd.AddCommand(observeCmd)
	rootCmd.AddCommand(converseCmd)
	rootCmd.AddCommand(mentionCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(understandingCmd)
	rootCmd.AddCommand(decayCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(consolidateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// withEngine handles the open/close lifecycle shared by every command.
func withEngine(fn func(*engine.Engine, *zap.Logger) error) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	eng, err := engine.New(cfg, logger, clock.System{})
	if err != nil {
		return err
	}
	defer eng.Close()
	return fn(eng, logger)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var learnCmd = &cobra.Command{
	Use:   "learn <statement>",
	Short: "Store a learned fact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(eng *engine.Engine, _ *zap.Logger) error {
			fact, reinforced, err := eng.LearnFact(args[0], factConfidence, factSource)
			if err != nil {
				return err
			}
			if reinforced {
				fmt.Printf("reinforced existing fact %s (confidence %.2f)\n", fact.ID, fact.Confidence)
				return nil
			}
			fmt.Printf("learned fact %s (confidence %.2f)\n", fact.ID, fact.Confidence)
			return nil
		})
	},
}

var observeCmd = &cobra.Command{
	Use:   "observe <kind>",
	Short: "Record a behavioral observation (e.g. departure, lights_off)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		at := time.Now()
		if observedAt != "" {
			parsed, err := time.Parse(time.RFC3339, observedAt)
			if err != nil {
				return fmt.Errorf("parse --at: %w", err)
			}
			at = parsed
		}
		return withEngine(func(eng *engine.Engine, _ *zap.Logger) error {
			p, promoted, err := eng.RecordObservation(args[0], at)
			if err != nil {
				return err
			}
			fmt.Printf("pattern %s: %d observation(s), confidence %.2f\n", p.ID, p.ObservationCount, p.Confidence)
			for _, pr := range promoted {
				fmt.Printf("promoted to routine %s: %s\n", pr.RoutineKey(), pr.Description)
			}
			return nil
		})
	},
}

var converseCmd = &cobra.Command{
	Use:   "converse <summary>",
	Short: "Save a conversation summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(eng *engine.Engine, _ *zap.Logger) error {
			rec, err := eng.SaveConversation(convlog.Record{
				Summary:      args[0],
				Topics:       convTopics,
				Mood:         convMood,
				FactsLearned: convFacts,
				Importance:   convlog.Importance(convImportance),
			})
			if err != nil {
				return err
			}
			fmt.Printf("saved conversation %s (%s)\n", rec.ID, rec.Importance)
			return nil
		})
	},
}

var mentionCmd = &cobra.Command{
	Use:   "mention <name>",
	Short: "Record that a person was mentioned",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(eng *engine.Engine, _ *zap.Logger) error {
			out, err := eng.ProcessMention(people.Mention{
				Name:             args[0],
				RelationshipType: mentionRelationship,
				Details:          mentionDetails,
				Visiting:         mentionVisiting,
				VisitTime:        mentionVisitTime,
			})
			if err != nil {
				return err
			}
			switch out.Action {
			case people.ActionAmbiguous:
				fmt.Printf("ambiguous: %d people match %q, clarification queued\n", len(out.Matches), args[0])
			default:
				fmt.Printf("%s %s\n", out.Action, out.Key)
			}
			return nil
		})
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Show store counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(eng *engine.Engine, _ *zap.Logger) error {
			return printJSON(eng.Snapshot())
		})
	},
}

var understandingCmd = &cobra.Command{
	Use:   "understanding",
	Short: "Show the latest consolidated understanding",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(eng *engine.Engine, _ *zap.Logger) error {
			snap, ok := eng.Understanding()
			if !ok {
				return fmt.Errorf("no consolidation has run yet")
			}
			return printJSON(snap)
		})
	},
}

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Apply weekly confidence decay",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(eng *engine.Engine, _ *zap.Logger) error {
			changed, err := eng.RunDecay()
			if err != nil {
				return err
			}
			fmt.Printf("decay adjusted %d memory item(s)\n", changed)
			return nil
		})
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete conversations past their retention window",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(eng *engine.Engine, _ *zap.Logger) error {
			removed, err := eng.RunSweep()
			if err != nil {
				return err
			}
			fmt.Printf("swept %d conversation(s)\n", removed)
			return nil
		})
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Permanently remove forgotten memories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(eng *engine.Engine, _ *zap.Logger) error {
			removed, err := eng.PruneForgotten()
			if err != nil {
				return err
			}
			fmt.Printf("pruned %d memory item(s)\n", removed)
			return nil
		})
	},
}

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Rebuild the understanding snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(eng *engine.Engine, _ *zap.Logger) error {
			snap, err := eng.RunConsolidation()
			if err != nil {
				return err
			}
			return printJSON(snap)
		})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		logger, err := logging.New(cfg.Logging)
		if err != nil {
			return err
		}
		defer logger.Sync()

		eng, err := engine.New(cfg, logger, clock.System{})
		if err != nil {
			return err
		}
		defer eng.Close()

		srv := api.NewServer(eng, logger)
		logger.Info("hearth listening", zap.String("address", cfg.Server.ListenAddress))
		return http.ListenAndServe(cfg.Server.ListenAddress, srv.Router())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the hearth version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hearth %s\n", version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
