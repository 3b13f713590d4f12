package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nvandessel/eventradar/internal/ranking"
	"github.com/nvandessel/eventradar/internal/seed"
)

func newEmbedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Embed an event and store it in the index",
		Long: `Build the event text from its fields, encode it, project it through the
event tower and upsert it into the index. The write is durable when the
command returns.

Examples:
  eventradar embed --id evt-1 --title "ML Workshop" --description "Hands-on intro" --tag ai --tag workshop
  eventradar embed --id evt-1 --title "ML Workshop" --description "..." --no-store --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("id")
			title, _ := cmd.Flags().GetString("title")
			description, _ := cmd.Flags().GetString("description")
			tags, _ := cmd.Flags().GetStringSlice("tag")
			club, _ := cmd.Flags().GetString("club")
			category, _ := cmd.Flags().GetString("category")
			noStore, _ := cmd.Flags().GetBool("no-store")

			in := ranking.EventInput{
				EventID:     id,
				Title:       title,
				Description: description,
				Tags:        tags,
				HostingClub: club,
				Category:    category,
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.engine.EmbedEvent(ctx, in, !noStore)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(cmd.OutOrStdout(), res)
				}
				out := cmd.OutOrStdout()
				if res.Stored {
					fmt.Fprintf(out, "✓ Stored %s (%d dims, %d events indexed)\n", res.EventID, res.Dim, a.engine.Index().Count())
				} else {
					fmt.Fprintf(out, "Embedded %s (%d dims, not stored)\n", res.EventID, res.Dim)
				}
				return nil
			})
		},
	}
	cmd.Flags().String("id", "", "Event id (required)")
	cmd.Flags().String("title", "", "Event title (required)")
	cmd.Flags().String("description", "", "Event description (required)")
	cmd.Flags().StringSlice("tag", nil, "Event tag (repeatable or comma-separated)")
	cmd.Flags().String("club", "", "Hosting club")
	cmd.Flags().String("category", "", "Event category")
	cmd.Flags().Bool("no-store", false, "Only compute the embedding")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <event-id>",
		Short: "Remove an event from the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				removed, err := a.engine.RemoveEvent(ctx, args[0])
				if err != nil {
					return err
				}
				message := fmt.Sprintf("Event %s removed", args[0])
				if !removed {
					message = fmt.Sprintf("Event %s not found", args[0])
				}
				if jsonOutput(cmd) {
					return printJSON(cmd.OutOrStdout(), map[string]any{
						"event_id": args[0],
						"removed":  removed,
						"message":  message,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), message)
				return nil
			})
		},
	}
}

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <event-id>",
		Short: "Show a stored event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			withVector, _ := cmd.Flags().GetBool("vector")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				rec, err := a.engine.GetEvent(args[0])
				if err != nil {
					return fmt.Errorf("%s: %w", args[0], err)
				}
				if jsonOutput(cmd) {
					out := map[string]any{"metadata": rec.Metadata}
					if withVector {
						out["embedding"] = rec.Vector
					}
					return printJSON(cmd.OutOrStdout(), out)
				}
				m := rec.Metadata
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s: %s\n", m.EventID, m.Title)
				fmt.Fprintf(out, "  Description: %s\n", m.Description)
				if len(m.Tags) > 0 {
					fmt.Fprintf(out, "  Tags: %s\n", strings.Join(m.Tags, ", "))
				}
				if m.HostingClub != "" {
					fmt.Fprintf(out, "  Club: %s\n", m.HostingClub)
				}
				if m.Category != "" {
					fmt.Fprintf(out, "  Category: %s\n", m.Category)
				}
				fmt.Fprintf(out, "  Created: %s\n", m.CreatedAt.Format("2006-01-02 15:04:05Z07:00"))
				if withVector {
					fmt.Fprintf(out, "  Embedding: %v\n", rec.Vector)
				}
				return nil
			})
		},
	}
	cmd.Flags().Bool("vector", false, "Include the stored embedding")
	return cmd
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Embed and store every event in a JSON or YAML file",
		Long: `Import a list of events. Each event is embedded and stored on its own;
failures are reported per event and do not stop the import.

The file holds a list of objects with event_id, title, description and the
optional tags, hosting_club (or club_name) and category fields. Files ending
in .yaml or .yml are read as YAML.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := ranking.ReadEventsFile(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				sum := a.engine.Import(ctx, events)
				if jsonOutput(cmd) {
					if err := printJSON(cmd.OutOrStdout(), sum); err != nil {
						return err
					}
				} else {
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "Imported %d of %d events\n", sum.Success, sum.Total)
					for _, e := range sum.Errors {
						fmt.Fprintf(out, "  ✗ %s: %s\n", e.EventID, e.Error)
					}
				}
				if sum.Failed > 0 {
					return fmt.Errorf("%d of %d events failed to import", sum.Failed, sum.Total)
				}
				return nil
			})
		},
	}
}

func newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Re-embed every stored event with the current encoder and weights",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				n, err := a.engine.Reindex(ctx)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(cmd.OutOrStdout(), map[string]any{
						"reindexed": n,
						"weights":   a.engine.Health(ctx).WeightsSource,
					})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reindexed %d events\n", n)
				return nil
			})
		},
	}
}

func newSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Store the sample event catalog",
		Long: `Store a small catalog of sample campus events so recommendations can be
tried end to end. Seeding is idempotent. With --export the catalog is
written as an import file instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path, _ := cmd.Flags().GetString("export"); path != "" {
				if err := seed.Export(path); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d sample events to %s\n", len(seed.Events()), path)
				return nil
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				result, err := seed.NewSeeder(a.engine).Seed(ctx)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(cmd.OutOrStdout(), result)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d samples: %d added, %d updated, %d unchanged\n",
					result.Total, len(result.Added), len(result.Updated), len(result.Skipped))
				return nil
			})
		},
	}
	cmd.Flags().String("export", "", "Write the catalog to this file instead of storing it")
	return cmd
}
