package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nvandessel/eventradar/internal/ranking"
)

func newRecommendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Recommend events for a user profile",
		Long: `Rank stored events against a user profile. --top-k is clamped into the
configured range. Excluded events are filtered after the search, so the list
can be shorter than --top-k when few events remain.

Examples:
  eventradar recommend --major "Computer Science" --year Junior --interest "AI Club" --interest Photography
  eventradar recommend --major Business --year Senior --exclude evt-1,evt-2 --top-k 5 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			major, _ := cmd.Flags().GetString("major")
			year, _ := cmd.Flags().GetString("year")
			interests, _ := cmd.Flags().GetStringSlice("interest")
			attended, _ := cmd.Flags().GetStringArray("attended")
			exclude, _ := cmd.Flags().GetStringSlice("exclude")

			req := ranking.RecommendRequest{
				User: ranking.UserProfile{
					Major:          major,
					YearOfStudy:    year,
					Interests:      interests,
					AttendedEvents: attended,
				},
				ExcludeIDs: exclude,
			}
			if cmd.Flags().Changed("top-k") {
				topK, _ := cmd.Flags().GetInt("top-k")
				req.TopK = &topK
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				recs, err := a.engine.Recommend(ctx, req)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(cmd.OutOrStdout(), recs)
				}
				out := cmd.OutOrStdout()
				if len(recs.Results) == 0 {
					fmt.Fprintf(out, "No recommendations (%d events indexed)\n", recs.TotalIndexed)
					return nil
				}
				fmt.Fprintf(out, "Recommendations (%d events indexed):\n", recs.TotalIndexed)
				for i, r := range recs.Results {
					fmt.Fprintf(out, "%2d. %-40s %.4f  %s\n", i+1, r.Title, ranking.RoundScore(r.Score), r.EventID)
					if len(r.Tags) > 0 {
						fmt.Fprintf(out, "    %s\n", strings.Join(r.Tags, ", "))
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().String("major", "", "Major or field of study (required)")
	cmd.Flags().String("year", "", "Year of study (required)")
	cmd.Flags().StringSlice("interest", nil, "Club or interest (repeatable or comma-separated)")
	cmd.Flags().StringArray("attended", nil, "Description of a previously attended event (repeatable)")
	cmd.Flags().Int("top-k", 0, "Number of recommendations (defaults to ranking.default_top_k)")
	cmd.Flags().StringSlice("exclude", nil, "Event ids to exclude (repeatable or comma-separated)")
	return cmd
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report index and encoder health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				h := a.engine.Health(ctx)
				if jsonOutput(cmd) {
					return printJSON(cmd.OutOrStdout(), h)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Status:     %s\n", h.Status)
				fmt.Fprintf(out, "Events:     %d (dim %d, generation %d)\n", h.IndexedCount, h.EmbeddingDim, h.Generation)
				fmt.Fprintf(out, "Backend:    %s\n", h.Backend)
				trained := "untrained"
				if h.Trained {
					trained = "trained"
				}
				fmt.Fprintf(out, "Weights:    %s (%s)\n", h.WeightsSource, trained)
				reach := "reachable"
				if !h.EncoderHealthy {
					reach = "unreachable"
				}
				fmt.Fprintf(out, "Encoder:    %s (%s)\n", h.Encoder, reach)
				return nil
			})
		},
	}
}
