package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nvandessel/eventradar/internal/projection"
)

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults, the config file and EVENTRADAR_*
environment variables have been applied.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), cfg)
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func newInitWeightsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init-weights",
		Short: "Write seeded initial projection weights as checkpoints",
		Long: `Write the deterministic Xavier-initialized event and user towers as
safetensors checkpoints. Checkpoints go to the configured paths, or to
<data-dir>/weights/ when none are configured. Existing files are kept
unless --force is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			force, _ := cmd.Flags().GetBool("force")

			shape := cfg.Projection.Shape
			eventPath, userPath := cfg.CheckpointPaths()
			towers := []struct {
				name string
				path string
				seed uint64
			}{
				{"event", eventPath, projection.EventSeed},
				{"user", userPath, projection.UserSeed},
			}

			written := map[string]string{}
			for _, t := range towers {
				path := t.path
				if _, err := os.Stat(path); err == nil && !force {
					return fmt.Errorf("%s exists (use --force to overwrite)", path)
				} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
					return err
				}
				meta := map[string]string{
					"tower": t.name,
					"init":  "xavier-uniform",
					"seed":  strconv.FormatUint(t.seed, 10),
				}
				if err := projection.SaveCheckpoint(path, projection.NewXavier(shape, t.seed), meta); err != nil {
					return fmt.Errorf("writing %s tower: %w", t.name, err)
				}
				written[t.name] = path
			}

			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), written)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Event tower: %s\n✓ User tower:  %s\n", written["event"], written["user"])
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "Overwrite existing checkpoints")
	return cmd
}
