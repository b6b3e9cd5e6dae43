package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tablearena/tablearena/internal/artifact"
	"github.com/tablearena/tablearena/internal/leaderboard"
	"github.com/tablearena/tablearena/internal/submission"
)

func leaderboardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Inspect or edit the leaderboard file",
		Long: `Inspect or edit the leaderboard file directly.

Edits bypass the server; stop it first or use the admin API instead.`,
	}
	cmd.PersistentFlags().String("path", "", "leaderboard file (overrides config)")

	cmd.AddCommand(leaderboardListCmd(), leaderboardRemoveCmd())
	return cmd
}

func leaderboardListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the ranked leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			board, backend, _, err := openBoard(cmd)
			if err != nil {
				return err
			}
			entries, err := board.List()
			if err != nil {
				return err
			}

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d entries\n", backend.Path(), len(entries))
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RANK\tNAME\tSCORE")
			for i, e := range entries {
				fmt.Fprintf(tw, "%d\t%s\t%.4f\n", i+1, e.Name, e.Score)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Bool("json", false, "print JSON instead of a table")
	return cmd
}

func leaderboardRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a participant and their stored artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			board, _, registry, err := openBoard(cmd)
			if err != nil {
				return err
			}
			name, err := submission.CleanName(args[0])
			if err != nil {
				return err
			}

			removal, err := registry.Stage(name)
			if err != nil {
				return err
			}
			if _, err := board.Remove(name); err != nil {
				if rbErr := removal.Rollback(); rbErr != nil {
					return fmt.Errorf("%w (restore failed: %v)", err, rbErr)
				}
				return err
			}
			if err := removal.Commit(); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", name)
			return nil
		},
	}
}

func openBoard(cmd *cobra.Command) (*leaderboard.Store, *leaderboard.FileBackend, *artifact.Registry, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	if cmd.Flags().Changed("path") {
		cfg.Data.LeaderboardPath, _ = cmd.Flags().GetString("path")
	}

	backend, err := leaderboard.NewFileBackend(cfg.Data.LeaderboardPath)
	if err != nil {
		return nil, nil, nil, err
	}
	registry, err := artifact.NewRegistry(cfg.Data.UploadDir, cfg.Data.DetailsDir)
	if err != nil {
		return nil, nil, nil, err
	}
	return leaderboard.NewStore(backend), backend, registry, nil
}
