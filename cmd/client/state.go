package main

import (
	"encoding/json"
	"fmt"

	"github.com/cbodonnell/apsync/pkg/repositories"
	"github.com/cbodonnell/apsync/pkg/state"
	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and manage the stored sync state",
}

var stateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored sync state as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepository(cmd, func(repo repositories.Repository, key state.SessionKey) error {
			s, err := repo.LoadSyncState(cmd.Context(), key)
			if err != nil {
				return err
			}
			archives, err := repo.ListArchives(cmd.Context(), key)
			if err != nil {
				return err
			}
			out := struct {
				*state.Snapshot
				Archives int `json:"archives"`
			}{s.Snapshot(), len(archives)}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		})
	},
}

var stateArchiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Archive the stored sync state so the next run starts a new session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepository(cmd, func(repo repositories.Repository, key state.SessionKey) error {
			if err := repo.ArchiveSyncState(cmd.Context(), key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Archived %s\n", key)
			return nil
		})
	},
}

var stateExportCmd = &cobra.Command{
	Use:   "export <path>",
	Short: "Write the stored sync state to a compressed file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepository(cmd, func(repo repositories.Repository, key state.SessionKey) error {
			s, err := repo.LoadSyncState(cmd.Context(), key)
			if err != nil {
				return err
			}
			if err := repositories.WriteArchive(args[0], s.Snapshot()); err != nil {
				return fmt.Errorf("failed to export state: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %s to %s\n", key, args[0])
			return nil
		})
	},
}

var stateImportCmd = &cobra.Command{
	Use:   "import <path>",
	Short: "Replace the stored sync state with an exported or backed up one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepository(cmd, func(repo repositories.Repository, key state.SessionKey) error {
			snapshot, err := repositories.ReadArchive(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			if snapshot.Key != key {
				return fmt.Errorf("%s holds session %s, config is for %s", args[0], snapshot.Key, key)
			}
			s, err := state.FromSnapshot(snapshot)
			if err != nil {
				return err
			}
			// a lower watermark is refused by the repository; archive first to roll back
			if err := repo.SaveSyncState(cmd.Context(), s); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %s: %d checked, last applied %d\n",
				key, s.CheckedCount(), s.LastAppliedServerSequence())
			return nil
		})
	},
}

func init() {
	stateCmd.AddCommand(stateShowCmd, stateArchiveCmd, stateExportCmd, stateImportCmd)
}

func withRepository(cmd *cobra.Command, fn func(repo repositories.Repository, key state.SessionKey) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	key := state.SessionKey{Seed: cfg.Seed, Slot: cfg.Slot}
	if err := key.Validate(); err != nil {
		return err
	}
	repo, err := repositories.Open(cmd.Context(), cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer repo.Close(cmd.Context())
	return fn(repo, key)
}
