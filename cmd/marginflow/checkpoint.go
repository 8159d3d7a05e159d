package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/marginflow/agent/escalation"
	"github.com/BaSui01/marginflow/agent/persistence"
	"github.com/BaSui01/marginflow/workflow"
)

func newCheckpointCmd(root *rootOptions) *cobra.Command {
	var thread string

	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or delete thread checkpoints",
	}
	cmd.PersistentFlags().StringVarP(&thread, "thread", "t", escalation.DemoThread, "Thread id")

	var raw bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the persisted transcript of a thread",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(root)
			if err != nil {
				return err
			}
			defer closeStore(root, store)

			cp, err := store.Load(cmd.Context(), thread)
			if errors.Is(err, workflow.ErrCheckpointNotFound) {
				fmt.Fprintf(cmd.OutOrStdout(), "thread %s has no checkpoint\n", thread)
				return nil
			}
			if err != nil {
				return err
			}

			if raw {
				data, err := workflow.MarshalCheckpoint(cp)
				if err != nil {
					return err
				}
				var pretty json.RawMessage = data
				out, err := json.MarshalIndent(pretty, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}

			printTranscript(cmd.OutOrStdout(), cp.Messages)
			fmt.Fprintf(cmd.OutOrStdout(), "\nthread=%s version=%d cursor=%s updated_at=%s\n",
				cp.ThreadID, cp.Version, cursorLabel(cp.Cursor), cp.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"))
			return nil
		},
	}
	show.Flags().BoolVar(&raw, "raw", false, "Print the stored JSON document")

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Delete the checkpoint of a thread",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(root)
			if err != nil {
				return err
			}
			defer closeStore(root, store)

			if err := store.Delete(cmd.Context(), thread); err != nil {
				return err
			}
			root.logger.Info("checkpoint deleted", zap.String("thread_id", thread))
			fmt.Fprintf(cmd.OutOrStdout(), "thread %s reset\n", thread)
			return nil
		},
	}

	cmd.AddCommand(show, reset)
	return cmd
}

func openStore(root *rootOptions) (persistence.CheckpointStore, error) {
	sc, err := storeConfig(root.cfg)
	if err != nil {
		return nil, err
	}
	return persistence.NewCheckpointStore(sc, root.logger)
}

func closeStore(root *rootOptions, store persistence.CheckpointStore) {
	if err := store.Close(); err != nil {
		root.logger.Warn("close store", zap.Error(err))
	}
}
