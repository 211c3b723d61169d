package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/cuemby/burrow/pkg/reconciler"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push queued changes and pull the remote dataset once",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Remote.URL == "" {
			return fmt.Errorf("remote url is required to sync")
		}
		a, err := openLocal()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*cfg.Remote.Timeout+10*time.Second)
		defer cancel()

		result, err := a.rec.Sync(ctx)
		if err != nil {
			return err
		}
		printSyncResult(cmd.OutOrStdout(), result)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:       "list COLLECTION",
	Short:     "Print the local records of a collection as YAML",
	Args:      cobra.ExactArgs(1),
	ValidArgs: collectionNames(),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := types.ParseCollection(args[0])
		if err != nil {
			return err
		}
		a, err := openLocal()
		if err != nil {
			return err
		}
		defer a.Close()

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(a.mgr.Dataset().Records(c))
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete COLLECTION ID",
	Short: "Delete a local record and queue its removal",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := types.ParseCollection(args[0])
		if err != nil {
			return err
		}
		a, err := openLocal()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.mgr.Remove(c, args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s/%s deleted\n", c, args[1])
		a.pushPending(cmd)
		return nil
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the pending mutation queue",
}

var queueListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List mutations waiting to be pushed, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openLocal()
		if err != nil {
			return err
		}
		defer a.Close()

		pending, err := a.mgr.PendingMutations()
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tACTION\tCOLLECTION\tID\tENQUEUED")
		for _, q := range pending {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
				q.Key, q.Entry.Action, q.Entry.Collection, q.Entry.RecordID(),
				q.Entry.EnqueuedAt.Local().Format(time.DateTime))
		}
		return w.Flush()
	},
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change school settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openLocal()
		if err != nil {
			return err
		}
		defer a.Close()
		return yaml.NewEncoder(cmd.OutOrStdout()).Encode(a.mgr.Settings())
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change one or more settings fields",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if !flags.Changed("semester") && !flags.Changed("tahun-ajaran") && !flags.Changed("kepala-sekolah") {
			return fmt.Errorf("nothing to change: pass --semester, --tahun-ajaran or --kepala-sekolah")
		}

		a, err := openLocal()
		if err != nil {
			return err
		}
		defer a.Close()

		s := a.mgr.Settings()
		if flags.Changed("semester") {
			s.Semester, _ = flags.GetString("semester")
		}
		if flags.Changed("tahun-ajaran") {
			s.TahunAjaran, _ = flags.GetString("tahun-ajaran")
		}
		if flags.Changed("kepala-sekolah") {
			s.KepalaSekolah, _ = flags.GetString("kepala-sekolah")
		}
		if err := a.mgr.SaveSettings(s); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Settings saved")
		a.pushPending(cmd)
		return nil
	},
}

func init() {
	settingsSetCmd.Flags().String("semester", "", "Semester (Ganjil or Genap)")
	settingsSetCmd.Flags().String("tahun-ajaran", "", "Academic year, e.g. 2024/2025")
	settingsSetCmd.Flags().String("kepala-sekolah", "", "Name of the head of school")
	settingsCmd.AddCommand(settingsSetCmd)

	queueCmd.AddCommand(queueListCmd)

	rootCmd.AddCommand(syncCmd, listCmd, deleteCmd, queueCmd, settingsCmd)
}

func printSyncResult(w io.Writer, result *reconciler.SyncResult) {
	total := 0
	for _, n := range result.Pulled {
		total += n
	}
	fmt.Fprintf(w, "Pushed: %d\nStill queued: %d\nPulled: %d records\n", result.Pushed, result.Remaining, total)
	for _, c := range types.Collections {
		fmt.Fprintf(w, "  %-11s %d\n", c, result.Pulled[c])
	}
	fmt.Fprintf(w, "Duration: %s\n", result.Duration.Round(time.Millisecond))
}

func collectionNames() []string {
	names := make([]string, 0, len(types.Collections))
	for _, c := range types.Collections {
		names = append(names, string(c))
	}
	return names
}
