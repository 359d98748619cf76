package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"spockfs/internal/daemon"
	"spockfs/internal/storage"
)

var snapshotCmd = &cobra.Command{
	Use:     "snapshot",
	Aliases: []string{"snap"},
	Short:   "Manage namespace snapshots",
	Long: `Manage snapshots of the namespace.

Snapshot listing, deletion and pruning go through the daemon when it is
running and open the snapshot file directly otherwise. Saving needs the
running daemon.

Examples:
  spockfs snapshot save -m "before refactor"
  spockfs snapshot list
  spockfs snapshot prune --keep 5
  spockfs snapshot delete 3f2a91c0 -y`,
}

var snapshotSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save the live namespace now",
	Args:  cobra.NoArgs,
	RunE:  runSnapshotSave,
}

var snapshotListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List snapshots, newest first",
	Args:    cobra.NoArgs,
	RunE:    runSnapshotList,
}

var snapshotInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show snapshot file usage",
	Args:  cobra.NoArgs,
	RunE:  runSnapshotInfo,
}

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete <snapshot>",
	Short: "Delete a snapshot",
	Long: `Delete a snapshot. The snapshot is named by its ID or a unique prefix.
Content blocks still used by other snapshots are kept.`,
	Args: cobra.ExactArgs(1),
	RunE: runSnapshotDelete,
}

var snapshotPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Keep only the newest snapshots",
	Args:  cobra.NoArgs,
	RunE:  runSnapshotPrune,
}

var (
	saveMessage       string
	deleteSkipConfirm bool
	pruneKeep         int
)

func init() {
	snapshotSaveCmd.Flags().StringVarP(&saveMessage, "message", "m", "", "Snapshot message")
	snapshotDeleteCmd.Flags().BoolVarP(&deleteSkipConfirm, "yes", "y", false, "Skip confirmation prompt")
	snapshotPruneCmd.Flags().IntVar(&pruneKeep, "keep", 10, "Number of snapshots to keep")

	snapshotCmd.AddCommand(snapshotSaveCmd)
	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotCmd.AddCommand(snapshotInfoCmd)
	snapshotCmd.AddCommand(snapshotDeleteCmd)
	snapshotCmd.AddCommand(snapshotPruneCmd)
	rootCmd.AddCommand(snapshotCmd)
}

// openSnapshotFile opens the configured snapshot file for commands that
// run without the daemon
func openSnapshotFile() (*storage.SnapshotFile, error) {
	settings, err := daemon.LoadGlobalSettings()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	path := settings.SnapshotPath()
	if path == "" {
		return nil, fmt.Errorf("snapshots are disabled (snapshot_file: %s)", settings.SnapshotFile)
	}
	return storage.Open(path)
}

func runSnapshotSave(cmd *cobra.Command, args []string) error {
	client, err := requireDaemon()
	if err != nil {
		return err
	}
	defer client.Close()

	snap, err := client.Save(saveMessage)
	if err != nil {
		return err
	}
	fmt.Printf("Saved snapshot %s (%d inodes, %s)\n", shortID(snap.ID), snap.InodeCount, formatBytes(snap.TotalSize))
	return nil
}

func listSnapshots(ctx context.Context) ([]daemon.SnapshotInfo, error) {
	if daemon.IsDaemonRunning() {
		client, err := daemon.Connect()
		if err != nil {
			return nil, fmt.Errorf("failed to connect to daemon: %w", err)
		}
		defer client.Close()
		return client.ListSnapshots()
	}

	sf, err := openSnapshotFile()
	if err != nil {
		return nil, err
	}
	defer sf.Close()
	snaps, err := sf.List(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]daemon.SnapshotInfo, 0, len(snaps))
	for _, s := range snaps {
		infos = append(infos, daemon.SnapshotInfo{
			ID:         s.ID,
			Message:    s.Message,
			CreatedAt:  s.CreatedAt.Unix(),
			InodeCount: s.InodeCount,
			TotalSize:  s.TotalSize,
		})
	}
	return infos, nil
}

func runSnapshotList(cmd *cobra.Command, args []string) error {
	snapshots, err := listSnapshots(cmd.Context())
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		fmt.Println("No snapshots")
		return nil
	}
	printSnapshotList(snapshots)
	return nil
}

// printSnapshotList prints a list of snapshots in git-log style
func printSnapshotList(snapshots []daemon.SnapshotInfo) {
	yellow := "\033[33m"
	reset := "\033[0m"

	for _, s := range snapshots {
		fmt.Printf("%ssnapshot %s%s\n", yellow, shortID(s.ID), reset)
		fmt.Printf("Date:   %s\n", time.Unix(s.CreatedAt, 0).Format("Mon Jan 2 15:04:05 2006"))
		fmt.Printf("Size:   %d inodes, %s\n", s.InodeCount, formatBytes(s.TotalSize))
		if s.Message != "" {
			fmt.Println()
			for _, line := range strings.Split(s.Message, "\n") {
				fmt.Printf("    %s\n", line)
			}
		}
		fmt.Println()
	}
}

func runSnapshotInfo(cmd *cobra.Command, args []string) error {
	sf, err := openSnapshotFile()
	if err != nil {
		return err
	}
	defer sf.Close()

	info, err := sf.Info(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Snapshot file: %s\n", info.Path)
	fmt.Printf("Snapshots: %d\n", len(info.Snapshots))
	fmt.Printf("Storage: %s in %d content blocks\n", formatBytes(info.StoredBytes), info.Blocks)
	if len(info.Snapshots) > 0 {
		latest := info.Snapshots[0]
		fmt.Printf("Latest: %s (%s, %d inodes, %s)\n", shortID(latest.ID),
			latest.CreatedAt.Format(time.RFC3339), latest.InodeCount, formatBytes(latest.TotalSize))
	}
	return nil
}

// resolveSnapshotID expands a unique ID prefix to the full snapshot ID
func resolveSnapshotID(snapshots []daemon.SnapshotInfo, ref string) (string, error) {
	var match string
	for _, s := range snapshots {
		if s.ID == ref {
			return s.ID, nil
		}
		if strings.HasPrefix(s.ID, ref) {
			if match != "" {
				return "", fmt.Errorf("snapshot prefix %q is ambiguous", ref)
			}
			match = s.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("snapshot %q not found", ref)
	}
	return match, nil
}

func runSnapshotDelete(cmd *cobra.Command, args []string) error {
	snapshots, err := listSnapshots(cmd.Context())
	if err != nil {
		return err
	}
	id, err := resolveSnapshotID(snapshots, args[0])
	if err != nil {
		return err
	}

	if !deleteSkipConfirm {
		fmt.Printf("Delete snapshot %s? [y/N] ", shortID(id))
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(strings.ToLower(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Aborted")
			return nil
		}
	}

	if daemon.IsDaemonRunning() {
		client, err := daemon.Connect()
		if err != nil {
			return fmt.Errorf("failed to connect to daemon: %w", err)
		}
		defer client.Close()
		if err := client.DeleteSnapshot(id); err != nil {
			return err
		}
	} else {
		sf, err := openSnapshotFile()
		if err != nil {
			return err
		}
		defer sf.Close()
		if err := sf.Delete(cmd.Context(), id); err != nil {
			return err
		}
	}
	fmt.Printf("Deleted snapshot %s\n", shortID(id))
	return nil
}

func runSnapshotPrune(cmd *cobra.Command, args []string) error {
	if pruneKeep < 1 {
		return fmt.Errorf("--keep must be at least 1")
	}

	var pruned int
	if daemon.IsDaemonRunning() {
		client, err := daemon.Connect()
		if err != nil {
			return fmt.Errorf("failed to connect to daemon: %w", err)
		}
		defer client.Close()
		if pruned, err = client.Prune(pruneKeep); err != nil {
			return err
		}
	} else {
		sf, err := openSnapshotFile()
		if err != nil {
			return err
		}
		defer sf.Close()
		if pruned, err = sf.Prune(cmd.Context(), pruneKeep); err != nil {
			return err
		}
	}
	fmt.Printf("Pruned %d snapshot(s), kept up to %d\n", pruned, pruneKeep)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
