package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"spockfs/internal/daemon"
	"spockfs/internal/util"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Daemon management commands",
	Long:  `Commands for controlling the spockfs daemon.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	Long: `Starts the spockfs daemon in the background.

Flags override settings.yaml for this run only. Use 'daemon config' to
change them permanently.

Examples:
  # Serve NFS on a random loopback port and mount with FUSE
  spockfs daemon start --listen 127.0.0.1:0 --mount ~/spock

  # Start from a copy of a host directory when no snapshot exists
  spockfs daemon start --seed ~/project

  # Keep everything in memory
  spockfs daemon start --snapshot-file none -f`,
	Args: cobra.NoArgs,
	RunE: runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	Long:  `Stops the running spockfs daemon. The namespace is saved first.`,
	Args:  cobra.NoArgs,
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStatus,
}

var daemonConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Configure daemon settings",
	Long: `Configure persistent daemon settings.

Settings are stored in ~/.spockfs/settings.yaml and take effect on next daemon start.

Examples:
  # Enable debug logging
  spockfs daemon config --logging debug

  # Save every minute and keep the last 20 snapshots
  spockfs daemon config --autosave 60 --keep 20

  # Show current configuration
  spockfs daemon config`,
	Args: cobra.NoArgs,
	RunE: runDaemonConfig,
}

// Flags shared by daemon start and daemon config
type daemonFlags struct {
	logLevel     string
	listen       string
	mountPoint   string
	netfsMount   string
	snapshotFile string
	seedDir      string
	autosave     int
	keep         int
}

var (
	daemonForeground  bool
	daemonRestart     bool
	daemonSkipCleanup bool
	startFlags        daemonFlags
	configFlags       daemonFlags
)

func (f *daemonFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.logLevel, "logging", "", "Log level: trace, debug, info, warn, off")
	cmd.Flags().StringVar(&f.listen, "listen", "", "NFS/SMB listen address (host:port, port 0 picks one, empty disables)")
	cmd.Flags().StringVar(&f.mountPoint, "mount", "", "FUSE mount point (empty disables)")
	cmd.Flags().StringVar(&f.netfsMount, "netfs-mount", "", "Mount the NFS/SMB export here (empty skips)")
	cmd.Flags().StringVar(&f.snapshotFile, "snapshot-file", "", "Snapshot database, \"none\" keeps the namespace in memory only")
	cmd.Flags().StringVar(&f.seedDir, "seed", "", "Host directory copied in when no snapshot exists")
	cmd.Flags().IntVar(&f.autosave, "autosave", 0, "Seconds between periodic snapshots, 0 saves only on shutdown")
	cmd.Flags().IntVar(&f.keep, "keep", 0, "Snapshots kept after each save, 0 keeps all")
}

// apply copies the flags that were set on cmd into settings and returns
// them as arguments for a child process
func (f *daemonFlags) apply(cmd *cobra.Command, settings *daemon.GlobalSettings) []string {
	var args []string
	set := func(name, value string, dst *string) {
		if cmd.Flags().Changed(name) {
			*dst = value
			args = append(args, "--"+name+"="+value)
		}
	}
	setInt := func(name string, value int, dst *int) {
		if cmd.Flags().Changed(name) {
			*dst = value
			args = append(args, "--"+name+"="+strconv.Itoa(value))
		}
	}
	set("logging", f.logLevel, &settings.LogLevel)
	set("listen", f.listen, &settings.Listen)
	set("mount", f.mountPoint, &settings.MountPoint)
	set("netfs-mount", f.netfsMount, &settings.NetFSMount)
	set("snapshot-file", f.snapshotFile, &settings.SnapshotFile)
	set("seed", f.seedDir, &settings.SeedDir)
	setInt("autosave", f.autosave, &settings.AutosaveInterval)
	setInt("keep", f.keep, &settings.KeepSnapshots)
	return args
}

func init() {
	daemonStartCmd.Flags().BoolVarP(&daemonForeground, "foreground", "f", false, "Run in foreground")
	daemonStartCmd.Flags().BoolVar(&daemonRestart, "restart", false, "Restart daemon if already running (no confirmation)")
	daemonStartCmd.Flags().BoolVar(&daemonSkipCleanup, "skip-cleanup", false, "Skip startup cleanup of stale mounts, pid file and socket")
	startFlags.register(daemonStartCmd)
	configFlags.register(daemonConfigCmd)

	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonConfigCmd)
	rootCmd.AddCommand(daemonCmd)
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	if daemon.IsDaemonRunning() {
		pid, _ := daemon.GetPID()
		if !daemonRestart {
			fmt.Printf("Daemon already running (PID %d)\n", pid)
			fmt.Println("Use --restart to restart the daemon")
			return nil
		}
		fmt.Printf("Daemon already running (PID %d), restarting...\n", pid)
		if err := stopDaemonAndWait(); err != nil {
			return fmt.Errorf("failed to stop daemon for restart: %w", err)
		}
	}

	settings, err := daemon.LoadGlobalSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	overrides := startFlags.apply(cmd, settings)

	if daemonForeground {
		d := daemon.New()
		d.Settings = settings
		d.SkipCleanup = daemonSkipCleanup
		return d.Run(context.Background())
	}

	childArgs := append([]string{"daemon", "start", "--foreground"}, overrides...)
	if daemonSkipCleanup {
		childArgs = append(childArgs, "--skip-cleanup")
	}
	cfg := util.DaemonStartConfig{PollConfig: util.DefaultPollConfig()}
	if err := util.StartDaemonIfNeeded(cmd.Context(), cfg, daemon.IsDaemonRunning, childArgs); err != nil {
		return err
	}
	pid, _ := daemon.GetPID()
	fmt.Printf("Daemon started (PID %d)\n", pid)
	return nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	if !daemon.IsDaemonRunning() {
		fmt.Println("Daemon not running")
		cleanupAfterStop()
		return nil
	}
	if err := stopDaemonAndWait(); err != nil {
		return err
	}
	fmt.Println("Daemon stopped")
	return nil
}

// stopDaemonAndWait asks the daemon to stop and waits for its process to
// exit. The daemon saves on the way out, so the wait is generous before it
// is killed.
func stopDaemonAndWait() error {
	pid, _ := daemon.GetPID()

	isRunning := daemon.IsDaemonRunning
	if pid > 0 {
		isRunning = func() bool { return util.IsProcessRunning(pid) }
	}
	graceful := func() error {
		client, err := daemon.Connect()
		if err != nil {
			return err
		}
		defer client.Close()
		_, err = client.Stop()
		return err
	}

	cfg := util.ProcessConfig{GracefulTimeout: 30 * time.Second, PollInterval: 50 * time.Millisecond}
	if err := util.StopProcess(context.Background(), pid, cfg, graceful, isRunning); err != nil {
		return err
	}
	cleanupAfterStop()
	return nil
}

// cleanupAfterStop removes mounts, pid file and socket a killed daemon left
func cleanupAfterStop() {
	settings, err := daemon.LoadGlobalSettings()
	if err != nil {
		settings = &daemon.GlobalSettings{}
	}
	if result := daemon.CleanupStale(settings.MountPoint, settings.NetFSMount); result.Any() {
		fmt.Fprintln(os.Stderr, daemon.FormatCleanupResult(result))
	}
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	settings, err := daemon.LoadGlobalSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	if !daemon.IsDaemonRunning() {
		fmt.Println("Daemon: not running")
		printSettings(settings)
		return nil
	}

	client, err := daemon.Connect()
	if err != nil {
		return fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer client.Close()
	resp, err := client.Status()
	if err != nil {
		return err
	}

	st := resp.Status
	fmt.Printf("Daemon: running (PID %d)\n", resp.PID)
	fmt.Printf("  Filesystem ID: %s\n", st.FSID)
	fmt.Printf("  Started: %s\n", time.Unix(st.StartedAt, 0).Format(time.RFC3339))
	if st.Listen != "" {
		fmt.Printf("  %s: %s\n", st.NetFS, st.Listen)
	} else {
		fmt.Printf("  %s: disabled\n", st.NetFS)
	}
	if st.MountPoint != "" {
		fmt.Printf("  FUSE: %s\n", st.MountPoint)
	}
	if st.SnapshotFile != "" {
		fmt.Printf("  Snapshot file: %s\n", st.SnapshotFile)
		if st.LastSaveAt > 0 {
			fmt.Printf("  Last save: %s\n", time.Unix(st.LastSaveAt, 0).Format(time.RFC3339))
		} else {
			fmt.Println("  Last save: never")
		}
	} else {
		fmt.Println("  Snapshots: disabled")
	}
	fmt.Printf("  Open handles: %d\n", st.OpenHandles)
	return nil
}

func runDaemonConfig(cmd *cobra.Command, args []string) error {
	settings, err := daemon.LoadGlobalSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	if changed := configFlags.apply(cmd, settings); len(changed) == 0 {
		fmt.Println("Current daemon configuration:")
		printSettings(settings)
		fmt.Println()
		fmt.Println("To change settings:")
		fmt.Println("  spockfs daemon config --logging <level>")
		fmt.Println("  spockfs daemon config --listen <host:port> --mount <dir>")
		return nil
	}

	if err := daemon.SaveGlobalSettings(settings); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	fmt.Printf("Settings saved to %s\n", daemon.GlobalSettingsPath())
	if daemon.IsDaemonRunning() {
		fmt.Println("Restart the daemon to apply: spockfs daemon start --restart")
	}
	return nil
}

func printSettings(s *daemon.GlobalSettings) {
	orNone := func(v string) string {
		if v == "" {
			return "(none)"
		}
		return v
	}
	logLevel := s.LogLevel
	if logLevel == "" {
		logLevel = "off"
	}
	fmt.Printf("  Log level: %s\n", logLevel)
	fmt.Printf("  Listen (%s): %s\n", daemon.NetFSType(), orNone(s.Listen))
	fmt.Printf("  Network mount: %s\n", orNone(s.NetFSMount))
	fmt.Printf("  FUSE mount: %s\n", orNone(s.MountPoint))
	if path := s.SnapshotPath(); path != "" {
		fmt.Printf("  Snapshot file: %s\n", path)
		fmt.Printf("  Autosave: every %ds, keep %d\n", s.AutosaveInterval, s.KeepSnapshots)
	} else {
		fmt.Println("  Snapshot file: disabled")
	}
	fmt.Printf("  Seed directory: %s\n", orNone(s.SeedDir))
}
