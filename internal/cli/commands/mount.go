package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"spockfs/internal/daemon"
	"spockfs/internal/util"
)

var mountCmd = &cobra.Command{
	Use:   "mount <mount-point>",
	Short: "Start the daemon with a FUSE mount",
	Long: `Starts the daemon in the background with the namespace mounted at
<mount-point> through FUSE. Other settings come from settings.yaml.

Examples:
  spockfs mount ~/spock
  spockfs unmount ~/spock`,
	Args: cobra.ExactArgs(1),
	RunE: runMount,
}

var unmountCmd = &cobra.Command{
	Use:     "unmount <mount-point>",
	Aliases: []string{"umount"},
	Short:   "Unmount a spockfs mount",
	Long: `Unmounts a FUSE or NFS/SMB mount. The daemon keeps running; use
'spockfs daemon stop' to stop it.`,
	Args: cobra.ExactArgs(1),
	RunE: runUnmount,
}

func init() {
	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(unmountCmd)
}

func runMount(cmd *cobra.Command, args []string) error {
	target, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	if daemon.IsDaemonRunning() {
		return fmt.Errorf("daemon already running; restart it with: spockfs daemon start --restart --mount %s", target)
	}

	cfg := util.DaemonStartConfig{PollConfig: util.DefaultPollConfig()}
	childArgs := []string{"daemon", "start", "--foreground", "--mount=" + target}
	if err := util.StartDaemonIfNeeded(cmd.Context(), cfg, daemon.IsDaemonRunning, childArgs); err != nil {
		return err
	}
	fmt.Printf("Mounted at %s\n", target)
	return nil
}

func runUnmount(cmd *cobra.Command, args []string) error {
	target, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	if !daemon.IsMounted(target) {
		return fmt.Errorf("%s is not mounted", target)
	}
	if err := daemon.Unmount(target); err != nil {
		return err
	}
	fmt.Printf("Unmounted %s\n", target)
	return nil
}
