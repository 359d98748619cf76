package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statfsCmd = &cobra.Command{
	Use:   "statfs",
	Short: "Show capacity and usage of the live namespace",
	Args:  cobra.NoArgs,
	RunE:  runStatFS,
}

func init() {
	rootCmd.AddCommand(statfsCmd)
}

func runStatFS(cmd *cobra.Command, args []string) error {
	client, err := requireDaemon()
	if err != nil {
		return err
	}
	defer client.Close()

	st, err := client.StatFS()
	if err != nil {
		return err
	}
	bs := int64(st.BlockSize)
	fmt.Printf("Block size:  %d\n", st.BlockSize)
	fmt.Printf("Blocks:      %d total, %d free (%s of %s free)\n", st.Blocks, st.BlocksFree,
		formatBytes(int64(st.BlocksFree)*bs), formatBytes(int64(st.Blocks)*bs))
	fmt.Printf("Inodes:      %d total, %d free\n", st.Files, st.FilesFree)
	fmt.Printf("Name max:    %d\n", st.NameMax)
	fmt.Printf("Filesystem:  %016x\n", st.FSID)
	return nil
}
