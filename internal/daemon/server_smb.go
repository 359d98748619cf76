//go:build smb

package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	smb2 "github.com/macos-fuse-t/go-smb2/server"
	"github.com/macos-fuse-t/go-smb2/vfs"
)

func init() {
	netFSTypeName = "smb"
}

// SMBServer wraps the go-smb2 server
type SMBServer struct {
	server *smb2.Server
}

// NewSMBServer creates a guest-accessible SMB server sharing fs
func NewSMBServer(fs vfs.VFSFileSystem, shareName string) *SMBServer {
	smbCfg := &smb2.ServerConfig{
		AllowGuest:  true,
		MaxIOReads:  4,
		MaxIOWrites: 4,
	}

	shares := map[string]vfs.VFSFileSystem{
		shareName: fs,
	}

	auth := &smb2.NTLMAuthenticator{
		NbDomain:   "WORKGROUP",
		NbName:     "SPOCKFS",
		DnsName:    "spockfs.local",
		DnsDomain:  ".local",
		AllowGuest: true,
	}

	return &SMBServer{
		server: smb2.NewServer(smbCfg, auth, shares),
	}
}

// Serve starts the SMB server
func (s *SMBServer) Serve(addr string) error {
	return s.server.Serve(addr)
}

// Shutdown stops the SMB server
func (s *SMBServer) Shutdown() {
	s.server.Shutdown()
}

// SMBMount mounts the share at mountPath as guest over loopback
func SMBMount(port int, shareName string, mountPath string) error {
	if err := os.MkdirAll(mountPath, 0755); err != nil {
		return fmt.Errorf("failed to create mount point: %w", err)
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("mount_smbfs", "-N",
			fmt.Sprintf("//guest@127.0.0.1:%d/%s", port, shareName), mountPath)
	default:
		cmd = exec.Command("mount", "-t", "cifs",
			fmt.Sprintf("//127.0.0.1/%s", shareName), mountPath,
			"-o", fmt.Sprintf("port=%d,guest,vers=3.0", port))
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w: %s", cmd.Args[0], err, string(output))
	}
	return nil
}

var _ NetFSServer = (*SMBServer)(nil)
