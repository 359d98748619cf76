//go:build !smb

package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path"
	"runtime"
	"sync"
	"time"

	billy "github.com/go-git/go-billy/v5"
	smbvfs "github.com/macos-fuse-t/go-smb2/vfs"
	log "github.com/sirupsen/logrus"
	nfs "github.com/willscott/go-nfs"
	nfsfile "github.com/willscott/go-nfs/file"
	nfshelper "github.com/willscott/go-nfs/helpers"
	"golang.org/x/sys/unix"

	"spockfs/internal/core"
	spockvfs "spockfs/internal/vfs"
)

func init() {
	netFSTypeName = "nfs"
}

// nfsHandleCacheSize is the number of file handles the go-nfs caching
// handler keeps
const nfsHandleCacheSize = 65536

// NFSServer wraps the go-nfs server
type NFSServer struct {
	server *nfs.Server
	cancel context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
}

// NewNFSServer creates an NFSv3 server exporting fs at "/"
func NewNFSServer(fs *spockvfs.SpockFS) *NFSServer {
	handler := nfshelper.NewNullAuthHandler(NewBillyAdapter(fs))
	cacheHelper := nfshelper.NewCachingHandler(handler, nfsHandleCacheSize)

	ctx, cancel := context.WithCancel(context.Background())
	return &NFSServer{
		server: &nfs.Server{Handler: cacheHelper, Context: ctx},
		cancel: cancel,
	}
}

// Serve listens on addr and serves until Shutdown
func (s *NFSServer) Serve(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.ServeListener(listener)
}

// ServeListener serves on an existing listener until Shutdown
func (s *NFSServer) ServeListener(listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	log.Infof("[NFS] serving on %s", listener.Addr())
	err := s.server.Serve(listener)
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Addr returns the bound address, or nil before Serve
func (s *NFSServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting connections and cancels in-flight handlers
func (s *NFSServer) Shutdown() {
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()

	// Settle time for in-flight NFS operations after the listener closes.
	time.Sleep(100 * time.Millisecond)
	s.cancel()
}

// NFSMount mounts the export at mountPath with the platform NFS client
func NFSMount(ip string, port int, mountPath string) error {
	if err := os.MkdirAll(mountPath, 0755); err != nil {
		return fmt.Errorf("failed to create mount point: %w", err)
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		// nobrowse keeps Spotlight from indexing the mount.
		cmd = exec.Command("mount_nfs",
			"-o", fmt.Sprintf("port=%d,mountport=%d,tcp,nolocks,vers=3,rsize=65536,wsize=65536,noac,soft,timeo=50,retrans=3,nobrowse", port, port),
			fmt.Sprintf("%s:/", ip),
			mountPath,
		)
	default:
		cmd = exec.Command("mount", "-t", "nfs",
			"-o", fmt.Sprintf("port=%d,mountport=%d,proto=tcp,mountproto=tcp,nolock,vers=3,rsize=65536,wsize=65536,noac,soft,timeo=50,retrans=3", port, port),
			fmt.Sprintf("%s:/", ip),
			mountPath,
		)
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w: %s", cmd.Args[0], err, string(output))
	}
	return nil
}

// BillyAdapter adapts SpockFS to the billy filesystem go-nfs serves.
// Everything is addressed by path; file contents go through open handles.
type BillyAdapter struct {
	fs *spockvfs.SpockFS
}

// NewBillyAdapter creates a billy adapter for SpockFS
func NewBillyAdapter(fs *spockvfs.SpockFS) *BillyAdapter {
	return &BillyAdapter{fs: fs}
}

func (b *BillyAdapter) Create(filename string) (billy.File, error) {
	return b.OpenFile(filename, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0666)
}

func (b *BillyAdapter) Open(filename string) (billy.File, error) {
	return b.OpenFile(filename, os.O_RDONLY, 0)
}

func (b *BillyAdapter) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	handle, err := b.fs.Open(filename, flag, int(perm.Perm()))
	if err != nil {
		return nil, err
	}
	return &BillyFile{
		adapter: b,
		handle:  handle,
		name:    filename,
		flags:   flag,
	}, nil
}

func (b *BillyAdapter) Stat(filename string) (os.FileInfo, error) {
	attr, err := b.fs.StatByPath(filename)
	if err != nil {
		return nil, err
	}
	return newBillyFileInfo(path.Base(filename), attr), nil
}

func (b *BillyAdapter) Lstat(filename string) (os.FileInfo, error) {
	attr, err := b.fs.GetAttrByPath(filename)
	if err != nil {
		return nil, err
	}
	return newBillyFileInfo(path.Base(filename), attr), nil
}

func (b *BillyAdapter) Rename(oldpath, newpath string) error {
	return b.fs.RenamePath(oldpath, newpath)
}

func (b *BillyAdapter) Remove(filename string) error {
	return b.fs.RemovePath(filename)
}

func (b *BillyAdapter) Join(elem ...string) string {
	return path.Join(elem...)
}

func (b *BillyAdapter) TempFile(dir, prefix string) (billy.File, error) {
	return nil, os.ErrInvalid
}

func (b *BillyAdapter) ReadDir(dirname string) ([]os.FileInfo, error) {
	entries, err := b.fs.ReadDirPath(dirname)
	if err != nil {
		return nil, err
	}
	result := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		result = append(result, newBillyFileInfo(e.Name, e.Attr))
	}
	return result, nil
}

func (b *BillyAdapter) MkdirAll(filename string, perm os.FileMode) error {
	return b.fs.MkdirAll(filename, int(perm.Perm()))
}

func (b *BillyAdapter) Symlink(target, link string) error {
	return b.fs.SymlinkPath(target, link)
}

func (b *BillyAdapter) Readlink(link string) (string, error) {
	return b.fs.ReadlinkPath(link)
}

func (b *BillyAdapter) Chroot(path string) (billy.Filesystem, error) {
	return nil, os.ErrInvalid
}

func (b *BillyAdapter) Root() string {
	return "/"
}

// billy.Change interface
func (b *BillyAdapter) Chmod(name string, mode os.FileMode) error {
	perm := uint32(mode.Perm())
	if mode&os.ModeSetuid != 0 {
		perm |= 0o4000
	}
	if mode&os.ModeSetgid != 0 {
		perm |= 0o2000
	}
	if mode&os.ModeSticky != 0 {
		perm |= 0o1000
	}
	return b.fs.ChmodPath(name, perm)
}

func (b *BillyAdapter) Lchown(name string, uid, gid int) error {
	return b.fs.ChownPath(name, uid, gid)
}

func (b *BillyAdapter) Chown(name string, uid, gid int) error {
	return b.fs.ChownPath(name, uid, gid)
}

func (b *BillyAdapter) Chtimes(name string, atime, mtime time.Time) error {
	return b.fs.ChtimesPath(name, atime, mtime)
}

func (b *BillyAdapter) Capabilities() billy.Capability {
	return billy.WriteCapability | billy.ReadCapability |
		billy.ReadAndWriteCapability | billy.SeekCapability | billy.TruncateCapability
}

// BillyFile is an open SpockFS handle with a seek offset
type BillyFile struct {
	adapter *BillyAdapter
	handle  smbvfs.VfsHandle
	name    string
	flags   int
	offset  int64
}

func (f *BillyFile) Name() string {
	return f.name
}

func (f *BillyFile) Write(p []byte) (n int, err error) {
	n, err = f.adapter.fs.Write(f.handle, p, uint64(f.offset), 0)
	if err == nil {
		f.offset += int64(n)
	}
	return
}

func (f *BillyFile) Read(p []byte) (n int, err error) {
	n, err = f.ReadAt(p, f.offset)
	f.offset += int64(n)
	return
}

// ReadAt follows io.ReaderAt: a short read reports io.EOF
func (f *BillyFile) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, os.ErrInvalid
	}
	n, err = f.adapter.fs.Read(f.handle, p, uint64(off), 0)
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *BillyFile) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = f.offset + offset
	case io.SeekEnd:
		attr, err := f.adapter.fs.HandleAttr(f.handle)
		if err != nil {
			return 0, err
		}
		next = attr.Size + offset
	default:
		return 0, os.ErrInvalid
	}
	if next < 0 {
		return 0, os.ErrInvalid
	}
	f.offset = next
	return f.offset, nil
}

func (f *BillyFile) Close() error {
	return f.adapter.fs.Close(f.handle)
}

func (f *BillyFile) Lock() error {
	return nil
}

func (f *BillyFile) Unlock() error {
	return nil
}

func (f *BillyFile) Truncate(size int64) error {
	if size < 0 {
		return os.ErrInvalid
	}
	return f.adapter.fs.Truncate(f.handle, uint64(size))
}

// BillyFileInfo exposes inode attributes as an os.FileInfo. Sys returns
// the go-nfs file info so link counts, owners and inode numbers reach
// NFS clients.
type BillyFileInfo struct {
	name string
	attr core.Attr
}

func newBillyFileInfo(name string, attr core.Attr) *BillyFileInfo {
	if name == "" || name == "." {
		name = "/"
	}
	return &BillyFileInfo{name: name, attr: attr}
}

func (fi *BillyFileInfo) Name() string {
	return fi.name
}

func (fi *BillyFileInfo) Size() int64 {
	return fi.attr.Size
}

func (fi *BillyFileInfo) Mode() os.FileMode {
	return spockvfs.FileMode(fi.attr)
}

func (fi *BillyFileInfo) ModTime() time.Time {
	return time.Unix(fi.attr.Mtime, 0)
}

func (fi *BillyFileInfo) IsDir() bool {
	return fi.attr.IsDir()
}

func (fi *BillyFileInfo) Sys() interface{} {
	// go-nfs only recognizes nfsfile.FileInfo here.
	return &nfsfile.FileInfo{
		Nlink:  fi.attr.Nlink,
		UID:    fi.attr.Uid,
		GID:    fi.attr.Gid,
		Major:  unix.Major(fi.attr.Rdev),
		Minor:  unix.Minor(fi.attr.Rdev),
		Fileid: uint64(fi.attr.Ino),
	}
}

var (
	_ billy.Filesystem = (*BillyAdapter)(nil)
	_ billy.Change     = (*BillyAdapter)(nil)
	_ billy.File       = (*BillyFile)(nil)
	_ os.FileInfo      = (*BillyFileInfo)(nil)
	_ NetFSServer      = (*NFSServer)(nil)
)
