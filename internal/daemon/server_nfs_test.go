//go:build !smb

package daemon

import (
	"io"
	"net"
	"os"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	nfsfile "github.com/willscott/go-nfs/file"

	"spockfs/internal/core"
	"spockfs/internal/dispatch"
	spockvfs "spockfs/internal/vfs"
)

func newTestAdapter(t *testing.T) *BillyAdapter {
	t.Helper()
	caller := core.Caller{Uid: 1000, Gid: 1000}
	inst, err := core.New(core.Options{RootOwner: caller})
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Close() })
	d := dispatch.New(inst, dispatch.Options{EnforceDirPermissions: true})
	return NewBillyAdapter(spockvfs.NewSpockFS(d, spockvfs.Options{Caller: caller}))
}

func TestBillyFileInfoMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		attr core.Attr
		want os.FileMode
	}{
		{"regular file", core.Attr{Type: core.TypeRegular, Mode: core.ModeRegular | 0644}, 0644},
		{"read-only file", core.Attr{Type: core.TypeRegular, Mode: core.ModeRegular | 0444}, 0444},
		{"directory", core.Attr{Type: core.TypeDirectory, Mode: core.ModeDir | 0755}, os.ModeDir | 0755},
		{"sticky directory", core.Attr{Type: core.TypeDirectory, Mode: core.ModeDir | 01777}, os.ModeDir | os.ModeSticky | 0777},
		{"symlink", core.Attr{Type: core.TypeSymlink, Mode: core.ModeSymlink | 0777}, os.ModeSymlink | 0777},
		{"fifo", core.Attr{Type: core.TypeFIFO, Mode: core.ModeFIFO | 0600}, os.ModeNamedPipe | 0600},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fi := newBillyFileInfo("x", tt.attr)
			assert.Equal(t, tt.want, fi.Mode())
			assert.Equal(t, tt.attr.Type == core.TypeDirectory, fi.IsDir())
		})
	}
}

func TestBillyFileInfoSys(t *testing.T) {
	t.Parallel()

	fi := newBillyFileInfo("f", core.Attr{Ino: 77, Type: core.TypeRegular, Nlink: 3, Uid: 501, Gid: 20, Size: 9, Mtime: 1234})
	sys, ok := fi.Sys().(*nfsfile.FileInfo)
	require.True(t, ok, "go-nfs requires *file.FileInfo")
	assert.Equal(t, uint64(77), sys.Fileid)
	assert.Equal(t, uint32(3), sys.Nlink)
	assert.Equal(t, uint32(501), sys.UID)
	assert.Equal(t, uint32(20), sys.GID)
	assert.Equal(t, int64(9), fi.Size())
	assert.Equal(t, int64(1234), fi.ModTime().Unix())

	assert.Equal(t, "/", newBillyFileInfo(".", core.Attr{}).Name())
}

func TestBillyAdapterFiles(t *testing.T) {
	t.Parallel()
	b := newTestAdapter(t)

	f, err := b.Create("/hello.txt")
	require.NoError(t, err)
	_, err = f.Write([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	info, err := b.Stat("/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", info.Name())
	assert.Equal(t, int64(11), info.Size())

	f, err = b.Open("/hello.txt")
	require.NoError(t, err)
	buf := make([]byte, 5)
	n, err := f.ReadAt(buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]))

	n, err = f.ReadAt(buf, 9)
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, err, io.EOF)

	pos, err := f.Seek(-5, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(6), pos)
	all, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "world", string(all))
	require.NoError(t, f.Close())

	f, err = b.OpenFile("/hello.txt", os.O_RDWR, 0)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(5))
	require.NoError(t, f.Close())
	info, err = b.Stat("/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())

	require.NoError(t, b.Remove("/hello.txt"))
	_, err = b.Stat("/hello.txt")
	assert.True(t, os.IsNotExist(err))
}

func TestBillyAdapterDirectories(t *testing.T) {
	t.Parallel()
	b := newTestAdapter(t)

	require.NoError(t, b.MkdirAll("/a/b/c", 0755))
	require.NoError(t, b.MkdirAll("/a/b", 0755), "existing directories are accepted")

	f, err := b.Create("/a/file")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := b.ReadDir("/a")
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"b", "file"}, names)

	err = b.Remove("/a/b")
	assert.Error(t, err, "non-empty directory")

	require.NoError(t, b.Rename("/a/b", "/moved"))
	info, err := b.Stat("/moved/c")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestBillyAdapterLinksAndAttrs(t *testing.T) {
	t.Parallel()
	b := newTestAdapter(t)

	f, err := b.Create("/target")
	require.NoError(t, err)
	_, err = f.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, b.Symlink("target", "/link"))
	dest, err := b.Readlink("/link")
	require.NoError(t, err)
	assert.Equal(t, "target", dest)

	linfo, err := b.Lstat("/link")
	require.NoError(t, err)
	assert.Equal(t, os.ModeSymlink, linfo.Mode()&os.ModeType)
	sinfo, err := b.Stat("/link")
	require.NoError(t, err)
	assert.Equal(t, int64(4), sinfo.Size())

	require.NoError(t, b.Chmod("/target", 0600))
	info, err := b.Stat("/target")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	mtime := time.Unix(1_700_000_000, 0)
	require.NoError(t, b.Chtimes("/target", mtime, mtime))
	info, err = b.Stat("/target")
	require.NoError(t, err)
	assert.Equal(t, mtime.Unix(), info.ModTime().Unix())

	// Only root may give a file away
	err = b.Chown("/target", 0, -1)
	assert.True(t, os.IsPermission(err), "got %v", err)
}

func TestNFSServerServeAndShutdown(t *testing.T) {
	g := NewWithT(t)
	b := newTestAdapter(t)

	srv := NewNFSServer(b.fs)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	g.Expect(err).NotTo(HaveOccurred())

	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(listener) }()

	g.Eventually(srv.Addr).ShouldNot(BeNil())
	g.Eventually(func() error {
		conn, err := net.DialTimeout("tcp", listener.Addr().String(), time.Second)
		if err != nil {
			return err
		}
		return conn.Close()
	}, 2*time.Second, 50*time.Millisecond).Should(Succeed())

	srv.Shutdown()
	g.Eventually(done, 2*time.Second).Should(Receive(BeNil()))
}
