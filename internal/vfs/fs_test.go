package vfs

import (
	"io"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/macos-fuse-t/go-smb2/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spockfs/internal/core"
	"spockfs/internal/dispatch"
)

var testCaller = core.Caller{Uid: 1000, Gid: 1000}

// testSpockFS creates a SpockFS over a fresh instance owned by testCaller.
func testSpockFS(t *testing.T) *SpockFS {
	t.Helper()
	inst, err := core.New(core.Options{RootOwner: testCaller})
	require.NoError(t, err, "failed to create instance")
	t.Cleanup(func() { _ = inst.Close() })

	d := dispatch.New(inst, dispatch.Options{EnforceDirPermissions: true})
	return NewSpockFS(d, Options{Caller: testCaller})
}

func createFile(t *testing.T, fs *SpockFS, path, content string) {
	t.Helper()
	h, err := fs.Open(path, os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)
	if content != "" {
		_, err = fs.Write(h, []byte(content), 0, 0)
		require.NoError(t, err)
	}
	require.NoError(t, fs.Close(h))
}

func TestSpockFS(t *testing.T) {
	t.Parallel()

	t.Run("NewSpockFS initializes correctly", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)

		require.NotNil(t, fs)
		assert.NotNil(t, fs.Dispatcher())
		assert.NotNil(t, fs.handles)
		assert.NotNil(t, fs.attrCache)
		assert.Equal(t, testCaller, fs.Caller())
	})

	t.Run("negative TTL disables the attribute cache", func(t *testing.T) {
		t.Parallel()
		inst, err := core.New(core.Options{})
		require.NoError(t, err)
		fs := NewSpockFS(dispatch.New(inst, dispatch.Options{}), Options{AttrCacheTTL: -1})
		assert.Nil(t, fs.attrCache)

		_, err = fs.GetAttrByPath("/")
		assert.NoError(t, err)
	})
}

func TestOpenDir(t *testing.T) {
	t.Parallel()

	t.Run("opens root", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)

		handle, err := fs.OpenDir("/")
		require.NoError(t, err)
		assert.NotZero(t, handle)
		require.NoError(t, fs.Close(handle))
	})

	t.Run("opens empty path as root", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)

		handle, err := fs.OpenDir("")
		require.NoError(t, err)
		assert.NotZero(t, handle)
		fs.Close(handle)
	})

	t.Run("returns ENOENT for nonexistent", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)

		_, err := fs.OpenDir("/nonexistent")
		assert.Equal(t, ENOENT, err)
	})

	t.Run("returns ENOTDIR for file", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)
		createFile(t, fs, "/file.txt", "")

		_, err := fs.OpenDir("/file.txt")
		assert.Equal(t, ENOTDIR, err)
	})
}

func TestMkdir(t *testing.T) {
	t.Parallel()

	t.Run("creates directory", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)

		attrs, err := fs.Mkdir("/testdir", 0750)
		require.NoError(t, err)
		assert.Equal(t, vfs.FileTypeDirectory, attrs.GetFileType())
		mode, ok := attrs.GetUnixMode()
		require.True(t, ok)
		assert.Equal(t, uint32(0750), mode)
		uid, _ := attrs.GetUID()
		assert.Equal(t, testCaller.Uid, uid)
	})

	t.Run("returns EEXIST for existing", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)

		_, err := fs.Mkdir("/testdir", 0755)
		require.NoError(t, err)
		_, err = fs.Mkdir("/testdir", 0755)
		assert.Equal(t, EEXIST, err)
	})

	t.Run("returns ENOENT for missing parent", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)

		_, err := fs.Mkdir("/missing/child", 0755)
		assert.Equal(t, ENOENT, err)
	})

	t.Run("parent link count follows subdirectories", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)

		_, err := fs.Mkdir("/a", 0755)
		require.NoError(t, err)
		_, err = fs.Mkdir("/a/b", 0755)
		require.NoError(t, err)

		attr, err := fs.GetAttrByPath("/a")
		require.NoError(t, err)
		assert.Equal(t, uint32(3), attr.Nlink)
	})
}

func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("creates file", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)

		handle, err := fs.Open("/test.txt", os.O_CREATE|os.O_RDWR, 0644)
		require.NoError(t, err)
		assert.NotZero(t, handle)
		require.NoError(t, fs.Close(handle))

		attr, err := fs.GetAttrByPath("/test.txt")
		require.NoError(t, err)
		assert.Equal(t, core.TypeRegular, attr.Type)
		assert.Equal(t, uint32(0644), attr.Perm())
	})

	t.Run("returns ENOENT without O_CREATE", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)

		_, err := fs.Open("/missing.txt", os.O_RDONLY, 0)
		assert.Equal(t, ENOENT, err)
	})

	t.Run("returns EEXIST with O_EXCL", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)
		createFile(t, fs, "/test.txt", "")

		_, err := fs.Open("/test.txt", os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
		assert.Equal(t, EEXIST, err)
	})

	t.Run("returns EISDIR for directory", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)
		fs.Mkdir("/testdir", 0755)

		_, err := fs.Open("/testdir", os.O_RDONLY, 0)
		assert.Equal(t, EISDIR, err)
		assert.Zero(t, fs.handles.Count())
	})

	t.Run("OpenAny opens directory", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)
		fs.Mkdir("/testdir", 0755)

		handle, err := fs.OpenAny("/testdir", os.O_RDONLY, 0)
		require.NoError(t, err)
		defer fs.Close(handle)

		entries, err := fs.ReadDir(handle, 0, 0)
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("O_TRUNC empties existing file", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)
		createFile(t, fs, "/test.txt", "content")

		handle, err := fs.Open("/test.txt", os.O_RDWR|os.O_TRUNC, 0)
		require.NoError(t, err)
		defer fs.Close(handle)

		attrs, err := fs.GetAttr(handle)
		require.NoError(t, err)
		size, _ := attrs.GetSizeBytes()
		assert.Zero(t, size)
	})
}

func TestReadWrite(t *testing.T) {
	t.Parallel()

	t.Run("writes and reads data", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)

		handle, _ := fs.Open("/test.txt", os.O_CREATE|os.O_RDWR, 0644)
		defer fs.Close(handle)

		data := []byte("Hello, World!")
		n, err := fs.Write(handle, data, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, len(data), n)

		buf := make([]byte, 100)
		n, err = fs.Read(handle, buf, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, len(data), n)
		assert.Equal(t, string(data), string(buf[:n]))
	})

	t.Run("writes at offset", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)

		handle, _ := fs.Open("/test.txt", os.O_CREATE|os.O_RDWR, 0644)
		defer fs.Close(handle)

		fs.Write(handle, []byte("Hello"), 0, 0)
		fs.Write(handle, []byte(" World"), 5, 0)

		buf := make([]byte, 100)
		n, _ := fs.Read(handle, buf, 0, 0)
		assert.Equal(t, "Hello World", string(buf[:n]))
	})

	t.Run("write past end leaves a zero-filled gap", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)

		handle, _ := fs.Open("/test.txt", os.O_CREATE|os.O_RDWR, 0644)
		defer fs.Close(handle)

		fs.Write(handle, []byte("ab"), 4, 0)

		buf := make([]byte, 10)
		n, _ := fs.Read(handle, buf, 0, 0)
		assert.Equal(t, []byte{0, 0, 0, 0, 'a', 'b'}, buf[:n])
	})

	t.Run("append mode writes at end of file", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)
		createFile(t, fs, "/log.txt", "one")

		handle, err := fs.Open("/log.txt", os.O_WRONLY|os.O_APPEND, 0)
		require.NoError(t, err)
		_, err = fs.Write(handle, []byte("two"), 0, 0)
		require.NoError(t, err)
		fs.Close(handle)

		handle, _ = fs.Open("/log.txt", os.O_RDONLY, 0)
		defer fs.Close(handle)
		buf := make([]byte, 10)
		n, _ := fs.Read(handle, buf, 0, 0)
		assert.Equal(t, "onetwo", string(buf[:n]))
	})

	t.Run("concurrent appenders never overlap", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)
		createFile(t, fs, "/log.txt", "")

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			handle, err := fs.Open("/log.txt", os.O_WRONLY|os.O_APPEND, 0)
			require.NoError(t, err)
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer fs.Close(handle)
				for j := 0; j < 25; j++ {
					_, err := fs.Write(handle, []byte("line\n"), 0, 0)
					assert.NoError(t, err)
				}
			}()
		}
		wg.Wait()

		attr, err := fs.StatByPath("/log.txt")
		require.NoError(t, err)
		assert.Equal(t, int64(4*25*len("line\n")), attr.Size)
	})

	t.Run("offset beyond int64 range is rejected", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)
		createFile(t, fs, "/test.txt", "abc")

		handle, err := fs.Open("/test.txt", os.O_WRONLY, 0)
		require.NoError(t, err)
		defer fs.Close(handle)

		_, err = fs.Write(handle, []byte("x"), math.MaxUint64-1, 0)
		assert.Equal(t, EINVAL, err)
		_, err = fs.Write(handle, make([]byte, 8), math.MaxInt64-2, 0)
		assert.Equal(t, EINVAL, err)
	})

	t.Run("read past end returns zero bytes", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)
		createFile(t, fs, "/test.txt", "abc")

		handle, _ := fs.Open("/test.txt", os.O_RDONLY, 0)
		defer fs.Close(handle)

		n, err := fs.Read(handle, make([]byte, 10), 10, 0)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("Read returns EBADF for invalid handle", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)

		buf := make([]byte, 100)
		_, err := fs.Read(999, buf, 0, 0)
		assert.Equal(t, EBADF, err)
	})

	t.Run("Write returns EBADF for invalid handle", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)

		_, err := fs.Write(999, []byte("test"), 0, 0)
		assert.Equal(t, EBADF, err)
	})

	t.Run("Read returns EISDIR for directory", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)

		fs.Mkdir("/testdir", 0755)
		handle, _ := fs.OpenDir("/testdir")
		defer fs.Close(handle)

		buf := make([]byte, 100)
		_, err := fs.Read(handle, buf, 0, 0)
		assert.Equal(t, EISDIR, err)
	})
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	t.Run("truncates file", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)

		handle, _ := fs.Open("/test.txt", os.O_CREATE|os.O_RDWR, 0644)
		defer fs.Close(handle)

		fs.Write(handle, []byte("Hello, World!"), 0, 0)

		err := fs.Truncate(handle, 5)
		require.NoError(t, err)

		buf := make([]byte, 100)
		n, _ := fs.Read(handle, buf, 0, 0)
		assert.Equal(t, "Hello", string(buf[:n]))
	})

	t.Run("returns EBADF for invalid handle", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)

		err := fs.Truncate(999, 0)
		assert.Equal(t, EBADF, err)
	})
}

func TestReadDir(t *testing.T) {
	t.Parallel()

	t.Run("returns dot entries for empty dir", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)

		handle, _ := fs.OpenDir("/")
		defer fs.Close(handle)

		entries, err := fs.ReadDir(handle, 0, 0)
		require.NoError(t, err)
		require.Len(t, entries, 2, "should have . and .. entries")
		assert.Equal(t, ".", entries[0].Name)
		assert.Equal(t, "..", entries[1].Name)
	})

	t.Run("lists files and directories", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)

		createFile(t, fs, "/file1.txt", "")
		createFile(t, fs, "/file2.txt", "")
		fs.Mkdir("/subdir", 0755)

		handle, _ := fs.OpenDir("/")
		defer fs.Close(handle)

		entries, err := fs.ReadDir(handle, 0, 0)
		require.NoError(t, err)
		assert.Len(t, entries, 5, "should have ., .., file1.txt, file2.txt, subdir")
	})

	t.Run("returns EOF on second read", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)

		handle, _ := fs.OpenDir("/")
		defer fs.Close(handle)

		_, err := fs.ReadDir(handle, 0, 0)
		require.NoError(t, err)

		_, err = fs.ReadDir(handle, 0, 0)
		assert.Equal(t, io.EOF, err, "second read should return EOF")
	})

	t.Run("restarts with offset", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)

		handle, _ := fs.OpenDir("/")
		defer fs.Close(handle)

		fs.ReadDir(handle, 0, 0)

		entries, err := fs.ReadDir(handle, 1, 0)
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("paginates by count", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)
		for _, name := range []string{"/a", "/b", "/c"} {
			createFile(t, fs, name, "")
		}

		handle, _ := fs.OpenDir("/")
		defer fs.Close(handle)

		seen := map[string]bool{}
		for i := 0; i < 3; i++ {
			entries, err := fs.ReadDir(handle, 0, 2)
			require.NoError(t, err)
			for _, e := range entries {
				seen[e.Name] = true
			}
		}
		assert.Len(t, seen, 5)

		_, err := fs.ReadDir(handle, 0, 2)
		assert.Equal(t, io.EOF, err)
	})
}

func TestGetAttr(t *testing.T) {
	t.Parallel()

	t.Run("returns root for handle 0", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)

		attrs, err := fs.GetAttr(0)
		require.NoError(t, err)
		assert.Equal(t, vfs.FileTypeDirectory, attrs.GetFileType())
		ino := attrs.GetInodeNumber()
		assert.Equal(t, uint64(core.RootID), ino)
	})

	t.Run("reports size after write", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)

		handle, _ := fs.Open("/test.txt", os.O_CREATE|os.O_RDWR, 0644)
		defer fs.Close(handle)
		fs.Write(handle, []byte("12345"), 0, 0)

		attrs, err := fs.GetAttr(handle)
		require.NoError(t, err)
		size, _ := attrs.GetSizeBytes()
		assert.Equal(t, uint64(5), size)
		assert.Equal(t, vfs.FileTypeRegularFile, attrs.GetFileType())
	})

	t.Run("returns EBADF for invalid handle", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)

		_, err := fs.GetAttr(999)
		assert.Equal(t, EBADF, err)
	})
}

func TestSetAttr(t *testing.T) {
	t.Parallel()

	t.Run("applies mode, size and mtime", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)
		createFile(t, fs, "/test.txt", "Hello, World!")

		handle, _ := fs.Open("/test.txt", os.O_RDWR, 0)
		defer fs.Close(handle)

		mtime := time.Unix(1700000000, 0)
		in := &vfs.Attributes{}
		in.SetUnixMode(0600)
		in.SetSizeBytes(5)
		in.SetLastDataModificationTime(mtime)

		out, err := fs.SetAttr(handle, in)
		require.NoError(t, err)
		mode, _ := out.GetUnixMode()
		assert.Equal(t, uint32(0600), mode)
		size, _ := out.GetSizeBytes()
		assert.Equal(t, uint64(5), size)
		got, _ := out.GetLastDataModificationTime()
		assert.Equal(t, mtime.Unix(), got.Unix())
	})

	t.Run("returns EBADF for invalid handle", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)

		_, err := fs.SetAttr(999, &vfs.Attributes{})
		assert.Equal(t, EBADF, err)
	})
}

func TestLookup(t *testing.T) {
	t.Parallel()

	t.Run("finds file in root", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)
		createFile(t, fs, "/test.txt", "")

		attrs, err := fs.Lookup(0, "test.txt")
		require.NoError(t, err)
		assert.Equal(t, vfs.FileTypeRegularFile, attrs.GetFileType())
	})

	t.Run("finds file in opened directory", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)
		fs.Mkdir("/dir", 0755)
		createFile(t, fs, "/dir/test.txt", "abc")

		dir, _ := fs.OpenDir("/dir")
		defer fs.Close(dir)

		attrs, err := fs.Lookup(dir, "test.txt")
		require.NoError(t, err)
		size, _ := attrs.GetSizeBytes()
		assert.Equal(t, uint64(3), size)
	})

	t.Run("returns ENOENT for missing name", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)

		_, err := fs.Lookup(0, "missing")
		assert.Equal(t, ENOENT, err)
	})

	t.Run("returns ENOTDIR for file handle", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)
		createFile(t, fs, "/test.txt", "")

		handle, _ := fs.Open("/test.txt", os.O_RDONLY, 0)
		defer fs.Close(handle)

		_, err := fs.Lookup(handle, "x")
		assert.Equal(t, ENOTDIR, err)
	})
}

func TestUnlink(t *testing.T) {
	t.Parallel()

	t.Run("removes file", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)
		createFile(t, fs, "/to_delete.txt", "")

		handle, _ := fs.Open("/to_delete.txt", os.O_RDONLY, 0)
		require.NoError(t, fs.Unlink(handle))
		fs.Close(handle)

		_, err := fs.GetAttrByPath("/to_delete.txt")
		assert.Equal(t, ENOENT, err)
	})

	t.Run("open handle keeps unlinked content readable", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)
		createFile(t, fs, "/tmp.txt", "still here")

		handle, _ := fs.Open("/tmp.txt", os.O_RDONLY, 0)
		defer fs.Close(handle)
		require.NoError(t, fs.RemovePath("/tmp.txt"))

		buf := make([]byte, 20)
		n, err := fs.Read(handle, buf, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, "still here", string(buf[:n]))
	})

	t.Run("removes empty directory", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)
		fs.Mkdir("/empty", 0755)

		handle, _ := fs.OpenDir("/empty")
		require.NoError(t, fs.Unlink(handle))
		fs.Close(handle)

		_, err := fs.GetAttrByPath("/empty")
		assert.Equal(t, ENOENT, err)
	})

	t.Run("returns ENOTEMPTY for populated directory", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)
		fs.Mkdir("/full", 0755)
		createFile(t, fs, "/full/file", "")

		handle, _ := fs.OpenDir("/full")
		defer fs.Close(handle)

		assert.Equal(t, ENOTEMPTY, fs.Unlink(handle))
	})

	t.Run("returns EBADF for invalid handle", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)

		assert.Equal(t, EBADF, fs.Unlink(999))
	})
}

func TestRename(t *testing.T) {
	t.Parallel()

	t.Run("renames within directory", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)
		createFile(t, fs, "/old.txt", "data")

		handle, _ := fs.Open("/old.txt", os.O_RDONLY, 0)
		defer fs.Close(handle)

		require.NoError(t, fs.Rename(handle, "new.txt", 0))

		_, err := fs.GetAttrByPath("/old.txt")
		assert.Equal(t, ENOENT, err)
		attr, err := fs.GetAttrByPath("/new.txt")
		require.NoError(t, err)
		assert.Equal(t, int64(4), attr.Size)

		p, _ := fs.HandlePath(handle)
		assert.Equal(t, "/new.txt", p)
	})

	t.Run("moves to another directory by path", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)
		fs.Mkdir("/dst", 0755)
		createFile(t, fs, "/file.txt", "")

		handle, _ := fs.Open("/file.txt", os.O_RDONLY, 0)
		defer fs.Close(handle)

		require.NoError(t, fs.Rename(handle, "/dst/file.txt", 0))
		_, err := fs.GetAttrByPath("/dst/file.txt")
		assert.NoError(t, err)
	})

	t.Run("handles below a renamed directory follow it", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)
		fs.Mkdir("/a", 0755)
		createFile(t, fs, "/a/f", "")

		handle, _ := fs.Open("/a/f", os.O_RDONLY, 0)
		defer fs.Close(handle)

		require.NoError(t, fs.RenamePath("/a", "/b"))
		p, _ := fs.HandlePath(handle)
		assert.Equal(t, "/b/f", p)
	})

	t.Run("refuses to move a directory into itself", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)
		fs.Mkdir("/a", 0755)

		assert.Equal(t, EINVAL, fs.RenamePath("/a", "/a/b"))
	})
}

func TestSymlink(t *testing.T) {
	t.Parallel()

	t.Run("converts created file into link", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)
		createFile(t, fs, "/target.txt", "payload")

		handle, err := fs.Open("/link", os.O_CREATE|os.O_RDWR, 0644)
		require.NoError(t, err)
		defer fs.Close(handle)

		attrs, err := fs.Symlink(handle, "target.txt", 0777)
		require.NoError(t, err)
		assert.Equal(t, vfs.FileTypeSymlink, attrs.GetFileType())

		target, err := fs.Readlink(handle)
		require.NoError(t, err)
		assert.Equal(t, "target.txt", target)

		attr, err := fs.StatByPath("/link")
		require.NoError(t, err)
		assert.Equal(t, int64(7), attr.Size)
	})

	t.Run("path API round trip", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)

		require.NoError(t, fs.SymlinkPath("/nowhere", "/dangling"))
		target, err := fs.ReadlinkPath("/dangling")
		require.NoError(t, err)
		assert.Equal(t, "/nowhere", target)

		attr, err := fs.GetAttrByPath("/dangling")
		require.NoError(t, err)
		assert.Equal(t, core.TypeSymlink, attr.Type)
		_, err = fs.StatByPath("/dangling")
		assert.Equal(t, ENOENT, err)
	})

	t.Run("Readlink on regular file is EINVAL", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)
		createFile(t, fs, "/file", "")

		_, err := fs.ReadlinkPath("/file")
		assert.Equal(t, EINVAL, err)
	})
}

func TestLink(t *testing.T) {
	t.Parallel()

	t.Run("links into root", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)
		createFile(t, fs, "/orig", "shared")

		src, err := fs.GetAttrByPath("/orig")
		require.NoError(t, err)

		_, err = fs.Link(vfs.VfsNode(src.Ino), 0, "copy")
		require.NoError(t, err)

		attr, err := fs.GetAttrByPath("/copy")
		require.NoError(t, err)
		assert.Equal(t, src.Ino, attr.Ino)
		assert.Equal(t, uint32(2), attr.Nlink)
	})

	t.Run("links into open directory", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)
		createFile(t, fs, "/orig", "")
		dirAttrs, _ := fs.Mkdir("/dir", 0755)
		dir, _ := fs.OpenDir("/dir")
		defer fs.Close(dir)

		src, _ := fs.GetAttrByPath("/orig")
		dirIno := dirAttrs.GetInodeNumber()
		_, err := fs.Link(vfs.VfsNode(src.Ino), vfs.VfsNode(dirIno), "copy")
		require.NoError(t, err)

		_, err = fs.GetAttrByPath("/dir/copy")
		assert.NoError(t, err)
	})

	t.Run("LinkPath refuses directories", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)
		fs.Mkdir("/dir", 0755)

		assert.Equal(t, EISDIR, fs.LinkPath("/dir", "/dir2"))
	})
}

func TestXattr(t *testing.T) {
	t.Parallel()

	fs := testSpockFS(t)
	createFile(t, fs, "/test.txt", "")
	h, _ := fs.Open("/test.txt", os.O_RDWR, 0)
	defer fs.Close(h)

	require.NoError(t, fs.Setxattr(h, "user.test", []byte("value")))

	names, err := fs.Listxattr(h)
	require.NoError(t, err)
	assert.Equal(t, []string{"user.test"}, names)

	n, err := fs.Getxattr(h, "user.test", nil)
	require.NoError(t, err)
	assert.Equal(t, 5, n, "empty buffer probes the size")

	buf := make([]byte, 16)
	n, err = fs.Getxattr(h, "user.test", buf)
	require.NoError(t, err)
	assert.Equal(t, "value", string(buf[:n]))

	require.NoError(t, fs.Removexattr(h, "user.test"))
	names, err = fs.Listxattr(h)
	require.NoError(t, err)
	assert.Empty(t, names)

	assert.Error(t, fs.Removexattr(h, "user.test"))
	assert.Equal(t, EBADF, fs.Setxattr(999, "user.test", nil))
}

func TestStatFS(t *testing.T) {
	t.Parallel()

	fs := testSpockFS(t)
	before, err := fs.Statvfs()
	require.NoError(t, err)

	createFile(t, fs, "/big", string(make([]byte, 3*core.DefaultBlockSize)))

	after, err := fs.Statvfs()
	require.NoError(t, err)
	assert.Equal(t, before.Bfree-3, after.Bfree)
	assert.Equal(t, before.Ffree-1, after.Ffree)

	attrs, err := fs.StatFS(0)
	require.NoError(t, err)
	assert.NotNil(t, attrs)
}

func TestPathOperations(t *testing.T) {
	t.Parallel()

	t.Run("MkdirAll creates missing parents", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)

		require.NoError(t, fs.MkdirAll("/a/b/c", 0755))
		require.NoError(t, fs.MkdirAll("/a/b/c", 0755), "existing tree is accepted")

		attr, err := fs.GetAttrByPath("/a/b/c")
		require.NoError(t, err)
		assert.True(t, attr.IsDir())
	})

	t.Run("MkdirAll stops at a file", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)
		createFile(t, fs, "/file", "")

		assert.Equal(t, ENOTDIR, fs.MkdirAll("/file/sub", 0755))
	})

	t.Run("ReadDirPath skips dot entries", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)
		fs.Mkdir("/dir", 0755)
		createFile(t, fs, "/dir/x", "")

		entries, err := fs.ReadDirPath("/dir")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "x", entries[0].Name)
	})

	t.Run("chmod chown chtimes truncate", func(t *testing.T) {
		t.Parallel()
		fs := testSpockFS(t)
		createFile(t, fs, "/f", "abcdef")

		require.NoError(t, fs.ChmodPath("/f", 0600))
		require.NoError(t, fs.ChownPath("/f", -1, int(testCaller.Gid)))
		assert.Equal(t, EPERM, fs.ChownPath("/f", 0, -1))

		stamp := time.Unix(1600000000, 0)
		require.NoError(t, fs.ChtimesPath("/f", stamp, stamp))
		require.NoError(t, fs.TruncatePath("/f", 2))

		attr, err := fs.GetAttrByPath("/f")
		require.NoError(t, err)
		assert.Equal(t, uint32(0600), attr.Perm())
		assert.Equal(t, stamp.Unix(), attr.Mtime)
		assert.Equal(t, stamp.Unix(), attr.Atime)
		assert.Equal(t, int64(2), attr.Size)
	})
}

func TestAttrCacheCoherence(t *testing.T) {
	t.Parallel()

	fs := testSpockFS(t)
	createFile(t, fs, "/f", "abc")

	attr, err := fs.GetAttrByPath("/f")
	require.NoError(t, err)
	assert.Equal(t, int64(3), attr.Size)

	h, _ := fs.Open("/f", os.O_RDWR, 0)
	_, err = fs.Write(h, []byte("abcdef"), 0, 0)
	require.NoError(t, err)
	fs.Close(h)

	attr, err = fs.GetAttrByPath("/f")
	require.NoError(t, err)
	assert.Equal(t, int64(6), attr.Size, "write must invalidate the cached size")
}

func TestCloseAll(t *testing.T) {
	t.Parallel()

	fs := testSpockFS(t)
	createFile(t, fs, "/f", "abc")

	h, _ := fs.Open("/f", os.O_RDONLY, 0)
	require.NoError(t, fs.RemovePath("/f"))
	before := fs.Dispatcher().FS().Store.Count()

	assert.Equal(t, 1, fs.CloseAll())
	assert.Equal(t, before-1, fs.Dispatcher().FS().Store.Count(), "last close reclaims the unlinked inode")
	assert.Equal(t, EBADF, fs.Close(h))
}
