package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testOwner = Caller{Uid: 1000, Gid: 1000}

// fixedClock returns a clock with a sub-second component so tests can check
// that it never leaks into stored timestamps.
func fixedClock() func() time.Time {
	t := time.Unix(1700000000, 987654321)
	return func() time.Time { return t }
}

func newTestFS(t *testing.T, opts ...func(*Options)) *FS {
	t.Helper()
	o := Options{RootOwner: testOwner, Clock: fixedClock()}
	for _, fn := range opts {
		fn(&o)
	}
	f, err := New(o)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func mkdir(t *testing.T, f *FS, dir ID, name string) ID {
	t.Helper()
	id, err := f.Dirs.Create(dir, name, NewNode{Type: TypeDirectory, Perm: 0755, Owner: testOwner})
	require.NoError(t, err)
	return id
}

func mkfile(t *testing.T, f *FS, dir ID, name string, content []byte) ID {
	t.Helper()
	id, err := f.Dirs.Create(dir, name, NewNode{Type: TypeRegular, Perm: 0644, Owner: testOwner})
	require.NoError(t, err)
	if len(content) > 0 {
		_, err = f.Contents.Write(id, 0, content)
		require.NoError(t, err)
	}
	return id
}

func nlink(t *testing.T, f *FS, id ID) uint32 {
	t.Helper()
	a, err := f.Store.Stat(id)
	require.NoError(t, err)
	return a.Nlink
}

func names(entries []DirEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}
