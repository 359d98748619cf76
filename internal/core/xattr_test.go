package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spockfs/internal/common"
)

func TestXattrLifecycle(t *testing.T) {
	t.Parallel()
	f := newTestFS(t)
	id := mkfile(t, f, RootID, "f", nil)

	require.NoError(t, f.Xattrs.Set(id, "user.spock_key", []byte("spock_value"), 0))
	require.NoError(t, f.Xattrs.Set(id, "user.spock_key2", []byte("spock_value2"), 0))

	v, err := f.Xattrs.Get(id, "user.spock_key")
	require.NoError(t, err)
	assert.Equal(t, "spock_value", string(v))

	keys, err := f.Xattrs.List(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"user.spock_key", "user.spock_key2"}, keys)

	require.NoError(t, f.Xattrs.Remove(id, "user.spock_key"))
	has, err := f.Xattrs.Has(id, "user.spock_key")
	require.NoError(t, err)
	assert.False(t, has)
	_, err = f.Xattrs.Get(id, "user.spock_key")
	assert.ErrorIs(t, err, common.ErrNoAttr)
	assert.ErrorIs(t, f.Xattrs.Remove(id, "user.spock_key"), common.ErrNoAttr)

	require.NoError(t, f.Xattrs.Set(id, "user.spock_key", []byte("again"), 0))
	v, err = f.Xattrs.Get(id, "user.spock_key")
	require.NoError(t, err)
	assert.Equal(t, "again", string(v))
}

func TestXattrFlags(t *testing.T) {
	t.Parallel()
	f := newTestFS(t)
	id := mkfile(t, f, RootID, "f", nil)

	assert.ErrorIs(t, f.Xattrs.Set(id, "user.a", []byte("1"), XattrReplace), common.ErrNoAttr)
	require.NoError(t, f.Xattrs.Set(id, "user.a", []byte("1"), XattrCreate))
	assert.ErrorIs(t, f.Xattrs.Set(id, "user.a", []byte("2"), XattrCreate), common.ErrExists)
	require.NoError(t, f.Xattrs.Set(id, "user.a", []byte("3"), XattrReplace))
	assert.ErrorIs(t, f.Xattrs.Set(id, "user.a", nil, XattrCreate|XattrReplace), common.ErrInvalid)
	assert.ErrorIs(t, f.Xattrs.Set(id, "", nil, 0), common.ErrInvalid)

	v, err := f.Xattrs.Get(id, "user.a")
	require.NoError(t, err)
	assert.Equal(t, "3", string(v))
}

func TestXattrSurvivesRenameAndWrite(t *testing.T) {
	t.Parallel()
	f := newTestFS(t)
	id := mkfile(t, f, RootID, "f", nil)
	d := mkdir(t, f, RootID, "d")

	require.NoError(t, f.Xattrs.Set(id, "user.tag", []byte{0, 1, 2}, 0))
	require.NoError(t, f.Dirs.Rename(RootID, "f", d, "g"))
	_, err := f.Contents.Write(id, 0, []byte("body"))
	require.NoError(t, err)
	require.NoError(t, f.Contents.Truncate(id, 0))

	v, err := f.Xattrs.Get(id, "user.tag")
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, v)
}

func TestXattrValueIsCopied(t *testing.T) {
	t.Parallel()
	f := newTestFS(t)
	id := mkfile(t, f, RootID, "f", nil)

	buf := []byte("abc")
	require.NoError(t, f.Xattrs.Set(id, "user.k", buf, 0))
	buf[0] = 'X'

	v, err := f.Xattrs.Get(id, "user.k")
	require.NoError(t, err)
	v[1] = 'Y'

	again, err := f.Xattrs.Get(id, "user.k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}
