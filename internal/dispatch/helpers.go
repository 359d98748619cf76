package dispatch

import (
	"fmt"

	"spockfs/internal/common"
	"spockfs/internal/core"
)

// lookup resolves path and requires the final component to exist
func (d *Dispatcher) lookup(path string, follow bool) (core.Resolution, error) {
	res, err := d.fs.Resolver.Resolve(path, follow)
	if err != nil {
		return core.Resolution{}, err
	}
	if !res.Found {
		return core.Resolution{}, fmt.Errorf("%q: %w", path, common.ErrNotFound)
	}
	return res, nil
}

// target returns the inode a request addresses. Requests carrying an inode
// id skip resolution; byHandle reports that case so callers can skip the
// permission checks already made at open time.
func (d *Dispatcher) target(req *Request, follow bool) (id core.ID, byHandle bool, err error) {
	if req.Ino != 0 {
		return req.Ino, true, nil
	}
	res, err := d.lookup(req.Path, follow)
	if err != nil {
		return 0, false, err
	}
	return res.Ino, false, nil
}

// requireAccess fails with ErrPermission unless caller holds mask on attr
func requireAccess(attr core.Attr, mask uint32, caller core.Caller) error {
	if !core.Evaluate(attr, mask, caller) {
		return fmt.Errorf("inode %d mode %#o: %w", attr.Ino, attr.Perm(), common.ErrPermission)
	}
	return nil
}

// requireDirWrite checks write and search permission on dir when enabled
func (d *Dispatcher) requireDirWrite(dir core.ID, caller core.Caller) error {
	if !d.opts.EnforceDirPermissions {
		return nil
	}
	attr, err := d.fs.Store.Stat(dir)
	if err != nil {
		return err
	}
	return requireAccess(attr, core.AccessWrite|core.AccessExecute, caller)
}

// requireOwner fails with ErrNotPermitted unless caller owns attr or is root
func requireOwner(attr core.Attr, caller core.Caller) error {
	if !core.IsOwner(attr, caller) {
		return fmt.Errorf("inode %d owned by %d: %w", attr.Ino, attr.Uid, common.ErrNotPermitted)
	}
	return nil
}

// fitBuffer applies getxattr/listxattr size semantics: size 0 probes,
// a buffer that is too small fails with ErrRange.
func fitBuffer(data []byte, size int) ([]byte, int, error) {
	switch {
	case size == 0:
		return nil, len(data), nil
	case size != Unbounded && size < len(data):
		return nil, len(data), fmt.Errorf("need %d bytes, have %d: %w", len(data), size, common.ErrRange)
	}
	return data, len(data), nil
}
