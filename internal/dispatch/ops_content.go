package dispatch

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"spockfs/internal/common"
	"spockfs/internal/core"
)

// maxReadLength caps a single read so a bogus length cannot allocate the
// whole address space.
const maxReadLength = 64 << 20

// openPath implements open(2) and creat(2) semantics on a path. A freshly
// created file is returned without a permission check, as POSIX requires.
func (d *Dispatcher) openPath(req *Request, flags int, acquire bool) (*Response, error) {
	creating := flags&unix.O_CREAT != 0
	exclusive := creating && flags&unix.O_EXCL != 0

	var res core.Resolution
	var err error
	if exclusive {
		// O_EXCL never follows a final symlink.
		res, err = d.bindTarget(req.Path, common.ErrExists)
		if err == nil && res.Found {
			err = fmt.Errorf("%q: %w", req.Path, common.ErrExists)
		}
	} else {
		res, err = d.fs.Resolver.Resolve(req.Path, true)
	}
	if err != nil {
		return nil, err
	}

	created := false
	if !res.Found {
		if !creating {
			return nil, fmt.Errorf("%q: %w", req.Path, common.ErrNotFound)
		}
		if err := d.requireDirWrite(res.Parent, req.Caller); err != nil {
			return nil, err
		}
		id, err := d.fs.Dirs.Create(res.Parent, res.Name, core.NewNode{
			Type:  core.TypeRegular,
			Perm:  req.Mode & core.PermMask,
			Owner: req.Caller,
		})
		switch {
		case err == nil:
			res.Ino, created = id, true
		case errors.Is(err, common.ErrExists) && !exclusive:
			// Lost a creation race; open what the winner made.
			if res, err = d.lookup(req.Path, true); err != nil {
				return nil, err
			}
		default:
			return nil, err
		}
	}

	attr, err := d.fs.Store.Stat(res.Ino)
	if err != nil {
		return nil, err
	}
	if !created {
		mask := core.OpenMask(flags)
		if attr.IsDir() && mask&core.AccessWrite != 0 {
			return nil, fmt.Errorf("%q: %w", req.Path, common.ErrIsDir)
		}
		if err := requireAccess(attr, mask, req.Caller); err != nil {
			return nil, err
		}
		if flags&unix.O_TRUNC != 0 && attr.Type == core.TypeRegular && attr.Size > 0 {
			if err := d.fs.Contents.Truncate(res.Ino, 0); err != nil {
				return nil, err
			}
			if attr, err = d.fs.Store.Stat(res.Ino); err != nil {
				return nil, err
			}
		}
	}

	if acquire {
		if err := d.fs.Store.Acquire(res.Ino); err != nil {
			return nil, err
		}
	}
	return &Response{Ino: res.Ino, Attr: attr}, nil
}

func (d *Dispatcher) open(req *Request) (*Response, error) {
	return d.openPath(req, req.Flags, true)
}

func (d *Dispatcher) release(req *Request) (*Response, error) {
	if req.Ino == 0 {
		return nil, fmt.Errorf("release without inode: %w", common.ErrInvalidHandle)
	}
	return &Response{}, d.fs.Store.Release(req.Ino)
}

// contentTarget resolves the inode of a content operation and checks mask
// unless the request comes through an open handle.
func (d *Dispatcher) contentTarget(req *Request, mask uint32) (core.ID, error) {
	id, byHandle, err := d.target(req, true)
	if err != nil {
		return 0, err
	}
	if byHandle {
		return id, nil
	}
	attr, err := d.fs.Store.Stat(id)
	if err != nil {
		return 0, err
	}
	if err := requireAccess(attr, mask, req.Caller); err != nil {
		return 0, err
	}
	return id, nil
}

func (d *Dispatcher) read(req *Request) (*Response, error) {
	if req.Length < 0 || req.Length > maxReadLength || req.Offset < 0 {
		return nil, fmt.Errorf("read range %d+%d: %w", req.Offset, req.Length, common.ErrInvalid)
	}
	id, err := d.contentTarget(req, core.AccessRead)
	if err != nil {
		return nil, err
	}
	data, err := d.fs.Contents.Read(id, req.Offset, int(req.Length))
	if err != nil {
		return nil, err
	}
	return &Response{Ino: id, Data: data, N: len(data)}, nil
}

func (d *Dispatcher) write(req *Request) (*Response, error) {
	if req.Offset < 0 {
		return nil, fmt.Errorf("write offset %d: %w", req.Offset, common.ErrInvalid)
	}
	id, err := d.contentTarget(req, core.AccessWrite)
	if err != nil {
		return nil, err
	}
	var n int
	if req.Flags&unix.O_APPEND != 0 {
		n, err = d.fs.Contents.Append(id, req.Data)
	} else {
		n, err = d.fs.Contents.Write(id, req.Offset, req.Data)
	}
	if err != nil {
		return nil, err
	}
	return &Response{Ino: id, N: n}, nil
}

func (d *Dispatcher) truncate(req *Request) (*Response, error) {
	if req.Length < 0 {
		return nil, fmt.Errorf("truncate to %d: %w", req.Length, common.ErrInvalid)
	}
	id, err := d.contentTarget(req, core.AccessWrite)
	if err != nil {
		return nil, err
	}
	if err := d.fs.Contents.Truncate(id, req.Length); err != nil {
		return nil, err
	}
	return d.created(id)
}

func (d *Dispatcher) fallocate(req *Request) (*Response, error) {
	if req.Flags != 0 {
		return nil, fmt.Errorf("fallocate mode %#x: %w", req.Flags, common.ErrNotSupported)
	}
	if req.Offset < 0 || req.Length <= 0 {
		return nil, fmt.Errorf("fallocate range %d+%d: %w", req.Offset, req.Length, common.ErrInvalid)
	}
	id, err := d.contentTarget(req, core.AccessWrite)
	if err != nil {
		return nil, err
	}
	if err := d.fs.Contents.Allocate(id, req.Offset, req.Length); err != nil {
		return nil, err
	}
	return d.created(id)
}
