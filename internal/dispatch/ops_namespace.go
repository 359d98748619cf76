package dispatch

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"spockfs/internal/common"
	"spockfs/internal/core"
)

// bindTarget resolves where a new name would be bound. rootErr is returned
// when the path names the root itself.
func (d *Dispatcher) bindTarget(path string, rootErr error) (core.Resolution, error) {
	res, err := d.fs.Resolver.Resolve(path, false)
	if err != nil {
		return core.Resolution{}, err
	}
	if res.Name == "" {
		return core.Resolution{}, fmt.Errorf("%q: %w", path, rootErr)
	}
	return res, nil
}

// newName resolves a path that must not exist yet and checks that caller
// may bind names in its parent.
func (d *Dispatcher) newName(path string, caller core.Caller) (core.Resolution, error) {
	res, err := d.bindTarget(path, common.ErrExists)
	if err != nil {
		return core.Resolution{}, err
	}
	if res.Found {
		return core.Resolution{}, fmt.Errorf("%q: %w", path, common.ErrExists)
	}
	if err := d.requireDirWrite(res.Parent, caller); err != nil {
		return core.Resolution{}, err
	}
	return res, nil
}

// existingName resolves a path whose binding is about to be removed
func (d *Dispatcher) existingName(path string, rootErr error, caller core.Caller) (core.Resolution, error) {
	res, err := d.bindTarget(path, rootErr)
	if err != nil {
		return core.Resolution{}, err
	}
	if !res.Found {
		return core.Resolution{}, fmt.Errorf("%q: %w", path, common.ErrNotFound)
	}
	if err := d.requireDirWrite(res.Parent, caller); err != nil {
		return core.Resolution{}, err
	}
	return res, nil
}

func (d *Dispatcher) created(id core.ID) (*Response, error) {
	attr, err := d.fs.Store.Stat(id)
	if err != nil {
		return nil, err
	}
	return &Response{Ino: id, Attr: attr}, nil
}

func (d *Dispatcher) create(req *Request) (*Response, error) {
	flags := req.Flags | unix.O_CREAT | unix.O_WRONLY | unix.O_TRUNC
	return d.openPath(req, flags, false)
}

func (d *Dispatcher) mkdir(req *Request) (*Response, error) {
	res, err := d.newName(req.Path, req.Caller)
	if err != nil {
		return nil, err
	}
	id, err := d.fs.Dirs.Create(res.Parent, res.Name, core.NewNode{
		Type:  core.TypeDirectory,
		Perm:  req.Mode & core.PermMask,
		Owner: req.Caller,
	})
	if err != nil {
		return nil, err
	}
	return d.created(id)
}

func (d *Dispatcher) mknod(req *Request) (*Response, error) {
	res, err := d.newName(req.Path, req.Caller)
	if err != nil {
		return nil, err
	}
	id, err := d.fs.Links.CreateSpecial(res.Parent, res.Name, req.Mode, req.Dev, req.Caller)
	if err != nil {
		return nil, err
	}
	return d.created(id)
}

func (d *Dispatcher) symlink(req *Request) (*Response, error) {
	res, err := d.newName(req.Path, req.Caller)
	if err != nil {
		return nil, err
	}
	id, err := d.fs.Links.Symlink(res.Parent, res.Name, req.Target, req.Caller)
	if err != nil {
		return nil, err
	}
	return d.created(id)
}

func (d *Dispatcher) link(req *Request) (*Response, error) {
	if req.NewPath == "" {
		return nil, fmt.Errorf("link needs a destination: %w", common.ErrInvalid)
	}
	src, _, err := d.target(req, true)
	if err != nil {
		return nil, err
	}
	dst, err := d.newName(req.NewPath, req.Caller)
	if err != nil {
		return nil, err
	}
	if err := d.fs.Links.Hardlink(src, dst.Parent, dst.Name); err != nil {
		return nil, err
	}
	return d.created(src)
}

func (d *Dispatcher) unlink(req *Request) (*Response, error) {
	res, err := d.existingName(req.Path, common.ErrIsDir, req.Caller)
	if err != nil {
		return nil, err
	}
	return &Response{}, d.fs.Dirs.Unlink(res.Parent, res.Name)
}

func (d *Dispatcher) rmdir(req *Request) (*Response, error) {
	res, err := d.existingName(req.Path, common.ErrBusy, req.Caller)
	if err != nil {
		return nil, err
	}
	return &Response{}, d.fs.Dirs.Rmdir(res.Parent, res.Name)
}

func (d *Dispatcher) rename(req *Request) (*Response, error) {
	if req.NewPath == "" {
		return nil, fmt.Errorf("rename needs a destination: %w", common.ErrInvalid)
	}
	src, err := d.existingName(req.Path, common.ErrBusy, req.Caller)
	if err != nil {
		return nil, err
	}
	dst, err := d.bindTarget(req.NewPath, common.ErrBusy)
	if err != nil {
		return nil, err
	}
	if err := d.requireDirWrite(dst.Parent, req.Caller); err != nil {
		return nil, err
	}
	return &Response{}, d.fs.Dirs.Rename(src.Parent, src.Name, dst.Parent, dst.Name)
}

func (d *Dispatcher) readlink(req *Request) (*Response, error) {
	id, _, err := d.target(req, false)
	if err != nil {
		return nil, err
	}
	target, err := d.fs.Links.Readlink(id)
	if err != nil {
		return nil, err
	}
	return &Response{Target: target, Ino: id}, nil
}

func (d *Dispatcher) listdir(req *Request) (*Response, error) {
	id, byHandle, err := d.target(req, true)
	if err != nil {
		return nil, err
	}
	attr, err := d.fs.Store.Stat(id)
	if err != nil {
		return nil, err
	}
	if !attr.IsDir() {
		return nil, fmt.Errorf("%q: %w", req.Path, common.ErrNotDir)
	}
	if d.opts.EnforceDirPermissions && !byHandle {
		if err := requireAccess(attr, core.AccessRead, req.Caller); err != nil {
			return nil, err
		}
	}

	list, err := d.fs.Dirs.List(id)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(list))
	for i, e := range list {
		if i < 2 {
			entries = append(entries, Entry{Name: e.Name, Ino: e.Ino, Type: core.TypeDirectory})
			continue
		}
		a, err := d.fs.Store.Stat(e.Ino)
		if errors.Is(err, common.ErrNotFound) {
			// Removed since the listing was taken.
			continue
		} else if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Name: e.Name, Ino: e.Ino, Type: a.Type})
	}
	return &Response{Ino: id, Attr: attr, Entries: entries}, nil
}
