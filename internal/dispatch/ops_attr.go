package dispatch

import (
	"errors"
	"fmt"
	"math"
	"time"

	"spockfs/internal/common"
	"spockfs/internal/core"
)

// UtimeNow as an Atime or Mtime value sets that timestamp to the current time
const UtimeNow int64 = math.MinInt64

func (d *Dispatcher) statTarget(req *Request, follow bool) (*Response, error) {
	id, _, err := d.target(req, follow)
	if err != nil {
		return nil, err
	}
	return d.created(id)
}

func (d *Dispatcher) stat(req *Request) (*Response, error) {
	return d.statTarget(req, true)
}

func (d *Dispatcher) lstat(req *Request) (*Response, error) {
	return d.statTarget(req, false)
}

func (d *Dispatcher) chmod(req *Request) (*Response, error) {
	id, _, err := d.target(req, true)
	if err != nil {
		return nil, err
	}
	err = d.fs.Store.Mutate(id, func(n *core.Inode) error {
		if err := requireOwner(core.Attr{Ino: n.ID, Uid: n.Uid}, req.Caller); err != nil {
			return err
		}
		n.Mode = n.Type.ModeBits() | (req.Mode & core.PermMask)
		n.Ctime = d.fs.Store.Now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d.created(id)
}

func (d *Dispatcher) chown(req *Request) (*Response, error) {
	id, _, err := d.target(req, true)
	if err != nil {
		return nil, err
	}
	err = d.fs.Store.Mutate(id, func(n *core.Inode) error {
		uid, gid := n.Uid, n.Gid
		if req.Uid != nil {
			uid = *req.Uid
		}
		if req.Gid != nil {
			gid = *req.Gid
		}
		if req.Caller.Uid != 0 {
			// Owners may only move a file between their own groups.
			if req.Caller.Uid != n.Uid || uid != n.Uid {
				return fmt.Errorf("chown to %d:%d: %w", uid, gid, common.ErrNotPermitted)
			}
			if gid != n.Gid && gid != req.Caller.Gid && !contains(req.Caller.Groups, gid) {
				return fmt.Errorf("chown to group %d: %w", gid, common.ErrNotPermitted)
			}
		}
		n.Uid, n.Gid = uid, gid
		n.Ctime = d.fs.Store.Now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d.created(id)
}

func contains(list []uint32, v uint32) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func (d *Dispatcher) utimens(req *Request) (*Response, error) {
	id, _, err := d.target(req, true)
	if err != nil {
		return nil, err
	}
	explicit := (req.Atime != nil && *req.Atime != UtimeNow) || (req.Mtime != nil && *req.Mtime != UtimeNow)

	err = d.fs.Store.Mutate(id, func(n *core.Inode) error {
		attr := core.Attr{Ino: n.ID, Mode: n.Mode, Uid: n.Uid, Gid: n.Gid}
		if explicit {
			if err := requireOwner(attr, req.Caller); err != nil {
				return err
			}
		} else if !core.IsOwner(attr, req.Caller) {
			if err := requireAccess(attr, core.AccessWrite, req.Caller); err != nil {
				return err
			}
		}

		now := d.fs.Store.Now()
		stamp := func(v *int64, dst *time.Time) {
			switch {
			case v == nil:
			case *v == UtimeNow:
				*dst = now
			default:
				*dst = time.Unix(*v, 0)
			}
		}
		stamp(req.Atime, &n.Atime)
		stamp(req.Mtime, &n.Mtime)
		n.Ctime = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d.created(id)
}

func (d *Dispatcher) access(req *Request) (*Response, error) {
	if req.Mode&^(core.AccessRead|core.AccessWrite|core.AccessExecute) != 0 {
		return nil, fmt.Errorf("access mask %#o: %w", req.Mode, common.ErrInvalid)
	}
	id, _, err := d.target(req, true)
	if err != nil {
		return nil, err
	}
	attr, err := d.fs.Store.Stat(id)
	if err != nil {
		return nil, err
	}
	return &Response{Ino: id, Attr: attr, Allowed: core.Evaluate(attr, req.Mode, req.Caller)}, nil
}

// exists answers a membership query: absence is a negative result, not an error
func (d *Dispatcher) exists(req *Request) (*Response, error) {
	res, err := d.fs.Resolver.Resolve(req.Path, true)
	switch {
	case errors.Is(err, common.ErrNotFound):
		return &Response{Exists: false}, nil
	case err != nil:
		return nil, err
	}
	return &Response{Exists: res.Found, Ino: res.Ino}, nil
}

func (d *Dispatcher) statvfs(req *Request) (*Response, error) {
	if req.Path != "" || req.Ino != 0 {
		if _, _, err := d.target(req, true); err != nil {
			return nil, err
		}
	}
	return &Response{StatFS: d.fs.StatFS()}, nil
}
