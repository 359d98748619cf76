package dispatch

import (
	"fmt"
	"strings"

	"spockfs/internal/common"
	"spockfs/internal/core"
)

// xattrNameMax matches XATTR_NAME_MAX
const xattrNameMax = 255

// xattrTarget resolves without following a final symlink, as the l*xattr
// calls do, and checks mask for path-based requests.
func (d *Dispatcher) xattrTarget(req *Request, mask uint32) (core.ID, error) {
	if len(req.Name) > xattrNameMax {
		return 0, fmt.Errorf("xattr name of %d bytes: %w", len(req.Name), common.ErrRange)
	}
	id, byHandle, err := d.target(req, false)
	if err != nil {
		return 0, err
	}
	if byHandle || mask == 0 {
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

func (d *Dispatcher) setxattr(req *Request) (*Response, error) {
	id, err := d.xattrTarget(req, core.AccessWrite)
	if err != nil {
		return nil, err
	}
	if err := d.fs.Xattrs.Set(id, req.Name, req.Data, req.Flags); err != nil {
		return nil, err
	}
	return &Response{Ino: id}, nil
}

func (d *Dispatcher) getxattr(req *Request) (*Response, error) {
	id, err := d.xattrTarget(req, core.AccessRead)
	if err != nil {
		return nil, err
	}
	value, err := d.fs.Xattrs.Get(id, req.Name)
	if err != nil {
		return nil, err
	}
	data, size, err := fitBuffer(value, req.Size)
	if err != nil {
		return nil, err
	}
	return &Response{Ino: id, Data: data, Size: size}, nil
}

func (d *Dispatcher) removexattr(req *Request) (*Response, error) {
	id, err := d.xattrTarget(req, core.AccessWrite)
	if err != nil {
		return nil, err
	}
	if err := d.fs.Xattrs.Remove(id, req.Name); err != nil {
		return nil, err
	}
	return &Response{Ino: id}, nil
}

// listxattr returns the names both as a slice and in the NUL-separated wire
// form listxattr(2) uses; Size applies to the wire form.
func (d *Dispatcher) listxattr(req *Request) (*Response, error) {
	id, err := d.xattrTarget(req, 0)
	if err != nil {
		return nil, err
	}
	names, err := d.fs.Xattrs.List(id)
	if err != nil {
		return nil, err
	}
	var wire []byte
	if len(names) > 0 {
		wire = []byte(strings.Join(names, "\x00") + "\x00")
	}
	data, size, err := fitBuffer(wire, req.Size)
	if err != nil {
		return nil, err
	}
	resp := &Response{Ino: id, Data: data, Size: size}
	if req.Size != 0 {
		resp.Names = names
	}
	return resp, nil
}
