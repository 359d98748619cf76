package fusefs

import (
	"context"
	"sync"
	"syscall"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"

	"spockfs/internal/core"
	"spockfs/internal/dispatch"
)

// fileHandle is an open file. It holds an open reference on the inode so
// the content outlives an unlink until Release.
type fileHandle struct {
	m          *mountState
	ino        core.ID
	appendMode bool

	mu       sync.Mutex
	released bool
}

var (
	_ gofuse.FileReader    = (*fileHandle)(nil)
	_ gofuse.FileWriter    = (*fileHandle)(nil)
	_ gofuse.FileReleaser  = (*fileHandle)(nil)
	_ gofuse.FileFlusher   = (*fileHandle)(nil)
	_ gofuse.FileFsyncer   = (*fileHandle)(nil)
	_ gofuse.FileAllocater = (*fileHandle)(nil)
	_ gofuse.FileGetattrer = (*fileHandle)(nil)
)

func newFileHandle(m *mountState, ino core.ID, flags int) *fileHandle {
	return &fileHandle{m: m, ino: ino, appendMode: flags&unix.O_APPEND != 0}
}

func (h *fileHandle) call(ctx context.Context, req *dispatch.Request) (*dispatch.Response, syscall.Errno) {
	req.Caller = callerFrom(ctx, h.m.caller)
	req.Ino = h.ino
	resp, err := h.m.d.Dispatch(req)
	if err != nil {
		return nil, errno(err)
	}
	return resp, 0
}

func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	resp, errno := h.call(ctx, &dispatch.Request{Op: dispatch.OpRead, Offset: off, Length: int64(len(dest))})
	if errno != 0 {
		return nil, errno
	}
	return fuse.ReadResultData(resp.Data), 0
}

func (h *fileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	req := &dispatch.Request{Op: dispatch.OpWrite, Offset: off, Data: data}
	if h.appendMode {
		req.Flags = unix.O_APPEND
	}
	resp, errno := h.call(ctx, req)
	if errno != 0 {
		return 0, errno
	}
	return uint32(resp.N), 0
}

func (h *fileHandle) Getattr(ctx context.Context, out *fuse.AttrOut) syscall.Errno {
	resp, errno := h.call(ctx, &dispatch.Request{Op: dispatch.OpLstat})
	if errno != 0 {
		return errno
	}
	fillAttr(resp.Attr, &out.Attr)
	return 0
}

func (h *fileHandle) Allocate(ctx context.Context, off uint64, size uint64, mode uint32) syscall.Errno {
	_, errno := h.call(ctx, &dispatch.Request{
		Op:     dispatch.OpFallocate,
		Flags:  int(mode),
		Offset: int64(off),
		Length: int64(size),
	})
	return errno
}

// Flush and Fsync have nothing to write back
func (h *fileHandle) Flush(ctx context.Context) syscall.Errno { return 0 }

func (h *fileHandle) Fsync(ctx context.Context, flags uint32) syscall.Errno { return 0 }

// Release drops the open reference. The kernel sends it once per handle,
// but a second call is harmless.
func (h *fileHandle) Release(ctx context.Context) syscall.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return 0
	}
	h.released = true
	_, errno := h.call(ctx, &dispatch.Request{Op: dispatch.OpRelease})
	return errno
}
