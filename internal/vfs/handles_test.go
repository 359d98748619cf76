package vfs

import (
	"sync"
	"testing"

	"spockfs/internal/core"
)

func TestNewHandleManager(t *testing.T) {
	hm := NewHandleManager()
	if hm == nil {
		t.Fatal("NewHandleManager returned nil")
	}
	if hm.handles == nil {
		t.Error("handles map is nil")
	}
	if hm.nextHandle != 1 {
		t.Errorf("nextHandle = %d, want 1", hm.nextHandle)
	}
}

func TestAllocate(t *testing.T) {
	hm := NewHandleManager()

	h1 := hm.Allocate(1, "/file1.txt", false, 0, true)
	h2 := hm.Allocate(2, "/dir", true, 0, false)
	h3 := hm.Allocate(3, "/file2.txt", false, 0, true)

	if h1 == 0 || h2 == 0 || h3 == 0 {
		t.Error("handles should not be 0")
	}
	if h1 != 1 || h2 != 2 || h3 != 3 {
		t.Error("handles should be sequential")
	}
	if hm.Count() != 3 {
		t.Errorf("Count = %d, want 3", hm.Count())
	}
}

func TestGet(t *testing.T) {
	hm := NewHandleManager()

	h := hm.Allocate(42, "/test.txt", false, 0644, true)

	info, ok := hm.Get(h)
	if !ok {
		t.Fatal("Get returned not ok")
	}
	if info.ino != 42 {
		t.Errorf("ino = %d, want 42", info.ino)
	}
	if info.path != "/test.txt" {
		t.Errorf("path = %s, want /test.txt", info.path)
	}
	if info.isDir {
		t.Error("isDir should be false")
	}
	if info.flags != 0644 {
		t.Errorf("flags = %d, want 0644", info.flags)
	}
	if !info.acquired {
		t.Error("acquired should be true")
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	hm := NewHandleManager()
	h := hm.Allocate(1, "/a", false, 0, false)

	info, _ := hm.Get(h)
	info.path = "/mutated"

	again, _ := hm.Get(h)
	if again.path != "/a" {
		t.Errorf("path = %s, want /a", again.path)
	}
}

func TestGet_NotFound(t *testing.T) {
	hm := NewHandleManager()

	if _, ok := hm.Get(999); ok {
		t.Error("Get should return not ok for nonexistent handle")
	}
}

func TestRelease(t *testing.T) {
	hm := NewHandleManager()

	h := hm.Allocate(7, "/test.txt", false, 0, true)

	info, ok := hm.Release(h)
	if !ok {
		t.Fatal("Release should report the handle")
	}
	if info.ino != 7 || !info.acquired {
		t.Errorf("released %+v, want ino 7 acquired", info)
	}
	if _, ok := hm.Get(h); ok {
		t.Error("handle should not exist after release")
	}
	if _, ok := hm.Release(h); ok {
		t.Error("second Release should report nothing")
	}
}

func TestRebind(t *testing.T) {
	hm := NewHandleManager()
	h := hm.Allocate(5, "/link", false, 0, true)

	prev, ok := hm.Rebind(h, 9, false)
	if !ok {
		t.Fatal("Rebind should find the handle")
	}
	if prev.ino != 5 || !prev.acquired {
		t.Errorf("previous state %+v, want ino 5 acquired", prev)
	}
	info, _ := hm.Get(h)
	if info.ino != 9 || info.acquired {
		t.Errorf("rebound state %+v, want ino 9 not acquired", info)
	}
	if _, ok := hm.Rebind(999, 1, false); ok {
		t.Error("Rebind of unknown handle should fail")
	}
}

func TestRenamePaths(t *testing.T) {
	hm := NewHandleManager()
	dir := hm.Allocate(2, "/a", true, 0, false)
	child := hm.Allocate(3, "/a/b/c", false, 0, true)
	sibling := hm.Allocate(4, "/ab", false, 0, true)

	hm.Rename("/a", "/z")

	for h, want := range map[HandleID]string{dir: "/z", child: "/z/b/c", sibling: "/ab"} {
		info, _ := hm.Get(h)
		if info.path != want {
			t.Errorf("handle %d path = %s, want %s", h, info.path, want)
		}
	}
}

func TestFindPath(t *testing.T) {
	hm := NewHandleManager()
	hm.Allocate(2, "/dir", true, 0, false)

	if p, ok := hm.FindPath(2); !ok || p != "/dir" {
		t.Errorf("FindPath(2) = %q, %v", p, ok)
	}
	if _, ok := hm.FindPath(core.ID(3)); ok {
		t.Error("FindPath should not find unopened inode")
	}
}

func TestUpdateDirPos(t *testing.T) {
	hm := NewHandleManager()
	h := hm.Allocate(1, "/dir", true, 0, false)

	if pos := hm.GetDirPos(h); pos != 0 {
		t.Errorf("initial dirPos = %d, want 0", pos)
	}
	hm.UpdateDirPos(h, 10)
	if pos := hm.GetDirPos(h); pos != 10 {
		t.Errorf("dirPos = %d, want 10", pos)
	}

	hm.UpdateDirPos(999, 10)
	if pos := hm.GetDirPos(999); pos != 0 {
		t.Errorf("GetDirPos(nonexistent) = %d, want 0", pos)
	}
}

func TestSetDirEnumDone(t *testing.T) {
	hm := NewHandleManager()
	h := hm.Allocate(1, "/dir", true, 0, false)

	if hm.IsDirEnumDone(h) {
		t.Error("dirEnumDone should be false initially")
	}
	hm.SetDirEnumDone(h, true)
	if !hm.IsDirEnumDone(h) {
		t.Error("dirEnumDone should be true after SetDirEnumDone(true)")
	}
	hm.SetDirEnumDone(h, false)
	if hm.IsDirEnumDone(h) {
		t.Error("dirEnumDone should be false after SetDirEnumDone(false)")
	}

	hm.SetDirEnumDone(999, true)
	if hm.IsDirEnumDone(999) {
		t.Error("IsDirEnumDone should return false for nonexistent handle")
	}
}

func TestConcurrentAccess(t *testing.T) {
	hm := NewHandleManager()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := hm.Allocate(core.ID(i), "/file", false, 0, false)
			hm.Get(h)
			hm.UpdateDirPos(h, i)
			hm.Rename("/file", "/file")
			hm.Release(h)
		}(i)
	}

	wg.Wait()

	if hm.Count() != 0 {
		t.Errorf("handles remaining = %d, want 0", hm.Count())
	}
}

func TestClear(t *testing.T) {
	hm := NewHandleManager()

	hm.Allocate(1, "/a", false, 0, true)
	hm.Allocate(2, "/b", false, 0, true)
	h3 := hm.Allocate(3, "/dir", true, 0, false)

	cleared := hm.Clear()
	if len(cleared) != 3 {
		t.Errorf("Clear returned %d handles, want 3", len(cleared))
	}
	if _, ok := hm.Get(h3); ok {
		t.Error("handle should not exist after Clear")
	}

	// Handle ids are not reused after Clear.
	if h := hm.Allocate(4, "/c", false, 0, false); h != 4 {
		t.Errorf("handle after Clear = %d, want 4", h)
	}
}

func TestClear_Empty(t *testing.T) {
	hm := NewHandleManager()
	if cleared := hm.Clear(); len(cleared) != 0 {
		t.Errorf("Clear on empty = %d, want 0", len(cleared))
	}
}
