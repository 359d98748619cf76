package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"spockfs/internal/core"
	"spockfs/internal/dispatch"
)

// seedChunk is the write size used while copying host files in
const seedChunk = 1 << 20

// SeedStats counts what a seed run copied
type SeedStats struct {
	Dirs     int
	Files    int
	Symlinks int
	Bytes    int64
	Skipped  int
}

// Seed copies the host tree at rootDir into the namespace root. Directories,
// regular files and symlinks are copied with their permission bits and
// modification times. Other file types are skipped. Directory modes are
// applied last so read-only directories can still be filled.
func Seed(ctx context.Context, d *dispatch.Dispatcher, caller core.Caller, rootDir string, filter FileFilter) (SeedStats, error) {
	var stats SeedStats
	type dirMode struct {
		path  string
		mode  uint32
		mtime int64
	}
	var dirs []dirMode

	err := filepath.WalkDir(rootDir, func(hostPath string, de fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			log.Warnf("[Seed] skip %s: %v", hostPath, walkErr)
			stats.Skipped++
			if de != nil && de.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(rootDir, hostPath)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if filter != nil && !filter(rel, de.IsDir()) {
			if de.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := de.Info()
		if err != nil {
			stats.Skipped++
			return nil
		}
		target := "/" + rel

		switch {
		case de.IsDir():
			if _, err := d.Do(dispatch.OpMkdir, caller, target, func(r *dispatch.Request) { r.Mode = 0700 }); err != nil {
				return fmt.Errorf("mkdir %s: %w", target, err)
			}
			dirs = append(dirs, dirMode{path: target, mode: uint32(info.Mode().Perm()), mtime: info.ModTime().Unix()})
			stats.Dirs++

		case info.Mode()&os.ModeSymlink != 0:
			dest, err := os.Readlink(hostPath)
			if err != nil {
				stats.Skipped++
				return nil
			}
			if _, err := d.Do(dispatch.OpSymlink, caller, target, func(r *dispatch.Request) { r.Target = dest }); err != nil {
				return fmt.Errorf("symlink %s: %w", target, err)
			}
			stats.Symlinks++

		case info.Mode().IsRegular():
			n, err := seedFile(d, caller, hostPath, target, info)
			if err != nil {
				return err
			}
			stats.Files++
			stats.Bytes += n

		default:
			log.Debugf("[Seed] skip special file %s", hostPath)
			stats.Skipped++
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	// Children first so a parent's mtime is not bumped afterwards.
	for i := len(dirs) - 1; i >= 0; i-- {
		dm := dirs[i]
		if _, err := d.Do(dispatch.OpChmod, caller, dm.path, func(r *dispatch.Request) { r.Mode = dm.mode }); err != nil {
			return stats, fmt.Errorf("chmod %s: %w", dm.path, err)
		}
		setMtime(d, caller, dm.path, dm.mtime)
	}

	log.Infof("[Seed] copied %d dirs, %d files (%d bytes), %d symlinks from %s (%d skipped)",
		stats.Dirs, stats.Files, stats.Bytes, stats.Symlinks, rootDir, stats.Skipped)
	return stats, nil
}

func seedFile(d *dispatch.Dispatcher, caller core.Caller, hostPath, target string, info os.FileInfo) (int64, error) {
	resp, err := d.Do(dispatch.OpCreate, caller, target, func(r *dispatch.Request) {
		r.Mode = uint32(info.Mode().Perm())
	})
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", target, err)
	}
	ino := resp.Ino

	f, err := os.Open(hostPath)
	if err != nil {
		log.Warnf("[Seed] %s left empty: %v", target, err)
		return 0, nil
	}
	defer f.Close()

	buf := make([]byte, seedChunk)
	var off int64
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if _, err := d.Dispatch(&dispatch.Request{Op: dispatch.OpWrite, Caller: caller, Ino: ino, Offset: off, Data: buf[:n]}); err != nil {
				return off, fmt.Errorf("write %s: %w", target, err)
			}
			off += int64(n)
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return off, fmt.Errorf("read %s: %w", hostPath, rerr)
		}
	}

	setMtime(d, caller, target, info.ModTime().Unix())
	return off, nil
}

func setMtime(d *dispatch.Dispatcher, caller core.Caller, p string, mtime int64) {
	_, err := d.Do(dispatch.OpUtimens, caller, p, func(r *dispatch.Request) {
		r.Atime = &mtime
		r.Mtime = &mtime
	})
	if err != nil {
		log.Debugf("[Seed] utimens %s: %v", path.Clean(p), err)
	}
}
