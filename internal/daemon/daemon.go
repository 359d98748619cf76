// Copyright 2024 SpockFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package daemon

// The daemon serves requests for the namespace it holds in memory. Never
// point the seed directory, snapshot file or log file inside its own NFS or
// FUSE mount: the daemon would end up waiting on itself.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/hanwen/go-fuse/v2/fuse"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"spockfs/internal/common"
	"spockfs/internal/core"
	"spockfs/internal/dispatch"
	"spockfs/internal/fusefs"
	"spockfs/internal/storage"
	"spockfs/internal/util"
	spockvfs "spockfs/internal/vfs"
)

func init() {
	// Default logging to discard until explicitly enabled via --logging flag
	log.SetOutput(io.Discard)
}

const (
	// maxLogSize is the size at which the log file is cut in half on start
	maxLogSize = 50 * 1024 * 1024

	// portWaitTimeout bounds how long the network server may take to bind
	portWaitTimeout = 3 * time.Second

	// saveTimeout bounds one snapshot write
	saveTimeout = 2 * time.Minute
)

// Daemon holds one namespace and serves it over NFS (or SMB), FUSE and
// the control socket
type Daemon struct {
	// Settings is loaded from settings.yaml when nil
	Settings *GlobalSettings

	// LogLevel overrides Settings.LogLevel: trace, debug, info, warn, off
	LogLevel string

	// SkipCleanup skips removing stale mounts, pid file and socket on start.
	// Tests running several daemons in parallel set it.
	SkipCleanup bool

	inst      *core.FS
	disp      *dispatch.Dispatcher
	fs        *spockvfs.SpockFS
	snapshots *storage.SnapshotFile

	netServer  NetFSServer
	netAddr    string
	netMounted bool
	fuseServer *fuse.Server
	ipcServer  *Server

	lock    *flock.Flock
	logFile *os.File

	stopCh    chan struct{}
	stopOnce  sync.Once
	ready     chan struct{}
	startedAt time.Time

	// saveMu serializes snapshot writes and guards lastSavedGen
	saveMu       sync.Mutex
	lastSavedGen uint64
	lastSave     atomic.Int64
}

// New creates a new daemon instance
func New() *Daemon {
	return &Daemon{
		stopCh: make(chan struct{}),
		ready:  make(chan struct{}),
	}
}

// Ready is closed once every configured server is up
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Stop asks a running daemon to shut down
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

// Run starts the daemon and blocks until it is stopped by Stop, a stop
// request, SIGINT/SIGTERM or ctx. The namespace is saved on the way out.
func (d *Daemon) Run(ctx context.Context) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	if d.Settings == nil {
		settings, err := LoadGlobalSettings()
		if err != nil {
			return err
		}
		d.Settings = settings
	}
	if d.LogLevel == "" {
		d.LogLevel = d.Settings.LogLevel
	}

	if !d.SkipCleanup {
		if result := CleanupStale(d.Settings.MountPoint, d.Settings.NetFSMount); result.Any() {
			log.Infof("Startup cleanup: %s", FormatCleanupResult(result))
		}
	}

	// Acquire exclusive lock
	d.lock = flock.New(LockPath())
	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another daemon instance is already running")
	}
	defer d.lock.Unlock()

	if err := d.setupLogging(); err != nil {
		return err
	}
	if d.logFile != nil {
		defer d.logFile.Close()
	}

	if err := d.writePidFile(); err != nil {
		return err
	}
	defer d.removePidFile()

	d.startedAt = time.Now()
	log.Infof("Daemon started (PID %d)", os.Getpid())

	storage.SetConfigBusyTimeout(d.Settings.BusyTimeout)
	if err := d.open(ctx); err != nil {
		d.close()
		return err
	}
	defer d.close()

	log.Infof("Starting IPC server at %s", SocketPath())
	d.ipcServer = NewServer(d.handleRequest)
	if err := d.ipcServer.Start(); err != nil {
		return err
	}
	defer d.ipcServer.Stop()

	g, gctx := errgroup.WithContext(ctx)

	if err := d.startNetFS(g); err != nil {
		return err
	}
	d.startFUSE(g)
	close(d.ready)

	g.Go(func() error {
		d.autosaveLoop(gctx)
		return nil
	})

	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			log.Infof("Received signal %v, shutting down...", sig)
		case <-d.stopCh:
			log.Infof("Stop requested, shutting down...")
		case <-gctx.Done():
			log.Infof("Context done, shutting down...")
		}
		d.Stop()
		d.stopServers()
		return nil
	})

	runErr := g.Wait()

	d.ipcServer.Stop()
	if n := d.fs.CloseAll(); n > 0 {
		log.Debugf("Released %d open handles", n)
	}
	if d.snapshots != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		if _, err := d.saveSnapshot(saveCtx, "shutdown", false); err != nil {
			log.Errorf("Final save failed: %v", err)
			if runErr == nil {
				runErr = err
			}
		}
		cancel()
	}

	log.Infof("Daemon stopped")
	return runErr
}

func (d *Daemon) setupLogging() error {
	level := strings.ToLower(d.LogLevel)
	if level == "" || level == "off" || level == "none" {
		ConfigureLogging(level, io.Discard)
		return nil
	}
	if err := truncateLogFile(LogPath(), maxLogSize); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to truncate log file: %v\n", err)
	}
	logFile, err := os.OpenFile(LogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	d.logFile = logFile
	ConfigureLogging(level, logFile)
	return nil
}

// open builds the namespace: the newest snapshot if there is one, else a
// fresh tree seeded from SeedDir
func (d *Daemon) open(ctx context.Context) error {
	s := d.Settings
	opts := s.CoreOptions()

	var inst *core.FS
	if path := s.SnapshotPath(); path != "" {
		sf, err := storage.OpenOrCreate(path)
		if err != nil {
			return fmt.Errorf("failed to open snapshot file: %w", err)
		}
		d.snapshots = sf

		img, snap, err := sf.Load(ctx, "")
		switch {
		case err == nil:
			inst, err = core.Import(img, opts)
			if err != nil {
				return fmt.Errorf("failed to restore snapshot %s: %w", snap.ID, err)
			}
			log.Infof("Restored snapshot %s (%d inodes, saved %s)", snap.ID, snap.InodeCount, snap.CreatedAt.Format(time.RFC3339))
		case errors.Is(err, common.ErrNotFound):
			log.Infof("No snapshot in %s, starting empty", path)
		default:
			return fmt.Errorf("failed to load snapshot: %w", err)
		}
	}

	fresh := inst == nil
	if fresh {
		var err error
		if inst, err = core.New(opts); err != nil {
			return err
		}
	}
	d.inst = inst
	d.disp = dispatch.New(inst, dispatch.Options{EnforceDirPermissions: s.EnforceDirPermissions})
	d.fs = spockvfs.NewSpockFS(d.disp, spockvfs.Options{Caller: s.Caller()})

	if fresh && s.SeedDir != "" {
		filter := BuildFileFilter(s.SeedDir, s.SeedGitignore, s.SeedExcludes)
		stats, err := Seed(ctx, d.disp, s.Caller(), s.SeedDir, filter)
		if err != nil {
			return fmt.Errorf("failed to seed from %s: %w", s.SeedDir, err)
		}
		log.Infof("Seeded from %s: %d dirs, %d files, %d symlinks, %d bytes (%d skipped)",
			s.SeedDir, stats.Dirs, stats.Files, stats.Symlinks, stats.Bytes, stats.Skipped)
	}

	if !fresh {
		d.lastSavedGen = d.disp.Generation()
	}
	return nil
}

func (d *Daemon) close() {
	if d.snapshots != nil {
		d.snapshots.Close()
	}
	if d.inst != nil {
		d.inst.Close()
	}
}

// startNetFS starts the NFS (or SMB) server when Listen is set and mounts
// it at NetFSMount when that is set too
func (d *Daemon) startNetFS(g *errgroup.Group) error {
	listen := d.Settings.Listen
	if listen == "" {
		return nil
	}
	logServerType()

	ip, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", listen, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid listen port %q: %w", portStr, err)
	}
	if port == 0 {
		if port, err = findAvailablePort(ip); err != nil {
			return fmt.Errorf("failed to find available port: %w", err)
		}
	}

	srv, err := createNetFSServer(d.fs, d.Settings.ShareName)
	if err != nil {
		return fmt.Errorf("failed to create %s server: %w", NetFSType(), err)
	}
	d.netServer = srv
	d.netAddr = net.JoinHostPort(ip, strconv.Itoa(port))

	addr := d.netAddr
	g.Go(func() error {
		if err := srv.Serve(addr); err != nil {
			d.Stop()
			return fmt.Errorf("%s server: %w", NetFSType(), err)
		}
		return nil
	})

	dialIP := ip
	if dialIP == "" || dialIP == "0.0.0.0" || dialIP == "::" {
		dialIP = "127.0.0.1"
	}
	if err := waitForPort(dialIP, port, portWaitTimeout); err != nil {
		d.Stop()
		srv.Shutdown()
		return fmt.Errorf("%s server failed to start: %w", NetFSType(), err)
	}
	log.Infof("%s server listening on %s", NetFSType(), d.netAddr)

	if mp := d.Settings.NetFSMount; mp != "" {
		if err := mountNetFS(dialIP, port, d.Settings.ShareName, mp); err != nil {
			log.Warnf("Failed to mount %s at %s: %v", NetFSType(), mp, err)
		} else {
			d.netMounted = true
			log.Infof("Mounted %s at %s", NetFSType(), mp)
		}
	}
	return nil
}

// startFUSE mounts the namespace at MountPoint. A failed mount is logged and
// the daemon keeps serving over the network.
func (d *Daemon) startFUSE(g *errgroup.Group) {
	mp := d.Settings.MountPoint
	if mp == "" {
		return
	}
	server, err := fusefs.Mount(fusefs.Options{
		Mountpoint: mp,
		Dispatcher: d.disp,
		Caller:     d.Settings.Caller(),
		Debug:      strings.EqualFold(d.LogLevel, "trace"),
	})
	if err != nil {
		log.Warnf("FUSE mount failed: %v", err)
		return
	}
	d.fuseServer = server
	g.Go(func() error {
		server.Wait()
		return nil
	})
}

// stopServers unmounts before shutting the network server down, so the
// kernel client can still talk to it while it lets go of the mount
func (d *Daemon) stopServers() {
	if d.netMounted {
		if err := Unmount(d.Settings.NetFSMount); err != nil {
			log.Warnf("Unmount %s failed: %v", d.Settings.NetFSMount, err)
		}
	}
	if d.fuseServer != nil {
		if err := d.fuseServer.Unmount(); err != nil {
			log.Warnf("FUSE unmount failed: %v", err)
			if err := Unmount(d.Settings.MountPoint); err != nil {
				log.Warnf("Unmount %s failed: %v", d.Settings.MountPoint, err)
			}
		}
	}
	if d.netServer != nil {
		d.netServer.Shutdown()
	}
}

// autosaveLoop saves on every tick where the namespace changed
func (d *Daemon) autosaveLoop(ctx context.Context) {
	interval := time.Duration(d.Settings.AutosaveInterval) * time.Second
	if d.snapshots == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			saveCtx, cancel := context.WithTimeout(ctx, saveTimeout)
			snap, err := d.saveSnapshot(saveCtx, "autosave", false)
			cancel()
			if err != nil {
				log.Errorf("Autosave failed: %v", err)
			} else if snap != nil {
				log.Debugf("Autosaved snapshot %s", snap.ID)
			}
		}
	}
}

// saveSnapshot writes the namespace to the snapshot file and prunes old
// snapshots. Unless force is set, nothing is written when no mutating call
// succeeded since the last save; a nil snapshot reports that.
func (d *Daemon) saveSnapshot(ctx context.Context, message string, force bool) (*storage.Snapshot, error) {
	if d.snapshots == nil {
		return nil, fmt.Errorf("snapshots are disabled")
	}
	d.saveMu.Lock()
	defer d.saveMu.Unlock()

	gen := d.disp.Generation()
	if !force && gen == d.lastSavedGen {
		return nil, nil
	}

	snap, err := d.snapshots.Save(ctx, d.inst.Export(), message)
	if err != nil {
		return nil, err
	}
	d.lastSavedGen = gen
	d.lastSave.Store(snap.CreatedAt.Unix())
	log.Infof("Saved snapshot %s (%d inodes, %d bytes)", snap.ID, snap.InodeCount, snap.TotalSize)

	if keep := d.Settings.KeepSnapshots; keep > 0 {
		if n, err := d.snapshots.Prune(ctx, keep); err != nil {
			log.Warnf("Prune failed: %v", err)
		} else if n > 0 {
			log.Infof("Pruned %d snapshots", n)
		}
	}
	return snap, nil
}

// handleRequest processes an IPC request
func (d *Daemon) handleRequest(req *Request) *Response {
	switch req.Type {
	case RequestStatus:
		return d.handleStatus()
	case RequestStop:
		return d.handleStop()
	case RequestStatFS:
		return d.handleStatFS()
	case RequestSave:
		return d.handleSave(req)
	case RequestListSnapshots:
		return d.handleListSnapshots()
	case RequestDeleteSnapshot:
		return d.handleDeleteSnapshot(req)
	case RequestPrune:
		return d.handlePrune(req)
	default:
		return errorResponse("unknown request type %q", req.Type)
	}
}

func (d *Daemon) handleStatus() *Response {
	status := &StatusInfo{
		FSID:        d.inst.ID().String(),
		NetFS:       NetFSType(),
		Listen:      d.netAddr,
		StartedAt:   d.startedAt.Unix(),
		LastSaveAt:  d.lastSave.Load(),
		OpenHandles: d.fs.OpenHandles(),
	}
	if d.fuseServer != nil {
		status.MountPoint = d.Settings.MountPoint
	}
	if d.snapshots != nil {
		status.SnapshotFile = d.snapshots.Path()
	}
	return &Response{Success: true, PID: os.Getpid(), Status: status}
}

func (d *Daemon) handleStop() *Response {
	d.Stop()
	return &Response{Success: true, Message: "daemon stopping", PID: os.Getpid()}
}

func (d *Daemon) handleStatFS() *Response {
	st, err := d.fs.Statvfs()
	if err != nil {
		return errorResponse("statfs: %v", err)
	}
	return &Response{Success: true, StatFS: &StatFSInfo{
		BlockSize:  st.Bsize,
		Blocks:     st.Blocks,
		BlocksFree: st.Bfree,
		Files:      st.Files,
		FilesFree:  st.Ffree,
		NameMax:    st.Namemax,
		FSID:       st.Fsid,
	}}
}

func (d *Daemon) handleSave(req *Request) *Response {
	if d.snapshots == nil {
		return errorResponse("snapshots are disabled")
	}
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	snap, err := d.saveSnapshot(ctx, req.Message, true)
	if err != nil {
		return errorResponse("save: %v", err)
	}
	info := snapshotInfo(*snap)
	return &Response{Success: true, Message: "saved snapshot " + snap.ID, Snapshot: &info}
}

func (d *Daemon) handleListSnapshots() *Response {
	if d.snapshots == nil {
		return errorResponse("snapshots are disabled")
	}
	snaps, err := d.snapshots.List(context.Background())
	if err != nil {
		return errorResponse("list: %v", err)
	}
	infos := make([]SnapshotInfo, 0, len(snaps))
	for _, s := range snaps {
		infos = append(infos, snapshotInfo(s))
	}
	return &Response{Success: true, Snapshots: infos}
}

func (d *Daemon) handleDeleteSnapshot(req *Request) *Response {
	if d.snapshots == nil {
		return errorResponse("snapshots are disabled")
	}
	if req.SnapshotID == "" {
		return errorResponse("snapshot id is required")
	}
	if err := d.snapshots.Delete(context.Background(), req.SnapshotID); err != nil {
		return errorResponse("delete: %v", err)
	}
	return &Response{Success: true, Message: "deleted snapshot " + req.SnapshotID}
}

func (d *Daemon) handlePrune(req *Request) *Response {
	if d.snapshots == nil {
		return errorResponse("snapshots are disabled")
	}
	if req.Keep < 1 {
		return errorResponse("keep must be at least 1")
	}
	n, err := d.snapshots.Prune(context.Background(), req.Keep)
	if err != nil {
		return errorResponse("prune: %v", err)
	}
	return &Response{Success: true, Pruned: n}
}

func snapshotInfo(s storage.Snapshot) SnapshotInfo {
	return SnapshotInfo{
		ID:         s.ID,
		Message:    s.Message,
		CreatedAt:  s.CreatedAt.Unix(),
		InodeCount: s.InodeCount,
		TotalSize:  s.TotalSize,
	}
}

func (d *Daemon) writePidFile() error {
	data := []byte(strconv.Itoa(os.Getpid()))
	return os.WriteFile(PidPath(), data, 0600)
}

func (d *Daemon) removePidFile() {
	os.Remove(PidPath())
}

// GetPID reads the daemon PID from file
func GetPID() (int, error) {
	data, err := os.ReadFile(PidPath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// findAvailablePort finds an available TCP port on ip
func findAvailablePort(ip string) (int, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort(ip, "0"))
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// waitForPort waits until a port is accepting connections on the given IP
func waitForPort(ip string, port int, timeout time.Duration) error {
	addr := net.JoinHostPort(ip, strconv.Itoa(port))
	if util.WaitWithDeadline(time.Now().Add(timeout), 50*time.Millisecond, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return true
		}
		return false
	}) {
		return nil
	}
	return fmt.Errorf("timeout waiting for port %d", port)
}

// truncateLogFile truncates the log file if it exceeds maxSize bytes.
// It keeps the last half of the file content to preserve recent logs.
func truncateLogFile(logPath string, maxSize int64) error {
	info, err := os.Stat(logPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() <= maxSize {
		return nil
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		return err
	}

	// Start on a line boundary
	startIdx := len(data) - len(data)/2
	for i := startIdx; i < len(data); i++ {
		if data[i] == '\n' {
			startIdx = i + 1
			break
		}
	}

	kept := data[startIdx:]
	header := []byte(fmt.Sprintf("--- Log truncated at %s (kept last %d bytes) ---\n",
		time.Now().Format(time.RFC3339), len(kept)))
	return os.WriteFile(logPath, append(header, kept...), 0600)
}
