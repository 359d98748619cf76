package daemon

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	nfs "github.com/willscott/go-nfs"
	"gopkg.in/yaml.v3"

	"spockfs/internal/artifacts"
	"spockfs/internal/core"
)

// EnvConfigDir overrides the configuration directory
const EnvConfigDir = "SPOCKFS_CONFIG_DIR"

// getConfigDir returns the config directory path.
// Uses SPOCKFS_CONFIG_DIR env var if set, otherwise defaults to ~/.spockfs.
// This is computed dynamically to support test isolation.
func getConfigDir() string {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".spockfs")
}

// ConfigDir returns the configuration directory path
func ConfigDir() string {
	return getConfigDir()
}

// PidPath returns the PID file path
func PidPath() string {
	return filepath.Join(getConfigDir(), "daemon.pid")
}

// LogPath returns the log file path.
// Uses SPOCKFS_DAEMON_LOG env var if set, otherwise defaults to config_dir/daemon.log.
func LogPath() string {
	if envPath := os.Getenv("SPOCKFS_DAEMON_LOG"); envPath != "" {
		return envPath
	}
	return filepath.Join(getConfigDir(), "daemon.log")
}

// SocketPath returns the IPC socket path
func SocketPath() string {
	return filepath.Join(getConfigDir(), "daemon.sock")
}

// LockPath returns the lock file path
func LockPath() string {
	return filepath.Join(getConfigDir(), "daemon.lock")
}

// GlobalSettingsPath returns the settings file path
func GlobalSettingsPath() string {
	return filepath.Join(getConfigDir(), "settings.yaml")
}

// DefaultSnapshotPath returns where snapshots go when settings name no file
func DefaultSnapshotPath() string {
	return filepath.Join(getConfigDir(), "snapshots.spockfs")
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	return os.MkdirAll(getConfigDir(), 0700)
}

// InitConfigDir creates the config directory and writes the default
// settings file if there is none.
func InitConfigDir() error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	settingsPath := GlobalSettingsPath()
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		if err := os.WriteFile(settingsPath, artifacts.GlobalSettings, 0600); err != nil {
			return fmt.Errorf("failed to create default settings: %w", err)
		}
	}
	return nil
}

// GlobalSettings represents daemon settings
type GlobalSettings struct {
	LogLevel string `yaml:"log_level"` // trace, debug, info, warn, off

	Listen       string `yaml:"listen"`        // NFS listen address; empty disables NFS
	ShareName    string `yaml:"share_name"`    // SMB share name
	NetFSMount   string `yaml:"netfs_mount"`   // where the daemon mounts its own NFS/SMB export; empty skips
	MountPoint   string `yaml:"mount_point"`   // FUSE mount point; empty disables FUSE
	SnapshotFile string `yaml:"snapshot_file"` // empty means DefaultSnapshotPath; "none" disables persistence

	AutosaveInterval int `yaml:"autosave_interval"` // seconds between periodic snapshots, 0 = only on shutdown
	KeepSnapshots    int `yaml:"keep_snapshots"`    // prune to this many after each save, 0 = keep all

	SeedDir       string   `yaml:"seed_dir"`       // host directory copied in when no snapshot exists
	SeedGitignore bool     `yaml:"seed_gitignore"` // honor .gitignore files while seeding
	SeedExcludes  []string `yaml:"seed_excludes"`  // paths never seeded

	BlockSize             uint32 `yaml:"block_size"`
	TotalBlocks           uint64 `yaml:"total_blocks"`
	MaxInodes             uint64 `yaml:"max_inodes"`
	UID                   *int   `yaml:"uid"` // identity for NFS/SMB requests; defaults to the daemon's
	GID                   *int   `yaml:"gid"`
	EnforceDirPermissions bool   `yaml:"enforce_dir_permissions"`

	BusyTimeout int `yaml:"busy_timeout"` // SQLite busy_timeout (ms), 0 = use default
}

// SnapshotPath resolves the snapshot file setting. The empty string means
// persistence is off.
func (s *GlobalSettings) SnapshotPath() string {
	switch strings.ToLower(s.SnapshotFile) {
	case "":
		return DefaultSnapshotPath()
	case "none", "off":
		return ""
	}
	return s.SnapshotFile
}

// Caller returns the identity network requests run as
func (s *GlobalSettings) Caller() core.Caller {
	c := core.Caller{Uid: uint32(os.Getuid()), Gid: uint32(os.Getgid())}
	if s.UID != nil {
		c.Uid = uint32(*s.UID)
	}
	if s.GID != nil {
		c.Gid = uint32(*s.GID)
	}
	return c
}

// CoreOptions builds instance options from the capacity settings
func (s *GlobalSettings) CoreOptions() core.Options {
	return core.Options{
		RootOwner:   s.Caller(),
		BlockSize:   s.BlockSize,
		TotalBlocks: s.TotalBlocks,
		MaxInodes:   s.MaxInodes,
	}
}

// loadDefaultGlobalSettings parses default settings from embedded artifact.
func loadDefaultGlobalSettings() GlobalSettings {
	var settings GlobalSettings
	if err := yaml.Unmarshal(artifacts.GlobalSettings, &settings); err != nil {
		panic("failed to parse embedded global settings: " + err.Error())
	}
	return settings
}

// LoadGlobalSettings loads ~/.spockfs/settings.yaml over the embedded
// defaults. A missing file yields the defaults.
func LoadGlobalSettings() (*GlobalSettings, error) {
	settings := loadDefaultGlobalSettings()
	data, err := os.ReadFile(GlobalSettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return &settings, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parse %s: %w", GlobalSettingsPath(), err)
	}
	return &settings, nil
}

// SaveGlobalSettings saves the settings to ~/.spockfs/settings.yaml
func SaveGlobalSettings(settings *GlobalSettings) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	header := []byte("# SpockFS daemon settings\n# See: spockfs settings --help\n\n")
	return os.WriteFile(GlobalSettingsPath(), append(header, data...), 0600)
}

// ConfigureLogging points logrus at out with the given level. "off", "none"
// and "" discard all output. The go-nfs logger follows the same level.
func ConfigureLogging(level string, out io.Writer) {
	level = strings.ToLower(level)
	if level == "" || level == "off" || level == "none" {
		log.SetOutput(io.Discard)
		return
	}

	log.SetOutput(out)
	switch level {
	case "trace":
		log.SetLevel(log.TraceLevel)
		nfs.Log.SetLevel(nfs.TraceLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
		nfs.Log.SetLevel(nfs.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
		nfs.Log.SetLevel(nfs.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
		nfs.Log.SetLevel(nfs.WarnLevel)
	default:
		log.SetLevel(log.DebugLevel)
	}
}
