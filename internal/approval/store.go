package approval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/cmdgate/cmdgate/internal/fileutil"
	"github.com/cmdgate/cmdgate/internal/logger"
)

var log = logger.New("approval")

// Store persists the approval config as a single JSON file with owner-only
// permissions. Reads never fail the engine: a missing or corrupt file falls
// back to built-in defaults. Write failures propagate — a dropped allowlist
// change is a security-relevant surprise the caller needs to know about.
type Store struct {
	path string
}

// NewStore creates a store backed by the given file path, or the default
// (~/.cmdgate/approvals.json) when path is empty.
func NewStore(path string) *Store {
	if path == "" {
		path = DefaultStorePath()
	}
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Load reads the persisted config. Missing files, read errors, and parse
// errors all degrade silently to defaults — corruption must never crash the
// engine or fail open. Absent fields are filled with defaults.
func (s *Store) Load() *Config {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("cannot read approval config %s, using defaults: %v", s.path, err)
		}
		return DefaultConfig()
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		log.Warn("approval config %s is corrupt, using defaults: %v", s.path, err)
		return DefaultConfig()
	}

	normalizeConfig(cfg)
	return cfg
}

// Save rewrites the whole config to disk with mode 0600, keeping a
// compressed backup of the previous contents. The on-disk state never lags
// the in-memory state by more than one completed call.
func (s *Store) Save(cfg *Config) error {
	if err := fileutil.SecureMkdirAll(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	if prev, err := os.ReadFile(s.path); err == nil && len(prev) > 0 {
		s.backup(prev)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode approval config: %w", err)
	}
	data = append(data, '\n')

	if err := fileutil.SecureWriteFile(s.path, data); err != nil {
		return fmt.Errorf("write approval config: %w", err)
	}

	// The file may pre-exist with looser permissions; re-tighten best-effort.
	if err := fileutil.SecureChmod(s.path); err != nil {
		log.Debug("cannot tighten permissions on %s: %v", s.path, err)
	}
	return nil
}

// backup writes a zstd-compressed copy of the previous config next to the
// store. Best effort: a failed backup never blocks the save.
func (s *Store) backup(prev []byte) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return
	}
	compressed := enc.EncodeAll(prev, nil)
	enc.Close()

	if err := fileutil.SecureWriteFile(s.path+".bak.zst", compressed); err != nil {
		log.Debug("config backup failed: %v", err)
	}
}
