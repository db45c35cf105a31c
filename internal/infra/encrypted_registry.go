package infra

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/focusd/stay_blocked/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const (
	registryDBName = "registry.db"
)

// EncryptedRegistry implements domain.ProcessRegistry using a SQLCipher
// encrypted SQLite database. It is only bookkeeping for `status`: the
// supervisors never read it back to make decisions.
type EncryptedRegistry struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time
}

// NewEncryptedRegistry opens (or creates) an encrypted registry database.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedRegistry(dataDir string, key []byte) (*EncryptedRegistry, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, registryDBName)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096&_busy_timeout=2000", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	// A wrong key only surfaces on the first real query.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	reg := &EncryptedRegistry{db: db, dbPath: dbPath, now: time.Now}
	if err := reg.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return reg, nil
}

// OpenRegistry loads (or generates) the key for paths and opens the registry
// in its data dir. Under sudo in user mode the database is handed to the
// invoking user like the key.
func OpenRegistry(paths *ExecModeConfig) (*EncryptedRegistry, error) {
	key, err := EnsureKey(NewFileKeyProvider(paths))
	if err != nil {
		return nil, fmt.Errorf("registry key: %w", err)
	}
	reg, err := NewEncryptedRegistry(paths.DataDir, key)
	if err != nil {
		return nil, err
	}
	if uid, gid, ok := paths.FileOwner(); ok {
		if err := os.Chown(reg.Path(), uid, gid); err != nil {
			reg.Close()
			return nil, fmt.Errorf("failed to hand registry to user: %w", err)
		}
	}
	return reg, nil
}

func (r *EncryptedRegistry) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS process_state (
		role TEXT PRIMARY KEY,
		pid INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		last_heartbeat INTEGER NOT NULL,
		restart_count INTEGER NOT NULL DEFAULT 0,
		app_version TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := r.db.Exec(schema)
	return err
}

// Register records the PID for a role. The restart counter survives
// re-registration so status shows how often a child was respawned.
func (r *EncryptedRegistry) Register(p domain.SupervisedProcess) error {
	now := r.now()
	started := p.StartedAt
	if started.IsZero() {
		started = now
	}
	heartbeat := p.LastHeartbeat
	if heartbeat.IsZero() {
		heartbeat = now
	}

	_, err := r.db.Exec(`
		INSERT INTO process_state (role, pid, started_at, last_heartbeat, restart_count, app_version)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(role) DO UPDATE SET
			pid = excluded.pid,
			started_at = excluded.started_at,
			last_heartbeat = excluded.last_heartbeat,
			app_version = excluded.app_version`,
		string(p.Role), p.PID, started.Unix(), heartbeat.Unix(), p.RestartCount, p.AppVersion,
	)
	if err != nil {
		return err
	}

	if p.AppVersion != "" {
		_, err = r.db.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES ('app_version', ?)`, p.AppVersion)
	}
	return err
}

// UpdateHeartbeat refreshes the heartbeat of a registered role.
func (r *EncryptedRegistry) UpdateHeartbeat(role domain.ProcessRole, at time.Time) error {
	result, err := r.db.Exec(`UPDATE process_state SET last_heartbeat = ? WHERE role = ?`,
		at.Unix(), string(role))
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("process %s not registered", role)
	}
	return nil
}

// RecordRestart bumps the restart counter, creating a placeholder row if the
// role never registered (its spawn may have failed every time).
func (r *EncryptedRegistry) RecordRestart(role domain.ProcessRole) error {
	now := r.now().Unix()
	_, err := r.db.Exec(`
		INSERT INTO process_state (role, pid, started_at, last_heartbeat, restart_count)
		VALUES (?, 0, ?, ?, 1)
		ON CONFLICT(role) DO UPDATE SET restart_count = restart_count + 1`,
		string(role), now, now,
	)
	return err
}

// Get returns the record for role, or nil if it was never registered.
func (r *EncryptedRegistry) Get(role domain.ProcessRole) (*domain.SupervisedProcess, error) {
	row := r.db.QueryRow(`
		SELECT role, pid, started_at, last_heartbeat, restart_count, app_version
		FROM process_state WHERE role = ?`, string(role))

	p, err := scanProcess(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetAll returns every record ordered by role.
func (r *EncryptedRegistry) GetAll() ([]domain.SupervisedProcess, error) {
	rows, err := r.db.Query(`
		SELECT role, pid, started_at, last_heartbeat, restart_count, app_version
		FROM process_state ORDER BY role`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SupervisedProcess
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProcess(s rowScanner) (domain.SupervisedProcess, error) {
	var (
		role       string
		pid        int
		started    int64
		heartbeat  int64
		restarts   int
		appVersion sql.NullString
	)
	if err := s.Scan(&role, &pid, &started, &heartbeat, &restarts, &appVersion); err != nil {
		return domain.SupervisedProcess{}, err
	}
	return domain.SupervisedProcess{
		Role:          domain.ProcessRole(role),
		PID:           pid,
		StartedAt:     time.Unix(started, 0),
		LastHeartbeat: time.Unix(heartbeat, 0),
		RestartCount:  restarts,
		AppVersion:    appVersion.String,
	}, nil
}

// Clear removes all process state (for clean restart).
func (r *EncryptedRegistry) Clear() error {
	if _, err := r.db.Exec(`DELETE FROM process_state`); err != nil {
		return err
	}
	_, err := r.db.Exec(`DELETE FROM meta WHERE key = 'app_version'`)
	return err
}

// Path returns the database file path.
func (r *EncryptedRegistry) Path() string {
	return r.dbPath
}

// Close releases the database connection.
func (r *EncryptedRegistry) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ensure EncryptedRegistry implements domain.ProcessRegistry.
var _ domain.ProcessRegistry = (*EncryptedRegistry)(nil)
