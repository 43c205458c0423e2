package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// Entry records one swap attempt: what was asked, where it ran, and how it
// ended. Auction entries additionally carry the order UID so a timed-out
// order can be checked later with the orders command.
type Entry struct {
	ID           string `json:"id"`
	ChainID      int64  `json:"chain_id"`
	Venue        string `json:"venue"`
	Vault        string `json:"vault"`
	FromToken    string `json:"from_token"`
	ToToken      string `json:"to_token"`
	AmountIn     string `json:"amount_in"`
	MinAmountOut string `json:"min_amount_out"`
	Status       string `json:"status"`
	TxHash       string `json:"tx_hash,omitempty"`
	OrderUID     string `json:"order_uid,omitempty"`
	Error        string `json:"error,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// Touch stamps UpdatedAt, setting CreatedAt on first use.
func (e *Entry) Touch() {
	now := time.Now().UTC().Format(time.RFC3339)
	if e.CreatedAt == "" {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
}

// Journal is a local sqlite log of swap attempts, guarded by a file lock so
// concurrent invocations against the same vault serialize their writes.
type Journal struct {
	db   *sql.DB
	lock *flock.Flock
}

func Open(path, lockPath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create journal lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS swaps (
			swap_id TEXT PRIMARY KEY,
			chain_id INTEGER NOT NULL,
			venue TEXT NOT NULL,
			status TEXT NOT NULL,
			order_uid TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_swaps_status_updated ON swaps(status, updated_at DESC);",
		"CREATE INDEX IF NOT EXISTS idx_swaps_order_uid ON swaps(order_uid);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init journal schema: %w", err)
		}
	}
	return &Journal{db: db, lock: flock.New(lockPath)}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) Save(entry Entry) error {
	if strings.TrimSpace(entry.ID) == "" {
		return fmt.Errorf("save swap entry: missing id")
	}
	locked, err := j.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock journal: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock journal: timeout acquiring lock")
	}
	defer func() { _ = j.lock.Unlock() }()

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal swap entry: %w", err)
	}
	createdUnix := parseRFC3339Unix(entry.CreatedAt)
	updatedUnix := parseRFC3339Unix(entry.UpdatedAt)
	if createdUnix == 0 {
		createdUnix = time.Now().UTC().Unix()
	}
	if updatedUnix == 0 {
		updatedUnix = time.Now().UTC().Unix()
	}

	_, err = j.db.Exec(`
		INSERT INTO swaps (swap_id, chain_id, venue, status, order_uid, created_at, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(swap_id) DO UPDATE SET
			status=excluded.status,
			order_uid=excluded.order_uid,
			updated_at=excluded.updated_at,
			payload=excluded.payload
	`, entry.ID, entry.ChainID, entry.Venue, entry.Status, entry.OrderUID, createdUnix, updatedUnix, payload)
	if err != nil {
		return fmt.Errorf("save swap entry: %w", err)
	}
	return nil
}

func (j *Journal) Get(id string) (Entry, error) {
	var payload []byte
	err := j.db.QueryRow("SELECT payload FROM swaps WHERE swap_id = ?", id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, fmt.Errorf("swap entry not found: %s", id)
		}
		return Entry{}, fmt.Errorf("read swap entry: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, fmt.Errorf("decode swap entry: %w", err)
	}
	return entry, nil
}

// ByOrderUID returns the entry tracking a specific auction order.
func (j *Journal) ByOrderUID(uid string) (Entry, error) {
	var payload []byte
	err := j.db.QueryRow("SELECT payload FROM swaps WHERE order_uid = ? ORDER BY updated_at DESC LIMIT 1", uid).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, fmt.Errorf("no swap entry for order %s", uid)
		}
		return Entry{}, fmt.Errorf("read swap entry: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, fmt.Errorf("decode swap entry: %w", err)
	}
	return entry, nil
}

func (j *Journal) List(status string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		rows *sql.Rows
		err  error
	)
	if strings.TrimSpace(status) == "" {
		rows, err = j.db.Query("SELECT payload FROM swaps ORDER BY updated_at DESC LIMIT ?", limit)
	} else {
		rows, err = j.db.Query("SELECT payload FROM swaps WHERE status = ? ORDER BY updated_at DESC LIMIT ?", status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list swap entries: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan swap row: %w", err)
		}
		var entry Entry
		if err := json.Unmarshal(payload, &entry); err != nil {
			return nil, fmt.Errorf("decode swap row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate swap rows: %w", err)
	}
	return entries, nil
}

func parseRFC3339Unix(v string) int64 {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return 0
	}
	return t.UTC().Unix()
}

// DefaultPaths places the journal under the user data directory.
func DefaultPaths() (dbPath, lockPath string, err error) {
	base := strings.TrimSpace(os.Getenv("XDG_DATA_HOME"))
	if base == "" {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return "", "", fmt.Errorf("resolve home directory: %w", herr)
		}
		base = filepath.Join(home, ".local", "share")
	}
	dir := filepath.Join(base, "clawlett")
	return filepath.Join(dir, "swaps.db"), filepath.Join(dir, "swaps.lock"), nil
}
