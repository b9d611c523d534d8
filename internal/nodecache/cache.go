// Package nodecache tracks nodes under introspection.
//
// A node is added when introspection starts, together with the
// attributes used to recognize its ramdisk later (BMC address and
// hardware addresses). Processing looks the node up by those attributes
// and finishes it, recording an error on failure. Attributes of finished
// nodes are dropped, so the set of cached hardware addresses is exactly
// what the discovery filter must let through.
//
// State lives in SQLite (modernc.org/sqlite, no CGO) so the status of a
// node survives a service restart.
package nodecache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"grimm.is/discoverd/internal/clock"
	"grimm.is/discoverd/internal/logging"
	"grimm.is/discoverd/internal/registry"
)

// Attribute names.
const (
	AttrBMCAddress = "bmc_address"
	AttrMAC        = "mac"
)

// TimeoutError is recorded for nodes that never reported back.
const TimeoutError = "Introspection timeout"

var (
	ErrNotFound       = errors.New("node not found in cache")
	ErrMultipleNodes  = errors.New("multiple matching nodes")
	ErrFinished       = errors.New("introspection already finished")
	ErrAttributeInUse = errors.New("attribute already on introspection")
	ErrClosed         = errors.New("cache is closed")
)

// Status is the introspection state of one node.
type Status struct {
	UUID       string     `json:"uuid"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Finished reports whether introspection has ended.
func (s Status) Finished() bool {
	return s.FinishedAt != nil
}

// Options configures the cache.
type Options struct {
	Path   string // Database file path (":memory:" for in-memory)
	Clock  clock.Clock
	Logger *logging.Logger
}

// Cache is the SQLite-backed node cache.
type Cache struct {
	db     *sql.DB
	clock  clock.Clock
	logger *logging.Logger

	mu     sync.RWMutex
	closed bool

	locksMu sync.Mutex
	locks   map[string]*nodeLock
}

type nodeLock struct {
	mu   sync.Mutex
	refs int
}

// Open opens or creates the cache database.
func Open(opts Options) (*Cache, error) {
	dsn := opts.Path
	if dsn != ":memory:" {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: an in-memory database is per connection, and SQLite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	c := &Cache{
		db:     db,
		clock:  clock.OrReal(opts.Clock),
		logger: logging.OrDefault(opts.Logger).WithComponent("nodecache"),
		locks:  make(map[string]*nodeLock),
	}

	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return c, nil
}

func (c *Cache) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS nodes (
			uuid TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			finished_at INTEGER,
			error TEXT
		);

		CREATE TABLE IF NOT EXISTS attributes (
			name TEXT NOT NULL,
			value TEXT NOT NULL,
			uuid TEXT NOT NULL,
			PRIMARY KEY (name, value)
		);

		CREATE INDEX IF NOT EXISTS idx_attributes_uuid ON attributes(uuid);

		CREATE TABLE IF NOT EXISTS options (
			uuid TEXT NOT NULL,
			name TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (uuid, name)
		);
	`
	_, err := c.db.Exec(schema)
	return err
}

// Close closes the database.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}

func (c *Cache) check() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// Add starts tracking a node, replacing any previous record for it.
// MACs are stored lower case. An attribute already held by another node
// yields ErrAttributeInUse.
func (c *Cache) Add(ctx context.Context, uuid, bmcAddress string, macs []string) error {
	if err := c.check(); err != nil {
		return err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE uuid = ?`, uuid); err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM attributes WHERE uuid = ?`, uuid); err != nil {
		return fmt.Errorf("failed to delete attributes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM options WHERE uuid = ?`, uuid); err != nil {
		return fmt.Errorf("failed to delete options: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO nodes (uuid, started_at) VALUES (?, ?)`,
		uuid, c.clock.Now().UnixMicro()); err != nil {
		return fmt.Errorf("failed to insert node: %w", err)
	}

	attrs := make(map[string][]string)
	if bmcAddress != "" {
		attrs[AttrBMCAddress] = []string{bmcAddress}
	}
	for _, mac := range macs {
		attrs[AttrMAC] = append(attrs[AttrMAC], strings.ToLower(mac))
	}

	for name, values := range attrs {
		for _, value := range values {
			var owner string
			err := tx.QueryRowContext(ctx,
				`SELECT uuid FROM attributes WHERE name = ? AND value = ?`, name, value).Scan(&owner)
			if err == nil {
				return fmt.Errorf("%w: %s %s belongs to node %s", ErrAttributeInUse, name, value, owner)
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("failed to check attribute: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO attributes (name, value, uuid) VALUES (?, ?, ?)`,
				name, value, uuid); err != nil {
				return fmt.Errorf("failed to insert attribute: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	c.logger.Debug("Node added to cache", "uuid", uuid, "bmc", bmcAddress, "macs", len(macs))
	return nil
}

// Find returns the single unfinished node matching the BMC address or
// any of the MACs.
func (c *Cache) Find(ctx context.Context, bmcAddress string, macs []string) (string, error) {
	if err := c.check(); err != nil {
		return "", err
	}

	var where []string
	var args []any
	if bmcAddress != "" {
		where = append(where, "(name = ? AND value = ?)")
		args = append(args, AttrBMCAddress, bmcAddress)
	}
	for _, mac := range macs {
		where = append(where, "(name = ? AND value = ?)")
		args = append(args, AttrMAC, strings.ToLower(mac))
	}
	if len(where) == 0 {
		return "", fmt.Errorf("%w: no lookup attributes supplied", ErrNotFound)
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT DISTINCT uuid FROM attributes WHERE `+strings.Join(where, " OR "), args...)
	if err != nil {
		return "", fmt.Errorf("failed to query attributes: %w", err)
	}
	var found []string
	for rows.Next() {
		var uuid string
		if err := rows.Scan(&uuid); err != nil {
			rows.Close()
			return "", err
		}
		found = append(found, uuid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", err
	}

	switch len(found) {
	case 0:
		return "", fmt.Errorf("%w: bmc_address=%q macs=%v", ErrNotFound, bmcAddress, macs)
	case 1:
	default:
		sort.Strings(found)
		return "", fmt.Errorf("%w: %s", ErrMultipleNodes, strings.Join(found, ", "))
	}

	status, err := c.Status(ctx, found[0])
	if err != nil {
		return "", err
	}
	if status.Finished() {
		return "", fmt.Errorf("%w: node %s on %s", ErrFinished, status.UUID, status.FinishedAt.Format(time.RFC3339))
	}
	return found[0], nil
}

// Finish marks introspection of a node as done. A non-empty errMsg
// records a failure. Attributes are released.
func (c *Cache) Finish(ctx context.Context, uuid, errMsg string) error {
	if err := c.check(); err != nil {
		return err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE nodes SET finished_at = ?, error = ? WHERE uuid = ?`,
		c.clock.Now().UnixMicro(), nullString(errMsg), uuid)
	if err != nil {
		return fmt.Errorf("failed to update node: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, uuid)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM attributes WHERE uuid = ?`, uuid); err != nil {
		return fmt.Errorf("failed to delete attributes: %w", err)
	}
	return tx.Commit()
}

// SetOption stores a JSON encoded per-node value, such as credentials to
// hand to the ramdisk. Options are dropped when the node is re-added.
func (c *Cache) SetOption(ctx context.Context, uuid, name string, value any) error {
	if err := c.check(); err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode option %s: %w", name, err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO options (uuid, name, value) VALUES (?, ?, ?)
		 ON CONFLICT(uuid, name) DO UPDATE SET value = excluded.value`,
		uuid, name, string(data))
	if err != nil {
		return fmt.Errorf("failed to store option %s: %w", name, err)
	}
	return nil
}

// Option decodes a stored option into dst. It reports false when the
// option is not set.
func (c *Cache) Option(ctx context.Context, uuid, name string, dst any) (bool, error) {
	if err := c.check(); err != nil {
		return false, err
	}

	var data string
	err := c.db.QueryRowContext(ctx,
		`SELECT value FROM options WHERE uuid = ? AND name = ?`, uuid, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load option %s: %w", name, err)
	}
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return false, fmt.Errorf("failed to decode option %s: %w", name, err)
	}
	return true, nil
}

// Status returns the introspection state of a node.
func (c *Cache) Status(ctx context.Context, uuid string) (Status, error) {
	if err := c.check(); err != nil {
		return Status{}, err
	}

	var started int64
	var finished sql.NullInt64
	var errMsg sql.NullString
	err := c.db.QueryRowContext(ctx,
		`SELECT started_at, finished_at, error FROM nodes WHERE uuid = ?`, uuid).
		Scan(&started, &finished, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return Status{}, fmt.Errorf("%w: %s", ErrNotFound, uuid)
	}
	if err != nil {
		return Status{}, fmt.Errorf("failed to query node: %w", err)
	}

	st := Status{
		UUID:      uuid,
		StartedAt: time.UnixMicro(started).UTC(),
		Error:     errMsg.String,
	}
	if finished.Valid {
		t := time.UnixMicro(finished.Int64).UTC()
		st.FinishedAt = &t
	}
	return st, nil
}

// ListActive returns every unfinished node with the MACs it was started
// with. It satisfies registry.ActiveSource.
func (c *Cache) ListActive(ctx context.Context) ([]registry.ActiveNode, error) {
	if err := c.check(); err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT n.uuid, a.value
		FROM nodes n
		LEFT JOIN attributes a ON a.uuid = n.uuid AND a.name = ?
		WHERE n.finished_at IS NULL
		ORDER BY n.uuid, a.value`, AttrMAC)
	if err != nil {
		return nil, fmt.Errorf("failed to query active nodes: %w", err)
	}
	defer rows.Close()

	var nodes []registry.ActiveNode
	for rows.Next() {
		var uuid string
		var mac sql.NullString
		if err := rows.Scan(&uuid, &mac); err != nil {
			return nil, err
		}
		if len(nodes) == 0 || nodes[len(nodes)-1].UUID != uuid {
			nodes = append(nodes, registry.ActiveNode{UUID: uuid})
		}
		if mac.Valid {
			last := &nodes[len(nodes)-1]
			last.ExpectedAddresses = append(last.ExpectedAddresses, mac.String)
		}
	}
	return nodes, rows.Err()
}

// CleanUp fails every node that started more than timeout ago and has
// not finished. It returns the UUIDs it timed out.
func (c *Cache) CleanUp(ctx context.Context, timeout time.Duration) ([]string, error) {
	if err := c.check(); err != nil {
		return nil, err
	}

	threshold := c.clock.Now().Add(-timeout).UnixMicro()
	rows, err := c.db.QueryContext(ctx,
		`SELECT uuid FROM nodes WHERE finished_at IS NULL AND started_at < ? ORDER BY uuid`, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired nodes: %w", err)
	}
	var expired []string
	for rows.Next() {
		var uuid string
		if err := rows.Scan(&uuid); err != nil {
			rows.Close()
			return nil, err
		}
		expired = append(expired, uuid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, uuid := range expired {
		unlock := c.Lock(uuid)
		err := c.Finish(ctx, uuid, TimeoutError)
		unlock()
		if err != nil && !errors.Is(err, ErrNotFound) {
			return expired, err
		}
		c.logger.Warn("Introspection timed out", "uuid", uuid)
	}
	return expired, nil
}

// Lock serializes work on one node within this process and returns the
// matching unlock function.
func (c *Cache) Lock(uuid string) (unlock func()) {
	c.locksMu.Lock()
	l, ok := c.locks[uuid]
	if !ok {
		l = &nodeLock{}
		c.locks[uuid] = l
	}
	l.refs++
	c.locksMu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		c.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, uuid)
		}
		c.locksMu.Unlock()
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ registry.ActiveSource = (*Cache)(nil)
