// Package sqlitecas keeps certificates in a single SQLite database file,
// which suits receivers that would rather not manage a directory tree.
package sqlitecas

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	_ "modernc.org/sqlite"

	"xdao.co/v2xsec/cidutil"
	"xdao.co/v2xsec/storage"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS certs (
		cid  TEXT PRIMARY KEY,
		data BLOB NOT NULL
	)`,
}

// CAS stores certificates in the certs table keyed by CID string.
type CAS struct {
	db *sql.DB
}

var (
	_ storage.CAS    = (*CAS)(nil)
	_ storage.Lister = (*CAS)(nil)
)

// Open opens or creates the database at path.
func Open(path string) (*CAS, error) {
	if path == "" {
		return nil, errors.New("sqlitecas: database path is required")
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("sqlitecas: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlitecas: migration: %w", err)
		}
	}
	return &CAS{db: db}, nil
}

func (c *CAS) Close() error { return c.db.Close() }

func (c *CAS) Put(b []byte) (cid.Cid, error) {
	id := cidutil.Sum(b).CID()
	res, err := c.db.Exec(`INSERT INTO certs (cid, data) VALUES (?, ?) ON CONFLICT(cid) DO NOTHING`, id.String(), b)
	if err != nil {
		return cid.Undef, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return id, nil
	}
	existing, err := c.Get(id)
	if err != nil || !bytes.Equal(existing, b) {
		return cid.Undef, storage.ErrImmutable
	}
	return id, nil
}

func (c *CAS) Get(id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	var b []byte
	err := c.db.QueryRow(`SELECT data FROM certs WHERE cid = ?`, id.String()).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	want, err := cidutil.HashFromCID(id)
	if err != nil {
		return nil, storage.ErrInvalidCID
	}
	if cidutil.Sum(b) != want {
		return nil, storage.ErrCIDMismatch
	}
	return b, nil
}

func (c *CAS) Has(id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	var one int
	return c.db.QueryRow(`SELECT 1 FROM certs WHERE cid = ?`, id.String()).Scan(&one) == nil
}

func (c *CAS) List() ([]cid.Cid, error) {
	rows, err := c.db.Query(`SELECT cid FROM certs ORDER BY cid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []cid.Cid
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		id, err := cid.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("sqlitecas: bad cid %q: %w", s, err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
