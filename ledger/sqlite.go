package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/vitwit/paygate/types"
)

var _ Gateway = (*SQLite)(nil)

const busyTimeoutMS = 5000

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "contents, grants and transactions",
		SQL: `
CREATE TABLE IF NOT EXISTS contents (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  creator TEXT NOT NULL,
  metadata_blob_id TEXT NOT NULL,
  content_blob_id TEXT NOT NULL,
  price_minor_units INTEGER NOT NULL,
  created_at INTEGER NOT NULL,
  active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS grants (
  content_id TEXT NOT NULL,
  consumer TEXT NOT NULL,
  payment_proof_id TEXT NOT NULL,
  granted_at INTEGER NOT NULL,
  expiry INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (content_id, consumer)
);

CREATE TABLE IF NOT EXISTS ledger_txs (
  hash TEXT PRIMARY KEY,
  content_id TEXT,
  created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_contents_creator ON contents(creator);
`,
	},
	{
		Version:     2,
		Description: "settings table for the facilitator address",
		SQL: `
CREATE TABLE IF NOT EXISTS settings (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
`,
	},
	{
		Version:     3,
		Description: "payment proof bindings",
		SQL: `
CREATE TABLE IF NOT EXISTS proof_bindings (
  proof_id TEXT PRIMARY KEY,
  binding TEXT NOT NULL,
  bound_at INTEGER NOT NULL
);
`,
	},
}

// SQLite is a single-node ledger for local development.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the ledger database at path.
func OpenSQLite(path string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", path, busyTimeoutMS)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// one writer keeps upserts serialized
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db, now: time.Now}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return errors.Wrap(err, "create migrations table")
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return errors.Wrap(err, "get current version")
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return errors.Wrapf(err, "begin migration %d", m.Version)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "apply migration %d (%s)", m.Version, m.Description)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, datetime('now'))`, m.Version); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "record migration %d", m.Version)
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "commit migration %d", m.Version)
		}
	}
	return nil
}

func (s *SQLite) recordTx(ctx context.Context, q interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, contentID string) (string, error) {
	hash := syntheticTxHash()
	var cid any
	if contentID != "" {
		cid = contentID
	}
	if _, err := q.ExecContext(ctx, `INSERT INTO ledger_txs (hash, content_id, created_at) VALUES (?, ?, ?)`, hash, cid, s.now().Unix()); err != nil {
		return "", errors.Wrap(err, "record ledger tx")
	}
	return hash, nil
}

func (s *SQLite) RegisterContent(ctx context.Context, caller, metadataBlobID, contentBlobID string, price uint64) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO contents (creator, metadata_blob_id, content_blob_id, price_minor_units, created_at, active) VALUES (?, ?, ?, ?, ?, 1)`,
		normalize(caller), metadataBlobID, contentBlobID, int64(price), s.now().Unix())
	if err != nil {
		return "", errors.Wrap(err, "insert content")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", errors.Wrap(err, "content id")
	}

	hash, err := s.recordTx(ctx, tx, strconv.FormatInt(id, 10))
	if err != nil {
		return "", err
	}
	return hash, errors.Wrap(tx.Commit(), "commit")
}

func (s *SQLite) GetContent(ctx context.Context, contentID string) (*types.ContentRecord, error) {
	var (
		rec       types.ContentRecord
		id        int64
		price     int64
		createdAt int64
		active    int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, creator, metadata_blob_id, content_blob_id, price_minor_units, created_at, active FROM contents WHERE id = ?`,
		contentID).Scan(&id, &rec.Creator, &rec.MetadataBlobID, &rec.ContentBlobID, &price, &createdAt, &active)
	if err == sql.ErrNoRows {
		return nil, notFound(contentID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select content")
	}

	rec.ID = strconv.FormatInt(id, 10)
	rec.PriceMinorUnits = uint64(price)
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	rec.Active = active == 1
	return &rec, nil
}

func (s *SQLite) GetCreatorContents(ctx context.Context, creator string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM contents WHERE creator = ? ORDER BY id`, normalize(creator))
	if err != nil {
		return nil, errors.Wrap(err, "select creator contents")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan id")
		}
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	return ids, rows.Err()
}

func (s *SQLite) HasAccess(ctx context.Context, contentID, consumer string) (bool, error) {
	var expiry int64
	err := s.db.QueryRowContext(ctx,
		`SELECT expiry FROM grants WHERE content_id = ? AND consumer = ?`,
		contentID, normalize(consumer)).Scan(&expiry)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "select grant")
	}
	g := types.AccessGrant{ExpiryTimestamp: expiry}
	return g.Active(s.now()), nil
}

func (s *SQLite) GrantAccess(ctx context.Context, grant types.AccessGrant) (string, error) {
	if _, err := s.GetContent(ctx, grant.ContentID); err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
INSERT INTO grants (content_id, consumer, payment_proof_id, granted_at, expiry)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(content_id, consumer) DO UPDATE SET
  payment_proof_id = excluded.payment_proof_id,
  granted_at = excluded.granted_at,
  expiry = excluded.expiry`,
		grant.ContentID, normalize(grant.Consumer), grant.PaymentProofID, s.now().Unix(), grant.ExpiryTimestamp)
	if err != nil {
		return "", errors.Wrap(err, "upsert grant")
	}

	hash, err := s.recordTx(ctx, tx, "")
	if err != nil {
		return "", err
	}
	return hash, errors.Wrap(tx.Commit(), "commit")
}

func (s *SQLite) UpdatePrice(ctx context.Context, caller, contentID string, price uint64) (string, error) {
	return s.updateContent(ctx, caller, contentID, `UPDATE contents SET price_minor_units = ? WHERE id = ?`, int64(price))
}

func (s *SQLite) SetActive(ctx context.Context, caller, contentID string, active bool) (string, error) {
	v := 0
	if active {
		v = 1
	}
	return s.updateContent(ctx, caller, contentID, `UPDATE contents SET active = ? WHERE id = ?`, v)
}

func (s *SQLite) updateContent(ctx context.Context, caller, contentID, stmt string, value any) (string, error) {
	rec, err := s.GetContent(ctx, contentID)
	if err != nil {
		return "", err
	}
	if rec.Creator != normalize(caller) {
		return "", notCreator(caller, contentID)
	}
	if _, err := s.db.ExecContext(ctx, stmt, value, contentID); err != nil {
		return "", errors.Wrap(err, "update content")
	}
	return s.recordTx(ctx, s.db, "")
}

func (s *SQLite) SetFacilitator(ctx context.Context, facilitator string) (string, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES ('facilitator', ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		normalize(facilitator))
	if err != nil {
		return "", errors.Wrap(err, "set facilitator")
	}
	return s.recordTx(ctx, s.db, "")
}

func (s *SQLite) WaitForConfirmation(ctx context.Context, txHash string) (*Confirmation, error) {
	var cid sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT content_id FROM ledger_txs WHERE hash = ?`, txHash).Scan(&cid)
	if err == sql.ErrNoRows {
		return nil, types.NewError(types.KindNotFound, types.ErrNetworkError, "unknown ledger transaction %s", txHash)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select ledger tx")
	}
	return &Confirmation{TxHash: txHash, ContentID: cid.String}, nil
}

// BindProof records binding for proofID unless one exists, and returns the
// binding the proof now holds.
func (s *SQLite) BindProof(ctx context.Context, proofID, binding string) (string, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO proof_bindings (proof_id, binding, bound_at) VALUES (?, ?, ?) ON CONFLICT(proof_id) DO NOTHING`,
		proofID, binding, s.now().Unix())
	if err != nil {
		return "", errors.Wrap(err, "insert proof binding")
	}
	var have string
	if err := s.db.QueryRowContext(ctx, `SELECT binding FROM proof_bindings WHERE proof_id = ?`, proofID).Scan(&have); err != nil {
		return "", errors.Wrap(err, "select proof binding")
	}
	return have, nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
