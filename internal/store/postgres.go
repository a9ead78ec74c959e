package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostgresStore persists permission records in Postgres. Per-document
// serialization comes from SELECT ... FOR UPDATE: the row lock is the
// critical section, so concurrent mutations to one document queue on the row
// while other documents stay unblocked.
type PostgresStore struct {
	db       *sql.DB
	auditMax int
}

func NewPostgresStore(db *sql.DB, auditMax int) *PostgresStore {
	if auditMax <= 0 {
		auditMax = DefaultAuditTrailMax
	}
	return &PostgresStore{db: db, auditMax: auditMax}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const selectRecord = `
	SELECT visibility, domains, accounts, audit_trail
	FROM permission_records
	WHERE document_id = $1
`

func (s *PostgresStore) GetPermissions(ctx context.Context, documentID string) (PermissionRecord, error) {
	record, err := scanRecord(s.db.QueryRowContext(ctx, selectRecord, documentID), documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultRecord(documentID), nil
	}
	if err != nil {
		return PermissionRecord{}, fmt.Errorf("get permissions: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) SetVisibility(ctx context.Context, documentID string, visibility Visibility, actorID string, now time.Time) (PermissionRecord, error) {
	return s.mutate(ctx, documentID, func(record *PermissionRecord) {
		applySetVisibility(record, visibility)
	}, now)
}

func (s *PostgresStore) SetDomainRestrictions(ctx context.Context, documentID string, domains []string, actorID string, now time.Time) (PermissionRecord, error) {
	return s.mutate(ctx, documentID, func(record *PermissionRecord) {
		applySetDomains(record, domains)
	}, now)
}

func (s *PostgresStore) SetAccountPermissions(ctx context.Context, documentID string, accounts []AccountPermission, actorID string, now time.Time) (PermissionRecord, error) {
	return s.mutate(ctx, documentID, func(record *PermissionRecord) {
		applySetAccounts(record, accounts, actorID, now, s.auditMax)
	}, now)
}

func (s *PostgresStore) RemoveAccountPermission(ctx context.Context, documentID, accountID, actorID string, now time.Time) (PermissionRecord, error) {
	return s.mutate(ctx, documentID, func(record *PermissionRecord) {
		applyRemoveAccount(record, accountID, actorID, now, s.auditMax)
	}, now)
}

// mutate runs apply against the row-locked record and writes the result back
// in the same transaction, so no partial write is ever observable.
func (s *PostgresStore) mutate(ctx context.Context, documentID string, apply func(*PermissionRecord), now time.Time) (PermissionRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PermissionRecord{}, fmt.Errorf("begin mutation tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	record, err := lockRecord(ctx, tx, documentID)
	if err != nil {
		return PermissionRecord{}, err
	}

	apply(&record)

	domains, accounts, trail, err := encodeLists(record)
	if err != nil {
		return PermissionRecord{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE permission_records
		SET visibility=$2, domains=$3, accounts=$4, audit_trail=$5, updated_at=$6
		WHERE document_id=$1
	`, documentID, string(record.Visibility), domains, accounts, trail, now); err != nil {
		return PermissionRecord{}, fmt.Errorf("update permission record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return PermissionRecord{}, fmt.Errorf("commit mutation tx: %w", err)
	}
	return record, nil
}

// lockRecord reads the record FOR UPDATE, inserting the lazy default row
// first if the document was never configured.
func lockRecord(ctx context.Context, tx *sql.Tx, documentID string) (PermissionRecord, error) {
	record, err := scanRecord(tx.QueryRowContext(ctx, selectRecord+` FOR UPDATE`, documentID), documentID)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return PermissionRecord{}, fmt.Errorf("lock permission record: %w", err)
	}

	def := DefaultRecord(documentID)
	domains, accounts, trail, err := encodeLists(def)
	if err != nil {
		return PermissionRecord{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO permission_records (document_id, visibility, domains, accounts, audit_trail)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (document_id) DO NOTHING
	`, documentID, string(def.Visibility), domains, accounts, trail); err != nil {
		return PermissionRecord{}, fmt.Errorf("insert default record: %w", err)
	}

	record, err = scanRecord(tx.QueryRowContext(ctx, selectRecord+` FOR UPDATE`, documentID), documentID)
	if err != nil {
		return PermissionRecord{}, fmt.Errorf("relock permission record: %w", err)
	}
	return record, nil
}

func scanRecord(row *sql.Row, documentID string) (PermissionRecord, error) {
	var (
		visibility string
		domains    []byte
		accounts   []byte
		trail      []byte
	)
	if err := row.Scan(&visibility, &domains, &accounts, &trail); err != nil {
		return PermissionRecord{}, err
	}

	record := PermissionRecord{DocumentID: documentID, Visibility: Visibility(visibility)}
	if err := json.Unmarshal(domains, &record.Domains); err != nil {
		return PermissionRecord{}, fmt.Errorf("decode domains: %w", err)
	}
	if err := json.Unmarshal(accounts, &record.Accounts); err != nil {
		return PermissionRecord{}, fmt.Errorf("decode accounts: %w", err)
	}
	if err := json.Unmarshal(trail, &record.AuditTrail); err != nil {
		return PermissionRecord{}, fmt.Errorf("decode audit trail: %w", err)
	}
	return record, nil
}

func encodeLists(record PermissionRecord) (domains, accounts, trail []byte, err error) {
	if domains, err = json.Marshal(record.Domains); err != nil {
		return nil, nil, nil, fmt.Errorf("encode domains: %w", err)
	}
	if accounts, err = json.Marshal(record.Accounts); err != nil {
		return nil, nil, nil, fmt.Errorf("encode accounts: %w", err)
	}
	if trail, err = json.Marshal(record.AuditTrail); err != nil {
		return nil, nil, nil, fmt.Errorf("encode audit trail: %w", err)
	}
	return domains, accounts, trail, nil
}
