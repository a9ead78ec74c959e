package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func recordRows(t *testing.T, record PermissionRecord) *sqlmock.Rows {
	t.Helper()
	domains, err := json.Marshal(record.Domains)
	if err != nil {
		t.Fatalf("marshal domains: %v", err)
	}
	accounts, err := json.Marshal(record.Accounts)
	if err != nil {
		t.Fatalf("marshal accounts: %v", err)
	}
	trail, err := json.Marshal(record.AuditTrail)
	if err != nil {
		t.Fatalf("marshal audit trail: %v", err)
	}
	return sqlmock.NewRows([]string{"visibility", "domains", "accounts", "audit_trail"}).
		AddRow(string(record.Visibility), domains, accounts, trail)
}

func TestPostgresGetPermissions(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	stored := DefaultRecord("doc-1")
	stored.Visibility = VisibilityAccount
	stored.Accounts = []AccountPermission{{AccountID: "a1", Email: "x@y.com", PermissionLevel: "edit"}}
	mock.ExpectQuery("SELECT visibility, domains, accounts, audit_trail").
		WithArgs("doc-1").
		WillReturnRows(recordRows(t, stored))

	s := NewPostgresStore(db, 0)
	record, err := s.GetPermissions(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("GetPermissions failed: %v", err)
	}
	if record.Visibility != VisibilityAccount || len(record.Accounts) != 1 {
		t.Fatalf("record = %+v", record)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresGetPermissionsUnknownDocumentDefaults(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT visibility, domains, accounts, audit_trail").
		WithArgs("doc-unknown").
		WillReturnError(sql.ErrNoRows)

	s := NewPostgresStore(db, 0)
	record, err := s.GetPermissions(context.Background(), "doc-unknown")
	if err != nil {
		t.Fatalf("GetPermissions failed: %v", err)
	}
	if record.Visibility != VisibilityRestricted || len(record.Domains) != 0 {
		t.Fatalf("expected lazy default record, got %+v", record)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresSetVisibilityLocksAndUpdates(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	stored := DefaultRecord("doc-1")
	stored.Domains = []string{"example.com"}
	stored.Accounts = []AccountPermission{{AccountID: "a1", Email: "x@y.com", PermissionLevel: "edit"}}

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("doc-1").WillReturnRows(recordRows(t, stored))
	mock.ExpectExec("UPDATE permission_records").
		WithArgs("doc-1", "public", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s := NewPostgresStore(db, 0)
	record, err := s.SetVisibility(context.Background(), "doc-1", VisibilityPublic, "actor-1", time.Now())
	if err != nil {
		t.Fatalf("SetVisibility failed: %v", err)
	}
	if record.Visibility != VisibilityPublic || len(record.Domains) != 0 || len(record.Accounts) != 0 {
		t.Fatalf("public switch did not clear lists: %+v", record)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresMutationInsertsDefaultRowLazily(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("doc-new").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO permission_records").
		WithArgs("doc-new", "restricted", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FOR UPDATE").WithArgs("doc-new").WillReturnRows(recordRows(t, DefaultRecord("doc-new")))
	mock.ExpectExec("UPDATE permission_records").
		WithArgs("doc-new", "restricted", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s := NewPostgresStore(db, 0)
	record, err := s.SetDomainRestrictions(context.Background(), "doc-new", []string{"example.com"}, "actor-1", time.Now())
	if err != nil {
		t.Fatalf("SetDomainRestrictions failed: %v", err)
	}
	if record.Visibility != VisibilityRestricted || len(record.Domains) != 1 {
		t.Fatalf("record = %+v", record)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresMutationRollsBackOnUpdateFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("doc-1").WillReturnRows(recordRows(t, DefaultRecord("doc-1")))
	mock.ExpectExec("UPDATE permission_records").WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	s := NewPostgresStore(db, 0)
	if _, err := s.SetVisibility(context.Background(), "doc-1", VisibilityPublic, "actor-1", time.Now()); err == nil {
		t.Fatal("expected error when the update fails")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
