package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"

	"hs2sf/internal/fieldmap"
	"hs2sf/internal/storage"
)

/*
Package-level test helpers (TB-aware)
*/

func newRepo(tb testing.TB) *Repository {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), "companies.sqlite")
	r, closeFn, err := NewRepository(context.Background(), Config{DSN: path})
	if err != nil {
		tb.Fatalf("NewRepository: %v", err)
	}
	tb.Cleanup(closeFn)
	return r
}

func attrs(kv ...string) *fieldmap.Row {
	r := fieldmap.NewRow(len(kv) / 2)
	for i := 0; i+1 < len(kv); i += 2 {
		r.Set(kv[i], fieldmap.Text(kv[i+1]))
	}
	return r
}

func mustAdd(tb testing.TB, r *Repository, cs ...storage.Company) {
	tb.Helper()
	if err := r.AddCompanies(context.Background(), cs); err != nil {
		tb.Fatalf("AddCompanies: %v", err)
	}
}

/*
Unit tests
*/

func TestAddAndGetCompany(t *testing.T) {
	t.Parallel()

	r := newRepo(t)
	a := attrs("Account Name", "Test Company", "Account Website", "https://t.example")
	a.Set("Account Billing City", fieldmap.Null)
	mustAdd(t, r, storage.Company{ID: "id1", Attrs: a, Name: "Test Company"})

	got, err := r.GetCompany(context.Background(), "id1")
	if err != nil {
		t.Fatalf("GetCompany: %v", err)
	}
	if got.Duplicate {
		t.Fatalf("duplicate = true, want false")
	}
	if diff := cmp.Diff(a.Labels(), got.Attrs.Labels()); diff != "" {
		t.Fatalf("attrs labels (-want +got):\n%s", diff)
	}
	if v := got.Attrs.Value("Account Billing City"); v.Valid {
		t.Fatalf("null attr came back as %+v", v)
	}
	if got.Name != "Test Company" {
		t.Fatalf("name = %q", got.Name)
	}
}

func TestAddCompanies_PersistsMultiple(t *testing.T) {
	t.Parallel()

	r := newRepo(t)
	mustAdd(t, r,
		storage.Company{ID: "id1", Attrs: attrs("param1", "value1"), Name: "Name 1"},
		storage.Company{ID: "id2", Attrs: attrs("param2", "value2"), Name: "Name 2", Duplicate: true},
	)

	for id, wantDup := range map[string]bool{"id1": false, "id2": true} {
		got, err := r.GetCompany(context.Background(), id)
		if err != nil {
			t.Fatalf("GetCompany(%s): %v", id, err)
		}
		if got.Duplicate != wantDup {
			t.Fatalf("%s duplicate = %v, want %v", id, got.Duplicate, wantDup)
		}
	}
}

func TestAddCompanies_Errors(t *testing.T) {
	t.Parallel()

	r := newRepo(t)
	ctx := context.Background()

	if err := r.AddCompanies(ctx, nil); !errors.Is(err, storage.ErrNoCompanies) {
		t.Fatalf("no companies: err = %v", err)
	}
	if err := r.AddCompanies(ctx, []storage.Company{{ID: "x"}}); !errors.Is(err, storage.ErrNoAttrs) {
		t.Fatalf("no attrs: err = %v", err)
	}
	if err := r.AddCompanies(ctx, []storage.Company{{Attrs: attrs("a", "b")}}); !errors.Is(err, storage.ErrIntegrity) {
		t.Fatalf("empty id: err = %v", err)
	}

	mustAdd(t, r, storage.Company{ID: "id1", Attrs: attrs("param1", "value1"), Name: "Test Company"})
	err := r.AddCompanies(ctx, []storage.Company{{ID: "id1", Attrs: attrs("param2", "value2"), Name: "Other Name"}})
	if !errors.Is(err, storage.ErrIntegrity) {
		t.Fatalf("duplicate id: err = %v, want ErrIntegrity", err)
	}
}

func TestAddCompanies_RollsBackWholeBatch(t *testing.T) {
	t.Parallel()

	r := newRepo(t)
	ctx := context.Background()
	err := r.AddCompanies(ctx, []storage.Company{
		{ID: "a", Attrs: attrs("k", "v"), Name: "A"},
		{ID: "a", Attrs: attrs("k", "v"), Name: "A again"},
	})
	if !errors.Is(err, storage.ErrIntegrity) {
		t.Fatalf("err = %v, want ErrIntegrity", err)
	}
	if _, err := r.GetCompany(ctx, "a"); !errors.Is(err, storage.ErrCompanyNotFound) {
		t.Fatalf("first row survived a failed batch: err = %v", err)
	}
}

func TestGetCompany_Errors(t *testing.T) {
	t.Parallel()

	r := newRepo(t)
	if _, err := r.GetCompany(context.Background(), ""); !errors.Is(err, storage.ErrNoID) {
		t.Fatalf("empty id: err = %v", err)
	}
	if _, err := r.GetCompany(context.Background(), "nope"); !errors.Is(err, storage.ErrCompanyNotFound) {
		t.Fatalf("unknown id: err = %v", err)
	}
}

func TestFindCompaniesByName(t *testing.T) {
	t.Parallel()

	r := newRepo(t)
	ctx := context.Background()
	mustAdd(t, r,
		storage.Company{ID: "1", Attrs: attrs("n", "A"), Name: "A"},
		storage.Company{ID: "2", Attrs: attrs("n", "A"), Name: "A", Duplicate: true},
		storage.Company{ID: "3", Attrs: attrs("n", "B"), Name: "B"},
		storage.Company{ID: "4", Attrs: attrs("n", "C"), Name: "C", Duplicate: true},
		storage.Company{ID: "5", Attrs: attrs("n", ""), Name: ""},
	)

	got, err := r.FindCompaniesByName(ctx, []string{"B", "C", "missing", "A", ""})
	if err != nil {
		t.Fatalf("FindCompaniesByName: %v", err)
	}
	if diff := cmp.Diff([]string{"3", "", "", "1", ""}, got); diff != "" {
		t.Fatalf("ids (-want +got):\n%s", diff)
	}

	if _, err := r.FindCompaniesByName(ctx, []string{"A", "A"}); !errors.Is(err, storage.ErrAmbiguousNames) {
		t.Fatalf("repeated name: err = %v", err)
	}
	if _, err := r.FindCompaniesByName(ctx, nil); !errors.Is(err, storage.ErrNoNames) {
		t.Fatalf("no names: err = %v", err)
	}
}

func TestFindCompaniesByName_ManyNames(t *testing.T) {
	t.Parallel()

	r := newRepo(t)
	ctx := context.Background()

	names := make([]string, 0, maxVars*2+3)
	for i := 0; i < cap(names); i++ {
		names = append(names, "name-"+string(rune('a'+i%26))+"-"+strconv.Itoa(i))
	}
	last := names[len(names)-1]
	mustAdd(t, r, storage.Company{ID: "last", Attrs: attrs("n", last), Name: last})

	got, err := r.FindCompaniesByName(ctx, names)
	if err != nil {
		t.Fatalf("FindCompaniesByName: %v", err)
	}
	if got[len(got)-1] != "last" {
		t.Fatalf("last id = %q, want last", got[len(got)-1])
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	r := newRepo(t)
	ctx := context.Background()
	mustAdd(t, r, storage.Company{ID: "1", Attrs: attrs("n", "A"), Name: "A"})
	if err := r.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := r.GetCompany(ctx, "1"); !errors.Is(err, storage.ErrCompanyNotFound) {
		t.Fatalf("company survived Reset: err = %v", err)
	}
}

func TestRepository_IsStorageRepository(t *testing.T) {
	t.Parallel()

	r, _, err := NewRepository(context.Background(), Config{DSN: filepath.Join(t.TempDir(), "companies.sqlite")})
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	var repo storage.Repository = r
	ctx := context.Background()
	if err := repo.AddCompanies(ctx, []storage.Company{{ID: "1", Attrs: attrs("n", "A"), Name: "A"}}); err != nil {
		t.Fatalf("AddCompanies: %v", err)
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := repo.GetCompany(ctx, "1"); err == nil {
		t.Fatalf("GetCompany after Close: expected error")
	}
}

// TestAddCompanies_CommitFailure drives the transaction with sqlmock to check
// that a failed commit is surfaced.
func TestAddCompanies_CommitFailure(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO companies")
	prep.ExpectExec().
		WithArgs("1", `{"n":"A"}`, "A", false).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit().WillReturnError(errors.New("disk full"))

	r := New(db)
	err = r.AddCompanies(context.Background(), []storage.Company{{ID: "1", Attrs: attrs("n", "A"), Name: "A"}})
	if err == nil || err.Error() != "sqlite: commit: disk full" {
		t.Fatalf("err = %v, want commit failure", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

// TestAddCompanies_ExecFailureRollsBack checks that a failed insert rolls the
// transaction back.
func TestAddCompanies_ExecFailureRollsBack(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO companies")
	prep.ExpectExec().WillReturnError(errors.New("io error"))
	mock.ExpectRollback()

	r := New(db)
	if err := r.AddCompanies(context.Background(), []storage.Company{{ID: "1", Attrs: attrs("n", "A"), Name: "A"}}); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
