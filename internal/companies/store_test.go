package companies

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"hs2sf/internal/fieldmap"
	"hs2sf/internal/storage"
	"hs2sf/internal/storage/sqlite"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	repo, closeFn, err := sqlite.NewRepository(context.Background(), sqlite.Config{
		DSN: filepath.Join(t.TempDir(), "companies.sqlite"),
	})
	if err != nil {
		t.Fatalf("sqlite.NewRepository: %v", err)
	}
	t.Cleanup(closeFn)
	return New(repo)
}

func entry(id, name string) Entry {
	a := fieldmap.NewRow(1)
	a.Set("Account Name", fieldmap.Text(name))
	return Entry{ID: id, Attrs: a, Name: name}
}

func flags(t *testing.T, s *Store, ids ...string) []bool {
	t.Helper()
	out := make([]bool, len(ids))
	for i, id := range ids {
		c, err := s.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get(%s): %v", id, err)
		}
		out[i] = c.Duplicate
	}
	return out
}

func TestUpsertBatch_IntraBatchDuplicates(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	got, err := s.UpsertBatch(context.Background(), []Entry{entry("A", "N"), entry("B", "N"), entry("C", "M")})
	if err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}

	want := []bool{false, true, false}
	for i, c := range got {
		if c.Duplicate != want[i] {
			t.Fatalf("returned %s duplicate = %v, want %v", c.ID, c.Duplicate, want[i])
		}
	}
	stored := flags(t, s, "A", "B", "C")
	for i := range want {
		if stored[i] != want[i] {
			t.Fatalf("stored flags = %v, want %v", stored, want)
		}
	}
}

func TestUpsertBatch_AcrossBatches(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()
	if _, err := s.UpsertBatch(ctx, []Entry{entry("1", "N"), entry("2", "M")}); err != nil {
		t.Fatalf("batch 1: %v", err)
	}
	if _, err := s.UpsertBatch(ctx, []Entry{entry("3", "N"), entry("4", "N"), entry("5", "O")}); err != nil {
		t.Fatalf("batch 2: %v", err)
	}

	got := flags(t, s, "1", "2", "3", "4", "5")
	want := []bool{false, false, true, true, false}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("flags = %v, want %v", got, want)
		}
	}

	ids, err := s.FindByName(ctx, []string{"N", "M", "O", "P"})
	if err != nil {
		t.Fatalf("FindByName: %v", err)
	}
	wantIDs := []string{"1", "2", "5", ""}
	for i := range wantIDs {
		if ids[i] != wantIDs[i] {
			t.Fatalf("ids = %v, want %v", ids, wantIDs)
		}
	}
}

func TestUpsertBatch_DuplicatesStillResolve(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()
	if _, err := s.UpsertBatch(ctx, []Entry{entry("1", "N"), entry("2", "N")}); err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}
	c, err := s.Get(ctx, "2")
	if err != nil {
		t.Fatalf("Get duplicate: %v", err)
	}
	if !c.Duplicate || c.Attrs.Value("Account Name") != fieldmap.Text("N") {
		t.Fatalf("duplicate company = %+v", c)
	}
}

func TestUpsertBatch_EmptyIsNoop(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	got, err := s.UpsertBatch(context.Background(), nil)
	if err != nil || got != nil {
		t.Fatalf("UpsertBatch(nil) = %v, %v", got, err)
	}
}

func TestUpsertBatch_RepeatedIDIsFatal(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()
	if _, err := s.UpsertBatch(ctx, []Entry{entry("1", "N")}); err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}
	_, err := s.UpsertBatch(ctx, []Entry{entry("1", "Other")})
	if !errors.Is(err, storage.ErrIntegrity) {
		t.Fatalf("err = %v, want ErrIntegrity", err)
	}
}

// recordingRepo checks how the store talks to its repository.
type recordingRepo struct {
	storage.Repository
	lookups [][]string
}

func (r *recordingRepo) FindCompaniesByName(ctx context.Context, names []string) ([]string, error) {
	r.lookups = append(r.lookups, append([]string(nil), names...))
	return make([]string, len(names)), nil
}

func (r *recordingRepo) AddCompanies(ctx context.Context, cs []storage.Company) error { return nil }

func TestUpsertBatch_LooksUpDistinctNamesOnce(t *testing.T) {
	t.Parallel()

	repo := &recordingRepo{}
	s := New(repo)
	if _, err := s.UpsertBatch(context.Background(), []Entry{entry("1", "N"), entry("2", "M"), entry("3", "N")}); err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}
	if len(repo.lookups) != 1 {
		t.Fatalf("lookups = %d, want 1", len(repo.lookups))
	}
	if got := repo.lookups[0]; len(got) != 2 || got[0] != "N" || got[1] != "M" {
		t.Fatalf("looked up %v, want [N M]", got)
	}
}
