package rowfile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"hs2sf/internal/fieldmap"
)

func row(kv ...any) *fieldmap.Row {
	r := fieldmap.NewRow(len(kv) / 2)
	for i := 0; i < len(kv); i += 2 {
		r.Set(kv[i].(string), kv[i+1].(fieldmap.Value))
	}
	return r
}

func writeFile(t *testing.T, labels []string, batches ...[]*fieldmap.Row) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rows.parquet")
	w, err := Create(path, labels)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, b := range batches {
		if err := w.WriteBatch(b); err != nil {
			t.Fatalf("WriteBatch: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

type flat struct {
	Label string
	Value fieldmap.Value
}

func flatten(rows []*fieldmap.Row) [][]flat {
	out := make([][]flat, len(rows))
	for i, r := range rows {
		for _, l := range r.Labels() {
			out[i] = append(out[i], flat{l, r.Value(l)})
		}
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	labels := []string{"Last Name", "Email", "company_id"}
	p1 := []*fieldmap.Row{
		row("Last Name", fieldmap.Text("Doe"), "Email", fieldmap.Text("jd@example.com"), "company_id", fieldmap.Text("1")),
		row("Last Name", fieldmap.Text("Roe"), "Email", fieldmap.Null, "company_id", fieldmap.Text("")),
	}
	p2 := []*fieldmap.Row{
		// Labels set out of order and one label absent.
		row("company_id", fieldmap.Text("2"), "Last Name", fieldmap.Text("Poe")),
	}
	path := writeFile(t, labels, p1, p2)

	r, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if got := r.NumRows(); got != 3 {
		t.Fatalf("NumRows = %d, want 3", got)
	}
	if diff := cmp.Diff(labels, r.Labels()); diff != "" {
		t.Fatalf("Labels mismatch (-want +got):\n%s", diff)
	}

	var got []*fieldmap.Row
	if err := r.Each(context.Background(), func(rows []*fieldmap.Row) error {
		got = append(got, rows...)
		return nil
	}); err != nil {
		t.Fatalf("Each: %v", err)
	}

	want := []*fieldmap.Row{
		row("Last Name", fieldmap.Text("Doe"), "Email", fieldmap.Text("jd@example.com"), "company_id", fieldmap.Text("1")),
		row("Last Name", fieldmap.Text("Roe"), "Email", fieldmap.Null, "company_id", fieldmap.Text("")),
		row("Last Name", fieldmap.Text("Poe"), "Email", fieldmap.Null, "company_id", fieldmap.Text("2")),
	}
	if diff := cmp.Diff(flatten(want), flatten(got)); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestEach_Batches(t *testing.T) {
	t.Parallel()

	var page []*fieldmap.Row
	for i := 0; i < 5; i++ {
		page = append(page, row("A", fieldmap.Text("x")))
	}
	path := writeFile(t, []string{"A"}, page)

	r, err := Open(path, 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	total := 0
	calls := 0
	if err := r.Each(context.Background(), func(rows []*fieldmap.Row) error {
		calls++
		if len(rows) > 2 {
			t.Fatalf("batch of %d rows, want at most 2", len(rows))
		}
		total += len(rows)
		return nil
	}); err != nil {
		t.Fatalf("Each: %v", err)
	}
	if total != 5 || calls < 3 {
		t.Fatalf("total=%d calls=%d, want 5 rows in >= 3 calls", total, calls)
	}
}

func TestEach_StopsOnCallbackError(t *testing.T) {
	t.Parallel()

	path := writeFile(t, []string{"A"}, []*fieldmap.Row{row("A", fieldmap.Text("x"))})
	r, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	stop := errors.New("stop")
	if err := r.Each(context.Background(), func([]*fieldmap.Row) error { return stop }); !errors.Is(err, stop) {
		t.Fatalf("err = %v, want %v", err, stop)
	}
}

func TestEmptyFile(t *testing.T) {
	t.Parallel()

	path := writeFile(t, []string{"A", "B"})
	r, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if r.NumRows() != 0 {
		t.Fatalf("NumRows = %d, want 0", r.NumRows())
	}
	if diff := cmp.Diff([]string{"A", "B"}, r.Labels()); diff != "" {
		t.Fatalf("Labels mismatch (-want +got):\n%s", diff)
	}
	if err := r.Each(context.Background(), func([]*fieldmap.Row) error {
		t.Fatalf("callback on empty file")
		return nil
	}); err != nil {
		t.Fatalf("Each: %v", err)
	}
}

func TestWriter_EmptyBatchIsNoop(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rows.parquet")
	w, err := Create(path, []string{"A"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.WriteBatch(nil); err != nil {
		t.Fatalf("WriteBatch(nil): %v", err)
	}
	if w.Rows() != 0 {
		t.Fatalf("Rows = %d, want 0", w.Rows())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestCreate_NoColumns(t *testing.T) {
	t.Parallel()

	if _, err := Create(filepath.Join(t.TempDir(), "x.parquet"), nil); !errors.Is(err, ErrNoColumns) {
		t.Fatalf("err = %v, want ErrNoColumns", err)
	}
}

func TestOpen_Missing(t *testing.T) {
	t.Parallel()

	if _, err := Open(filepath.Join(t.TempDir(), "absent.parquet"), 0); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
