package join

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"

	"go.uber.org/multierr"

	"hs2sf/internal/fieldmap"
)

type csvFile struct {
	path string
	f    *os.File
	w    *csv.Writer
	rows int64
}

func createCSV(path string, header []string) (*csvFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("join: create %s: %w", path, err)
	}
	c := &csvFile{path: path, f: f, w: csv.NewWriter(f)}
	if err := c.w.Write(header); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("join: write header %s: %w", path, err)
	}
	return c, nil
}

func (c *csvFile) write(rec []string) error {
	if err := c.w.Write(rec); err != nil {
		return fmt.Errorf("join: write %s: %w", c.path, err)
	}
	c.rows++
	return nil
}

func (c *csvFile) close() error {
	c.w.Flush()
	err := c.w.Error()
	if cerr := c.f.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) {
		err = multierr.Append(err, cerr)
	}
	if err != nil {
		return fmt.Errorf("join: close %s: %w", c.path, err)
	}
	return nil
}

// pair is the valid/error output of one run.
type pair struct {
	header []string
	valid  *csvFile
	errs   *csvFile
	buf    []string
}

func openPair(validPath, errorPath string, header []string) (*pair, error) {
	valid, err := createCSV(validPath, header)
	if err != nil {
		return nil, err
	}
	errHeader := append([]string{ErrorColumn}, header...)
	errs, err := createCSV(errorPath, errHeader)
	if err != nil {
		_ = valid.close()
		return nil, err
	}
	return &pair{header: header, valid: valid, errs: errs, buf: make([]string, len(errHeader))}, nil
}

// record renders r in header order after off leading cells. Null becomes "".
func (p *pair) record(r *fieldmap.Row, off int) []string {
	rec := p.buf[:off+len(p.header)]
	for i, l := range p.header {
		rec[off+i] = r.Value(l).OrEmpty()
	}
	return rec
}

func (p *pair) writeValid(r *fieldmap.Row) error {
	return p.valid.write(p.record(r, 0))
}

func (p *pair) writeError(diag string, r *fieldmap.Row) error {
	rec := p.record(r, 1)
	rec[0] = diag
	return p.errs.write(rec)
}

// close flushes both files and removes the error file when it holds no
// rows.
func (p *pair) close() error {
	err := multierr.Combine(p.valid.close(), p.errs.close())
	if p.errs.rows == 0 {
		if rerr := os.Remove(p.errs.path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			err = multierr.Append(err, fmt.Errorf("join: remove empty %s: %w", p.errs.path, rerr))
		}
	}
	return err
}
