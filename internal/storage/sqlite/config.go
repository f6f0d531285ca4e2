// Package sqlite implements a SQLite-backed storage.Repository.
package sqlite

// Config holds SQLite repository configuration derived from storage.Config.
type Config struct {
	// DSN is a SQLite file path or connection string, e.g.:
	//   "output/companies.sqlite"
	//   "file:companies.sqlite?_pragma=journal_mode(WAL)"
	//   ":memory:"
	DSN string
}
