// Package all wires all built-in company store backends into the storage
// factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) runs the init functions of each backend, which register their
// factories with the storage package. The following kinds become available:
//
//   - "sqlite"   (hs2sf/internal/storage/sqlite), the default, one file per run
//   - "postgres" (hs2sf/internal/storage/postgres)
//
// Typical usage:
//
//	import _ "hs2sf/internal/storage/all"
//
//	repo, err := storage.New(ctx, storage.Config{Kind: "sqlite", DSN: "output/companies.sqlite"})
//	if err != nil {
//	    // handle error
//	}
//	defer repo.Close()
package all

import (
	_ "hs2sf/internal/storage/postgres"
	_ "hs2sf/internal/storage/sqlite"
)
