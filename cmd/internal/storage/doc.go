// Package storage owns the relational schema shared by the identity, session
// and expense stores, for both supported backends:
//
//   - PostgreSQL through pgx (production), schema-qualified so tests can run
//     in throwaway schemas;
//   - SQLite through modernc.org/sqlite (embedded/dev deployments and tests).
//
// Each store package keeps its own queries; this package only opens
// connections and applies migrations.
package storage
