// Package database opens and migrates the SQLite file holding the door
// event log.
//
// Both daemons share one database file: sesamid records commands, door
// transitions and faults, while nukibridged records lock reports. WAL
// mode plus a busy timeout keeps the two processes out of each other's
// way, and a single-connection pool per process avoids SQLITE_BUSY
// within one daemon.
//
// The schema lives in versioned .up.sql/.down.sql scripts compiled into
// the binary by the migrations package; Migrate applies whatever the
// ledger has not recorded yet, so either daemon can be deployed first.
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns arrive NULLABLE or with a
// DEFAULT, nothing is dropped or renamed, and every script keeps a down
// counterpart so a bad deploy can step back one version.
//
// The database file is created mode 0600 and all queries are
// parameterised. Retention is the concern at this volume, not size; see
// history.Repository.Prune.
package database
