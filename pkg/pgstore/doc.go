// Package pgstore implements the queue repository interfaces on PostgreSQL
// using pgx.
//
// Claims rely on FOR UPDATE SKIP LOCKED, so any number of dispatcher
// processes can poll the same database without claiming a job twice.
// Finalization writes the terminal status and the statistics log row in one
// transaction, guarded so the first terminal write wins. Cancellation
// requests are fanned out through LISTEN/NOTIFY on top of the
// cancel_requested column, giving a running Manager a push feed with the
// column as the poll fallback.
//
// Schema migrations are embedded and applied with goose through the pgx
// database/sql bridge; call Migrate once at startup.
package pgstore
