// Package ledger keeps a history of per-site analytics runs in Postgres.
//
// The ledger is optional. Without a configured database the job records into
// NopRecorder, and a failed insert is logged without failing the run.
package ledger
