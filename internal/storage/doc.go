// Package storage persists events, entries, submissions, the points ledger
// and user links in a single sqlite database. Per-event mutations run inside
// EventTx transactions so each event sees a serial history.
package storage
