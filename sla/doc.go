// Package sla sweeps the run ledger for breached SLAs, overrunning runs and
// silent workers.
package sla
