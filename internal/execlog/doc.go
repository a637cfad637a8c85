// Package execlog writes the append-only execution log of a workflow.
//
// Each workflow has one live JSONL file, execution_<workflow_id>.jsonl.
// Appends take an exclusive lock on a hidden sidecar file and fsync before
// releasing it, so writers in separate processes never interleave lines.
// Once the live file reaches the size threshold it is gzip-compressed into
// execution_<workflow_id>.<YYYYMMDD_HHMMSS>.jsonl.gz and truncated, still
// under the same lock.
package execlog
