// Package store provides a durable, lock-protected document store.
//
// Every persisted wavekeeper document (retry budgets, workflow state, task
// graphs) lives in a single file owned by a FileStore. Reads take a shared
// advisory lock, writes take an exclusive one, and writes land through a
// temp-file-plus-rename so a crash never leaves a half-written document.
//
// Locks are taken on a sidecar "<path>.lock" file rather than the document
// itself: the atomic rename swaps the document's inode, so a lock on the old
// inode would not exclude a writer that opened the new one.
//
// Update holds the exclusive lock across read, mutate and write, which makes
// read-modify-write sequences safe across processes.
//
// MemoryStore is an in-process implementation for tests.
package store
