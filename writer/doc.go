/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

/*
Package writer provides a generic asynchronous batching delivery unit.

A Writer[T] buffers records in memory and flushes the whole buffer to an HTTP
endpoint on a timer, with at most one flush in flight at a time. Enqueue never
blocks on network I/O; Periodic is the only synchronous wait and it is
best-effort. Delivery failures drop that cycle's batch: there is no persistent
retry across process restarts.

Writers are not fork-safe by design: after a process fork the inherited flush
goroutine and client state must not be shared. Recreate returns a fresh,
unstarted Writer with the same configuration for the child process.
*/
package writer
