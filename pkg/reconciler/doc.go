/*
Package reconciler converges local state with the remote.

# Sync cycle

	┌──────────┐   ┌──────────┐   ┌─────────────┐   ┌─────────────────┐
	│  drain   │──▶│   pull   │──▶│  normalize  │──▶│ replace store + │
	│  queue   │   │ snapshot │   │  (dedupe)   │   │  memory         │
	└──────────┘   └──────────┘   └─────────────┘   └─────────────────┘

A blocked drain does not stop the cycle: the pull still runs, and whatever is
still queued is pushed on a later drain. A failed pull, a malformed snapshot
or a failed store replace ends the cycle with local state untouched.

Sync cycles run on Bootstrap, on demand through Sync, and every Interval
after Start. Concurrent Sync calls share one cycle.

# Draining

Drain walks the queue in key order and removes each entry only after the
remote accepted it. The first rejected push stops the walk, so later entries
are never pushed ahead of an earlier one.

The manager calls TriggerDrain after every local write. The trigger channel
has room for one pending request and a single worker consumes it, so any
number of triggers during a drain produce exactly one follow-up drain. The
same mutex guards the worker's drain and the drain step of a sync cycle.

# Bootstrap

An empty store is seeded with the admin and guru users and default settings
so the application works before it has ever reached the remote. Otherwise
the store is loaded into memory. Either way one sync is attempted and its
failure is only logged.
*/
package reconciler
