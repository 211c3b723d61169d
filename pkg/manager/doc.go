/*
Package manager is the single writer of Burrow's local data.

Every create, update and delete follows the same path under one lock:

 1. assign an id when the caller left it empty
 2. classify CREATE or UPDATE by whether the record is already in memory
 3. commit the record and its MutationEntry in one bbolt transaction
 4. apply a state.Command to the in-memory dataset
 5. publish a record event

The lock is released before the drainer is notified, so a call never waits
on the network. A failed commit in step 3 returns errors.ErrStorage and
leaves the store, the queue and memory as they were.

Derived values are kept in the same call. Changing a student's class, adding
a student or deleting one recomputes studentCount for each affected class and
queues an UPDATE for every class whose count changed.

Identifiers default to a UUIDv7, except users (the username) and attendance
sheets ("<date>_<class>"). Settings always use the id "main" and are always
queued as UPDATE.

Readers get deep copies and never block on a sync in progress.
*/
package manager
