/*
Package storage provides BoltDB-backed persistence for Burrow's local dataset and
mutation queue.

BoltStore keeps everything in a single file, <dataDir>/burrow.db, with one bucket
per collection plus the queue:

	┌──────────────── burrow.db ─────────────────┐
	│  users          (User ID → JSON)            │
	│  classes        (Class ID → JSON)           │
	│  students       (Student ID → JSON)         │
	│  journals       (Journal ID → JSON)         │
	│  attendance     (Attendance ID → JSON)      │
	│  settings       ("main" → JSON)             │
	│  mutation_queue (uint64 BE seq → entry)     │
	└─────────────────────────────────────────────┘

# Record buckets

Put upserts by RecordID, Delete removes by id, GetAll returns raw JSON in key
order. ReplaceAll and ReplaceDataset drop and recreate buckets inside one write
transaction; bbolt readers see either the old contents or the new ones, never a
mix. Only the reconciler calls them.

# Queue bucket

Queue keys come from the bucket's NextSequence and are stored big-endian, so a
cursor walks entries in the order they were enqueued. Keys are never reused,
even after the entry is removed, and are unrelated to record ids: one record can
have several pending entries.

# Errors

Every failure from bbolt (closed database, I/O, corrupt JSON) is returned as an
errors.ErrStorage AppError. The transaction that failed is rolled back, so no
partial write is ever visible. Unknown collections and records without an id are
rejected with errors.ErrValidation before a transaction starts.
*/
package storage
