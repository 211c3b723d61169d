/*
Package types defines the records and sync primitives shared by every Burrow package.

# Records

Six collections make up the dataset:

	users        User               keyed by username on creation
	classes      Class              StudentCount derived from students
	students     Student            class is a class name, not an id
	journals     Journal
	attendance   AttendanceRecord   embeds []StudentAttendance
	settings     Settings           singleton with id "main"

Relationships are denormalized strings. Nothing in this package enforces
referential integrity.

Every record implements Record, which exposes the identifier used as the key
in the local store and in the remote wire format.

# Mutation entries

A MutationEntry is an operation waiting to be sent to the remote:

	{"action": "UPDATE", "collection": "students", "data": {...}}

DELETE entries carry only {"id": ...}. The queue assigns the ordering key;
QueuedMutation pairs the two.

# Snapshots

Snapshot holds the raw arrays returned by a pull. Records stay undecoded until
the reconciler normalizes them, so a malformed record fails the cycle rather
than the transport.

The remote stores the attendance student list as a JSON string in the
students_json column. AttendanceRecord.UnmarshalJSON accepts both that form and
the structured students array used locally.
*/
package types
