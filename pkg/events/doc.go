/*
Package events provides an in-memory event broker for Burrow's local changes
and sync activity.

	Publisher -> event channel (buffer 100) -> broadcast loop
	          -> subscriber channels (buffer 50 each)

Publish never blocks. When the broker is stopped, not yet started, or its
buffer is full, the event is dropped. A slow subscriber misses events rather
than stalling the others.

Event types:

	record.created  record.updated  record.deleted
	sync.started    sync.completed  sync.failed
	queue.blocked   queue.drained

Record events carry "collection" and "id" metadata. Sync events carry the
pushed and remaining counts.

Usage:

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for ev := range sub {
		fmt.Println(ev.Type, ev.Metadata["id"])
	}
*/
package events
