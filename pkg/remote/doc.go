/*
Package remote is the boundary to the shared remote source of truth.

The remote is a single HTTP endpoint, typically a hosted script in front of a
spreadsheet. A GET returns the whole dataset as one JSON object keyed by
collection. A POST with a text/plain body of {action, collection, data}
applies one mutation and answers {"status":"success"} or
{"status":"error","message":...}.

Push never returns an error. It reports false and the caller retries later.
Two rejections are repaired in place:

	UPDATE -> "ID not found" -> one CREATE with the same payload
	DELETE -> "ID not found" -> success

Pull errors are classified as errors.ErrNetwork (transport) or
errors.ErrRemoteRejection (bad status or body) and left to the caller.
*/
package remote
