package remote

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cuemby/burrow/pkg/types"
)

// Adapter is the boundary to the shared remote source of truth
type Adapter interface {
	// Pull returns the full contents of every collection as the remote
	// sees them.
	Pull(ctx context.Context) (*types.Snapshot, error)

	// Push submits one mutation. It reports false for any failure and
	// never returns an error; the caller retries later.
	Push(ctx context.Context, entry *types.MutationEntry) bool
}

// PushRequest is the body of a push call
type PushRequest struct {
	Action     types.Action     `json:"action"`
	Collection types.Collection `json:"collection"`
	Data       json.RawMessage  `json:"data"`
}

// PushResponse is the body returned by the remote for a push
type PushResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"

	// NotFoundMessage is the remote's message for a missing record id
	NotFoundMessage = "ID not found"
)

// IsNotFound reports whether a rejection message means the target record
// does not exist on the remote
func IsNotFound(message string) bool {
	return strings.Contains(message, NotFoundMessage)
}

// NewPushRequest converts a queue entry into its wire form. Attendance
// payloads carry the student list as a JSON string in students_json.
func NewPushRequest(entry *types.MutationEntry) (*PushRequest, error) {
	req := &PushRequest{
		Action:     entry.Action,
		Collection: entry.Collection,
		Data:       entry.Data,
	}
	if entry.Collection != types.CollectionAttendance || entry.Action == types.ActionDelete {
		return req, nil
	}

	var rec types.AttendanceRecord
	if err := json.Unmarshal(entry.Data, &rec); err != nil {
		return nil, err
	}
	encoded, err := types.EncodeStudentList(rec.Students)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(struct {
		*types.AttendanceRecord
		StudentsJSON string `json:"students_json"`
	}{&rec, encoded})
	if err != nil {
		return nil, err
	}
	req.Data = data
	return req, nil
}
