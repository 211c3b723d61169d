package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/reconciler"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestPrintSyncResult(t *testing.T) {
	var buf bytes.Buffer
	printSyncResult(&buf, &reconciler.SyncResult{
		Pushed:    3,
		Remaining: 1,
		Pulled: map[types.Collection]int{
			types.CollectionUsers:    2,
			types.CollectionStudents: 30,
			types.CollectionSettings: 1,
		},
		Duration: 1234567 * time.Microsecond,
	})

	out := buf.String()
	assert.Contains(t, out, "Pushed: 3\n")
	assert.Contains(t, out, "Still queued: 1\n")
	assert.Contains(t, out, "Pulled: 33 records\n")
	assert.Contains(t, out, "  students    30\n")
	assert.Contains(t, out, "  journals    0\n")
	assert.Contains(t, out, "Duration: 1.235s\n")
	assert.NotContains(t, out, "%!")
}
