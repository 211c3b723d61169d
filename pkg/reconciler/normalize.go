package reconciler

import (
	"encoding/json"
	"fmt"

	apperrors "github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
)

// Normalize turns a raw snapshot into a dataset ready to replace local
// state.
//
// Every collection is deduplicated by id: a repeated id keeps the position
// of its first occurrence and the value of its last. Classes get a second
// pass by name with the same rule. Attendance student lists are decoded from
// students_json. Settings come from the snapshot row with id "main", or
// stay as local when the snapshot has none. Rows without an id are dropped.
func Normalize(snap *types.Snapshot, local *types.Settings) (*types.Dataset, error) {
	d := types.NewDataset()
	var err error

	if d.Users, err = decodeAll[types.User](types.CollectionUsers, snap.Users); err != nil {
		return nil, err
	}
	if d.Classes, err = decodeAll[types.Class](types.CollectionClasses, snap.Classes); err != nil {
		return nil, err
	}
	if d.Students, err = decodeAll[types.Student](types.CollectionStudents, snap.Students); err != nil {
		return nil, err
	}
	if d.Journals, err = decodeAll[types.Journal](types.CollectionJournals, snap.Journals); err != nil {
		return nil, err
	}
	if d.Attendance, err = decodeAll[types.AttendanceRecord](types.CollectionAttendance, snap.Attendance); err != nil {
		return nil, err
	}

	d.Users = dedupe(d.Users, byID[*types.User])
	d.Classes = dedupe(dedupe(d.Classes, byID[*types.Class]), func(c *types.Class) string { return c.Name })
	d.Students = dedupe(d.Students, byID[*types.Student])
	d.Journals = dedupe(d.Journals, byID[*types.Journal])
	d.Attendance = dedupe(d.Attendance, byID[*types.AttendanceRecord])

	settings, err := decodeAll[types.Settings](types.CollectionSettings, snap.Settings)
	if err != nil {
		return nil, err
	}
	d.Settings = nil
	for _, s := range settings {
		if s.ID == types.SettingsID {
			d.Settings = s
		}
	}
	if d.Settings == nil {
		d.Settings = local
	}
	if d.Settings == nil {
		d.Settings = types.DefaultSettings()
	}
	return d, nil
}

// decodeAll decodes raw rows, dropping rows without an id. A row that is not
// valid JSON for the collection fails the whole snapshot.
func decodeAll[T any, P interface {
	*T
	types.Record
}](c types.Collection, raws []json.RawMessage) ([]P, error) {
	out := make([]P, 0, len(raws))
	dropped := 0
	for i, raw := range raws {
		rec := P(new(T))
		if err := types.DecodeRow(raw, rec); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrRemoteRejection, fmt.Sprintf("malformed %s row %d", c, i), err)
		}
		if c != types.CollectionSettings && rec.RecordID() == "" {
			dropped++
			continue
		}
		out = append(out, rec)
	}
	if dropped > 0 {
		logger := log.WithCollection("reconciler", string(c))
		logger.Warn().
			Int("dropped", dropped).
			Msg("Dropped remote rows without an id")
	}
	return out, nil
}

// dedupe collapses records sharing a key. The survivor sits at the first
// occurrence's position and carries the last occurrence's value.
func dedupe[P any](in []P, key func(P) string) []P {
	index := make(map[string]int, len(in))
	out := make([]P, 0, len(in))
	for _, rec := range in {
		k := key(rec)
		if i, ok := index[k]; ok {
			out[i] = rec
			continue
		}
		index[k] = len(out)
		out = append(out, rec)
	}
	return out
}

func byID[P types.Record](rec P) string {
	return rec.RecordID()
}
