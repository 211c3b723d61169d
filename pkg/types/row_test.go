package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRowCoercesCells(t *testing.T) {
	tests := []struct {
		name string
		row  string
		rec  Record
		want Record
	}{
		{
			name: "numeric id and nisn",
			row:  `{"id":1712345678901,"nisn":12345,"name":"Ani","class":"7A","gender":"P"}`,
			rec:  &Student{},
			want: &Student{ID: "1712345678901", NISN: "12345", Name: "Ani", Class: "7A", Gender: GenderFemale},
		},
		{
			name: "string counts",
			row:  `{"id":"j1","class":7,"izin":"2","sakit":"","tanpaKet":1}`,
			rec:  &Journal{},
			want: &Journal{ID: "j1", Class: "7", Izin: 2, TanpaKet: 1},
		},
		{
			name: "unknown columns ignored",
			row:  `{"id":"c1","name":"7A","studentCount":"30","timestamp":"2024-08-01"}`,
			rec:  &Class{},
			want: &Class{ID: "c1", Name: "7A", StudentCount: 30},
		},
		{
			name: "students_json with numeric nisn",
			row:  `{"id":"a1","date":"2024-08-01","class":"7A","students_json":"[{\"nisn\":12345,\"name\":\"Ani\",\"status\":\"hadir\"}]"}`,
			rec:  &AttendanceRecord{},
			want: &AttendanceRecord{
				ID: "a1", Date: "2024-08-01", Class: "7A",
				Students: []StudentAttendance{{NISN: "12345", Name: "Ani", Status: StatusHadir}},
			},
		},
		{
			name: "structured students",
			row:  `{"id":"a2","students":[{"nisn":"001","name":"Budi","status":"sakit"}]}`,
			rec:  &AttendanceRecord{},
			want: &AttendanceRecord{
				ID:       "a2",
				Students: []StudentAttendance{{NISN: "001", Name: "Budi", Status: StatusSakit}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, DecodeRow(json.RawMessage(tt.row), tt.rec))
			assert.Equal(t, tt.want, tt.rec)
		})
	}
}

func TestDecodeRowErrors(t *testing.T) {
	tests := []struct {
		name string
		row  string
		rec  Record
	}{
		{"not an object", `"7A"`, &Class{}},
		{"null row", `null`, &Class{}},
		{"object id", `{"id":{"n":1}}`, &Student{}},
		{"bad students_json", `{"id":"a1","students_json":"not json"}`, &AttendanceRecord{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, DecodeRow(json.RawMessage(tt.row), tt.rec))
		})
	}
}

func TestDecodeStudentListNumericNISN(t *testing.T) {
	students, err := DecodeStudentList(json.RawMessage(`"[{\"nisn\":7,\"name\":\"Ani\",\"status\":\"izin\"}]"`))
	require.NoError(t, err)
	assert.Equal(t, []StudentAttendance{{NISN: "7", Name: "Ani", Status: StatusIzin}}, students)
}
