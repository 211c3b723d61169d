package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Collection names a homogeneous set of records
type Collection string

const (
	CollectionUsers      Collection = "users"
	CollectionClasses    Collection = "classes"
	CollectionStudents   Collection = "students"
	CollectionJournals   Collection = "journals"
	CollectionAttendance Collection = "attendance"
	CollectionSettings   Collection = "settings"
)

// Collections lists every collection in the order they are synchronized
var Collections = []Collection{
	CollectionUsers,
	CollectionClasses,
	CollectionStudents,
	CollectionJournals,
	CollectionAttendance,
	CollectionSettings,
}

// Valid reports whether c is one of the known collections
func (c Collection) Valid() bool {
	for _, known := range Collections {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCollection converts a string into a known Collection
func ParseCollection(s string) (Collection, error) {
	c := Collection(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown collection %q", s)
	}
	return c, nil
}

// Record is any entity stored in a collection, identified by a string
// unique within that collection
type Record interface {
	RecordID() string
}

// NewID returns a time-ordered identifier for records whose caller
// does not choose one.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// UserRole defines what a user may do in the application
type UserRole string

const (
	RoleAdmin UserRole = "admin"
	RoleGuru  UserRole = "guru"
)

// User is an account of the application. Password is opaque to this layer.
type User struct {
	ID       string   `json:"id" yaml:"id"`
	FullName string   `json:"fullName" yaml:"fullName"`
	Username string   `json:"username" yaml:"username"`
	Password string   `json:"password,omitempty" yaml:"password,omitempty"`
	Role     UserRole `json:"role" yaml:"role"`
}

func (u *User) RecordID() string { return u.ID }

// Class is a group of students. StudentCount is derived from the
// students collection.
type Class struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	StudentCount int    `json:"studentCount" yaml:"studentCount"`
}

func (c *Class) RecordID() string { return c.ID }

// Gender of a student
type Gender string

const (
	GenderMale   Gender = "L"
	GenderFemale Gender = "P"
)

// Student belongs to a class by class name
type Student struct {
	ID     string `json:"id" yaml:"id"`
	NISN   string `json:"nisn" yaml:"nisn"`
	Name   string `json:"name" yaml:"name"`
	Class  string `json:"class" yaml:"class"`
	Gender Gender `json:"gender" yaml:"gender"`
}

func (s *Student) RecordID() string { return s.ID }

// Journal is a teacher's lesson log for one class period
type Journal struct {
	ID          string `json:"id" yaml:"id"`
	Date        string `json:"date" yaml:"date"`
	Class       string `json:"class" yaml:"class"`
	Jam         string `json:"jam" yaml:"jam"`
	Materi      string `json:"materi" yaml:"materi"`
	Aktivitas   string `json:"aktivitas" yaml:"aktivitas"`
	Izin        int    `json:"izin" yaml:"izin"`
	Sakit       int    `json:"sakit" yaml:"sakit"`
	TanpaKet    int    `json:"tanpaKet" yaml:"tanpaKet"`
	Teacher     string `json:"teacher" yaml:"teacher"`
	TeacherName string `json:"teacherName" yaml:"teacherName"`
}

func (j *Journal) RecordID() string { return j.ID }

// AttendanceStatus is the presence state of one student
type AttendanceStatus string

const (
	StatusHadir    AttendanceStatus = "hadir"
	StatusIzin     AttendanceStatus = "izin"
	StatusSakit    AttendanceStatus = "sakit"
	StatusTanpaKet AttendanceStatus = "tanpaKet"
)

// StudentAttendance is one entry of an attendance sheet
type StudentAttendance struct {
	NISN   string           `json:"nisn" yaml:"nisn"`
	Name   string           `json:"name" yaml:"name"`
	Status AttendanceStatus `json:"status" yaml:"status"`
}

// AttendanceRecord is the attendance sheet of a class on a date
type AttendanceRecord struct {
	ID       string              `json:"id" yaml:"id"`
	Date     string              `json:"date" yaml:"date"`
	Class    string              `json:"class" yaml:"class"`
	Teacher  string              `json:"teacher" yaml:"teacher"`
	Students []StudentAttendance `json:"students" yaml:"students"`
}

func (a *AttendanceRecord) RecordID() string { return a.ID }

// AttendanceID is the identifier used for an attendance sheet when the
// caller does not provide one
func AttendanceID(date, class string) string {
	return date + "_" + class
}

// UnmarshalJSON accepts the student list either as "students" or as
// "students_json", which the remote returns as a JSON-encoded string.
func (a *AttendanceRecord) UnmarshalJSON(data []byte) error {
	type plain AttendanceRecord
	var wire struct {
		plain
		StudentsJSON json.RawMessage `json:"students_json"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*a = AttendanceRecord(wire.plain)

	if len(wire.StudentsJSON) > 0 && string(wire.StudentsJSON) != "null" {
		students, err := DecodeStudentList(wire.StudentsJSON)
		if err != nil {
			return fmt.Errorf("attendance %s: %w", a.ID, err)
		}
		a.Students = students
	}
	return nil
}

// DecodeStudentList parses a student list that is either a JSON array or
// a JSON string holding an encoded array.
func DecodeStudentList(raw json.RawMessage) ([]StudentAttendance, error) {
	if len(raw) > 0 && raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, fmt.Errorf("invalid students_json: %w", err)
		}
		if encoded == "" {
			return nil, nil
		}
		raw = json.RawMessage(encoded)
	}

	var list any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&list); err != nil {
		return nil, fmt.Errorf("invalid students_json: %w", err)
	}
	return studentList(list)
}

// EncodeStudentList is the inverse of DecodeStudentList for the string form
func EncodeStudentList(students []StudentAttendance) (string, error) {
	if students == nil {
		students = []StudentAttendance{}
	}
	data, err := json.Marshal(students)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SettingsID is the fixed identifier of the settings singleton
const SettingsID = "main"

// Settings holds school-wide configuration
type Settings struct {
	ID            string `json:"id" yaml:"id"`
	Semester      string `json:"semester" yaml:"semester"`
	TahunAjaran   string `json:"tahunAjaran" yaml:"tahunAjaran"`
	KepalaSekolah string `json:"kepalaSekolah" yaml:"kepalaSekolah"`
}

func (s *Settings) RecordID() string { return SettingsID }

// DefaultSettings returns the settings used before the first sync
func DefaultSettings() *Settings {
	return &Settings{
		ID:          SettingsID,
		Semester:    "Ganjil",
		TahunAjaran: "2024/2025",
	}
}

// NewRecord returns an empty record of the type stored in c
func NewRecord(c Collection) (Record, error) {
	switch c {
	case CollectionUsers:
		return &User{}, nil
	case CollectionClasses:
		return &Class{}, nil
	case CollectionStudents:
		return &Student{}, nil
	case CollectionJournals:
		return &Journal{}, nil
	case CollectionAttendance:
		return &AttendanceRecord{}, nil
	case CollectionSettings:
		return &Settings{}, nil
	default:
		return nil, fmt.Errorf("unknown collection %q", c)
	}
}

// DecodeRecord unmarshals data into a record of the type stored in c
func DecodeRecord(c Collection, data []byte) (Record, error) {
	rec, err := NewRecord(c)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("failed to decode %s record: %w", c, err)
	}
	return rec, nil
}

// Snapshot is the full remote state as returned by a pull. Records are
// kept raw until normalization.
type Snapshot struct {
	Users      []json.RawMessage `json:"users"`
	Classes    []json.RawMessage `json:"classes"`
	Students   []json.RawMessage `json:"students"`
	Journals   []json.RawMessage `json:"journals"`
	Attendance []json.RawMessage `json:"attendance"`
	Settings   []json.RawMessage `json:"settings"`
	FetchedAt  time.Time         `json:"-"`
}

// Raw returns the undecoded records of one collection
func (s *Snapshot) Raw(c Collection) []json.RawMessage {
	switch c {
	case CollectionUsers:
		return s.Users
	case CollectionClasses:
		return s.Classes
	case CollectionStudents:
		return s.Students
	case CollectionJournals:
		return s.Journals
	case CollectionAttendance:
		return s.Attendance
	case CollectionSettings:
		return s.Settings
	}
	return nil
}
