package types

// Dataset is the complete image of every collection held in memory
type Dataset struct {
	Users      []*User
	Classes    []*Class
	Students   []*Student
	Journals   []*Journal
	Attendance []*AttendanceRecord
	Settings   *Settings
}

// NewDataset returns an empty dataset with default settings
func NewDataset() *Dataset {
	return &Dataset{Settings: DefaultSettings()}
}

// SeedDataset is the minimal dataset written on first start so the
// application is usable before the first successful sync
func SeedDataset() *Dataset {
	d := NewDataset()
	d.Users = []*User{
		{ID: "admin", FullName: "Administrator", Username: "admin", Password: "123", Role: RoleAdmin},
		{ID: "guru", FullName: "Budi Santoso", Username: "guru", Password: "123", Role: RoleGuru},
	}
	return d
}

// Records returns the records of one collection. Settings is returned as
// a single-element slice.
func (d *Dataset) Records(c Collection) []Record {
	var out []Record
	switch c {
	case CollectionUsers:
		for _, r := range d.Users {
			out = append(out, r)
		}
	case CollectionClasses:
		for _, r := range d.Classes {
			out = append(out, r)
		}
	case CollectionStudents:
		for _, r := range d.Students {
			out = append(out, r)
		}
	case CollectionJournals:
		for _, r := range d.Journals {
			out = append(out, r)
		}
	case CollectionAttendance:
		for _, r := range d.Attendance {
			out = append(out, r)
		}
	case CollectionSettings:
		if d.Settings != nil {
			out = append(out, d.Settings)
		}
	}
	return out
}

// Len returns the number of records in a collection
func (d *Dataset) Len(c Collection) int {
	return len(d.Records(c))
}

// Clone returns a deep copy so readers can never mutate owned state
func (d *Dataset) Clone() *Dataset {
	if d == nil {
		return nil
	}
	out := &Dataset{
		Users:      cloneSlice(d.Users),
		Classes:    cloneSlice(d.Classes),
		Students:   cloneSlice(d.Students),
		Journals:   cloneSlice(d.Journals),
		Attendance: make([]*AttendanceRecord, 0, len(d.Attendance)),
	}
	for _, a := range d.Attendance {
		c := *a
		c.Students = append([]StudentAttendance(nil), a.Students...)
		out.Attendance = append(out.Attendance, &c)
	}
	if d.Settings != nil {
		s := *d.Settings
		out.Settings = &s
	}
	return out
}

func cloneSlice[T any](in []*T) []*T {
	out := make([]*T, 0, len(in))
	for _, v := range in {
		c := *v
		out = append(out, &c)
	}
	return out
}

// CloneRecord returns a deep copy of a single record
func CloneRecord(r Record) Record {
	switch v := r.(type) {
	case *User:
		c := *v
		return &c
	case *Class:
		c := *v
		return &c
	case *Student:
		c := *v
		return &c
	case *Journal:
		c := *v
		return &c
	case *AttendanceRecord:
		c := *v
		c.Students = append([]StudentAttendance(nil), v.Students...)
		return &c
	case *Settings:
		c := *v
		return &c
	}
	return r
}
