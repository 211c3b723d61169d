package types

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// DecodeRow decodes one remote row into rec. Spreadsheet cells come back as
// numbers or strings depending on their content, so scalars are coerced to
// the field type: 1712345678901 fills a string id, "3" fills an int.
func DecodeRow(raw json.RawMessage, rec Record) error {
	row, err := decodeObject(raw)
	if err != nil {
		return err
	}

	var studentsJSON any
	if _, ok := rec.(*AttendanceRecord); ok {
		studentsJSON = row["students_json"]
		delete(row, "students_json")
		if s, ok := row["students"].(string); ok {
			delete(row, "students")
			if studentsJSON == nil {
				studentsJSON = s
			}
		}
	}

	if err := weakDecode(row, rec); err != nil {
		return err
	}

	if a, ok := rec.(*AttendanceRecord); ok && studentsJSON != nil {
		students, err := studentList(studentsJSON)
		if err != nil {
			return fmt.Errorf("attendance %s: %w", a.ID, err)
		}
		a.Students = students
	}
	return nil
}

func studentList(v any) ([]StudentAttendance, error) {
	if s, ok := v.(string); ok {
		if s == "" {
			return nil, nil
		}
		dec := json.NewDecoder(bytes.NewReader([]byte(s)))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("invalid students_json: %w", err)
		}
	}

	var students []StudentAttendance
	if err := weakDecode(v, &students); err != nil {
		return nil, fmt.Errorf("invalid students_json: %w", err)
	}
	return students, nil
}

func decodeObject(raw json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var row map[string]any
	if err := dec.Decode(&row); err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("row is null")
	}
	return row, nil
}

func weakDecode(input, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}
