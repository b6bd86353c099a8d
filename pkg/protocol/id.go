package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

type idKind uint8

const (
	idNone idKind = iota
	idNumber
	idString
)

// RequestID identifies a request within one direction of a connection.
// It is an integer, a string, or none. None is only valid on notifications
// and on error responses to frames whose id could not be recovered.
type RequestID struct {
	kind idKind
	num  int64
	str  string
}

// NoID is the absent request id.
var NoID = RequestID{}

// NumberID returns an integer request id.
func NumberID(n int64) RequestID {
	return RequestID{kind: idNumber, num: n}
}

// StringID returns a string request id.
func StringID(s string) RequestID {
	return RequestID{kind: idString, str: s}
}

// IsNone reports whether the id is absent.
func (id RequestID) IsNone() bool {
	return id.kind == idNone
}

// IsNumber reports whether the id is an integer.
func (id RequestID) IsNumber() bool {
	return id.kind == idNumber
}

// Int returns the integer value and whether the id is numeric.
func (id RequestID) Int() (int64, bool) {
	return id.num, id.kind == idNumber
}

// Str returns the string value and whether the id is a string.
func (id RequestID) Str() (string, bool) {
	return id.str, id.kind == idString
}

// String renders the id for logs and map keys. Numeric and string ids never
// collide because string ids are quoted.
func (id RequestID) String() string {
	switch id.kind {
	case idNumber:
		return strconv.FormatInt(id.num, 10)
	case idString:
		return strconv.Quote(id.str)
	default:
		return "<none>"
	}
}

// MarshalJSON implements json.Marshaler.
func (id RequestID) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case idNumber:
		return []byte(strconv.FormatInt(id.num, 10)), nil
	case idString:
		return json.Marshal(id.str)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler. Only integers, strings and null
// are accepted.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty request id")
	}
	switch data[0] {
	case 'n':
		if string(data) != "null" {
			return fmt.Errorf("invalid request id: %s", data)
		}
		*id = NoID
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("invalid request id: %w", err)
		}
		*id = StringID(s)
		return nil
	default:
		n, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("request id must be an integer or string, got %s", data)
		}
		*id = NumberID(n)
		return nil
	}
}

// ProgressToken correlates progress notifications with the request that
// carried it. It shares the wire shape of RequestID.
type ProgressToken = RequestID
