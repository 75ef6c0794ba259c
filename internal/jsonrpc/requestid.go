package jsonrpc

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// RequestID represents a JSON-RPC ID that can be either a string or a number.
type RequestID struct {
	str   string
	num   int64
	isNum bool
}

// NewStringID creates a string request ID.
func NewStringID(s string) *RequestID {
	return &RequestID{str: s}
}

// NewNumberID creates a numeric request ID.
func NewNumberID(n int64) *RequestID {
	return &RequestID{num: n, isNum: true}
}

// String returns the string representation of the ID.
func (id *RequestID) String() string {
	if id == nil {
		return ""
	}
	if id.isNum {
		return strconv.FormatInt(id.num, 10)
	}
	return id.str
}

// Equal reports whether two IDs carry the same value and kind.
func (id *RequestID) Equal(other *RequestID) bool {
	if id == nil || other == nil {
		return id == other
	}
	return id.isNum == other.isNum && id.num == other.num && id.str == other.str
}

// MarshalJSON implements json.Marshaler.
func (id *RequestID) MarshalJSON() ([]byte, error) {
	if id == nil {
		return []byte("null"), nil
	}
	if id.isNum {
		return json.Marshal(id.num)
	}
	return json.Marshal(id.str)
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	var num int64
	if err := json.Unmarshal(data, &num); err == nil {
		*id = RequestID{num: num, isNum: true}
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*id = RequestID{str: str}
		return nil
	}

	return fmt.Errorf("JSON-RPC ID must be a string or integer, got: %s", string(data))
}
