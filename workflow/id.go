package workflow

import (
	"bytes"
	"fmt"
	"strconv"
)

// ID identifies a node or link within one graph level. The editor writes
// numeric ids, but some exporters use strings, so both are accepted.
type ID string

// IntID returns the ID for an integer id.
func IntID(n int64) ID {
	return ID(strconv.FormatInt(n, 10))
}

// Int returns the numeric value of the id, if it has one.
func (id ID) Int() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	return n, err == nil
}

func (id ID) String() string { return string(id) }

func (id ID) MarshalJSON() ([]byte, error) {
	if _, ok := id.Int(); ok {
		return []byte(id), nil
	}
	return strconv.AppendQuote(nil, string(id)), nil
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*id = ""
	case data[0] == '"':
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return fmt.Errorf("workflow: invalid id %s: %w", data, err)
		}
		*id = ID(s)
	default:
		f, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("workflow: invalid id %s", data)
		}
		if f == float64(int64(f)) {
			*id = IntID(int64(f))
		} else {
			*id = ID(data)
		}
	}
	return nil
}

// Less orders ids numerically when both are numbers and lexically otherwise.
// Numbers sort before strings.
func Less(a, b ID) bool {
	an, aok := a.Int()
	bn, bok := b.Int()
	switch {
	case aok && bok:
		return an < bn
	case aok != bok:
		return aok
	default:
		return a < b
	}
}
