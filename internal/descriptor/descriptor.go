// Package descriptor encodes the (name, url, destination) triple carried on a
// transport task so the download can be rebuilt after a process restart.
package descriptor

import (
	"errors"
	"strings"
)

// Separator joins the descriptor fields. None of the fields may contain it;
// Encode does not check.
const Separator = ","

const (
	nameIndex = iota
	urlIndex
	destinationIndex
	fieldCount
)

// ErrMalformed is returned when a task description does not hold exactly
// three fields.
var ErrMalformed = errors.New("malformed task descriptor")

// Descriptor identifies a logical download independently of the manager's
// in-memory state.
type Descriptor struct {
	Name        string
	URL         string
	Destination string
}

// Encode joins the descriptor fields into a single task description.
func Encode(d Descriptor) string {
	return strings.Join([]string{d.Name, d.URL, d.Destination}, Separator)
}

// Decode is the inverse of Encode.
func Decode(s string) (Descriptor, error) {
	parts := strings.Split(s, Separator)
	if len(parts) != fieldCount {
		return Descriptor{}, ErrMalformed
	}
	return Descriptor{
		Name:        parts[nameIndex],
		URL:         parts[urlIndex],
		Destination: parts[destinationIndex],
	}, nil
}
