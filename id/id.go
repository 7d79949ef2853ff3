// Package id holds the TypeID identifiers used across taskcore.
//
// An ID renders as "prefix_suffix" where the prefix names the entity
// kind and the suffix is a UUIDv7, so IDs of one kind sort by creation
// time. The zero ID is Nil and round-trips as an empty string or NULL.
package id

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix names the entity kind of an ID.
type Prefix string

const (
	PrefixJob       Prefix = "job"
	PrefixWorker    Prefix = "wkr"
	PrefixRun       Prefix = "arun"
	PrefixResult    Prefix = "ares"
	PrefixCandidate Prefix = "cand"
	PrefixPosting   Prefix = "post"
)

// ID is a prefixed, sortable identifier. The zero value is Nil.
//
//nolint:recvcheck // pointer receivers only where the ID is decoded in place.
type ID struct {
	tid typeid.TypeID
	set bool
}

// Nil is the empty ID.
var Nil ID

// Aliases documenting which kind an ID field holds.
type (
	JobID    = ID
	WorkerID = ID
	RunID    = ID
	ResultID = ID
)

// New returns a fresh ID of the given kind. An invalid prefix is a
// programming error and panics.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: bad prefix %q: %v", prefix, err))
	}
	return ID{tid: tid, set: true}
}

func NewJobID() ID       { return New(PrefixJob) }
func NewWorkerID() ID    { return New(PrefixWorker) }
func NewRunID() ID       { return New(PrefixRun) }
func NewResultID() ID    { return New(PrefixResult) }
func NewCandidateID() ID { return New(PrefixCandidate) }
func NewPostingID() ID   { return New(PrefixPosting) }

// Parse decodes s, which must be a non-empty TypeID of any kind.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, errors.New("id: parse: empty string")
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{tid: tid, set: true}, nil
}

// ParseWithPrefix is Parse plus a check that s is of kind want.
func ParseWithPrefix(s string, want Prefix) (ID, error) {
	v, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if got := v.Prefix(); got != want {
		return Nil, fmt.Errorf("id: %q has prefix %q, want %q", s, got, want)
	}
	return v, nil
}

// MustParse panics when s does not parse. For literals in tests and fixtures.
func MustParse(s string) ID {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func ParseJobID(s string) (ID, error)    { return ParseWithPrefix(s, PrefixJob) }
func ParseWorkerID(s string) (ID, error) { return ParseWithPrefix(s, PrefixWorker) }
func ParseRunID(s string) (ID, error)    { return ParseWithPrefix(s, PrefixRun) }
func ParseResultID(s string) (ID, error) { return ParseWithPrefix(s, PrefixResult) }

// String renders the ID, or "" for Nil.
func (i ID) String() string {
	if !i.set {
		return ""
	}
	return i.tid.String()
}

// Prefix returns the kind of the ID, or "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.set {
		return ""
	}
	return Prefix(i.tid.Prefix())
}

// IsNil reports whether i is the empty ID.
func (i ID) IsNil() bool { return !i.set }

// MarshalText encodes Nil as empty text.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText accepts empty text as Nil.
func (i *ID) UnmarshalText(data []byte) error {
	return i.decode(string(data))
}

// Value stores Nil as NULL so optional reference columns stay empty.
func (i ID) Value() (driver.Value, error) {
	if !i.set {
		return nil, nil //nolint:nilnil // NULL
	}
	return i.tid.String(), nil
}

// Scan reads string, []byte or NULL columns.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.decode(v)
	case []byte:
		return i.decode(string(v))
	default:
		return fmt.Errorf("id: cannot scan %T", src)
	}
}

func (i *ID) decode(s string) error {
	if s == "" {
		*i = Nil
		return nil
	}
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*i = v
	return nil
}
