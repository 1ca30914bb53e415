package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Schema versions of the durable layout.
const (
	// FirstSchemaVersion is the layout that predates the version marker.
	FirstSchemaVersion = 1
	// CurrentSchemaVersion is the layout this package reads and writes.
	CurrentSchemaVersion = 2
)

// MaxTypeLength is the longest message type accepted by Append.
const MaxTypeLength = 1024

// Position is a store-wide ordinal assigned to each message at commit.
//
// The zero value is PositionEnd, meaning the store (or stream) holds no
// messages. Real positions start at 0 and are strictly increasing.
type Position struct {
	v  int64
	ok bool
}

// PositionEnd is the position of an empty store or stream.
var PositionEnd = Position{}

// PositionAt returns the position with value v.
func PositionAt(v int64) Position {
	return Position{v: v, ok: true}
}

// Value returns the position and false for PositionEnd.
func (p Position) Value() (int64, bool) {
	return p.v, p.ok
}

// IsEnd reports whether p is PositionEnd.
func (p Position) IsEnd() bool {
	return !p.ok
}

func (p Position) String() string {
	if !p.ok {
		return "end"
	}
	return strconv.FormatInt(p.v, 10)
}

// StreamVersion is the per-stream ordinal assigned to each message at commit.
//
// The zero value is StreamVersionEnd, meaning the stream holds no messages.
type StreamVersion struct {
	v  int32
	ok bool
}

// StreamVersionEnd is the version of an empty or absent stream.
var StreamVersionEnd = StreamVersion{}

// StreamVersionAt returns the version with value v.
func StreamVersionAt(v int32) StreamVersion {
	return StreamVersion{v: v, ok: true}
}

// Value returns the version and false for StreamVersionEnd.
func (v StreamVersion) Value() (int32, bool) {
	return v.v, v.ok
}

// IsEnd reports whether v is StreamVersionEnd.
func (v StreamVersion) IsEnd() bool {
	return !v.ok
}

func (v StreamVersion) String() string {
	if !v.ok {
		return "end"
	}
	return strconv.FormatInt(int64(v.v), 10)
}

func versionFromRaw(v int32) StreamVersion {
	if v < 0 {
		return StreamVersionEnd
	}
	return StreamVersionAt(v)
}

func positionFromRaw(v int64) Position {
	if v < 0 {
		return PositionEnd
	}
	return PositionAt(v)
}

type expectedKind uint8

const (
	expectAny expectedKind = iota
	expectNoStream
	expectExact
)

// ExpectedVersion is the optimistic-concurrency precondition of an append.
// The zero value is ExpectedAny.
type ExpectedVersion struct {
	kind expectedKind
	v    int32
}

var (
	// ExpectedAny disables the version check.
	ExpectedAny = ExpectedVersion{kind: expectAny}
	// ExpectedNoStream requires the stream to hold no messages.
	ExpectedNoStream = ExpectedVersion{kind: expectNoStream}
)

// ExpectedExactly requires the stream's current version to equal v.
func ExpectedExactly(v int32) ExpectedVersion {
	return ExpectedVersion{kind: expectExact, v: v}
}

// ParseExpectedVersion accepts "any", "no-stream", or a non-negative integer.
func ParseExpectedVersion(s string) (ExpectedVersion, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any":
		return ExpectedAny, nil
	case "no-stream", "nostream", "none":
		return ExpectedNoStream, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil || n < 0 {
		return ExpectedVersion{}, fmt.Errorf("invalid expected version %q", s)
	}
	return ExpectedExactly(int32(n)), nil
}

// IsAny reports whether e disables the version check.
func (e ExpectedVersion) IsAny() bool { return e.kind == expectAny }

// IsNoStream reports whether e requires an empty stream.
func (e ExpectedVersion) IsNoStream() bool { return e.kind == expectNoStream }

// Exact returns the explicit version and whether e is explicit.
func (e ExpectedVersion) Exact() (int32, bool) {
	return e.v, e.kind == expectExact
}

func (e ExpectedVersion) String() string {
	switch e.kind {
	case expectNoStream:
		return "no-stream"
	case expectExact:
		return strconv.FormatInt(int64(e.v), 10)
	default:
		return "any"
	}
}

// NewMessage is a message submitted to Append.
//
// MessageID identifies the message within its stream and makes retries of
// the same batch idempotent. CreatedAt is optional; when zero the store's
// clock is used.
type NewMessage struct {
	MessageID uuid.UUID
	Type      string
	Payload   string
	Metadata  string
	CreatedAt time.Time
}

// Message is a committed message as returned by reads.
type Message struct {
	StreamID      string
	StreamVersion int32
	Position      int64
	MessageID     uuid.UUID
	CreatedAt     time.Time
	Type          string
	Payload       string
	Metadata      string
}

// AppendResult reports the stream and store heads after an append.
type AppendResult struct {
	CurrentVersion  StreamVersion
	CurrentPosition Position
}

// CheckSchemaResult reports the durable and expected schema versions.
type CheckSchemaResult struct {
	Current  int
	Expected int
}

// IsMatch reports whether the durable layout is the one this package expects.
func (r CheckSchemaResult) IsMatch() bool {
	return r.Current == r.Expected
}

// AllPage is one page of a read across every stream.
type AllPage struct {
	// From is the position the read started at.
	From int64
	// Next is the position to pass to the following read in the same direction.
	Next int64
	// IsEnd is true when no further messages exist in the read direction.
	IsEnd    bool
	Messages []Message
}

// PageStatus reports whether a stream read found the stream.
type PageStatus int

const (
	StreamFound PageStatus = iota
	StreamNotFound
)

func (s PageStatus) String() string {
	if s == StreamNotFound {
		return "not_found"
	}
	return "found"
}

// StreamPage is one page of a read within a single stream.
type StreamPage struct {
	StreamID string
	Status   PageStatus
	// From is the version the read started at.
	From int32
	// Next is the version to pass to the following read in the same direction.
	Next int32
	// LastVersion and LastPosition are the stream head when the page was read.
	LastVersion  StreamVersion
	LastPosition Position
	IsEnd        bool
	Messages     []Message
}
