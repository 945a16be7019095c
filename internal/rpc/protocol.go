// Package rpc implements the scout-to-surrogate wire protocol: the four
// message kinds spec.md's RPC catalogue names (latest-known-clock,
// batch-fetch-object-version, batch-commit-updates, and the
// server-pushed batch-updates-notification), framed the way the teacher's
// internal/ipc/protocol.go frames its own request/response messages —
// hand-rolled length-prefixed binary encoding, with the same trick the
// teacher uses for PatchOperation (an embedded variable-shape payload is
// serialized independently and carried as a length-prefixed blob) applied
// here to each CRDT's opaque update payload.
package rpc

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"io"

	"github.com/seasidesky/swiftscout/internal/clock"
	"github.com/seasidesky/swiftscout/internal/ids"
)

var (
	ErrInvalidFrame  = errors.New("rpc: invalid frame format")
	ErrFrameTooLarge = errors.New("rpc: frame too large")
)

// MaxFrameSize bounds a single encoded message, mirroring the teacher's
// ipc.MaxFrameSize guard against a runaway length prefix.
const MaxFrameSize = 32 * 1024 * 1024

// Message type tags, the first byte of every frame's body.
const (
	MsgLatestKnownClockRequest       = 1
	MsgLatestKnownClockReply         = 2
	MsgBatchFetchObjectVersionReq    = 3
	MsgBatchFetchObjectVersionReply  = 4
	MsgBatchCommitUpdatesRequest     = 5
	MsgBatchCommitUpdatesReply       = 6
	MsgBatchUpdatesNotification      = 7
)

// Status is the per-object outcome reported in a fetch or commit reply.
type Status uint8

const (
	StatusOK Status = iota
	StatusVersionMissing
	StatusVersionPruned
	StatusNotFound
	StatusInvalidOperation
	// StatusClockRange is a commit-only outcome (spec.md §4.8:
	// COMMITTED_WITH_KNOWN_CLOCK_RANGE): the store globally committed the
	// transaction but the reply carries no explicit system timestamp for
	// it, only the fact that it falls within the store's reported clock
	// range. The committer marks the transaction globally committed
	// without splicing a system timestamp into its mapping.
	StatusClockRange
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusVersionMissing:
		return "VERSION_MISSING"
	case StatusVersionPruned:
		return "VERSION_PRUNED"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusClockRange:
		return "COMMITTED_WITH_KNOWN_CLOCK_RANGE"
	default:
		return "INVALID_OPERATION"
	}
}

// UpdateEntry is one CRDT update as carried on the wire: a timestamp plus
// its gob-encoded, CRDT-specific payload.
type UpdateEntry struct {
	Timestamp clock.Timestamp
	Payload   []byte
}

func init() {
	// Concrete CRDT op payload types must be registered so gob can encode
	// the interface{} values Execute accepts without the caller having to
	// know the wire format. The op-group slice that carries them is
	// registered too, since it travels as an interface{} itself.
	gob.Register(CounterOpWire{})
	gob.Register(RegisterOpWire{})
	gob.Register([]interface{}(nil))
}

// CounterOpWire and RegisterOpWire mirror internal/crdt's CounterOp and
// RegisterOp payload shapes. rpc cannot import internal/crdt's concrete
// op types directly without a dependency cycle back through whatever
// constructs payload values, so the scout layer translates between the two
// when it builds or consumes an UpdateEntry.
type CounterOpWire struct {
	Source string
	Delta  int64
}

type RegisterOpWire struct {
	Priority uint64
	Source   string
	Value    []byte
}

// EncodePayload gob-encodes a wire op value into bytes.
func EncodePayload(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodePayload decodes bytes produced by EncodePayload back into an
// interface{} holding one of the registered wire op types.
func DecodePayload(data []byte) (interface{}, error) {
	var v interface{}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// LatestKnownClockRequest asks the surrogate for the datacenter clock it
// currently knows about, so the scout can augment object clocks even for
// objects it hasn't explicitly fetched.
type LatestKnownClockRequest struct {
	ScoutID string
}

type LatestKnownClockReply struct {
	Clock *clock.Clock
}

// ObjectVersionRequest asks for the version of ID visible as of At (with
// the scout's own source already dropped by the caller).
type ObjectVersionRequest struct {
	ID ids.ObjectID
	At *clock.Clock
}

type ObjectVersionResult struct {
	ID      ids.ObjectID
	Status  Status
	TypeTag string
	Clock   *clock.Clock
	Updates []UpdateEntry
}

type BatchFetchObjectVersionRequest struct {
	ScoutID  string
	Requests []ObjectVersionRequest
}

type BatchFetchObjectVersionReply struct {
	Results []ObjectVersionResult
}

// CommitEntry is one buffered write being committed.
type CommitEntry struct {
	ID        ids.ObjectID
	Timestamp clock.Timestamp
	Payload   []byte
	DependsOn *clock.Clock
}

type CommitResult struct {
	ID              ids.ObjectID
	Status          Status
	SystemTimestamp clock.Timestamp
}

// DummyCommitResult is the store's acknowledgement of a no-op "dummy"
// commit: spec.md §4.6's discard-with-dummy path sends a transaction's
// client-timestamp with an empty write set purely so the store assigns it
// a system timestamp, preventing other scouts from ever seeing a hole in
// this scout's contribution to the causal clock.
type DummyCommitResult struct {
	Timestamp       clock.Timestamp
	Status          Status
	SystemTimestamp clock.Timestamp
}

type BatchCommitUpdatesRequest struct {
	ScoutID string
	Commits []CommitEntry
	Dummies []clock.Timestamp
}

type BatchCommitUpdatesReply struct {
	Results      []CommitResult
	DummyResults []DummyCommitResult
}

// NotifyEntry is one update pushed to a subscribed scout.
type NotifyEntry struct {
	ID        ids.ObjectID
	Timestamp clock.Timestamp
	Payload   []byte
}

// BatchUpdatesNotification is pushed from the surrogate to the scout; it
// has no reply.
type BatchUpdatesNotification struct {
	DCClock *clock.Clock
	Updates []NotifyEntry
}

// --- framing -----------------------------------------------------------

// writeFrame writes a 4-byte little-endian length prefix (which counts the
// type byte), the one-byte message type, then body — the teacher's
// ipc.writeFrame shape with a type byte added.
func writeFrame(w io.Writer, msgType byte, body []byte) error {
	if len(body)+1 > MaxFrameSize {
		return ErrFrameTooLarge
	}
	header := make([]byte, 5)
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(body)+1))
	header[4] = msgType
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	_, err := w.Write(body)
	return err
}

// readFrame reads one frame and returns its message type and body.
func readFrame(r io.Reader) (byte, []byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	length := binary.LittleEndian.Uint32(header)
	if length == 0 {
		return 0, nil, ErrInvalidFrame
	}
	if length > MaxFrameSize {
		return 0, nil, ErrFrameTooLarge
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, nil, err
	}
	return buf[0], buf[1:], nil
}

// --- generic gob envelope ----------------------------------------------
//
// Every message struct above is plain data (clock.Clock's exported
// Entries()/FromEntries() round trip keep it gob-friendly without
// exporting its internal interval representation), so rather than
// hand-rolling a bespoke binary layout per message the way the teacher
// does for its fixed Operation shape, messages here are gob-encoded as a
// single length-prefixed blob. The length-prefix/msg-type framing itself
// stays hand-rolled, matching the teacher's wire idiom; only the
// variable, evolving message bodies are delegated to gob, the same
// division of labor the teacher uses for PatchOps.

func encodeBody(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeBody(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// WriteMessage frames and writes msgType/body to w.
func WriteMessage(w io.Writer, msgType byte, v interface{}) error {
	body, err := encodeBody(v)
	if err != nil {
		return err
	}
	return writeFrame(w, msgType, body)
}

// ReadMessage reads one frame from r, returning its type and leaving
// decoding of the body to the caller via DecodeInto.
func ReadMessage(r io.Reader) (byte, []byte, error) {
	return readFrame(r)
}

// DecodeInto decodes a frame body previously returned by ReadMessage.
func DecodeInto(body []byte, v interface{}) error {
	return decodeBody(body, v)
}
