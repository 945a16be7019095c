package scout

import (
	"fmt"

	"github.com/seasidesky/swiftscout/internal/crdt"
	"github.com/seasidesky/swiftscout/internal/rpc"
)

// emptyValue constructs a fresh, zero-valued CRDT of the concrete type
// named by typeTag — the scout's realization of spec.md §9's "polymorphic
// CRDT trait": every concrete variant the scout knows about is registered
// here once, and the rest of the core only ever talks to crdt.Value.
func emptyValue(typeTag string) (crdt.Value, error) {
	switch typeTag {
	case "counter":
		return crdt.NewCounter(), nil
	case "lww-register":
		return crdt.NewLWWRegister(), nil
	default:
		return nil, fmt.Errorf("scout: unknown CRDT type tag %q", typeTag)
	}
}

// toWirePayload translates a concrete crdt op value into the wire shape
// rpc.EncodePayload/DecodePayload know how to gob-round-trip. rpc cannot
// import internal/crdt directly (it would have to know every concrete op
// type), so this boundary-crossing translation lives here, in the one
// package that imports both.
func toWirePayload(payload interface{}) (interface{}, error) {
	switch op := payload.(type) {
	case crdt.CounterOp:
		return rpc.CounterOpWire{Source: op.Source, Delta: op.Delta}, nil
	case crdt.RegisterOp:
		value, ok := op.Value.([]byte)
		if !ok {
			return nil, fmt.Errorf("scout: register op value must be []byte to cross the wire, got %T", op.Value)
		}
		return rpc.RegisterOpWire{Priority: op.Priority, Source: op.Source, Value: value}, nil
	default:
		return nil, fmt.Errorf("scout: no wire encoding for payload type %T", payload)
	}
}

// fromWirePayload is toWirePayload's inverse, applied to updates arriving
// from a fetch reply or a push notification.
func fromWirePayload(typeTag string, wire interface{}) (interface{}, error) {
	switch w := wire.(type) {
	case rpc.CounterOpWire:
		return crdt.CounterOp{Source: w.Source, Delta: w.Delta}, nil
	case rpc.RegisterOpWire:
		return crdt.RegisterOp{Priority: w.Priority, Source: w.Source, Value: w.Value}, nil
	default:
		return nil, fmt.Errorf("scout: unrecognised wire payload type %T for %q", wire, typeTag)
	}
}

// encodeOpsForWire gob-encodes an entire op-group (every payload a
// transaction buffered for one object, in issue order) as the single
// opaque blob a wire CommitEntry/UpdateEntry/NotifyEntry carries. A whole
// group is encoded together — not one wire message per op — because
// crdt.Managed.ExecuteBatch applies a transaction's write-set to an
// object atomically under one timestamp; the wire shape mirrors that.
func encodeOpsForWire(ops []interface{}) ([]byte, error) {
	wire := make([]interface{}, 0, len(ops))
	for _, op := range ops {
		w, err := toWirePayload(op)
		if err != nil {
			return nil, err
		}
		wire = append(wire, w)
	}
	return rpc.EncodePayload(wire)
}

// decodeOpsFromWire is encodeOpsForWire's inverse, applied to updates
// arriving via a fetch reply or a push notification.
func decodeOpsFromWire(typeTag string, data []byte) ([]interface{}, error) {
	decoded, err := rpc.DecodePayload(data)
	if err != nil {
		return nil, err
	}
	wireOps, ok := decoded.([]interface{})
	if !ok {
		return nil, fmt.Errorf("scout: expected an op-group slice on the wire, got %T", decoded)
	}
	ops := make([]interface{}, 0, len(wireOps))
	for _, w := range wireOps {
		op, err := fromWirePayload(typeTag, w)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}
