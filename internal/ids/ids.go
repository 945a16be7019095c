// Package ids defines the scout's identifier types: the opaque CRDT
// object identifier (table, key, type-tag) of spec.md §3, and the
// uuid-backed scout/session id generators used across the pack's sibling
// modules (tenant-auth, platform, functions all use github.com/google/uuid
// for their own opaque ids; the scout follows the same idiom rather than
// minting ids from a counter).
package ids

import "github.com/google/uuid"

// ObjectID is the opaque CRDT identifier: (table, key, type-tag). It is a
// plain comparable struct so it can be used directly as a map key with
// structural equality, per spec.md §3.
type ObjectID struct {
	Table   string
	Key     string
	TypeTag string
}

func (o ObjectID) String() string {
	return o.Table + "/" + o.Key + "#" + o.TypeTag
}

// NewScoutID mints a short opaque scout id.
func NewScoutID() string {
	return "scout-" + uuid.NewString()
}

// NewSessionID mints a short opaque session id.
func NewSessionID() string {
	return "sess-" + uuid.NewString()
}
