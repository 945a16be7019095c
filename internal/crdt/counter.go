package crdt

import "fmt"

// CounterOp is the update payload for Counter: a signed delta issued by one
// source. Positive deltas accumulate into the increments side, negative
// deltas into the decrements side, so Merge can use the standard PN-counter
// pointwise-max rule regardless of which direction a given update moved.
type CounterOp struct {
	Source string
	Delta  int64
}

// Counter is a state-based PN-counter: per-source increment and decrement
// totals, merged by taking the pointwise maximum on each side. This is the
// textbook CRDT counter construction, chosen (over a single running total)
// specifically so Merge stays commutative, associative and idempotent when
// two replicas have applied overlapping but not identical sets of updates.
type Counter struct {
	inc map[string]int64
	dec map[string]int64
}

// NewCounter returns a zero-valued counter.
func NewCounter() *Counter {
	return &Counter{inc: map[string]int64{}, dec: map[string]int64{}}
}

func (c *Counter) TypeTag() string { return "counter" }

// Value returns the counter's current total.
func (c *Counter) Value() int64 {
	var total int64
	for _, v := range c.inc {
		total += v
	}
	for _, v := range c.dec {
		total -= v
	}
	return total
}

func (c *Counter) Apply(payload interface{}) error {
	op, ok := payload.(CounterOp)
	if !ok {
		return fmt.Errorf("crdt: counter got non-CounterOp payload %T", payload)
	}
	if op.Delta >= 0 {
		c.inc[op.Source] += op.Delta
	} else {
		c.dec[op.Source] += -op.Delta
	}
	return nil
}

func (c *Counter) Copy() Value {
	out := NewCounter()
	for k, v := range c.inc {
		out.inc[k] = v
	}
	for k, v := range c.dec {
		out.dec[k] = v
	}
	return out
}

func (c *Counter) Merge(other Value) error {
	o, ok := other.(*Counter)
	if !ok {
		return fmt.Errorf("crdt: counter cannot merge with %T", other)
	}
	for src, v := range o.inc {
		if cur := c.inc[src]; v > cur {
			c.inc[src] = v
		}
	}
	for src, v := range o.dec {
		if cur := c.dec[src]; v > cur {
			c.dec[src] = v
		}
	}
	return nil
}
