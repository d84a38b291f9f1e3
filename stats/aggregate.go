// Copyright 2026 The Statsfs Authors
// SPDX-License-Identifier: Apache-2.0

package stats

import (
	"fmt"
	"math"
)

// aggregate accumulates simple-value contributions during a subtree
// walk. min and max hold 64-bit bit patterns; signed descriptors seed
// and compare them as int64.
type aggregate struct {
	signed    bool
	sum       uint64
	count     uint64
	countZero uint64
	min       uint64
	max       uint64
}

func newAggregate(signed bool) aggregate {
	agg := aggregate{signed: signed}
	if signed {
		agg.min = math.MaxInt64
		agg.max = 1 << 63 // math.MinInt64 bit pattern
	} else {
		agg.min = math.MaxUint64
		agg.max = 0
	}
	return agg
}

func (agg *aggregate) add(bits uint64) {
	agg.sum += bits
	agg.count++
	if bits == 0 {
		agg.countZero++
	}
	if agg.signed {
		if int64(bits) > int64(agg.max) {
			agg.max = bits
		}
		if int64(bits) < int64(agg.min) {
			agg.min = bits
		}
	} else {
		if bits > agg.max {
			agg.max = bits
		}
		if bits < agg.min {
			agg.min = bits
		}
	}
}

// reduce folds the accumulator into the final 64-bit word for the
// given aggregation kind. MIN and MAX keep their sentinel seed when
// the walk found no contributors. AggrNone reduces to zero — the
// revoked-simple-value case.
func (agg *aggregate) reduce(kind AggrKind) uint64 {
	switch kind {
	case AggrSum:
		return agg.sum
	case AggrMin:
		return agg.min
	case AggrMax:
		return agg.max
	case AggrCountZero:
		return agg.countZero
	case AggrAvg:
		if agg.count == 0 {
			return 0
		}
		if agg.signed {
			return uint64(int64(agg.sum) / int64(agg.count))
		}
		return agg.sum / agg.count
	}
	return 0
}

// GetValue resolves the descriptor on this source and returns its
// 64-bit result. Simple values are read directly from the binding's
// base; aggregates walk the subtree rooted here, folding the same
// field from every binding that carries the aggregate's value set at
// a live base. Fails with [ErrNotFound] when the descriptor is not
// attached to this source.
//
// The returned word is the bit pattern of the numeric result;
// reinterpret as int64 for signed descriptors.
func (s *Source) GetValue(v *Value) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getValueLocked(v)
}

// GetValueByName is GetValue with a name lookup first. Only the
// source's own bindings are searched for the name — never the
// subordinates — and the descriptor bound earliest wins on duplicate
// names.
func (s *Source) GetValueByName(name string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := s.lookupByNameLocked(name)
	if v == nil {
		return 0, fmt.Errorf("%w: value %q in source %q", ErrNotFound, name, s.name)
	}
	return s.getValueLocked(v)
}

// Clear resets the descriptor's storage to zero. For a simple value
// that is one field; for an aggregate it is every contributing simple
// value in the subtree. Aggregates themselves carry no storage and
// are unchanged.
func (s *Source) Clear(v *Value) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b := s.findBindingLocked(v)
	if b == nil {
		return fmt.Errorf("%w: value in source %q", ErrNotFound, s.name)
	}

	if b.base != nil && v.Aggr == AggrNone {
		v.zero(b.base)
		return nil
	}

	s.clearSubtreeLocked(b.set, v)
	return nil
}

// ClearByName is Clear with the same name resolution as
// [Source.GetValueByName].
func (s *Source) ClearByName(name string) error {
	s.mu.RLock()
	v := s.lookupByNameLocked(name)
	s.mu.RUnlock()
	if v == nil {
		return fmt.Errorf("%w: value %q in source %q", ErrNotFound, name, s.name)
	}
	return s.Clear(v)
}

// getValueLocked resolves under a held read lock.
func (s *Source) getValueLocked(v *Value) (uint64, error) {
	if v == nil {
		return 0, ErrNotFound
	}

	b := s.findBindingLocked(v)
	if b == nil {
		return 0, fmt.Errorf("%w: value in source %q", ErrNotFound, s.name)
	}

	if b.base != nil && v.Aggr == AggrNone {
		return v.load(b.base), nil
	}

	agg := newAggregate(v.Type.Signed())
	s.aggregateSubtreeLocked(b.set, v, &agg)
	return agg.reduce(v.Aggr), nil
}

// findBindingLocked returns the first binding whose set contains v by
// pointer identity, or nil.
func (s *Source) findBindingLocked(v *Value) *binding {
	for _, b := range s.bindings {
		if b.set.contains(v) {
			return b
		}
	}
	return nil
}

// lookupByNameLocked returns the earliest-bound descriptor with the
// given name, or nil.
func (s *Source) lookupByNameLocked(name string) *Value {
	for _, b := range s.bindings {
		if v := b.set.Lookup(name); v != nil {
			return v
		}
	}
	return nil
}

// aggregateSubtreeLocked folds contributions from this node and every
// descendant. At each node only bindings with a live base and the
// aggregate's own value set contribute — a different set means a
// different schema, so the field offsets cannot be trusted. Children
// are visited under their own read locks, parent before child.
func (s *Source) aggregateSubtreeLocked(set *ValueSet, v *Value, agg *aggregate) {
	for _, b := range s.bindings {
		if b.base == nil || b.set != set {
			continue
		}
		agg.add(v.load(b.base))
	}

	for _, child := range s.subordinates {
		child.mu.RLock()
		child.aggregateSubtreeLocked(set, v, agg)
		child.mu.RUnlock()
	}
}

// clearSubtreeLocked zeroes the field in every contributing binding,
// using the same selection rule as aggregation.
func (s *Source) clearSubtreeLocked(set *ValueSet, v *Value) {
	for _, b := range s.bindings {
		if b.base == nil || b.set != set {
			continue
		}
		v.zero(b.base)
	}

	for _, child := range s.subordinates {
		child.mu.RLock()
		child.clearSubtreeLocked(set, v)
		child.mu.RUnlock()
	}
}
