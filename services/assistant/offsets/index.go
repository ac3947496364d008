// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package offsets tracks the live position of every active suggestion while
// the text underneath it changes.
//
// # Description
//
// An Index holds the regions created from one analysis response, in ascending
// start order, together with the length of the text they are valid for. Every
// accepted mutation must be reported through Shift, exactly once and in the
// order the mutations are applied, so later regions never observe a stale
// start.
//
// # Invariants
//
//   - 0 <= start and start+length <= text length, for every region.
//   - Regions are ordered by start. Shift never reorders them because it only
//     moves regions strictly after the mutation point.
//
// A call that would break an invariant is rejected with an IntegrityError and
// leaves the index untouched. Such an error means the caller applied
// mutations out of order or against a different text generation; it is a
// defect, never something to correct with a guess.
//
// # Thread Safety
//
// Not safe for concurrent use. The orchestrator owns the index and touches it
// from its event loop only.
package offsets

import (
	"errors"
	"fmt"
	"sort"

	"github.com/AleutianAI/probr/services/assistant/datatypes"
)

// ErrRegionIntegrity is the sentinel matched by every IntegrityError.
var ErrRegionIntegrity = errors.New("region integrity violation")

// IntegrityError describes a region that would fall outside the text or out
// of order.
type IntegrityError struct {
	Op      string
	RuleID  string
	Start   int
	Length  int
	TextLen int
	Reason  string
}

// Error implements error.
func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %s: region %s [%d, %d) in text of length %d: %s",
		ErrRegionIntegrity, e.Op, e.RuleID, e.Start, e.Start+e.Length, e.TextLen, e.Reason)
}

// Unwrap lets errors.Is match ErrRegionIntegrity.
func (e *IntegrityError) Unwrap() error {
	return ErrRegionIntegrity
}

// Region is the live, offset-tracked position of one issue. Cards hold a
// pointer to their region, so a Shift is visible to them immediately.
type Region struct {
	RuleID string
	Start  int
	Length int
}

// End returns the exclusive end offset.
func (r *Region) End() int {
	return r.Start + r.Length
}

// Overlaps reports whether the region shares at least one position with
// [start, end). An empty span overlaps nothing.
func (r *Region) Overlaps(start, end int) bool {
	return start < end && r.Start < end && start < r.End()
}

// Index is the ordered collection of active regions.
type Index struct {
	regions []*Region
	textLen int
}

// NewIndex creates an empty index for a text of textLen runes.
func NewIndex(textLen int) *Index {
	return &Index{textLen: textLen}
}

// Rebuild replaces the whole region set with one region per issue.
//
// # Description
//
// This is the only way regions are created. Issue offsets are trusted to be
// positions in the text the response was computed for, which must be the text
// of length textLen. Issues are kept in occurrence order; the service already
// sorts them and a stable sort guards the invariant if it does not.
//
// # Outputs
//
//   - []*Region: the new regions, aligned with the sorted issues.
//   - error: an IntegrityError if any issue does not fit the text. The index
//     is left unchanged in that case.
func (x *Index) Rebuild(issues []datatypes.Issue, textLen int) ([]*Region, error) {
	regions := make([]*Region, 0, len(issues))
	for _, issue := range issues {
		r := &Region{RuleID: issue.RuleID, Start: issue.Offset, Length: issue.ErrorLength}
		if err := checkBounds("rebuild", r, textLen); err != nil {
			return nil, err
		}
		regions = append(regions, r)
	}
	sort.SliceStable(regions, func(i, j int) bool {
		return regions[i].Start < regions[j].Start
	})

	x.regions = regions
	x.textLen = textLen
	out := make([]*Region, len(regions))
	copy(out, regions)
	return out, nil
}

// Clear drops every region and records the current text length.
func (x *Index) Clear(textLen int) {
	x.regions = nil
	x.textLen = textLen
}

// Shift applies a mutation that changed the text length by delta at
// afterOffset: every region whose start is strictly greater than afterOffset
// moves by delta, and the tracked text length changes by delta.
func (x *Index) Shift(afterOffset, delta int) error {
	newLen := x.textLen + delta
	if newLen < 0 {
		return &IntegrityError{Op: "shift", Start: afterOffset, TextLen: x.textLen,
			Reason: fmt.Sprintf("delta %d makes the text length negative", delta)}
	}

	starts := make([]int, len(x.regions))
	prev := -1
	for i, r := range x.regions {
		start := r.Start
		if start > afterOffset {
			start += delta
		}
		moved := Region{RuleID: r.RuleID, Start: start, Length: r.Length}
		if err := checkBounds("shift", &moved, newLen); err != nil {
			return err
		}
		if start < prev {
			return &IntegrityError{Op: "shift", RuleID: r.RuleID, Start: start, Length: r.Length,
				TextLen: newLen, Reason: "shift would reorder regions"}
		}
		prev = start
		starts[i] = start
	}

	for i, r := range x.regions {
		r.Start = starts[i]
	}
	x.textLen = newLen
	return nil
}

// Remove deletes one region. It reports whether the region was present.
func (x *Index) Remove(region *Region) bool {
	for i, r := range x.regions {
		if r == region {
			x.regions = append(x.regions[:i], x.regions[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveByRule deletes every region of a rule and returns them.
func (x *Index) RemoveByRule(ruleID string) []*Region {
	return x.removeWhere(func(r *Region) bool { return r.RuleID == ruleID })
}

// RemoveOverlapping deletes every region that shares a position with
// [start, end) and returns them. Such regions describe text that is about to
// be replaced, so their offsets would be meaningless afterwards.
func (x *Index) RemoveOverlapping(start, end int) []*Region {
	return x.removeWhere(func(r *Region) bool { return r.Overlaps(start, end) })
}

func (x *Index) removeWhere(match func(*Region) bool) []*Region {
	var removed []*Region
	kept := x.regions[:0]
	for _, r := range x.regions {
		if match(r) {
			removed = append(removed, r)
			continue
		}
		kept = append(kept, r)
	}
	for i := len(kept); i < len(x.regions); i++ {
		x.regions[i] = nil
	}
	x.regions = kept
	return removed
}

// Contains reports whether region is still tracked.
func (x *Index) Contains(region *Region) bool {
	for _, r := range x.regions {
		if r == region {
			return true
		}
	}
	return false
}

// Regions returns the active regions in start order.
func (x *Index) Regions() []*Region {
	out := make([]*Region, len(x.regions))
	copy(out, x.regions)
	return out
}

// Len returns the number of active regions.
func (x *Index) Len() int {
	return len(x.regions)
}

// TextLen returns the text length the regions are valid for.
func (x *Index) TextLen() int {
	return x.textLen
}

func checkBounds(op string, r *Region, textLen int) error {
	switch {
	case r.Start < 0:
		return &IntegrityError{Op: op, RuleID: r.RuleID, Start: r.Start, Length: r.Length,
			TextLen: textLen, Reason: "negative start"}
	case r.Length <= 0:
		return &IntegrityError{Op: op, RuleID: r.RuleID, Start: r.Start, Length: r.Length,
			TextLen: textLen, Reason: "non-positive length"}
	case r.End() > textLen:
		return &IntegrityError{Op: op, RuleID: r.RuleID, Start: r.Start, Length: r.Length,
			TextLen: textLen, Reason: "region ends past the text"}
	}
	return nil
}
