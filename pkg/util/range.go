package util

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// VlanRange is an inclusive range of VLAN identifiers.
type VlanRange struct {
	Lo int
	Hi int
}

// Contains reports whether vid falls inside the range.
func (r VlanRange) Contains(vid int) bool {
	return vid >= r.Lo && vid <= r.Hi
}

func (r VlanRange) String() string {
	return formatRange(r.Lo, r.Hi)
}

// ParseVlanRanges parses a ranges specification into sorted VlanRanges.
// Supports formats like:
//   - "280-289" -> [{280, 289}]
//   - "62,737" -> [{62, 62}, {737, 737}]
//   - "280-289,62,737,90-95" -> [{62, 62}, {90, 95}, {280, 289}, {737, 737}]
//
// The parser is lenient: unparsable elements and ranges with swapped bounds
// are dropped without error. Ranges are sorted by their low bound.
func ParseVlanRanges(spec string) []VlanRange {
	var ranges []VlanRange

	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		bounds := strings.Split(part, "-")
		if len(bounds) == 1 {
			bounds = append(bounds, bounds[0])
		} else if len(bounds) != 2 {
			continue
		}

		lo, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
		if err != nil {
			continue
		}
		hi, err := strconv.Atoi(strings.TrimSpace(bounds[1]))
		if err != nil {
			continue
		}
		if lo > hi {
			continue
		}

		ranges = append(ranges, VlanRange{Lo: lo, Hi: hi})
	}

	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Lo < ranges[j].Lo })
	return ranges
}

// VlanAllowed reports whether vid falls inside any of the given ranges.
func VlanAllowed(ranges []VlanRange, vid int) bool {
	for _, r := range ranges {
		if r.Contains(vid) {
			return true
		}
	}
	return false
}

// FormatVlanRanges renders ranges back into range notation.
// [{62, 62}, {90, 95}] -> "62,90-95"
func FormatVlanRanges(ranges []VlanRange) string {
	parts := make([]string, len(ranges))
	for i, r := range ranges {
		parts[i] = r.String()
	}
	return strings.Join(parts, ",")
}

// CompactRange compacts a list of integers into range notation
// [1, 2, 3, 5, 7, 8, 9] -> "1-3,5,7-9"
func CompactRange(values []int) string {
	if len(values) == 0 {
		return ""
	}

	// Sort and deduplicate
	sorted := make([]int, len(values))
	copy(sorted, values)
	sort.Ints(sorted)
	sorted = dedupInts(sorted)

	var parts []string
	start := sorted[0]
	end := sorted[0]

	for i := 1; i < len(sorted); i++ {
		if sorted[i] == end+1 {
			end = sorted[i]
		} else {
			parts = append(parts, formatRange(start, end))
			start = sorted[i]
			end = sorted[i]
		}
	}
	parts = append(parts, formatRange(start, end))

	return strings.Join(parts, ",")
}

func formatRange(start, end int) string {
	if start == end {
		return strconv.Itoa(start)
	}
	return fmt.Sprintf("%d-%d", start, end)
}

func dedupInts(sorted []int) []int {
	if len(sorted) == 0 {
		return sorted
	}
	result := []int{sorted[0]}
	for i := 1; i < len(sorted); i++ {
		if sorted[i] != sorted[i-1] {
			result = append(result, sorted[i])
		}
	}
	return result
}
