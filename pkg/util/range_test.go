package util

import (
	"reflect"
	"testing"
)

func TestParseVlanRanges(t *testing.T) {
	tests := []struct {
		name string
		spec string
		want []VlanRange
	}{
		{
			name: "single range",
			spec: "280-289",
			want: []VlanRange{{Lo: 280, Hi: 289}},
		},
		{
			name: "single value",
			spec: "62",
			want: []VlanRange{{Lo: 62, Hi: 62}},
		},
		{
			name: "mixed ranges and values sorted",
			spec: "280-289,62,737,90-95",
			want: []VlanRange{
				{Lo: 62, Hi: 62},
				{Lo: 90, Hi: 95},
				{Lo: 280, Hi: 289},
				{Lo: 737, Hi: 737},
			},
		},
		{
			name: "whitespace tolerated",
			spec: " 10-20 , 30 ",
			want: []VlanRange{{Lo: 10, Hi: 20}, {Lo: 30, Hi: 30}},
		},
		{
			name: "swapped bounds dropped",
			spec: "5-1,100",
			want: []VlanRange{{Lo: 100, Hi: 100}},
		},
		{
			name: "garbage entries dropped",
			spec: "abc,10,x-y",
			want: []VlanRange{{Lo: 10, Hi: 10}},
		},
		{
			name: "empty string",
			spec: "",
			want: nil,
		},
		{
			name: "only separators",
			spec: ",,,",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseVlanRanges(tt.spec)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseVlanRanges(%q) = %v, want %v", tt.spec, got, tt.want)
			}
		})
	}
}

func TestVlanRangeContains(t *testing.T) {
	r := VlanRange{Lo: 100, Hi: 200}
	tests := []struct {
		vid  int
		want bool
	}{
		{99, false},
		{100, true},
		{150, true},
		{200, true},
		{201, false},
	}
	for _, tt := range tests {
		if got := r.Contains(tt.vid); got != tt.want {
			t.Errorf("Contains(%d) = %v, want %v", tt.vid, got, tt.want)
		}
	}
}

func TestVlanAllowed(t *testing.T) {
	ranges := ParseVlanRanges("280-289,62,737,90-95")
	tests := []struct {
		vid  int
		want bool
	}{
		{62, true},
		{63, false},
		{90, true},
		{95, true},
		{96, false},
		{280, true},
		{289, true},
		{290, false},
		{737, true},
		{1, false},
	}
	for _, tt := range tests {
		if got := VlanAllowed(ranges, tt.vid); got != tt.want {
			t.Errorf("VlanAllowed(ranges, %d) = %v, want %v", tt.vid, got, tt.want)
		}
	}
}

func TestVlanAllowed_EmptyRanges(t *testing.T) {
	if VlanAllowed(nil, 100) {
		t.Error("VlanAllowed(nil, 100) = true, want false")
	}
}

func TestFormatVlanRanges(t *testing.T) {
	tests := []struct {
		name   string
		ranges []VlanRange
		want   string
	}{
		{
			name:   "mixed",
			ranges: []VlanRange{{Lo: 62, Hi: 62}, {Lo: 90, Hi: 95}, {Lo: 280, Hi: 289}},
			want:   "62,90-95,280-289",
		},
		{
			name:   "single range",
			ranges: []VlanRange{{Lo: 100, Hi: 105}},
			want:   "100-105",
		},
		{
			name:   "empty",
			ranges: nil,
			want:   "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatVlanRanges(tt.ranges); got != tt.want {
				t.Errorf("FormatVlanRanges(%v) = %q, want %q", tt.ranges, got, tt.want)
			}
		})
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	original := "62,90-95,280-289,737"
	ranges := ParseVlanRanges(original)
	if got := FormatVlanRanges(ranges); got != original {
		t.Errorf("round trip failed: %q -> %v -> %q", original, ranges, got)
	}
}

func TestCompactRange(t *testing.T) {
	tests := []struct {
		name   string
		values []int
		want   string
	}{
		{
			name:   "consecutive",
			values: []int{1, 2, 3, 4, 5},
			want:   "1-5",
		},
		{
			name:   "non-consecutive",
			values: []int{1, 3, 5},
			want:   "1,3,5",
		},
		{
			name:   "mixed",
			values: []int{1, 2, 3, 5, 7, 8, 9},
			want:   "1-3,5,7-9",
		},
		{
			name:   "single value",
			values: []int{5},
			want:   "5",
		},
		{
			name:   "empty",
			values: []int{},
			want:   "",
		},
		{
			name:   "unsorted with duplicates",
			values: []int{5, 3, 1, 2, 3, 4},
			want:   "1-5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CompactRange(tt.values)
			if got != tt.want {
				t.Errorf("CompactRange(%v) = %q, want %q", tt.values, got, tt.want)
			}
		})
	}
}
