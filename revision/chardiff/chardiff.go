// Package chardiff 计算两个字符串之间的字符级差异。
package chardiff

import (
	"github.com/pmezard/go-difflib/difflib"
)

// Segment 差异片段：Added/Removed 均为 false 表示两侧共有的内容。
type Segment struct {
	Count   int    `json:"count"`
	Added   bool   `json:"added,omitempty"`
	Removed bool   `json:"removed,omitempty"`
	Value   string `json:"value"`
}

// Diff 以 rune 为单位比较 a 与 b。
//
// 同一替换块内先输出删除片段再输出新增片段；拼接所有非新增片段得到 a，拼接所有非删除片段得到 b。
// 两侧均为空时返回空切片。
func Diff(a, b string) []Segment {
	left, right := runes(a), runes(b)
	segments := make([]Segment, 0)
	if len(left) == 0 && len(right) == 0 {
		return segments
	}

	m := difflib.NewMatcherWithJunk(left, right, false, nil)
	for _, op := range m.GetOpCodes() {
		switch op.Tag {
		case 'e':
			segments = appendSegment(segments, Segment{Value: join(left[op.I1:op.I2])})
		case 'd':
			segments = appendSegment(segments, Segment{Removed: true, Value: join(left[op.I1:op.I2])})
		case 'i':
			segments = appendSegment(segments, Segment{Added: true, Value: join(right[op.J1:op.J2])})
		case 'r':
			segments = appendSegment(segments, Segment{Removed: true, Value: join(left[op.I1:op.I2])})
			segments = appendSegment(segments, Segment{Added: true, Value: join(right[op.J1:op.J2])})
		}
	}
	return segments
}

// appendSegment 追加片段并统计 rune 数，与前一片段同类时合并。
func appendSegment(segments []Segment, s Segment) []Segment {
	n := len([]rune(s.Value))
	if n == 0 {
		return segments
	}
	if last := len(segments) - 1; last >= 0 && segments[last].Added == s.Added && segments[last].Removed == s.Removed {
		segments[last].Value += s.Value
		segments[last].Count += n
		return segments
	}
	s.Count = n
	return append(segments, s)
}

func runes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func join(parts []string) string {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	b := make([]byte, 0, n)
	for _, p := range parts {
		b = append(b, p...)
	}
	return string(b)
}

// Apply 按片段重建比较的两侧，便于校验差异结果。
func Apply(segments []Segment) (before, after string) {
	var l, r []byte
	for _, s := range segments {
		if !s.Added {
			l = append(l, s.Value...)
		}
		if !s.Removed {
			r = append(r, s.Value...)
		}
	}
	return string(l), string(r)
}
