package hl7

import "strings"

// Builder assembles an outgoing message segment by segment
type Builder struct {
	lines []string
}

// Add appends a segment. Field values are written as given; callers escape
// free text with Escape. For MSH the first value is MSH-2.
func (b *Builder) Add(name string, fields ...string) *Builder {
	b.lines = append(b.lines, name+"|"+strings.Join(fields, "|"))
	return b
}

// Len returns the number of segments added so far
func (b *Builder) Len() int {
	return len(b.lines)
}

// String joins the segments with the segment separator
func (b *Builder) String() string {
	return strings.Join(b.lines, SegmentSeparator)
}
