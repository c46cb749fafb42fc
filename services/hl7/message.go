// Package hl7 reads and writes the pipe-delimited HL7 v2 messages exchanged
// with laboratories.
package hl7

import (
	"fmt"
	"strings"
)

// SegmentSeparator ends every segment on the wire
const SegmentSeparator = "\r"

// Message is a parsed HL7 v2 message
type Message struct {
	Segments []Segment
}

// Segment is one line of a message, e.g. PID or OBX
type Segment struct {
	Name   string
	Fields []Field
}

// Field keeps the raw value plus its components and repetitions
type Field struct {
	Value      string
	Components []string
	Repeats    [][]string
}

// Parse splits raw into segments. \r, \n and \r\n all end a segment and the
// first segment must be MSH.
func Parse(raw string) (*Message, error) {
	text := strings.ReplaceAll(raw, "\r\n", "\r")
	text = strings.ReplaceAll(text, "\n", "\r")

	var lines []string
	for _, line := range strings.Split(text, "\r") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("hl7: message is empty")
	}
	if !strings.HasPrefix(lines[0], "MSH") {
		return nil, fmt.Errorf("hl7: first segment must be MSH, got %q", lines[0][:min(3, len(lines[0]))])
	}

	msg := &Message{Segments: make([]Segment, 0, len(lines))}
	for _, line := range lines {
		seg, err := parseSegment(line)
		if err != nil {
			return nil, err
		}
		msg.Segments = append(msg.Segments, seg)
	}
	return msg, nil
}

func parseSegment(line string) (Segment, error) {
	if len(line) < 3 {
		return Segment{}, fmt.Errorf("hl7: segment too short: %q", line)
	}

	// MSH-1 is the field separator itself, so MSH fields are shifted by one
	if strings.HasPrefix(line, "MSH") {
		seg := Segment{Name: "MSH"}
		if len(line) < 4 {
			return seg, nil
		}
		sep := string(line[3])
		seg.Fields = append(seg.Fields, Field{Value: sep, Components: []string{sep}})
		for _, part := range strings.Split(line[4:], sep) {
			seg.Fields = append(seg.Fields, parseField(part))
		}
		return seg, nil
	}

	parts := strings.SplitN(line, "|", 2)
	seg := Segment{Name: parts[0]}
	if len(parts) > 1 {
		for _, part := range strings.Split(parts[1], "|") {
			seg.Fields = append(seg.Fields, parseField(part))
		}
	}
	return seg, nil
}

func parseField(raw string) Field {
	f := Field{Value: raw}
	for _, rep := range strings.Split(raw, "~") {
		f.Repeats = append(f.Repeats, strings.Split(rep, "^"))
	}
	f.Components = f.Repeats[0]
	return f
}

// Segment returns the first segment named name, or nil
func (m *Message) Segment(name string) *Segment {
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			return &m.Segments[i]
		}
	}
	return nil
}

// All returns every segment named name in message order
func (m *Message) All(name string) []Segment {
	var out []Segment
	for _, seg := range m.Segments {
		if seg.Name == name {
			out = append(out, seg)
		}
	}
	return out
}

// Field returns the raw value of the 1-based field index, or ""
func (s *Segment) Field(index int) string {
	idx := index - 1
	if idx < 0 || idx >= len(s.Fields) {
		return ""
	}
	return s.Fields[idx].Value
}

// Component returns a 1-based component of a 1-based field, or ""
func (s *Segment) Component(field, component int) string {
	idx := field - 1
	if idx < 0 || idx >= len(s.Fields) {
		return ""
	}
	comps := s.Fields[idx].Components
	ci := component - 1
	if ci < 0 || ci >= len(comps) {
		return ""
	}
	return comps[ci]
}

// String renders the segment back to wire format
func (s Segment) String() string {
	values := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		values[i] = f.Value
	}
	if s.Name == "MSH" && len(values) > 0 {
		return "MSH|" + strings.Join(values[1:], "|")
	}
	return s.Name + "|" + strings.Join(values, "|")
}

// String renders the message with \r between segments
func (m *Message) String() string {
	lines := make([]string, len(m.Segments))
	for i, seg := range m.Segments {
		lines[i] = seg.String()
	}
	return strings.Join(lines, SegmentSeparator)
}
