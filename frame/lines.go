package frame

import "bytes"

// DefaultDelimiter terminates a line when none is configured.
const DefaultDelimiter = "\r\n"

// Lines is a delimiter framer producing one string per line, without the
// delimiter. Bytes before the first delimiter of a stream are kept and
// delivered as the first line.
type Lines struct {
	delim   []byte
	pending []byte
	maxLine int
}

// NewLines returns a line framer. An empty delimiter selects
// DefaultDelimiter. maxLine bounds the pending buffer; when a line grows
// past it without a delimiter the partial line is dropped. Zero means
// unbounded.
func NewLines(delimiter string, maxLine int) *Lines {
	if delimiter == "" {
		delimiter = DefaultDelimiter
	}
	return &Lines{delim: []byte(delimiter), maxLine: maxLine}
}

// Feed appends chunk to the pending data.
func (l *Lines) Feed(chunk []byte) {
	l.pending = append(l.pending, chunk...)
	if l.maxLine > 0 && len(l.pending) > l.maxLine && bytes.Index(l.pending, l.delim) < 0 {
		// Keep a possible delimiter prefix at the tail.
		keep := min(len(l.delim)-1, len(l.pending))
		l.pending = append(l.pending[:0], l.pending[len(l.pending)-keep:]...)
	}
}

// Next returns the next complete line.
func (l *Lines) Next() (string, bool) {
	idx := bytes.Index(l.pending, l.delim)
	if idx < 0 {
		return "", false
	}
	line := string(l.pending[:idx])
	l.pending = l.pending[idx+len(l.delim):]
	if len(l.pending) == 0 {
		l.pending = l.pending[:0:0]
	}
	return line, true
}

// Serialize appends the delimiter to line.
func (l *Lines) Serialize(line string) ([]byte, error) {
	out := make([]byte, 0, len(line)+len(l.delim))
	out = append(out, line...)
	return append(out, l.delim...), nil
}

// MaxFrameSize reports maxLine, or zero when unbounded.
func (l *Lines) MaxFrameSize() int {
	return l.maxLine
}

// Reset drops any partial line.
func (l *Lines) Reset() {
	l.pending = nil
}
