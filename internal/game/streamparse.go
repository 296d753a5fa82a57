package game

import "strings"

// Marker is the literal separator between live narration and the structured
// payload in a narrator turn.
const Marker = "<<<JSON>>>"

// markerPhase tracks where a MarkerSplitter is relative to the marker.
type markerPhase int

const (
	// phasePreMarker: all text so far is narration (modulo a held-back
	// marker-prefix suffix).
	phasePreMarker markerPhase = iota

	// phaseAtMarker: the buffer currently ends in a partial marker; those
	// bytes are withheld until the next chunk confirms or refutes them.
	phaseAtMarker

	// phasePostMarker: the marker was seen; everything now accumulates as
	// structured payload.
	phasePostMarker
)

// MarkerSplitter incrementally splits a streamed narrator turn at the Marker.
//
// Narration bytes are released as soon as they can no longer be part of the
// marker, so the caller can forward them to the player with minimal holdback.
// The marker itself may arrive split across any number of chunks.
//
// Not safe for concurrent use; one splitter serves one stream.
type MarkerSplitter struct {
	phase     markerPhase
	pending   string
	narration strings.Builder
	payload   strings.Builder
}

// ProcessChunk consumes the next streamed chunk and returns the narration
// portion that became safe to forward. The return is empty once the marker
// has been passed.
func (m *MarkerSplitter) ProcessChunk(chunk string) string {
	if m.phase == phasePostMarker {
		m.payload.WriteString(chunk)
		return ""
	}

	working := m.pending + chunk
	m.pending = ""

	if idx := strings.Index(working, Marker); idx >= 0 {
		narr := working[:idx]
		m.narration.WriteString(narr)
		m.payload.WriteString(working[idx+len(Marker):])
		m.phase = phasePostMarker
		return narr
	}

	hold := longestMarkerPrefix(working)
	emit := working[:len(working)-hold]
	m.pending = working[len(working)-hold:]
	if hold > 0 {
		m.phase = phaseAtMarker
	} else {
		m.phase = phasePreMarker
	}
	m.narration.WriteString(emit)
	return emit
}

// Finish flushes any held-back bytes after the stream ends. When the stream
// stopped mid-marker those bytes were narration after all; they are returned
// here so chunk concatenation stays lossless.
func (m *MarkerSplitter) Finish() string {
	if m.phase == phasePostMarker || m.pending == "" {
		return ""
	}
	leftover := m.pending
	m.pending = ""
	m.narration.WriteString(leftover)
	m.phase = phasePreMarker
	return leftover
}

// SawMarker reports whether the marker has been passed.
func (m *MarkerSplitter) SawMarker() bool {
	return m.phase == phasePostMarker
}

// Narration returns all narration accumulated so far.
func (m *MarkerSplitter) Narration() string {
	return m.narration.String()
}

// JSON returns the accumulated structured payload, trimmed. Empty until the
// marker has been passed.
func (m *MarkerSplitter) JSON() string {
	return strings.TrimSpace(m.payload.String())
}

// longestMarkerPrefix returns the length of the longest suffix of s that is a
// proper prefix of Marker. Those bytes must be withheld: the next chunk may
// complete the marker.
func longestMarkerPrefix(s string) int {
	max := len(Marker) - 1
	if len(s) < max {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(s, Marker[:n]) {
			return n
		}
	}
	return 0
}

// fieldKey is the JSON key whose string value the FieldStreamer extracts.
const fieldKey = `"narrationText"`

// fieldState tracks a FieldStreamer's position in the scan.
type fieldState int

const (
	fieldSeekKey fieldState = iota
	fieldMatchKey
	fieldSeekColon
	fieldSeekOpenQuote
	fieldInValue
	fieldDone
)

// FieldStreamer extracts the narrationText string value from a JSON document
// as it streams in, for turns where the narrator omitted the marker and wrote
// narration inside the payload instead.
//
// The scan is a byte-level state machine (brace depth plus in-string flag)
// rather than repeated whole-buffer reparses, so cost amortises over many
// chunks. The three JSON escapes that occur in narration ("\n", "\"", "\\")
// are unescaped; other escapes pass through without the backslash.
//
// Not safe for concurrent use; one streamer serves one stream.
type FieldStreamer struct {
	state       fieldState
	depth       int
	inString    bool
	escaped     bool
	keyProgress int
}

// ProcessChunk consumes the next streamed chunk and returns any narration
// characters it released.
func (f *FieldStreamer) ProcessChunk(chunk string) string {
	if f.state == fieldDone {
		return ""
	}

	var out strings.Builder
	for i := 0; i < len(chunk); i++ {
		c := chunk[i]
		switch f.state {
		case fieldSeekKey:
			f.scanForKeyStart(c)
		case fieldMatchKey:
			f.matchKeyByte(c)
		case fieldSeekColon:
			switch {
			case c == ':':
				f.state = fieldSeekOpenQuote
			case c == ' ' || c == '\t' || c == '\n' || c == '\r':
				// keep seeking
			default:
				f.state = fieldSeekKey
			}
		case fieldSeekOpenQuote:
			switch {
			case c == '"':
				f.state = fieldInValue
			case c == ' ' || c == '\t' || c == '\n' || c == '\r':
				// keep seeking
			default:
				// Value is not a string; nothing to stream.
				f.state = fieldDone
			}
		case fieldInValue:
			if f.escaped {
				f.escaped = false
				switch c {
				case 'n':
					out.WriteByte('\n')
				case '"':
					out.WriteByte('"')
				case '\\':
					out.WriteByte('\\')
				default:
					out.WriteByte(c)
				}
				continue
			}
			switch c {
			case '\\':
				f.escaped = true
			case '"':
				f.state = fieldDone
			default:
				out.WriteByte(c)
			}
		case fieldDone:
			return out.String()
		}
	}
	return out.String()
}

// Done reports whether the complete narrationText value has been emitted.
func (f *FieldStreamer) Done() bool {
	return f.state == fieldDone
}

// scanForKeyStart advances the raw-JSON scan until a string opens at object
// depth, which may be the start of the target key.
func (f *FieldStreamer) scanForKeyStart(c byte) {
	if f.inString {
		if f.escaped {
			f.escaped = false
			return
		}
		switch c {
		case '\\':
			f.escaped = true
		case '"':
			f.inString = false
		}
		return
	}
	switch c {
	case '{':
		f.depth++
	case '}':
		f.depth--
	case '"':
		if f.depth >= 1 {
			f.state = fieldMatchKey
			f.keyProgress = 1
		} else {
			f.inString = true
		}
	}
}

// matchKeyByte advances a partial match of fieldKey. On mismatch the opening
// quote turns out to belong to some other string, which is then skipped under
// normal in-string rules.
func (f *FieldStreamer) matchKeyByte(c byte) {
	if c == fieldKey[f.keyProgress] {
		f.keyProgress++
		if f.keyProgress == len(fieldKey) {
			f.state = fieldSeekColon
		}
		return
	}
	f.state = fieldSeekKey
	f.keyProgress = 0
	switch c {
	case '"':
		// The other string ended right here.
	case '\\':
		f.inString = true
		f.escaped = true
	default:
		f.inString = true
	}
}

// BalanceJSON appends the minimum closing tokens ("}" and "]", plus a closing
// quote when the text ends inside a string) needed to make a syntactically
// truncated JSON document parse. Content is never altered or removed.
//
// This repair is reserved for adventure outlines, whose generation may hit
// the model's token limit; command turns are never repaired.
func BalanceJSON(s string) string {
	var stack []byte
	inString, escaped := false, false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if !inString && len(stack) == 0 {
		return s
	}

	var b strings.Builder
	b.WriteString(s)
	if inString {
		if escaped {
			b.WriteByte('\\')
		}
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}
