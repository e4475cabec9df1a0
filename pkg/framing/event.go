package framing

import "strings"

// Event is one parsed server-sent event block.
type Event struct {
	ID    string
	Event string
	// Data holds every data line of the block joined by "\n".
	Data string
}

// doneSentinel terminates OpenAI-style streams and carries no payload.
const doneSentinel = "[DONE]"

// ParseEvent parses an event block. Lines may end in CRLF, LF or CR.
// Field values are whitespace-trimmed. ok is false when the block has
// no data line.
func ParseEvent(block string) (ev Event, ok bool) {
	var data []string
	for _, line := range splitLines(block) {
		switch {
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(line[len("data:"):]))
		case strings.HasPrefix(line, "id:"):
			ev.ID = strings.TrimSpace(line[len("id:"):])
		case strings.HasPrefix(line, "event:"):
			ev.Event = strings.TrimSpace(line[len("event:"):])
		}
	}
	if len(data) == 0 {
		return Event{}, false
	}
	ev.Data = strings.Join(data, "\n")
	return ev, true
}

func splitLines(s string) []string {
	var lines []string
	for len(s) > 0 {
		i := strings.IndexAny(s, "\r\n")
		if i < 0 {
			lines = append(lines, s)
			break
		}
		lines = append(lines, s[:i])
		if s[i] == '\r' && i+1 < len(s) && s[i+1] == '\n' {
			i++
		}
		s = s[i+1:]
	}
	return lines
}
