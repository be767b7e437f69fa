package stream

import (
	"bufio"
	"io"
	"strings"
)

// Frame is one parsed SSE frame.
type Frame struct {
	Event string
	Data  string
}

// Done reports whether the frame is the terminal frame.
func (f Frame) Done() bool {
	return f.Event == "" && f.Data == DoneData
}

// ReadSSE parses an SSE stream and calls handler for each frame.
func ReadSSE(reader io.Reader, handler func(Frame) error) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var frame Frame

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if frame.Event != "" || frame.Data != "" {
				if err := handler(frame); err != nil {
					return err
				}
				frame = Frame{}
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "event:"):
			frame.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if frame.Data != "" {
				frame.Data += "\n" + data
			} else {
				frame.Data = data
			}
		}
	}

	if frame.Event != "" || frame.Data != "" {
		if err := handler(frame); err != nil {
			return err
		}
	}
	return scanner.Err()
}
