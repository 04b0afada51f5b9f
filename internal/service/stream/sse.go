package stream

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"
)

// frame is one dispatched server-sent event.
type frame struct {
	Event   string
	ID      string
	Data    string
	Retry   time.Duration
	HasData bool
}

// readFrames parses a text/event-stream body and calls emit for every frame
// that carries data or a retry hint. It returns the read error that ended the stream
// (io.EOF on a clean close).
func readFrames(r io.Reader, emit func(frame)) error {
	br := bufio.NewReader(r)

	var (
		cur     frame
		data    strings.Builder
		hasData bool
	)

	for {
		line, err := br.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) && line == "" {
				return io.EOF
			}
			if !errors.Is(err, io.EOF) {
				return err
			}
			// a trailing line without newline still counts, then the stream ends
		}

		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if hasData || cur.Retry > 0 {
				cur.Data = data.String()
				cur.HasData = hasData
				emit(cur)
			}
			cur = frame{}
			data.Reset()
			hasData = false
		} else if !strings.HasPrefix(line, ":") {
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")

			switch field {
			case "data":
				if hasData {
					data.WriteByte('\n')
				}
				data.WriteString(value)
				hasData = true
			case "event":
				cur.Event = value
			case "id":
				cur.ID = value
			case "retry":
				if ms, perr := strconv.Atoi(value); perr == nil && ms >= 0 {
					cur.Retry = time.Duration(ms) * time.Millisecond
				}
			}
		}

		if err != nil {
			return io.EOF
		}
	}
}
