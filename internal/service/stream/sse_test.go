package stream

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func collectFrames(t *testing.T, body string) ([]frame, error) {
	t.Helper()
	var out []frame
	err := readFrames(strings.NewReader(body), func(f frame) { out = append(out, f) })
	return out, err
}

func TestReadFramesBasic(t *testing.T) {
	body := "data: {\"type\":\"connected\"}\n\n" +
		": keepalive\n\n" +
		"event: tick\nid: 7\ndata: a\ndata: b\n\n"
	frames, err := collectFrames(t, body)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if frames[0].Data != `{"type":"connected"}` {
		t.Fatalf("unexpected data %q", frames[0].Data)
	}
	if frames[1].Event != "tick" || frames[1].ID != "7" || frames[1].Data != "a\nb" {
		t.Fatalf("unexpected frame %+v", frames[1])
	}
}

func TestReadFramesCRLFAndNoSpace(t *testing.T) {
	frames, _ := collectFrames(t, "data:x\r\n\r\ndata:  y\r\n\r\n")
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if frames[0].Data != "x" {
		t.Fatalf("unexpected data %q", frames[0].Data)
	}
	// only one leading space is stripped
	if frames[1].Data != " y" {
		t.Fatalf("unexpected data %q", frames[1].Data)
	}
}

func TestReadFramesRetryOnly(t *testing.T) {
	frames, _ := collectFrames(t, "retry: 2500\n\nretry: bogus\n\n")
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0].HasData || frames[0].Retry != 2500*time.Millisecond {
		t.Fatalf("unexpected frame %+v", frames[0])
	}
}

func TestReadFramesEmptyData(t *testing.T) {
	frames, _ := collectFrames(t, "data:\n\n")
	if len(frames) != 1 || !frames[0].HasData || frames[0].Data != "" {
		t.Fatalf("unexpected frames %+v", frames)
	}
}

func TestReadFramesUnterminated(t *testing.T) {
	frames, err := collectFrames(t, "data: a\n\ndata: partial")
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("partial frame must not be dispatched, got %d frames", len(frames))
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestReadFramesReadError(t *testing.T) {
	err := readFrames(failingReader{}, func(frame) {})
	if err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("expected read error, got %v", err)
	}
}
