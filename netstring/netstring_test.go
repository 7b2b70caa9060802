package netstring

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		[]byte("a"),
		[]byte(`{"id":1,"accepted":true}`),
		bytes.Repeat([]byte("x"), 70000),
	}
	for _, body := range cases {
		var buf bytes.Buffer
		if err := WriteFrame(&buf, body, 0); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
		wantLen := len(fmtLen(len(body))) + 1 + len(body) + 1
		if buf.Len() != wantLen {
			t.Fatalf("wire length = %d, want %d", buf.Len(), wantLen)
		}
		var scratch []byte
		n, err := ReadFrame(bufio.NewReader(&buf), &scratch, 0)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if !bytes.Equal(scratch[:n], body) {
			t.Fatalf("round trip mismatch: got %q want %q", scratch[:n], body)
		}
	}
}

func fmtLen(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestReadFrameInvalidDigits(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("12a3:xxx,"))
	var buf []byte
	if _, err := ReadFrame(r, &buf, 0); !errors.Is(err, ErrInvalidDigits) {
		t.Fatalf("expected ErrInvalidDigits, got %v", err)
	}
}

func TestReadFrameEmptyDigits(t *testing.T) {
	r := bufio.NewReader(strings.NewReader(":,"))
	var buf []byte
	if _, err := ReadFrame(r, &buf, 0); !errors.Is(err, ErrInvalidDigits) {
		t.Fatalf("expected ErrInvalidDigits, got %v", err)
	}
}

func TestReadFrameBadTerminator(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("3:abcX"))
	var buf []byte
	if _, err := ReadFrame(r, &buf, 0); !errors.Is(err, ErrBadTerminator) {
		t.Fatalf("expected ErrBadTerminator, got %v", err)
	}
}

func TestReadFrameOversize(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("999999999999:"))
	var buf []byte
	if _, err := ReadFrame(r, &buf, 8); !errors.Is(err, ErrOversize) {
		t.Fatalf("expected ErrOversize, got %v", err)
	}
}

func TestWriteFrameOversize(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, make([]byte, 16), 8); !errors.Is(err, ErrOversize) {
		t.Fatalf("expected ErrOversize, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected zero bytes written, got %d", buf.Len())
	}
}

func TestReadFrameEOF(t *testing.T) {
	r := bufio.NewReader(strings.NewReader(""))
	var buf []byte
	if _, err := ReadFrame(r, &buf, 0); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestReadFrameBufferReuse(t *testing.T) {
	var scratch []byte
	var first bytes.Buffer
	_ = WriteFrame(&first, []byte("hello"), 0)
	if _, err := ReadFrame(bufio.NewReader(&first), &scratch, 0); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	capAfterFirst := cap(scratch)
	if capAfterFirst == 0 {
		t.Fatal("expected non-zero capacity after first read")
	}

	var second bytes.Buffer
	_ = WriteFrame(&second, []byte("hi"), 0)
	if _, err := ReadFrame(bufio.NewReader(&second), &scratch, 0); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if cap(scratch) != capAfterFirst {
		t.Fatalf("expected buffer reuse (no growth) on smaller frame, cap changed from %d to %d", capAfterFirst, cap(scratch))
	}
}
