package netx

import (
	"testing"

	"github.com/andycostintoma/engine/internal/errs"
)

func TestScanLineCRLF(t *testing.T) {
	line, n, err := ScanLine([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"), 4096)
	if err != nil {
		t.Fatal(err)
	}
	if string(line) != "GET / HTTP/1.1" {
		t.Fatalf("got %q", line)
	}
	if n != len("GET / HTTP/1.1\r\n") {
		t.Fatalf("consumed %d, want %d", n, len("GET / HTTP/1.1\r\n"))
	}
}

func TestScanLineBareLF(t *testing.T) {
	line, n, err := ScanLine([]byte("Host: x\n\n"), 1024)
	if err != nil {
		t.Fatal(err)
	}
	if string(line) != "Host: x" || n != len("Host: x\n") {
		t.Fatalf("got %q n=%d", line, n)
	}
}

func TestScanLineNeedMore(t *testing.T) {
	_, _, err := ScanLine([]byte("GET / HTTP/1.1"), 4096)
	if err != errs.ErrNeedMore {
		t.Fatalf("got %v, want ErrNeedMore", err)
	}
}

func TestScanLineTooLong(t *testing.T) {
	big := make([]byte, 2048)
	for i := range big {
		big[i] = 'a'
	}
	_, _, err := ScanLine(big, 1024)
	if err != errs.ErrTooLarge {
		t.Fatalf("got %v, want ErrTooLarge", err)
	}
}

func TestConsumeLeadingLines(t *testing.T) {
	buf := []byte("\r\n\r\nGET / HTTP/1.1\r\n")
	n := ConsumeLeadingLines(buf)
	if string(buf[n:]) != "GET / HTTP/1.1\r\n" {
		t.Fatalf("got %q", buf[n:])
	}
}

func TestPeek(t *testing.T) {
	p, err := Peek([]byte("abcde"), 2)
	if err != nil || string(p) != "ab" {
		t.Fatalf("p=%q err=%v", p, err)
	}
	if _, err := Peek([]byte("a"), 2); err != errs.ErrNeedMore {
		t.Fatalf("want ErrNeedMore, got %v", err)
	}
}
