package crypto

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestChecksumMatchesPOSIXCksum(t *testing.T) {
	patterned := make([]byte, 100000)
	for i := range patterned {
		patterned[i] = byte(i % 251)
	}

	cases := []struct {
		name string
		data []byte
		want uint32
	}{
		{name: "empty", data: nil, want: 4294967295},
		{name: "single byte", data: []byte("a"), want: 1220704766},
		{name: "digits", data: []byte("0123456789"), want: 3648003736},
		{name: "text", data: []byte("Test file content for backup"), want: 4021537633},
		{name: "patterned", data: patterned, want: 4026004798},
		{name: "repeated", data: bytes.Repeat([]byte{'x'}, 70000), want: 4215398528},
	}

	for _, tc := range cases {
		if got := Checksum(tc.data); got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}

func TestCksumStreamingMatchesOneShot(t *testing.T) {
	data := bytes.Repeat([]byte("streamed cksum input "), 1000)

	c := NewCksum()
	for offset := 0; offset < len(data); offset += 777 {
		end := offset + 777
		if end > len(data) {
			end = len(data)
		}
		_, _ = c.Write(data[offset:end])
	}
	if c.Sum32() != Checksum(data) {
		t.Fatalf("expected streaming checksum to match one-shot checksum")
	}

	c.Reset()
	if c.Sum32() != 4294967295 {
		t.Fatalf("expected reset accumulator to match empty input")
	}
}

func TestFileChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "digits.txt")
	if err := os.WriteFile(path, []byte("0123456789"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	got, err := FileChecksum(path)
	if err != nil {
		t.Fatalf("FileChecksum failed: %v", err)
	}
	if got != 3648003736 {
		t.Fatalf("expected 3648003736, got %d", got)
	}

	if _, err := FileChecksum(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("expected missing file to fail")
	}
}
