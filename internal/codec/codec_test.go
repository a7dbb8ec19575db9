package codec

import (
	"bytes"
	"io"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Command{
		Set("key1", "value1"),
		Set("", ""),
		Set("k", string(make([]byte, 4096))),
		Remove("key1"),
		Remove(""),
	}

	for _, cmd := range cases {
		buf, err := Encode(cmd)
		if err != nil {
			t.Fatalf("Encode(%+v): %v", cmd, err)
		}

		got, n, err := Decode(buf)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if n != len(buf) {
			t.Fatalf("consumed %d bytes, want %d", n, len(buf))
		}
		if got.Kind != cmd.Kind || got.Key != cmd.Key {
			t.Fatalf("Decode roundtrip mismatch: got %+v, want %+v", got, cmd)
		}
		if cmd.Kind == KindSet && got.Value != cmd.Value {
			t.Fatalf("Decode roundtrip value mismatch: got %q, want %q", got.Value, cmd.Value)
		}
	}
}

func TestDecodeFromAdvancesByConsumedLength(t *testing.T) {
	var buf bytes.Buffer
	a, err := Encode(Set("a", "1"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encode(Remove("b"))
	if err != nil {
		t.Fatal(err)
	}
	buf.Write(a)
	buf.Write(b)

	cmd1, n1, err := DecodeFrom(&buf)
	if err != nil {
		t.Fatalf("DecodeFrom first: %v", err)
	}
	if n1 != len(a) || cmd1.Key != "a" {
		t.Fatalf("first record: got %+v/%d, want key=a/%d", cmd1, n1, len(a))
	}

	cmd2, n2, err := DecodeFrom(&buf)
	if err != nil {
		t.Fatalf("DecodeFrom second: %v", err)
	}
	if n2 != len(b) || cmd2.Key != "b" || cmd2.Kind != KindRemove {
		t.Fatalf("second record: got %+v/%d, want key=b remove/%d", cmd2, n2, len(b))
	}

	if _, _, err := DecodeFrom(&buf); err != io.EOF {
		t.Fatalf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestDecodeFromTruncated(t *testing.T) {
	full, err := Encode(Set("key", "value"))
	if err != nil {
		t.Fatal(err)
	}
	truncated := full[:len(full)-2]

	if _, _, err := DecodeFrom(bytes.NewReader(truncated)); err != ErrTruncated {
		t.Fatalf("got %v, want ErrTruncated", err)
	}
}

func TestDecodeMalformedKind(t *testing.T) {
	full, err := Encode(Set("key", "value"))
	if err != nil {
		t.Fatal(err)
	}
	full[4] = 0xFF // kind byte immediately follows the 4-byte length prefix

	if _, _, err := Decode(full); err != ErrUnknownKind {
		t.Fatalf("got %v, want ErrUnknownKind", err)
	}
}
