// Package codec encodes and decodes the single command type that makes up
// a caskdb log: a Set, establishing or overwriting a key, and a Remove, a
// tombstone erasing one.
//
// The wire layout is a self-delimiting, length-prefixed, field-tagged
// document, so a reader positioned at the first byte of a record can
// consume exactly one command and know precisely how far to advance
// without look-ahead:
//
//	[total_len:u32][kind:u8][key_len:u32][key bytes][value_len:u32][value bytes]
//
// total_len counts every byte that follows it. value_len/value are zero
// for Remove records.
package codec

import (
	"encoding/binary"
	"errors"
	"io"
)

// Kind tags a Command as a Set or a Remove.
type Kind uint8

const (
	KindSet Kind = 1
	KindRemove Kind = 2
)

const (
	lenFieldBytes  = 4
	kindFieldBytes = 1
	minRecordBytes = lenFieldBytes + kindFieldBytes + lenFieldBytes + lenFieldBytes // total_len + kind + key_len + value_len, empty key/value
)

var (
	// ErrTruncated indicates the stream ended before a full record could be read.
	ErrTruncated = errors.New("codec: truncated record")
	// ErrMalformed indicates a record's declared lengths are inconsistent.
	ErrMalformed = errors.New("codec: malformed record")
	// ErrUnknownKind indicates a record's kind tag is not Set or Remove.
	ErrUnknownKind = errors.New("codec: unknown command kind")
)

// Command is a tagged Set-or-Remove log record.
type Command struct {
	Kind  Kind
	Key   string
	Value string // unused for Remove
}

// Set builds a Set command.
func Set(key, value string) Command {
	return Command{Kind: KindSet, Key: key, Value: value}
}

// Remove builds a Remove command.
func Remove(key string) Command {
	return Command{Kind: KindRemove, Key: key}
}

// Encode produces the self-delimiting binary form of cmd.
func Encode(cmd Command) ([]byte, error) {
	keyBytes := []byte(cmd.Key)
	var valueBytes []byte
	if cmd.Kind == KindSet {
		valueBytes = []byte(cmd.Value)
	}

	body := kindFieldBytes + lenFieldBytes + len(keyBytes) + lenFieldBytes + len(valueBytes)
	buf := make([]byte, lenFieldBytes+body)

	binary.LittleEndian.PutUint32(buf[0:4], uint32(body)) //nolint:gosec // G115: bounded by realistic key/value sizes
	cursor := lenFieldBytes
	buf[cursor] = byte(cmd.Kind)
	cursor += kindFieldBytes
	binary.LittleEndian.PutUint32(buf[cursor:cursor+4], uint32(len(keyBytes))) //nolint:gosec // G115: bounded by realistic key sizes
	cursor += lenFieldBytes
	copy(buf[cursor:], keyBytes)
	cursor += len(keyBytes)
	binary.LittleEndian.PutUint32(buf[cursor:cursor+4], uint32(len(valueBytes))) //nolint:gosec // G115: bounded by realistic value sizes
	cursor += lenFieldBytes
	copy(buf[cursor:], valueBytes)

	return buf, nil
}

// DecodeFrom consumes exactly one command from r, starting at the
// reader's current position, and reports how many bytes were consumed.
// The returned count is what the engine records as a LogIndex's length.
func DecodeFrom(r io.Reader) (cmd Command, consumed int, err error) {
	var lenBuf [lenFieldBytes]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Command{}, 0, io.EOF
		}
		return Command{}, 0, ErrTruncated
	}
	bodyLen := binary.LittleEndian.Uint32(lenBuf[:])
	if bodyLen < kindFieldBytes+lenFieldBytes {
		return Command{}, 0, ErrMalformed
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return Command{}, 0, ErrTruncated
	}

	cmd, err = decodeBody(body)
	if err != nil {
		return Command{}, 0, err
	}
	return cmd, lenFieldBytes + int(bodyLen), nil
}

// Decode consumes exactly one command from the start of buf and returns
// its encoded length alongside the command. It is the in-memory
// counterpart of DecodeFrom for callers already holding the bytes.
func Decode(buf []byte) (cmd Command, consumed int, err error) {
	if len(buf) < lenFieldBytes {
		return Command{}, 0, ErrTruncated
	}
	bodyLen := binary.LittleEndian.Uint32(buf[0:4])
	total := lenFieldBytes + int(bodyLen)
	if len(buf) < total {
		return Command{}, 0, ErrTruncated
	}
	cmd, err = decodeBody(buf[lenFieldBytes:total])
	if err != nil {
		return Command{}, 0, err
	}
	return cmd, total, nil
}

func decodeBody(body []byte) (Command, error) {
	if len(body) < kindFieldBytes+lenFieldBytes {
		return Command{}, ErrMalformed
	}
	cursor := 0
	kind := Kind(body[cursor])
	cursor += kindFieldBytes
	if kind != KindSet && kind != KindRemove {
		return Command{}, ErrUnknownKind
	}

	if cursor+lenFieldBytes > len(body) {
		return Command{}, ErrMalformed
	}
	keyLen := int(binary.LittleEndian.Uint32(body[cursor : cursor+4]))
	cursor += lenFieldBytes
	if keyLen < 0 || cursor+keyLen > len(body) {
		return Command{}, ErrMalformed
	}
	key := string(body[cursor : cursor+keyLen])
	cursor += keyLen

	if cursor+lenFieldBytes > len(body) {
		return Command{}, ErrMalformed
	}
	valueLen := int(binary.LittleEndian.Uint32(body[cursor : cursor+4]))
	cursor += lenFieldBytes
	if valueLen < 0 || cursor+valueLen > len(body) {
		return Command{}, ErrMalformed
	}
	value := string(body[cursor : cursor+valueLen])
	cursor += valueLen

	if cursor != len(body) {
		return Command{}, ErrMalformed
	}

	return Command{Kind: kind, Key: key, Value: value}, nil
}
