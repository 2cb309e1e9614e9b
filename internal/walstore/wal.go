package walstore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

// A WAL frame is one append-only log entry: a length-prefixed, checksummed
// payload. opPut/opDel distinguish writes from tombstones so replay
// can reconstruct state without consulting the snapshot's prior value.
const (
	opPut byte = 1
	opDel byte = 2
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// maxFrameBytes bounds a single WAL frame. Task records are small
// (notes are capped), so anything larger is a corrupt length field.
const maxFrameBytes = 16 << 20

// walEntry is the decoded form of one frame.
type walEntry struct {
	Op    byte
	Key   string
	Value []byte
}

// encodeFrame serializes an entry as:
//
//	[4-byte length][4-byte crc32c][1-byte op][2-byte keylen][key][value]
//
// length covers everything after the length field itself.
func encodeFrame(e walEntry) []byte {
	body := make([]byte, 0, 1+2+len(e.Key)+len(e.Value))
	body = append(body, e.Op)
	var keyLen [2]byte
	binary.BigEndian.PutUint16(keyLen[:], uint16(len(e.Key)))
	body = append(body, keyLen[:]...)
	body = append(body, e.Key...)
	body = append(body, e.Value...)

	checksum := crc32.Checksum(body, crcTable)

	frame := make([]byte, 4+4+len(body))
	binary.BigEndian.PutUint32(frame[0:4], uint32(4+len(body)))
	binary.BigEndian.PutUint32(frame[4:8], checksum)
	copy(frame[8:], body)
	return frame
}

// appendFrame writes one encoded entry to w in a single Write call.
func appendFrame(w io.Writer, e walEntry) error {
	_, err := w.Write(encodeFrame(e))
	return err
}

// walReadResult is the outcome of a full-log replay: the decoded
// entries up to the last verifiable frame, plus whether a corrupt or
// truncated tail was found and discarded.
type walReadResult struct {
	Entries       []walEntry
	TruncatedTail bool
	VerifiedBytes int64
}

// replayWAL reads every valid frame from r in order. On encountering a
// checksum mismatch or a truncated length/body, it stops and reports
// TruncatedTail: a corrupted log tail is cut back to the last
// verifiable entry rather than failing the open. VerifiedBytes is the
// offset of the last byte belonging to a fully-verified frame, so the
// caller can truncate the file back to a clean boundary.
func replayWAL(r io.Reader) (*walReadResult, error) {
	br := bufio.NewReader(r)
	result := &walReadResult{}
	var offset int64

	for {
		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(br, lenBuf); err != nil {
			if err == io.EOF {
				break
			}
			result.TruncatedTail = true
			break
		}
		frameLen := binary.BigEndian.Uint32(lenBuf)
		if frameLen < 7 || frameLen > maxFrameBytes {
			// A nonsense length field is tail corruption, not a frame.
			result.TruncatedTail = true
			break
		}
		rest := make([]byte, frameLen)
		if _, err := io.ReadFull(br, rest); err != nil {
			result.TruncatedTail = true
			break
		}
		storedCRC := binary.BigEndian.Uint32(rest[0:4])
		body := rest[4:]
		if crc32.Checksum(body, crcTable) != storedCRC {
			result.TruncatedTail = true
			break
		}
		if len(body) < 3 {
			result.TruncatedTail = true
			break
		}
		op := body[0]
		keyLen := binary.BigEndian.Uint16(body[1:3])
		if len(body) < int(3+keyLen) {
			result.TruncatedTail = true
			break
		}
		key := string(body[3 : 3+keyLen])
		value := append([]byte(nil), body[3+keyLen:]...)
		result.Entries = append(result.Entries, walEntry{Op: op, Key: key, Value: value})
		offset += int64(4 + len(rest))
		result.VerifiedBytes = offset
	}

	return result, nil
}

// truncateToVerifiedLength rewrites path so it contains exactly
// verifiedBytes bytes — used after a replay detects a corrupt tail,
// so the next append starts from a clean boundary.
func truncateToVerifiedLength(path string, verifiedBytes int64) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("truncate wal: open: %w", err)
	}
	defer f.Close()
	if err := f.Truncate(verifiedBytes); err != nil {
		return fmt.Errorf("truncate wal: %w", err)
	}
	return nil
}
