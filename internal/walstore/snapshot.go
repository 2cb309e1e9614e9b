package walstore

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"time"
)

// snapshotMagic identifies a valid snapshot.bin file.
const snapshotMagic = "ATLS"

// snapshotVersion is bumped on any incompatible on-disk format change.
const snapshotVersion = 1

// snapshotHeader leads snapshot.bin: magic, version, created_at,
// record count, and a whole-body checksum.
type snapshotHeader struct {
	Magic       string
	Version     uint32
	CreatedAt   time.Time
	RecordCount uint32
	Checksum    uint32
}

// writeSnapshot serializes records as a header followed by
// length-prefixed JSON-encoded records, with a checksum over the
// record payload so verify() can detect corruption independent of the
// filesystem's own error reporting.
func writeSnapshot(path string, records []Record, now time.Time) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)

	var payload []byte
	for _, r := range records {
		enc, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal record %q: %w", r.Key, err)
		}
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(enc)))
		payload = append(payload, lenBuf[:]...)
		payload = append(payload, enc...)
	}
	checksum := crc32.Checksum(payload, crcTable)

	header := snapshotHeader{
		Magic:       snapshotMagic,
		Version:     snapshotVersion,
		CreatedAt:   now,
		RecordCount: uint32(len(records)),
		Checksum:    checksum,
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshal snapshot header: %w", err)
	}
	var hLenBuf [4]byte
	binary.BigEndian.PutUint32(hLenBuf[:], uint32(len(headerBytes)))

	if _, err := bw.Write(hLenBuf[:]); err != nil {
		return err
	}
	if _, err := bw.Write(headerBytes); err != nil {
		return err
	}
	if _, err := bw.Write(payload); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// readSnapshot loads a snapshot file. A missing file is not an error —
// it just means the store has no prior checkpoint — but a present,
// malformed file is ErrStorageCorrupt-worthy and returned as such by
// the caller.
func readSnapshot(path string) (*snapshotHeader, []Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)

	var hLenBuf [4]byte
	if _, err := io.ReadFull(br, hLenBuf[:]); err != nil {
		return nil, nil, fmt.Errorf("read snapshot header length: %w", err)
	}
	hLen := binary.BigEndian.Uint32(hLenBuf[:])
	headerBytes := make([]byte, hLen)
	if _, err := io.ReadFull(br, headerBytes); err != nil {
		return nil, nil, fmt.Errorf("read snapshot header: %w", err)
	}
	var header snapshotHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, nil, fmt.Errorf("unmarshal snapshot header: %w", err)
	}
	if header.Magic != snapshotMagic {
		return nil, nil, fmt.Errorf("bad snapshot magic %q", header.Magic)
	}

	var payload []byte
	records := make([]Record, 0, header.RecordCount)
	for i := uint32(0); i < header.RecordCount; i++ {
		var lenBuf [4]byte
		if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
			return nil, nil, fmt.Errorf("read record %d length: %w", i, err)
		}
		recLen := binary.BigEndian.Uint32(lenBuf[:])
		enc := make([]byte, recLen)
		if _, err := io.ReadFull(br, enc); err != nil {
			return nil, nil, fmt.Errorf("read record %d: %w", i, err)
		}
		payload = append(payload, lenBuf[:]...)
		payload = append(payload, enc...)
		var r Record
		if err := json.Unmarshal(enc, &r); err != nil {
			return nil, nil, fmt.Errorf("unmarshal record %d: %w", i, err)
		}
		records = append(records, r)
	}

	if crc32.Checksum(payload, crcTable) != header.Checksum {
		return &header, records, fmt.Errorf("snapshot checksum mismatch")
	}

	return &header, records, nil
}
