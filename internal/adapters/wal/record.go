package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/ghalamif/AegisArchive/internal/ports"
)

// Record layout: [8 bytes id][4 bytes len][4 bytes crc32c(body)][body].
const headerLen = 16

var (
	crcTable = crc32.MakeTable(crc32.Castagnoli)

	// errTornRecord marks a record cut short by a crash mid-write.
	errTornRecord = errors.New("torn record")
	// ErrChecksum is returned for a complete record whose body does not match its checksum.
	ErrChecksum = errors.New("wal checksum mismatch")
)

type record struct {
	id   ports.WALEntryID
	body []byte
}

func (r record) size() int64 { return headerLen + int64(len(r.body)) }

func writeRecord(w io.Writer, r record) error {
	var hdr [headerLen]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(r.id))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(r.body)))
	binary.BigEndian.PutUint32(hdr[12:16], crc32.Checksum(r.body, crcTable))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(r.body)
	return err
}

// readRecord returns io.EOF at a clean end of log and errTornRecord when the
// log ends inside a record.
func readRecord(r *bufio.Reader) (record, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return record{}, errTornRecord
		}
		return record{}, err
	}
	rec := record{
		id:   ports.WALEntryID(binary.BigEndian.Uint64(hdr[0:8])),
		body: make([]byte, binary.BigEndian.Uint32(hdr[8:12])),
	}
	if _, err := io.ReadFull(r, rec.body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return record{}, errTornRecord
		}
		return record{}, err
	}
	if crc32.Checksum(rec.body, crcTable) != binary.BigEndian.Uint32(hdr[12:16]) {
		return record{}, fmt.Errorf("record %d: %w", rec.id, ErrChecksum)
	}
	return rec, nil
}
