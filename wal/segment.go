package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/zeebo/xxh3"
)

// lenPrefixSize is the size of the u32 little-endian length frame that
// precedes every record on disk.
const lenPrefixSize = 4

// segment is a single append-only file holding a contiguous range of
// records, named by the seq of its first record.
type segment struct {
	path string
	file *os.File // append-mode handle; never used for reads
	size int64    // current file length in bytes
}

func segmentPath(dir string, firstSeq uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%016x.wal", firstSeq))
}

// createSegment makes a brand-new, empty segment file starting at firstSeq.
// Fails if a segment with that name already exists: seqs must be unique.
func createSegment(dir string, firstSeq uint64) (*segment, error) {
	path := segmentPath(dir, firstSeq)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: create segment %q: %v", ErrIO, path, err)
	}
	return &segment{path: path, file: f, size: 0}, nil
}

// append writes a single length-prefixed record frame. It does not fsync;
// callers that need durability call fsync explicitly, once per append at
// most, under the Log's critical section.
func (s *segment) append(rec Record) (int64, error) {
	body, err := Encode(rec)
	if err != nil {
		return 0, err
	}

	frame := make([]byte, lenPrefixSize+len(body))
	binary.LittleEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[lenPrefixSize:], body)

	off := s.size
	n, err := s.file.Write(frame)
	if err != nil {
		return 0, fmt.Errorf("%w: append segment %q: %v", ErrIO, s.path, err)
	}
	s.size += int64(n)
	return off, nil
}

// fsync flushes this segment's data to stable storage.
func (s *segment) fsync() error {
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("%w: fsync segment %q: %v", ErrIO, s.path, err)
	}
	return nil
}

// fingerprint returns a fast content digest of the segment's bytes as
// currently flushed to disk. It exists purely for tooling (comparing two
// segments for byte-equality without decoding every record) and plays no
// role in the durability or replay contract.
func (s *segment) fingerprint() (string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return "", fmt.Errorf("%w: open segment %q for fingerprint: %v", ErrIO, s.path, err)
	}
	defer f.Close()

	h := xxh3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("%w: read segment %q for fingerprint: %v", ErrIO, s.path, err)
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// readSegmentRecords opens a fresh read handle on path (the append handle,
// if any, is never shared with readers) and streams every well-formed
// record it contains, in file order, plus a count of frames that were
// skipped. The u32 length prefix always locates the next frame's offset
// regardless of what's inside the current one, so a body that fails to
// decode (corrupt checksum-sized garbage, a flipped byte that breaks the
// JSON payload or inflates a length field past the remaining bytes, an
// unrecognized operation tag) is logged and skipped without losing track
// of where the next frame starts — it never halts iteration. Only a
// genuinely truncated frame — a short length-prefix read or a short body
// read — halts, because there the framing itself cannot recover: there is
// no declared length to trust for locating the next frame.
func readSegmentRecords(path string) ([]Record, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: open segment %q: %v", ErrIO, path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var records []Record
	var skipped int

	for {
		var lenBuf [lenPrefixSize]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if isEOF(err) {
				break
			}
			return records, skipped, fmt.Errorf("%w: read frame length in %q: %v", ErrIO, path, err)
		}

		n := binary.LittleEndian.Uint32(lenBuf[:])
		body := make([]byte, n)
		if _, err := io.ReadFull(r, body); err != nil {
			if isEOF(err) {
				// Truncated tail: a crash mid-write left a partial frame.
				// This is equivalent to that write never having returned
				// success, so we stop cleanly without surfacing an error.
				break
			}
			return records, skipped, fmt.Errorf("%w: read frame body in %q: %v", ErrIO, path, err)
		}

		rec, err := Decode(body)
		if err != nil {
			// The frame itself (length prefix + body) was intact, so the
			// next frame's offset is already known regardless of what's
			// wrong with this one's content. Log, count, and continue.
			log.Printf("wal: skipping unreadable record in %q: %v", path, err)
			skipped++
			continue
		}

		records = append(records, rec)
	}

	return records, skipped, nil
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// readSegmentRecordsChecked is readSegmentRecords plus checksum
// verification, used by Validate. It never skips a frame that decodes
// successfully just because its checksum is wrong — that's
// ErrCorruptChecksum, counted (via CheckChecksum) alongside frames that
// failed to decode at all, since both are corrupted entries from the
// caller's point of view.
func readSegmentRecordsChecked(path string) ([]Record, int, error) {
	recs, undecodable, err := readSegmentRecords(path)
	if err != nil {
		return recs, undecodable, err
	}
	corrupted := undecodable
	for _, r := range recs {
		if err := r.CheckChecksum(); err != nil {
			log.Printf("wal: %v in %q", err, path)
			corrupted++
		}
	}
	return recs, corrupted, nil
}
