package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Journal is a segmented append-only log of accepted commands. It is
// written by the sequencer before state mutates and replayed at startup
// for audit and recovery. Frames carry a CRC so a torn tail is detected
// and replay stops there instead of feeding garbage into the engine.

var (
	ErrCorruptFrame  = errors.New("journal: corrupt frame")
	ErrFrameTooLarge = errors.New("journal: frame exceeds payload cap")
)

// maxFramePayload caps a single record. A replayed length field beyond
// it is corruption, not data, and must never drive an allocation.
const maxFramePayload = 16 << 20

type Config struct {
	Dir             string
	SegmentSize     int64
	SegmentDuration time.Duration
}

type Journal struct {
	dir        string
	segSize    int64
	segDur     time.Duration
	current    *segment
	segIndex   int
	lastRotate time.Time
}

type segment struct {
	file   *os.File
	offset int64
}

func openSegment(dir string, index int) (*segment, error) {
	path := filepath.Join(dir, fmt.Sprintf("segment-%06d.journal", index))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &segment{file: f, offset: st.Size()}, nil
}

func (s *segment) append(b []byte) error {
	n, err := s.file.Write(b)
	if err != nil {
		return err
	}
	s.offset += int64(n)
	return nil
}

func (s *segment) close() error {
	return s.file.Close()
}

func Open(cfg Config) (*Journal, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}

	// Resume the newest segment rather than clobbering segment 0.
	index := 0
	existing, err := segmentFiles(cfg.Dir)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		index = len(existing) - 1
	}

	seg, err := openSegment(cfg.Dir, index)
	if err != nil {
		return nil, err
	}

	return &Journal{
		dir:        cfg.Dir,
		segSize:    cfg.SegmentSize,
		segDur:     cfg.SegmentDuration,
		current:    seg,
		segIndex:   index,
		lastRotate: time.Now(),
	}, nil
}

func (j *Journal) Close() error {
	return j.current.close()
}

// Append frames and writes one record:
// [type:1][seq:8][time:8][len:4][payload][crc:4]
func (j *Journal) Append(r *Record) error {
	if len(r.Data) > maxFramePayload {
		return ErrFrameTooLarge
	}
	payloadLen := uint32(len(r.Data))
	buf := make([]byte, 1+8+8+4+payloadLen+4)

	buf[0] = byte(r.Type)
	binary.BigEndian.PutUint64(buf[1:9], r.Seq)
	binary.BigEndian.PutUint64(buf[9:17], uint64(r.Time))
	binary.BigEndian.PutUint32(buf[17:21], payloadLen)
	copy(buf[21:], r.Data)

	crc := crc32.ChecksumIEEE(buf[:21+payloadLen])
	binary.BigEndian.PutUint32(buf[21+payloadLen:], crc)

	if err := j.current.append(buf); err != nil {
		return err
	}

	if j.current.offset >= j.segSize || (j.segDur > 0 && time.Since(j.lastRotate) >= j.segDur) {
		return j.rotate()
	}
	return nil
}

func (j *Journal) Sync() error {
	return j.current.file.Sync()
}

func (j *Journal) rotate() error {
	_ = j.current.close()
	j.segIndex++

	seg, err := openSegment(j.dir, j.segIndex)
	if err != nil {
		return err
	}

	j.current = seg
	j.lastRotate = time.Now()
	return nil
}

// TruncateBefore removes whole segments whose records are all covered
// by a durable snapshot at seq.
func (j *Journal) TruncateBefore(seq uint64) error {
	files, err := segmentFiles(j.dir)
	if err != nil {
		return err
	}
	// Never remove the segment being written.
	for _, path := range files {
		if j.current != nil && path == j.current.file.Name() {
			continue
		}
		maxSeq, err := maxSeqInSegment(path)
		if err != nil {
			continue
		}
		if maxSeq <= seq {
			_ = os.Remove(path)
		}
	}
	return nil
}

func segmentFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "segment-*.journal"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Replay feeds every intact record in sequence order to fn and returns
// the highest sequence seen. A corrupt frame ends replay of that
// segment silently; it is the torn tail of a crash.
func Replay(dir string, fn func(*Record) error) (uint64, error) {
	files, err := segmentFiles(dir)
	if err != nil {
		return 0, err
	}

	var lastSeq uint64
	for _, path := range files {
		if err := replaySegment(path, func(r *Record) error {
			if r.Seq > lastSeq {
				lastSeq = r.Seq
			}
			return fn(r)
		}); err != nil {
			return lastSeq, err
		}
	}
	return lastSeq, nil
}

func replaySegment(path string, fn func(*Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	for {
		header := make([]byte, 21)
		if _, err := io.ReadFull(f, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return err
		}

		payloadLen := binary.BigEndian.Uint32(header[17:21])
		if payloadLen > maxFramePayload {
			return nil
		}
		rest := make([]byte, payloadLen+4)
		if _, err := io.ReadFull(f, rest); err != nil {
			return nil // torn tail
		}

		want := binary.BigEndian.Uint32(rest[payloadLen:])
		crc := crc32.ChecksumIEEE(append(header, rest[:payloadLen]...))
		if want != crc {
			return nil
		}

		rec := &Record{
			Type: RecordType(header[0]),
			Seq:  binary.BigEndian.Uint64(header[1:9]),
			Time: int64(binary.BigEndian.Uint64(header[9:17])),
			Data: rest[:payloadLen],
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

func maxSeqInSegment(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var max uint64
	for {
		header := make([]byte, 21)
		if _, err := io.ReadFull(f, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return max, nil
			}
			return max, err
		}

		seq := binary.BigEndian.Uint64(header[1:9])
		if seq > max {
			max = seq
		}

		payloadLen := binary.BigEndian.Uint32(header[17:21])
		if payloadLen > maxFramePayload {
			return max, nil
		}
		if _, err := f.Seek(int64(payloadLen+4), io.SeekCurrent); err != nil {
			return max, err
		}
	}
}
