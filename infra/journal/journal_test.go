package journal

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func openTestJournal(t *testing.T, dir string, segSize int64) *Journal {
	t.Helper()
	j, err := Open(Config{Dir: dir, SegmentSize: segSize})
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	return j
}

func TestAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	j := openTestJournal(t, dir, 1<<20)

	payloads := []string{"first", "second", "third"}
	for i, p := range payloads {
		if err := j.Append(NewRecord(RecordLimitOrder, uint64(i+1), []byte(p))); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var got []*Record
	last, err := Replay(dir, func(r *Record) error {
		got = append(got, r)
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if last != 3 {
		t.Errorf("last seq = %d, want 3", last)
	}
	if len(got) != len(payloads) {
		t.Fatalf("replayed %d records, want %d", len(got), len(payloads))
	}
	for i, r := range got {
		if string(r.Data) != payloads[i] {
			t.Errorf("record %d data = %q, want %q", i, r.Data, payloads[i])
		}
		if r.Type != RecordLimitOrder || r.Seq != uint64(i+1) {
			t.Errorf("record %d header = %d/%d", i, r.Type, r.Seq)
		}
	}
}

func TestReplayEmptyDir(t *testing.T) {
	last, err := Replay(t.TempDir(), func(*Record) error {
		t.Fatal("unexpected record")
		return nil
	})
	if err != nil || last != 0 {
		t.Fatalf("last=%d err=%v", last, err)
	}
}

func TestReplayStopsAtTornTail(t *testing.T) {
	dir := t.TempDir()
	j := openTestJournal(t, dir, 1<<20)
	if err := j.Append(NewRecord(RecordCancel, 1, []byte("whole"))); err != nil {
		t.Fatal(err)
	}
	if err := j.Append(NewRecord(RecordCancel, 2, []byte("torn"))); err != nil {
		t.Fatal(err)
	}
	j.Close()

	files, err := filepath.Glob(filepath.Join(dir, "segment-*.journal"))
	if err != nil || len(files) != 1 {
		t.Fatalf("segments: %v %v", files, err)
	}
	st, err := os.Stat(files[0])
	if err != nil {
		t.Fatal(err)
	}
	// Chop into the second frame's crc to fake a crash mid-write.
	if err := os.Truncate(files[0], st.Size()-3); err != nil {
		t.Fatal(err)
	}

	var count int
	last, err := Replay(dir, func(r *Record) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if count != 1 || last != 1 {
		t.Errorf("count=%d last=%d, want 1/1", count, last)
	}
}

func TestReplayRejectsCorruptCRC(t *testing.T) {
	dir := t.TempDir()
	j := openTestJournal(t, dir, 1<<20)
	if err := j.Append(NewRecord(RecordMarketOrder, 1, []byte("payload"))); err != nil {
		t.Fatal(err)
	}
	j.Close()

	files, _ := filepath.Glob(filepath.Join(dir, "segment-*.journal"))
	raw, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatal(err)
	}
	raw[25] ^= 0xff // flip a payload byte, crc no longer matches
	if err := os.WriteFile(files[0], raw, 0o644); err != nil {
		t.Fatal(err)
	}

	count := 0
	if _, err := Replay(dir, func(*Record) error { count++; return nil }); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if count != 0 {
		t.Errorf("replayed %d corrupt records", count)
	}
}

func TestSegmentRotationAndTruncate(t *testing.T) {
	dir := t.TempDir()
	// A one-byte budget rotates after every append.
	j := openTestJournal(t, dir, 1)
	for seq := uint64(1); seq <= 4; seq++ {
		if err := j.Append(NewRecord(RecordCashOperation, seq, []byte{byte(seq)})); err != nil {
			t.Fatalf("append %d: %v", seq, err)
		}
	}

	files, _ := filepath.Glob(filepath.Join(dir, "segment-*.journal"))
	if len(files) < 4 {
		t.Fatalf("got %d segments, want rotation per record", len(files))
	}

	if err := j.TruncateBefore(3); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	var seqs []uint64
	last, err := Replay(dir, func(r *Record) error {
		seqs = append(seqs, r.Seq)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if last != 4 {
		t.Errorf("last = %d, want 4", last)
	}
	if len(seqs) != 1 || seqs[0] != 4 {
		t.Errorf("surviving seqs = %v, want [4]", seqs)
	}
	j.Close()
}

func TestReplayStopsAtOversizedLengthField(t *testing.T) {
	dir := t.TempDir()
	j := openTestJournal(t, dir, 1<<20)
	if err := j.Append(NewRecord(RecordLimitOrder, 1, []byte("good"))); err != nil {
		t.Fatal(err)
	}
	j.Close()

	// A header claiming a multi-gigabyte payload must end replay, not
	// drive an allocation.
	files, _ := filepath.Glob(filepath.Join(dir, "segment-*.journal"))
	f, err := os.OpenFile(files[0], os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	header := make([]byte, 21)
	header[0] = byte(RecordLimitOrder)
	binary.BigEndian.PutUint64(header[1:9], 2)
	binary.BigEndian.PutUint32(header[17:21], 0xfffffff0)
	if _, err := f.Write(header); err != nil {
		t.Fatal(err)
	}
	f.Close()

	count := 0
	last, err := Replay(dir, func(*Record) error { count++; return nil })
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if count != 1 || last != 1 {
		t.Errorf("count=%d last=%d, want 1/1", count, last)
	}
}

func TestAppendRejectsOversizedPayload(t *testing.T) {
	j := openTestJournal(t, t.TempDir(), 1<<20)
	defer j.Close()

	err := j.Append(NewRecord(RecordLimitOrder, 1, make([]byte, maxFramePayload+1)))
	if err != ErrFrameTooLarge {
		t.Fatalf("err = %v, want ErrFrameTooLarge", err)
	}
}
