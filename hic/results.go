package hic

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
)

// ResultRecordSize is the serialized size of one ResultRecord. The stream is
// a bare concatenation of fixed-size little-endian records, so consumers can
// seek by index.
var ResultRecordSize = binary.Size(ResultRecord{})

// ResultWriter appends finalized records to the run's results stream. The
// file is opened once per session and written sequentially by RunSession
// only; each append is synced so a kill loses at most the in-flight event.
type ResultWriter struct {
	f *os.File
}

// OpenResults opens (creating if needed) the results stream for appending.
func OpenResults(path string) (*ResultWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening results stream: %w", err)
	}
	return &ResultWriter{f: f}, nil
}

// Append serializes one record and syncs it to disk.
func (w *ResultWriter) Append(rec *ResultRecord) error {
	if err := binary.Write(w.f, binary.LittleEndian, rec); err != nil {
		return fmt.Errorf("appending result record: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("syncing results stream: %w", err)
	}
	return nil
}

func (w *ResultWriter) Close() error { return w.f.Close() }

// ReadResults maps a results stream read-only and decodes every record.
func ReadResults(path string) ([]ResultRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening results stream: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.Size() == 0 {
		return nil, nil
	}
	if st.Size()%int64(ResultRecordSize) != 0 {
		return nil, fmt.Errorf("results stream %s: size %d is not a multiple of record size %d", path, st.Size(), ResultRecordSize)
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mapping results stream: %w", err)
	}
	defer m.Unmap()

	recs := make([]ResultRecord, st.Size()/int64(ResultRecordSize))
	r := bytes.NewReader(m)
	for i := range recs {
		if err := binary.Read(r, binary.LittleEndian, &recs[i]); err != nil {
			return nil, fmt.Errorf("decoding record %d: %w", i, err)
		}
	}
	return recs, nil
}

// DetailWriter appends per-sample particle batches to the optional secondary
// stream. Entry layout: event index int64, sample index int64, particle count
// int64, then count packed particle records. Early-stopped events emit one
// explicit placeholder entry with count 0 so consumers see every event.
type DetailWriter struct {
	f *os.File
}

// OpenDetail opens (creating if needed) the particle-detail stream.
func OpenDetail(path string) (*DetailWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening particle-detail stream: %w", err)
	}
	return &DetailWriter{f: f}, nil
}

// AppendSample writes one sampled batch for the given event.
func (w *DetailWriter) AppendSample(event, sample int64, parts []Particle) error {
	buf := make([]byte, 24+len(parts)*particleBytes)
	le := binary.LittleEndian
	le.PutUint64(buf[0:], uint64(event))
	le.PutUint64(buf[8:], uint64(sample))
	le.PutUint64(buf[16:], uint64(len(parts)))
	for i, p := range parts {
		encodeParticle(buf[24+i*particleBytes:], p)
	}
	if _, err := w.f.Write(buf); err != nil {
		return fmt.Errorf("appending particle batch: %w", err)
	}
	return nil
}

// AppendPlaceholder records an early-stopped event as an empty entry.
func (w *DetailWriter) AppendPlaceholder(event int64) error {
	return w.AppendSample(event, 0, nil)
}

func (w *DetailWriter) Close() error { return w.f.Close() }

// DetailEntry is one decoded entry of the particle-detail stream.
type DetailEntry struct {
	Event     int64
	Sample    int64
	Particles []Particle
}

// ReadDetail decodes a particle-detail stream, mostly for tests and post-hoc
// analysis.
func ReadDetail(path string) ([]DetailEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading particle-detail stream: %w", err)
	}
	var entries []DetailEntry
	le := binary.LittleEndian
	off := 0
	for off < len(data) {
		if len(data)-off < 24 {
			return nil, fmt.Errorf("particle-detail stream %s: truncated header at offset %d", path, off)
		}
		e := DetailEntry{
			Event:  int64(le.Uint64(data[off:])),
			Sample: int64(le.Uint64(data[off+8:])),
		}
		count := int(le.Uint64(data[off+16:]))
		off += 24
		if len(data)-off < count*particleBytes {
			return nil, fmt.Errorf("particle-detail stream %s: truncated entry at offset %d: %w", path, off, io.ErrUnexpectedEOF)
		}
		e.Particles = make([]Particle, count)
		for i := range e.Particles {
			e.Particles[i] = decodeParticle(data[off:])
			off += particleBytes
		}
		entries = append(entries, e)
	}
	return entries, nil
}
