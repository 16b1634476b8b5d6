package hic

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Checkpoint blob layout (all little-endian):
//
//	magic   uint32  "HIC1"
//	version uint16
//	cfgLen  uint32  followed by cfgLen bytes of yaml config
//	step    float64
//	n       uint32  followed by n*n float64 field values
//	crc     uint32  CRC-32C over everything preceding it
const (
	ckptMagic   uint32 = 0x48494331
	ckptVersion uint16 = 1
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// CheckpointManager persists the minimal state needed to restart one event:
// the full run configuration and the initial condition it was about to
// consume. At most one checkpoint file is live at a time.
type CheckpointManager struct {
	Path string
}

// Save overwrites the checkpoint with (config, ic). It is called before the
// corresponding event begins, so a forced kill mid-event always leaves a
// resumable file. The write goes through a temp file and rename so a kill
// mid-save cannot leave a torn blob.
func (m *CheckpointManager) Save(cfg Config, ic *Field) error {
	cfgBytes, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("encoding checkpoint config: %w", err)
	}

	var buf bytes.Buffer
	le := binary.LittleEndian
	var scratch [8]byte

	le.PutUint32(scratch[:4], ckptMagic)
	buf.Write(scratch[:4])
	le.PutUint16(scratch[:2], ckptVersion)
	buf.Write(scratch[:2])
	le.PutUint32(scratch[:4], uint32(len(cfgBytes)))
	buf.Write(scratch[:4])
	buf.Write(cfgBytes)
	le.PutUint64(scratch[:], math.Float64bits(ic.Step))
	buf.Write(scratch[:])
	le.PutUint32(scratch[:4], uint32(ic.N()))
	buf.Write(scratch[:4])
	for _, v := range ic.Raw() {
		le.PutUint64(scratch[:], math.Float64bits(v))
		buf.Write(scratch[:])
	}
	le.PutUint32(scratch[:4], crc32.Checksum(buf.Bytes(), crcTable))
	buf.Write(scratch[:4])

	tmp := m.Path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := os.Rename(tmp, m.Path); err != nil {
		return fmt.Errorf("committing checkpoint: %w", err)
	}
	return nil
}

// Remove deletes the checkpoint file. A missing file is not an error: the
// checkpointed event may already have completed.
func (m *CheckpointManager) Remove() error {
	if err := os.Remove(m.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// LoadCheckpoint reads a checkpoint blob and verifies its integrity. The
// loaded config's recorded checkpoint path must resolve to the file actually
// opened; a mismatch means the file was renamed or copied from another run
// and resuming from it would silently mix run state.
func LoadCheckpoint(path string) (Config, *Field, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	if len(data) < 4+2+4+8+4+4 {
		return Config{}, nil, fmt.Errorf("checkpoint %s: truncated (%d bytes)", path, len(data))
	}
	le := binary.LittleEndian

	body, tail := data[:len(data)-4], data[len(data)-4:]
	if got, want := le.Uint32(tail), crc32.Checksum(body, crcTable); got != want {
		return Config{}, nil, fmt.Errorf("checkpoint %s: CRC mismatch (file %08x, computed %08x)", path, got, want)
	}

	off := 0
	if le.Uint32(body[off:]) != ckptMagic {
		return Config{}, nil, fmt.Errorf("checkpoint %s: bad magic", path)
	}
	off += 4
	if v := le.Uint16(body[off:]); v != ckptVersion {
		return Config{}, nil, fmt.Errorf("checkpoint %s: unsupported format version %d", path, v)
	}
	off += 2
	cfgLen := int(le.Uint32(body[off:]))
	off += 4
	if off+cfgLen+8+4 > len(body) {
		return Config{}, nil, fmt.Errorf("checkpoint %s: truncated config section", path)
	}
	var cfg Config
	if err := yaml.Unmarshal(body[off:off+cfgLen], &cfg); err != nil {
		return Config{}, nil, fmt.Errorf("checkpoint %s: decoding config: %w", path, err)
	}
	off += cfgLen

	step := math.Float64frombits(le.Uint64(body[off:]))
	off += 8
	n := int(le.Uint32(body[off:]))
	off += 4
	if len(body)-off != 8*n*n {
		return Config{}, nil, fmt.Errorf("checkpoint %s: field section is %d bytes, want %d", path, len(body)-off, 8*n*n)
	}
	vals := make([]float64, n*n)
	for i := range vals {
		vals[i] = math.Float64frombits(le.Uint64(body[off+8*i:]))
	}
	ic, err := FieldFromData(n, step, vals)
	if err != nil {
		return Config{}, nil, fmt.Errorf("checkpoint %s: %w", path, err)
	}

	if err := verifyCheckpointPath(cfg.Checkpoint, path); err != nil {
		return Config{}, nil, err
	}
	return cfg, ic, nil
}

func verifyCheckpointPath(recorded, opened string) error {
	recAbs, err := filepath.Abs(recorded)
	if err != nil {
		return fmt.Errorf("resolving recorded checkpoint path: %w", err)
	}
	openAbs, err := filepath.Abs(opened)
	if err != nil {
		return fmt.Errorf("resolving checkpoint path: %w", err)
	}
	if recAbs != openAbs {
		return fmt.Errorf("checkpoint integrity: file %s records checkpoint path %s; refusing to resume another run's state", openAbs, recAbs)
	}
	return nil
}
