package model

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
)

// magic identifies a persistent config package file (spec.md §6).
var magic = [8]byte{0xFF, 'B', 'A', 'R', 'S', 0x13, 'e', 'u'}

const fileVersion uint16 = 0

// maxFrame is the hard cap on a decoded config payload (spec.md §6, §7
// "resource-limit").
const maxFrame = 16 * 1024 * 1024

// Config is the top-level package loaded by the config compiler
// (external collaborator, spec.md §1): a named bundle of Aerodromes.
type Config struct {
	Name       string
	Version    string
	Aerodromes []Aerodrome
}

// Hash returns an xxhash content hash of a config's encoded form, for
// detecting a changed config without a full byte comparison (grounded
// on dp.Client's config-hash check). Save and Load do not call it, and
// no other package in this module does either.
func Hash(encoded []byte) uint64 {
	return xxhash.Sum64(encoded)
}

// Encode serializes a Config to its in-memory binary form (without the
// magic/version frame header); callers that need the on-disk framed
// form should use Save.
func Encode(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(cfg); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode deserializes a Config from its in-memory binary form and
// rebuilds every Aerodrome's index tables.
func Decode(data []byte) (*Config, error) {
	if len(data) > maxFrame {
		return nil, fmt.Errorf("config payload exceeds %d bytes", maxFrame)
	}
	var cfg Config
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	for i := range cfg.Aerodromes {
		cfg.Aerodromes[i].BuildIndex()
	}
	return &cfg, nil
}

// Save writes the framed persistent-file form: magic, big-endian u16
// version, then the gob-encoded Config.
func Save(w io.Writer, cfg *Config) error {
	if _, err := w.Write(magic[:]); err != nil {
		return err
	}
	var verBuf [2]byte
	binary.BigEndian.PutUint16(verBuf[:], fileVersion)
	if _, err := w.Write(verBuf[:]); err != nil {
		return err
	}
	payload, err := Encode(cfg)
	if err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// Load reads and validates the framed persistent-file form produced by Save.
func Load(r io.Reader) (*Config, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if hdr != magic {
		return nil, fmt.Errorf("invalid config file: bad magic")
	}

	var verBuf [2]byte
	if _, err := io.ReadFull(r, verBuf[:]); err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	if ver := binary.BigEndian.Uint16(verBuf[:]); ver != fileVersion {
		return nil, fmt.Errorf("unsupported config version %d", ver)
	}

	payload, err := io.ReadAll(io.LimitReader(r, maxFrame+1))
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	if len(payload) > maxFrame {
		return nil, fmt.Errorf("config payload exceeds %d bytes", maxFrame)
	}

	return Decode(payload)
}
