// Package dist packages lilium programs as content-addressed chunks. A chunk
// carries the source text together with the compiled module; the receiver
// recompiles the source and checks that the result hashes to the same value
// before running it.
package dist

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"

	"github.com/chazu/lilium/bytecode"
	"github.com/chazu/lilium/compiler"
)

// Version is the chunk format version written by Pack.
const Version = 1

// Extension is the file extension used for packed chunks.
const Extension = ".lpk"

// Capabilities a module may require.
const (
	CapRead  = "read"
	CapWrite = "write"
)

var (
	ErrHashMismatch       = errors.New("chunk hash mismatch")
	ErrUnsupportedVersion = errors.New("unsupported chunk version")
	ErrCapability         = errors.New("capability mismatch")
)

// Chunk is the unit of distribution.
type Chunk struct {
	Version      uint8    `cbor:"1,keyasint"`
	Hash         [32]byte `cbor:"2,keyasint"` // SHA-256 of Module
	Name         string   `cbor:"3,keyasint,omitempty"`
	Source       string   `cbor:"4,keyasint"`
	Module       []byte   `cbor:"5,keyasint"` // bytecode.Module.Serialize output
	Capabilities []string `cbor:"6,keyasint,omitempty"`
}

// HashString returns the chunk hash in hex.
func (c *Chunk) HashString() string {
	return hex.EncodeToString(c.Hash[:])
}

// Pack compiles source and wraps it in a chunk.
func Pack(name, source string) (*Chunk, error) {
	m, err := compiler.Compile(source)
	if err != nil {
		return nil, err
	}
	data, err := m.Serialize()
	if err != nil {
		return nil, err
	}
	return &Chunk{
		Version:      Version,
		Hash:         sha256.Sum256(data),
		Name:         name,
		Source:       source,
		Module:       data,
		Capabilities: RequiredCapabilities(m),
	}, nil
}

// Verify recompiles the chunk's source and checks that the result matches
// both the shipped module bytes and the chunk hash. It returns the verified
// module.
func Verify(c *Chunk) (*bytecode.Module, error) {
	if c.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, c.Version)
	}
	if sha256.Sum256(c.Module) != c.Hash {
		return nil, fmt.Errorf("%w: module bytes do not hash to %s", ErrHashMismatch, c.HashString())
	}

	m, err := compiler.Compile(c.Source)
	if err != nil {
		return nil, fmt.Errorf("dist: compiling %s: %w", c.Name, err)
	}
	data, err := m.Serialize()
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(data, c.Module) {
		got := sha256.Sum256(data)
		return nil, fmt.Errorf("%w: source compiles to %s, chunk declares %s",
			ErrHashMismatch, hex.EncodeToString(got[:]), c.HashString())
	}
	if caps := RequiredCapabilities(m); !slices.Equal(caps, c.Capabilities) {
		return nil, fmt.Errorf("%w: module needs %v, chunk declares %v", ErrCapability, caps, c.Capabilities)
	}
	return m, nil
}

// RequiredCapabilities lists, sorted, the I/O capabilities m uses.
func RequiredCapabilities(m *bytecode.Module) []string {
	var caps []string
	var read, write bool
	for _, inst := range m.Code {
		switch inst.Op {
		case bytecode.OpRdi:
			read = true
		case bytecode.OpWri:
			write = true
		}
	}
	if read {
		caps = append(caps, CapRead)
	}
	if write {
		caps = append(caps, CapWrite)
	}
	return caps
}

// Allowed reports whether every capability the chunk declares is in allow.
func (c *Chunk) Allowed(allow []string) error {
	for _, want := range c.Capabilities {
		if !slices.Contains(allow, want) {
			return fmt.Errorf("%w: %s requires %q", ErrCapability, c.Name, want)
		}
	}
	return nil
}
