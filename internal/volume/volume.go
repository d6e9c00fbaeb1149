// Package volume exports full-spatial-shape result maps. Each volume is a
// zstd-compressed little-endian float32 payload next to a YAML sidecar
// carrying the spatial shape and the affine copied from the input mask, so
// downstream image tooling can reconstruct the volume geometry.
package volume

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"
)

// Meta describes a volume's geometry and provenance.
type Meta struct {
	Quantity string        `yaml:"quantity"`
	Shape    [3]int        `yaml:"shape"`
	Affine   [4][4]float64 `yaml:"affine"`
}

// SidecarPath returns the metadata path for a volume path.
func SidecarPath(path string) string {
	return path + ".yaml"
}

// Write stores data as a compressed volume at path plus its sidecar.
// len(data) must equal the product of meta.Shape.
func Write(path string, data []float32, meta Meta) error {
	if want := meta.Shape[0] * meta.Shape[1] * meta.Shape[2]; len(data) != want {
		return fmt.Errorf("volume %q: %d values for shape %v", meta.Quantity, len(data), meta.Shape)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating volume: %w", err)
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("creating compressor: %w", err)
	}
	buf := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	if _, err := enc.Write(buf); err != nil {
		enc.Close()
		f.Close()
		return fmt.Errorf("writing volume: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("flushing volume: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing volume: %w", err)
	}

	side, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding sidecar: %w", err)
	}
	if err := os.WriteFile(SidecarPath(path), side, 0o644); err != nil {
		return fmt.Errorf("writing sidecar: %w", err)
	}
	return nil
}

// Read loads a volume and its sidecar.
func Read(path string) ([]float32, Meta, error) {
	var meta Meta
	side, err := os.ReadFile(SidecarPath(path))
	if err != nil {
		return nil, meta, fmt.Errorf("reading sidecar: %w", err)
	}
	if err := yaml.Unmarshal(side, &meta); err != nil {
		return nil, meta, fmt.Errorf("decoding sidecar: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, meta, fmt.Errorf("opening volume: %w", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, meta, fmt.Errorf("creating decompressor: %w", err)
	}
	defer dec.Close()

	buf, err := io.ReadAll(dec)
	if err != nil {
		return nil, meta, fmt.Errorf("reading volume: %w", err)
	}
	if len(buf)%4 != 0 {
		return nil, meta, fmt.Errorf("volume payload of %d bytes is not float32-aligned", len(buf))
	}
	data := make([]float32, len(buf)/4)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	if want := meta.Shape[0] * meta.Shape[1] * meta.Shape[2]; len(data) != want {
		return nil, meta, fmt.Errorf("volume has %d values, sidecar shape %v", len(data), meta.Shape)
	}
	return data, meta, nil
}
