package prf

import (
	"fmt"

	"github.com/robert-malhotra/go-prf/internal/volume"
)

// Export writes every outcome map as a compressed volume with a metadata
// sidecar, using the naming convention "<prefix>_<quantity>.vol". The affine
// comes from the run configuration (copied from the input mask).
func (p *Pipeline) Export(out *Outcome, prefix string) error {
	maps := []struct {
		suffix string
		data   []float32
	}{
		{"x_pos", out.X},
		{"y_pos", out.Y},
		{"SD", out.Size},
		{"R2", out.R2},
		{"polar_angle", out.PolarAngle},
		{"eccentricity", out.Eccentricity},
	}
	for _, m := range maps {
		if err := p.writeVolume(prefix, m.suffix, out.Shape, m.data); err != nil {
			return err
		}
	}
	for c, pe := range out.PE {
		suffix := fmt.Sprintf("PE_%02d", c+1)
		if err := p.writeVolume(prefix, suffix, out.Shape, pe); err != nil {
			return err
		}
	}
	p.log.WithField("volumes", len(maps)+len(out.PE)).Info("results exported")
	return nil
}

func (p *Pipeline) writeVolume(prefix, suffix string, shape [3]int, data []float32) error {
	path := fmt.Sprintf("%s_%s.vol", prefix, suffix)
	meta := volume.Meta{
		Quantity: suffix,
		Shape:    shape,
		Affine:   p.cfg.Affine,
	}
	if err := volume.Write(path, data, meta); err != nil {
		return fmt.Errorf("exporting %s: %w", suffix, err)
	}
	return nil
}
