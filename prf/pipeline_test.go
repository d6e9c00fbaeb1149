package prf

import (
	"errors"
	"io"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/robert-malhotra/go-prf/internal/chunk"
	"github.com/robert-malhotra/go-prf/internal/store"
	"github.com/robert-malhotra/go-prf/internal/volume"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// scenario fixes the 10x10x10 case: 1000 units, 500 passing the spatial
// mask, one of them with variance 5e-5 (excluded by the variance mask),
// 499 included.
type scenario struct {
	cfg      Config
	grid     Grid
	models   []float32 // candidate-major model time courses
	data     []float32 // time-major functional data
	nTime    int
	lowVar  int // full-domain index of the low-variance unit
	perfect int // full-domain index of the unit matching the target candidate
	target  int // candidate index the perfect unit must select
	nCand   int
}

func buildScenario(t *testing.T) *scenario {
	t.Helper()
	const nTime = 20
	shape := [3]int{10, 10, 10}
	nUnit := 1000

	// Even linear indices pass the spatial mask: 500 units.
	spatial := make([]bool, nUnit)
	for i := 0; i < nUnit; i += 2 {
		spatial[i] = true
	}

	grid := NewGrid(-5, 5, 3, -5, 5, 3, 1, 2, 2)
	nCand := grid.NumCandidates()
	rng := rand.New(rand.NewSource(42))
	models := make([]float32, nCand*nTime)
	for i := range models {
		models[i] = rng.Float32()*2 - 1
	}

	target := grid.Index(1, 1, 0) // x=0, y=0, size=1

	data := make([]float32, nTime*nUnit)
	for u := 0; u < nUnit; u++ {
		for ti := 0; ti < nTime; ti++ {
			data[ti*nUnit+u] = rng.Float32()*2 - 1
		}
	}

	// One masked unit carries variance ~5e-5: below the 1e-4 threshold.
	lowVar := 10
	for ti := 0; ti < nTime; ti++ {
		v := float32(0.00707)
		if ti%2 == 1 {
			v = -v
		}
		data[ti*nUnit+lowVar] = v
	}

	// Another masked unit is an exact copy of the target candidate.
	perfect := 20
	for ti := 0; ti < nTime; ti++ {
		data[ti*nUnit+perfect] = models[target*nTime+ti]
	}

	return &scenario{
		cfg: Config{
			Shape:         shape,
			Mask:          spatial,
			NumConditions: 1,
			Parallelism:   4,
		},
		grid:    grid,
		models:  models,
		data:    data,
		nTime:   nTime,
		lowVar:  lowVar,
		perfect: perfect,
		target:  target,
		nCand:   nCand,
	}
}

func (sc *scenario) memData(t *testing.T) Store {
	t.Helper()
	st, err := NewMemStoreFrom(sc.nTime, len(sc.cfg.Mask), append([]float32(nil), sc.data...))
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func (sc *scenario) memModels(t *testing.T) GridSource {
	t.Helper()
	src, err := NewMemGridSource(sc.grid, 1, sc.nTime, append([]float32(nil), sc.models...))
	if err != nil {
		t.Fatal(err)
	}
	return src
}

func TestPipelineScenario(t *testing.T) {
	sc := buildScenario(t)
	p, err := New(sc.cfg, WithLogger(quietLogger()), WithUnitStride(64))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	out, err := p.Run(sc.memData(t), sc.memModels(t))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if out.MaskedCount != 500 {
		t.Errorf("expected 500 masked units, got %d", out.MaskedCount)
	}
	if out.IncludedCount != 499 {
		t.Errorf("expected 499 included units, got %d", out.IncludedCount)
	}

	// The low-variance unit's maps are exactly zero.
	for name, m := range map[string][]float32{
		"R2": out.R2, "x": out.X, "y": out.Y, "size": out.Size,
		"polar": out.PolarAngle, "ecc": out.Eccentricity, "PE": out.PE[0],
	} {
		if m[sc.lowVar] != 0 {
			t.Errorf("low-variance unit has nonzero %s: %v", name, m[sc.lowVar])
		}
	}

	// Units outside the spatial mask are zero everywhere.
	for u := 1; u < len(sc.cfg.Mask); u += 2 {
		if out.R2[u] != 0 {
			t.Fatalf("unmasked unit %d has R² %v", u, out.R2[u])
		}
	}

	// The perfect-match unit selects exactly the target candidate.
	if out.X[sc.perfect] != 0 || out.Y[sc.perfect] != 0 || out.Size[sc.perfect] != 1 {
		t.Errorf("perfect unit selected (%v,%v,%v), expected (0,0,1)",
			out.X[sc.perfect], out.Y[sc.perfect], out.Size[sc.perfect])
	}
	if math.Abs(float64(out.R2[sc.perfect])-1) > 1e-5 {
		t.Errorf("perfect unit R² = %v, expected ≈1", out.R2[sc.perfect])
	}

	// Derived maps follow the scattered x/y maps at included positions.
	for u := 0; u < len(sc.cfg.Mask); u++ {
		x, y := float64(out.X[u]), float64(out.Y[u])
		wantPolar := float32(math.Atan2(y, x))
		wantEcc := float32(math.Sqrt(x*x + y*y))
		if out.PolarAngle[u] != wantPolar || out.Eccentricity[u] != wantEcc {
			t.Fatalf("derived maps inconsistent at unit %d", u)
		}
	}
}

func TestPipelineModesEquivalent(t *testing.T) {
	// In-memory and disk-streamed runs must agree value for value, with
	// preprocessing enabled so every streaming stage executes in both.
	sc := buildScenario(t)
	sc.cfg.Detrend = true
	sc.cfg.SdSmoothTemporal = 1.5
	sc.cfg.SdSmoothSpatial = 0.8

	run := func(data Store, models GridSource) *Outcome {
		t.Helper()
		p, err := New(sc.cfg, WithLogger(quietLogger()))
		if err != nil {
			t.Fatal(err)
		}
		out, err := p.Run(data, models)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		return out
	}

	memOut := run(sc.memData(t), sc.memModels(t))

	dir := t.TempDir()
	fileData, err := CreateStore(filepath.Join(dir, "func.dat"), sc.nTime, len(sc.cfg.Mask))
	if err != nil {
		t.Fatal(err)
	}
	defer fileData.Close()
	mem := sc.memData(t)
	copyStore(t, mem, fileData)

	modelStore, err := CreateStore(filepath.Join(dir, "models.dat"), sc.nTime, sc.nCand)
	if err != nil {
		t.Fatal(err)
	}
	defer modelStore.Close()
	memModels := sc.memModels(t)
	buf := make([]float32, sc.nTime)
	for c := 0; c < sc.nCand; c++ {
		if err := memModels.Candidate(c, buf); err != nil {
			t.Fatal(err)
		}
		writeColumn(t, modelStore, c, buf)
	}
	fileModels, err := NewStoreGridSource(sc.grid, 1, modelStore, 16, 4)
	if err != nil {
		t.Fatal(err)
	}

	fileOut := run(fileData, fileModels)

	compare := func(name string, a, b []float32) {
		t.Helper()
		if len(a) != len(b) {
			t.Fatalf("%s: length %d vs %d", name, len(a), len(b))
		}
		for i := range a {
			if a[i] != b[i] {
				t.Fatalf("%s differs at unit %d: %v vs %v", name, i, a[i], b[i])
			}
		}
	}
	compare("x", memOut.X, fileOut.X)
	compare("y", memOut.Y, fileOut.Y)
	compare("size", memOut.Size, fileOut.Size)
	compare("R2", memOut.R2, fileOut.R2)
	compare("polar", memOut.PolarAngle, fileOut.PolarAngle)
	compare("ecc", memOut.Eccentricity, fileOut.Eccentricity)
	compare("PE", memOut.PE[0], fileOut.PE[0])
}

func TestPipelineShapeChecks(t *testing.T) {
	sc := buildScenario(t)

	// Wrong mask length fails at construction.
	bad := sc.cfg
	bad.Mask = sc.cfg.Mask[:999]
	if _, err := New(bad, WithLogger(quietLogger())); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch for short mask, got %v", err)
	}

	// Model/data time-point mismatch fails before any stage runs.
	p, err := New(sc.cfg, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	short, err := NewMemGridSource(sc.grid, 1, sc.nTime-1, sc.models[:sc.nCand*(sc.nTime-1)])
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Run(sc.memData(t), short); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch for short models, got %v", err)
	}
}

func TestPipelineExport(t *testing.T) {
	sc := buildScenario(t)
	sc.cfg.Affine[0][0] = 2.5
	p, err := New(sc.cfg, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	out, err := p.Run(sc.memData(t), sc.memModels(t))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	prefix := filepath.Join(t.TempDir(), "run01")
	if err := p.Export(out, prefix); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	for suffix, want := range map[string][]float32{
		"x_pos": out.X, "y_pos": out.Y, "SD": out.Size, "R2": out.R2,
		"polar_angle": out.PolarAngle, "eccentricity": out.Eccentricity,
		"PE_01": out.PE[0],
	} {
		data, meta, err := volume.Read(prefix + "_" + suffix + ".vol")
		if err != nil {
			t.Errorf("reading volume %s: %v", suffix, err)
			continue
		}
		if meta.Shape != sc.cfg.Shape || meta.Affine != sc.cfg.Affine {
			t.Errorf("volume %s metadata %+v does not match configuration", suffix, meta)
		}
		for i := range want {
			if data[i] != want[i] {
				t.Errorf("volume %s differs at unit %d: %v vs %v", suffix, i, data[i], want[i])
				break
			}
		}
	}
}

// copyStore copies all rows from src to dst.
func copyStore(t *testing.T, src, dst Store) {
	t.Helper()
	nTime, _ := src.Shape()
	all, err := src.Read(store.AxisTime, chunk.Range{Start: 0, End: nTime})
	if err != nil {
		t.Fatal(err)
	}
	if err := dst.Write(store.AxisTime, chunk.Range{Start: 0, End: nTime}, all); err != nil {
		t.Fatal(err)
	}
}

// writeColumn writes the full time series of one unit.
func writeColumn(t *testing.T, dst Store, u int, series []float32) {
	t.Helper()
	if err := dst.Write(store.AxisUnit, chunk.Range{Start: u, End: u + 1}, series); err != nil {
		t.Fatal(err)
	}
}
