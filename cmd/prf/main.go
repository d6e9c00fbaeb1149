// Command prf runs a population receptive field grid search over a
// functional volume store, or inspects store files produced by one.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/robert-malhotra/go-prf/internal/chunk"
	"github.com/robert-malhotra/go-prf/internal/store"
	"github.com/robert-malhotra/go-prf/internal/volume"
	"github.com/robert-malhotra/go-prf/prf"
)

// axisSpec is one inclusive grid axis in the run configuration.
type axisSpec struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
	N   int     `yaml:"n"`
}

// runConfig is the YAML file consumed by the run command. Smoothing extents
// are given in SI units together with the sampling geometry, and converted
// to data units (volumes, voxels) before the pipeline sees them.
type runConfig struct {
	Data   string `yaml:"data"`   // functional store, shape (time, unit)
	Models string `yaml:"models"` // model store, shape (conditions*time, candidates)
	Mask   string `yaml:"mask"`   // mask volume; nonzero selects a unit
	Output string `yaml:"output"` // prefix for exported result volumes

	Conditions int `yaml:"conditions"`

	Grid struct {
		X    axisSpec `yaml:"x"`
		Y    axisSpec `yaml:"y"`
		Size axisSpec `yaml:"size"`
	} `yaml:"grid"`

	Detrend   bool `yaml:"detrend"`
	Smoothing struct {
		TemporalSd float64 `yaml:"temporal_sd_s"` // seconds
		Tr         float64 `yaml:"tr_s"`          // seconds per volume
		SpatialSd  float64 `yaml:"spatial_sd_mm"` // millimetres
		VoxelSize  float64 `yaml:"voxel_mm"`      // millimetres per voxel
	} `yaml:"smoothing"`

	Parallelism  int  `yaml:"parallelism"`
	InMemory     bool `yaml:"in_memory"`
	UnitStride   int  `yaml:"unit_stride"`
	VolumeStride int  `yaml:"volume_stride"`
}

func main() {
	root := &cobra.Command{
		Use:           "prf",
		Short:         "Population receptive field grid search",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCmd(), describeCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "run <config.yaml>",
		Short: "Run a full analysis from a YAML configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.New()
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}
			return runAnalysis(args[0], log)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}

func runAnalysis(path string, log *logrus.Logger) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading configuration: %w", err)
	}
	var rc runConfig
	if err := yaml.Unmarshal(raw, &rc); err != nil {
		return fmt.Errorf("decoding configuration: %w", err)
	}
	if rc.Data == "" || rc.Models == "" || rc.Mask == "" || rc.Output == "" {
		return fmt.Errorf("configuration must set data, models, mask and output")
	}

	maskData, maskMeta, err := volume.Read(rc.Mask)
	if err != nil {
		return fmt.Errorf("loading mask: %w", err)
	}
	spatial := make([]bool, len(maskData))
	for i, v := range maskData {
		spatial[i] = v != 0
	}

	cfg := prf.Config{
		Shape:            maskMeta.Shape,
		Mask:             spatial,
		Affine:           maskMeta.Affine,
		NumConditions:    rc.Conditions,
		Detrend:          rc.Detrend,
		SdSmoothTemporal: siToUnits(rc.Smoothing.TemporalSd, rc.Smoothing.Tr),
		SdSmoothSpatial:  siToUnits(rc.Smoothing.SpatialSd, rc.Smoothing.VoxelSize),
		Parallelism:      rc.Parallelism,
	}

	var opts []prf.Option
	opts = append(opts, prf.WithLogger(log))
	if rc.UnitStride > 0 {
		opts = append(opts, prf.WithUnitStride(rc.UnitStride))
	}
	if rc.VolumeStride > 0 {
		opts = append(opts, prf.WithVolumeStride(rc.VolumeStride))
	}
	p, err := prf.New(cfg, opts...)
	if err != nil {
		return err
	}

	grid := prf.NewGrid(
		rc.Grid.X.Min, rc.Grid.X.Max, rc.Grid.X.N,
		rc.Grid.Y.Min, rc.Grid.Y.Max, rc.Grid.Y.N,
		rc.Grid.Size.Min, rc.Grid.Size.Max, rc.Grid.Size.N,
	)

	data, models, err := openInputs(&rc, grid)
	if err != nil {
		return err
	}
	defer data.Close()

	out, err := p.Run(data, models)
	if err != nil {
		return err
	}
	if err := p.Export(out, rc.Output); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"included": out.IncludedCount,
		"output":   rc.Output,
	}).Info("analysis complete")
	return nil
}

// openInputs opens the functional and model stores, either streaming from
// disk or fully loaded, depending on the in_memory setting.
func openInputs(rc *runConfig, grid prf.Grid) (prf.Store, prf.GridSource, error) {
	data, err := prf.OpenStore(rc.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("opening functional store: %w", err)
	}
	modelStore, err := prf.OpenStore(rc.Models)
	if err != nil {
		data.Close()
		return nil, nil, fmt.Errorf("opening model store: %w", err)
	}

	stride := rc.UnitStride
	if stride <= 0 {
		stride = 100
	}
	if !rc.InMemory {
		models, err := prf.NewStoreGridSource(grid, rc.Conditions, modelStore, stride, 100)
		if err != nil {
			data.Close()
			modelStore.Close()
			return nil, nil, err
		}
		return data, models, nil
	}

	memData, err := loadStore(data)
	data.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("loading functional store: %w", err)
	}
	modelData, err := loadStore(modelStore)
	modelStore.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("loading model store: %w", err)
	}
	nRows, _ := modelData.Shape()
	raw, err := allCandidateMajor(modelData, grid.NumCandidates())
	if err != nil {
		return nil, nil, err
	}
	models, err := prf.NewMemGridSource(grid, rc.Conditions, nRows/rc.Conditions, raw)
	if err != nil {
		return nil, nil, err
	}
	return memData, models, nil
}

// loadStore copies a store fully into memory.
func loadStore(src prf.Store) (prf.Store, error) {
	nTime, nUnit := src.Shape()
	data, err := src.Read(store.AxisTime, chunk.Range{Start: 0, End: nTime})
	if err != nil {
		return nil, err
	}
	return prf.NewMemStoreFrom(nTime, nUnit, data)
}

// allCandidateMajor transposes a model store into the candidate-major flat
// layout the in-memory grid source expects.
func allCandidateMajor(st prf.Store, nCand int) ([]float32, error) {
	nRows, nUnit := st.Shape()
	if nUnit != nCand {
		return nil, fmt.Errorf("model store has %d columns, grid has %d candidates", nUnit, nCand)
	}
	out := make([]float32, nRows*nCand)
	for c := 0; c < nCand; c++ {
		col, err := st.Read(store.AxisUnit, chunk.Range{Start: c, End: c + 1})
		if err != nil {
			return nil, err
		}
		copy(out[c*nRows:], col)
	}
	return out, nil
}

// siToUnits converts an SI smoothing extent into data units; zero sampling
// geometry disables the corresponding smoothing.
func siToUnits(sd, unit float64) float64 {
	if sd <= 0 || unit <= 0 {
		return 0
	}
	return sd / unit
}

func describeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe <store.dat>",
		Short: "Print the shape and layout of a store file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(args[0])
			if err != nil {
				return err
			}
			defer st.Close()
			nTime, nUnit := st.Shape()
			fmt.Printf("=== %s ===\n", args[0])
			fmt.Printf("Time points: %d\n", nTime)
			fmt.Printf("Units:       %d\n", nUnit)
			fmt.Printf("Payload:     %d bytes (float32, time-major)\n", 4*nTime*nUnit)
			return nil
		},
	}
}
