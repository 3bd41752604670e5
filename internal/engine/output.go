package engine

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/nbody-sim/barnes-hut/internal/body"
	"github.com/nbody-sim/barnes-hut/internal/space"
	"github.com/nbody-sim/barnes-hut/internal/vector"
	"github.com/nbody-sim/barnes-hut/pkg/compression"
	apperrors "github.com/nbody-sim/barnes-hut/pkg/errors"
	"github.com/nbody-sim/barnes-hut/pkg/writer"
)

// RunMetadata is the provenance information written alongside the body
// snapshots; its fields mirror the CLI surface table (spec §6) rather than
// pkg/config.SimulationConfig directly, so the on-disk schema doesn't
// change shape if unrelated config fields (telemetry, storage) are added.
type RunMetadata struct {
	XMLName        xml.Name `xml:"configuration"`
	Bodies         int      `xml:"bodies"`
	Steps          int      `xml:"steps"`
	SampleInterval int      `xml:"sample_interval"`
	Dt             float64  `xml:"dt"`
	G              float64  `xml:"g"`
	Theta          float64  `xml:"theta"`
	Softening      float64  `xml:"softening"`
	Dim            int      `xml:"dim"`
	Seed           uint64   `xml:"seed"`
}

// FileSampler is the root rank's Sampler: it writes the provenance layout
// spec §6 describes under a single output directory. Every non-root rank
// runs with a nil Sampler and never touches the filesystem.
type FileSampler[T vector.Scalar] struct {
	dir        string
	meta       RunMetadata
	dt         T
	xmlOut     *writer.XMLWriter[body.Bodies[T]]
	sampleIx   int
	compressor compression.Compressor
}

// NewFileSampler creates a FileSampler rooted at dir, writing
// _configuration.xml immediately (it does not depend on any step's
// output). When compress is true, numbered sample files are zstd-compressed
// (pkg/compression) rather than written as plain text, trading readability
// for size on large runs with many samples.
func NewFileSampler[T vector.Scalar](dir string, meta RunMetadata, dt T, compress bool) (*FileSampler[T], error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeIOFailure, "failed to create output directory", err)
	}

	fs := &FileSampler[T]{
		dir:    dir,
		meta:   meta,
		dt:     dt,
		xmlOut: writer.NewPrettyXMLWriter[body.Bodies[T]](),
	}
	if compress {
		fs.compressor = compression.Default()
	}

	cfgWriter := writer.NewPrettyXMLWriter[RunMetadata]()
	if err := cfgWriter.WriteToFile(meta, filepath.Join(dir, "_configuration.xml")); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeIOFailure, "failed to write configuration snapshot", err)
	}

	return fs, nil
}

// SampleStep writes the initial snapshot (step 0) to _bodies.xml and every
// sampled step (including 0, if SampleInitial was set) to a numbered
// sample file, per spec §6.
func (fs *FileSampler[T]) SampleStep(step int, bodies body.Bodies[T]) error {
	if step == 0 {
		if err := fs.xmlOut.WriteToFile(bodies, filepath.Join(fs.dir, "_bodies.xml")); err != nil {
			return apperrors.Wrap(apperrors.CodeIOFailure, "failed to write initial body snapshot", err)
		}
	}

	if err := fs.writeSampleFile(bodies); err != nil {
		return err
	}
	fs.sampleIx++
	return nil
}

// Finished writes the final snapshot (_bodies_finished.xml), the
// per-sample simulated time and sample count, and the overall bounds
// observed across the run (spec §6).
func (fs *FileSampler[T]) Finished(bodies body.Bodies[T], bounds space.Space[T]) error {
	if err := fs.xmlOut.WriteToFile(bodies, filepath.Join(fs.dir, "_bodies_finished.xml")); err != nil {
		return apperrors.Wrap(apperrors.CodeIOFailure, "failed to write final body snapshot", err)
	}

	simulatedTime := fs.dt * T(fs.meta.SampleInterval)
	if err := writeSingleLine(filepath.Join(fs.dir, "_time.txt"), formatFloat(simulatedTime)); err != nil {
		return err
	}

	sampleCount := 0
	if fs.meta.SampleInterval > 0 {
		sampleCount = fs.meta.Steps / fs.meta.SampleInterval
	}
	if err := writeSingleLine(filepath.Join(fs.dir, "_sample.txt"), strconv.Itoa(sampleCount)); err != nil {
		return err
	}

	if err := fs.writeBounds(bounds); err != nil {
		return err
	}

	return nil
}

func (fs *FileSampler[T]) writeSampleFile(bodies body.Bodies[T]) error {
	var buf bytes.Buffer
	for _, b := range bodies {
		for d, v := range b.Position {
			if d > 0 {
				buf.WriteByte(' ')
			}
			buf.WriteString(formatFloat(v))
		}
		buf.WriteByte('\n')
	}

	name := fmt.Sprintf("%d.dat", fs.sampleIx)
	data := buf.Bytes()
	if fs.compressor != nil {
		compressed, err := fs.compressor.Compress(data)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeIOFailure, "failed to compress sample file", err)
		}
		data = compressed
		if fs.compressor.Type() == compression.TypeGzip {
			name += ".gz"
		} else {
			name += ".zst"
		}
	}

	if err := os.WriteFile(filepath.Join(fs.dir, name), data, 0o644); err != nil {
		return apperrors.Wrap(apperrors.CodeIOFailure, "failed to write sample file", err)
	}
	return nil
}

func (fs *FileSampler[T]) writeBounds(bounds space.Space[T]) error {
	file, err := os.Create(filepath.Join(fs.dir, "_bounds.dat"))
	if err != nil {
		return apperrors.Wrap(apperrors.CodeIOFailure, "failed to create bounds file", err)
	}
	defer file.Close()

	if _, err := fmt.Fprintf(file, "min %s\n", formatVector(bounds.Min)); err != nil {
		return apperrors.Wrap(apperrors.CodeIOFailure, "failed to write bounds file", err)
	}
	if _, err := fmt.Fprintf(file, "max %s\n", formatVector(bounds.Max)); err != nil {
		return apperrors.Wrap(apperrors.CodeIOFailure, "failed to write bounds file", err)
	}
	return nil
}

func writeSingleLine(path, line string) error {
	if err := os.WriteFile(path, []byte(line+"\n"), 0o644); err != nil {
		return apperrors.Wrap(apperrors.CodeIOFailure, fmt.Sprintf("failed to write %s", filepath.Base(path)), err)
	}
	return nil
}

func formatFloat[T vector.Scalar](v T) string {
	return strconv.FormatFloat(float64(v), 'g', -1, 64)
}

func formatVector[T vector.Scalar](v vector.Vector[T]) string {
	out := ""
	for d, c := range v {
		if d > 0 {
			out += " "
		}
		out += formatFloat(c)
	}
	return out
}
