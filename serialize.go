package facemark

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

// The model file starts with a magic tag and a format version, so stale or
// foreign files fail loudly instead of decoding into garbage.
var modelMagic = [4]byte{'F', 'M', 'R', 'K'}

const modelVersion uint32 = 1

// Encode writes the predictor to w in its versioned little-endian binary
// layout: the initial shape first, then every cascade stage with its shared
// pool locations and, per tree, the level-ordered split nodes followed by the
// leaf correction vectors. Decoding the stream reconstructs a predictor whose
// inference output is bit-identical to this one.
func (p *Predictor) Encode(w io.Writer) error {
	bw := bufio.NewWriter(w)

	if _, err := bw.Write(modelMagic[:]); err != nil {
		return errors.Wrap(err, "failed to write the model header")
	}
	if err := writeBin(bw, modelVersion, uint32(len(p.initialShape))); err != nil {
		return err
	}
	if err := writeShape(bw, p.initialShape); err != nil {
		return err
	}

	if err := writeBin(bw, uint32(len(p.stages))); err != nil {
		return err
	}
	for i := range p.stages {
		stage := &p.stages[i]
		if err := writeBin(bw, uint32(len(stage.Anchors)), stage.Anchors); err != nil {
			return err
		}
		if err := writeShape(bw, stage.Deltas); err != nil {
			return err
		}

		if err := writeBin(bw, uint32(len(stage.Trees))); err != nil {
			return err
		}
		for t := range stage.Trees {
			tree := &stage.Trees[t]
			if err := writeBin(bw, uint32(len(tree.Splits)), tree.Splits); err != nil {
				return err
			}
			if err := writeBin(bw, uint32(len(tree.Leaves))); err != nil {
				return err
			}
			for _, leaf := range tree.Leaves {
				if err := writeShape(bw, leaf); err != nil {
					return err
				}
			}
		}
	}
	return errors.Wrap(bw.Flush(), "failed to flush the model stream")
}

// DecodePredictor reads a predictor previously written by Encode.
func DecodePredictor(r io.Reader) (*Predictor, error) {
	br := bufio.NewReader(r)

	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, errors.Wrap(err, "failed to read the model header")
	}
	if magic != modelMagic {
		return nil, errors.Errorf("not a facemark model file (bad magic %q)", magic)
	}

	var version, numParts uint32
	if err := readBin(br, &version, &numParts); err != nil {
		return nil, err
	}
	if version != modelVersion {
		return nil, errors.Errorf("unsupported model format version %d, expected %d", version, modelVersion)
	}

	p := &Predictor{}
	var err error
	if p.initialShape, err = readShape(br, numParts); err != nil {
		return nil, err
	}

	var numStages uint32
	if err := readBin(br, &numStages); err != nil {
		return nil, err
	}
	p.stages = make([]cascadeStage, numStages)
	for i := range p.stages {
		stage := &p.stages[i]

		var poolSize uint32
		if err := readBin(br, &poolSize); err != nil {
			return nil, err
		}
		stage.Anchors = make([]uint32, poolSize)
		if err := readBin(br, stage.Anchors); err != nil {
			return nil, err
		}
		if stage.Deltas, err = readShape(br, poolSize); err != nil {
			return nil, err
		}

		var numTrees uint32
		if err := readBin(br, &numTrees); err != nil {
			return nil, err
		}
		stage.Trees = make([]regressionTree, numTrees)
		for t := range stage.Trees {
			tree := &stage.Trees[t]

			var numSplits uint32
			if err := readBin(br, &numSplits); err != nil {
				return nil, err
			}
			tree.Splits = make([]splitFeature, numSplits)
			if err := readBin(br, tree.Splits); err != nil {
				return nil, err
			}

			var numLeaves uint32
			if err := readBin(br, &numLeaves); err != nil {
				return nil, err
			}
			tree.Leaves = make([]Shape, numLeaves)
			for l := range tree.Leaves {
				if tree.Leaves[l], err = readShape(br, numParts); err != nil {
					return nil, err
				}
			}
		}
	}
	return p, nil
}

// Save writes the predictor to the named file.
func (p *Predictor) Save(fname string) error {
	f, err := os.Create(fname)
	if err != nil {
		return errors.Wrapf(err, "unable to create the model file %q", fname)
	}
	defer f.Close()

	if err := p.Encode(f); err != nil {
		return err
	}
	return errors.Wrapf(f.Close(), "unable to close the model file %q", fname)
}

// Load reads a predictor from the named file.
func Load(fname string) (*Predictor, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open the model file %q", fname)
	}
	defer f.Close()

	return DecodePredictor(f)
}

// writeBin writes a sequence of fixed-size values in little-endian order.
func writeBin(w io.Writer, vals ...interface{}) error {
	for _, v := range vals {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return errors.Wrap(err, "failed to encode the model")
		}
	}
	return nil
}

// readBin reads a sequence of fixed-size values in little-endian order.
func readBin(r io.Reader, vals ...interface{}) error {
	for _, v := range vals {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return errors.Wrap(err, "failed to decode the model")
		}
	}
	return nil
}

// writeShape writes the points of a shape as interleaved x, y float32 pairs.
func writeShape(w io.Writer, s Shape) error {
	return writeBin(w, []Point(s))
}

// readShape reads a shape of the given length.
func readShape(r io.Reader, numParts uint32) (Shape, error) {
	s := make(Shape, numParts)
	if err := readBin(r, []Point(s)); err != nil {
		return nil, err
	}
	return s, nil
}
