package main

import (
	"errors"
	"flag"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/esimov/facemark"
	"github.com/esimov/facemark/utils"
	pigo "github.com/esimov/pigo/core"
	"golang.org/x/image/bmp"
	"golang.org/x/term"
)

const helpBanner = `
┌─┐┌─┐┌─┐┌─┐┌┬┐┌─┐┬─┐┬┌─
├┤ ├─┤│  ├┤ │││├─┤├┬┘├┴┐
└  ┴ ┴└─┘└─┘┴ ┴┴ ┴┴└─┴ ┴

Facial landmark detection library.
    Version: %s

`

// pipeName is the file name that indicates stdin/stdout is being used.
const pipeName = "-"

// Version indicates the current build version.
var Version string

var (
	// Flags
	trainSet    = flag.String("train", "", "Training dataset (XML)")
	testSet     = flag.String("test", "", "Test dataset (XML)")
	modelFile   = flag.String("model", "", "Model file to write (train) or read (test, predict)")
	source      = flag.String("in", "", "Source image")
	destination = flag.String("out", pipeName, "Destination image")
	cascade     = flag.String("cc", "", "Pigo cascade classifier used to detect the face boxes")
	boxFlag     = flag.String("box", "", "Bounding box as left,top,right,bottom (alternative to -cc)")
	faceAngle   = flag.Float64("angle", 0.0, "Plane rotated faces angle")
	minFaceSize = flag.Int("min", 100, "Minimum face size the detector looks for")
	marker      = flag.String("marker", "dot", "Landmark marker shape (dot, cross)")
	markerSize  = flag.Int("msize", 2, "Landmark marker size")
	showBox     = flag.Bool("rect", false, "Draw the bounding box together with the landmarks")

	// Training hyperparameters
	cascades     = flag.Int("cascades", 10, "Number of cascade stages")
	treeDepth    = flag.Int("depth", 4, "Regression tree depth")
	numTrees     = flag.Int("trees", 500, "Number of trees per cascade stage")
	nu           = flag.Float64("nu", 0.1, "Leaf shrinkage in (0, 1]")
	oversampling = flag.Int("oversampling", 20, "Training samples generated per labeled detection")
	poolSize     = flag.Int("pool", 400, "Feature pool size per cascade stage")
	lambda       = flag.Float64("lambda", 0.1, "Feature locality parameter")
	testSplits   = flag.Int("splits", 20, "Candidate splits tested per tree node")
	poolPadding  = flag.Float64("padding", 0.0, "Feature pool region padding")
	seed         = flag.Int64("seed", 0, "Random seed of the training run")
	workers      = flag.Int("conc", runtime.NumCPU(), "Number of concurrent workers used for training")
)

func main() {
	log.SetFlags(0)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, helpBanner, Version)
		flag.PrintDefaults()
	}
	flag.Parse()

	now := time.Now()

	switch {
	case *trainSet != "":
		train()
	case *testSet != "":
		test()
	case *source != "":
		predict()
	default:
		flag.Usage()
		log.Fatal(utils.DecorateText("\nPlease provide a dataset to train or test, or an input image to predict on!", utils.ErrorMessage))
	}

	fmt.Fprintf(os.Stderr, "\nExecution time: %s\n",
		utils.DecorateText(utils.FormatTime(time.Since(now)), utils.SuccessMessage))
}

// train grows a predictor from the labeled dataset and serializes it to the model file.
func train() {
	if *modelFile == "" {
		log.Fatal(utils.DecorateText("Please specify an output model file using the -model flag!", utils.ErrorMessage))
	}

	opts := facemark.TrainingOptions{
		CascadeDepth:             *cascades,
		TreeDepth:                *treeDepth,
		NumTreesPerCascade:       *numTrees,
		Nu:                       float32(*nu),
		OversamplingAmount:       *oversampling,
		FeaturePoolSize:          *poolSize,
		Lambda:                   float32(*lambda),
		NumTestSplits:            *testSplits,
		FeaturePoolRegionPadding: float32(*poolPadding),
		RandomSeed:               *seed,
		NumWorkers:               *workers,
	}

	spinner := newSpinner("is training the model...")
	spinner.Start()

	p, err := facemark.TrainFile(*trainSet, opts)
	spinner.Stop()
	if err != nil {
		fatalf("Error training the model: %v", err)
	}
	if err := p.Save(*modelFile); err != nil {
		fatalf("Error saving the model: %v", err)
	}

	fmt.Fprintf(os.Stderr, "\nSaved the trained model (%d parts, %d stages) to %s\n",
		p.NumParts(), p.NumStages(),
		utils.DecorateText(*modelFile, utils.SuccessMessage))
}

// test evaluates an already trained predictor against a labeled dataset.
func test() {
	p := loadModel()

	spinner := newSpinner("is evaluating the model...")
	spinner.Start()

	meanErr, err := facemark.TestFile(*testSet, p)
	spinner.Stop()
	if err != nil {
		fatalf("Error evaluating the model: %v", err)
	}
	fmt.Fprintf(os.Stderr, "\nMean average error: %s\n",
		utils.DecorateText(strconv.FormatFloat(meanErr, 'f', 6, 64), utils.SuccessMessage))
}

// predict locates the landmarks on the source image, inside either the
// detected face boxes or the explicitly provided rectangle, and renders the
// markers into the destination image.
func predict() {
	p := loadModel()

	src, err := openSource(*source)
	if err != nil {
		fatalf("Failed to load the source image: %v", err)
	}

	img := decodeImage(src)
	gray := facemark.ImageFromImage(img)

	var rects []facemark.Rect
	if *boxFlag != "" {
		rect, err := parseRect(*boxFlag)
		if err != nil {
			fatalf("Invalid -box value: %v", err)
		}
		rects = append(rects, rect)
	} else if *cascade != "" {
		rects, err = detectFaces(gray)
		if err != nil {
			fatalf("Face detection failed: %v", err)
		}
		if len(rects) == 0 {
			fatalf("No faces found in %s", *source)
		}
	} else {
		log.Fatal(utils.DecorateText("Please provide either a face classifier (-cc) or an explicit bounding box (-box)!", utils.ErrorMessage))
	}

	out := cloneToNRGBA(img)
	markerCol := color.NRGBA{R: 0xff, G: 0x00, B: 0x6e, A: 0xff}
	boxCol := color.NRGBA{R: 0x00, G: 0xb4, B: 0xd8, A: 0xff}

	for _, rect := range rects {
		det, err := p.Predict(gray, rect)
		if err != nil {
			fatalf("Error predicting the landmarks: %v", err)
		}
		if *showBox {
			facemark.DrawRect(out, rect, boxCol)
		}
		facemark.DrawLandmarks(out, det, facemark.MarkerStyle(*marker), *markerSize, markerCol)
	}

	if err := writeImage(*destination, out); err != nil {
		fatalf("Error writing the output image: %v", err)
	}
}

// loadModel reads the predictor named by the -model flag.
func loadModel() *facemark.Predictor {
	if *modelFile == "" {
		log.Fatal(utils.DecorateText("Please specify a trained model file using the -model flag!", utils.ErrorMessage))
	}
	p, err := facemark.Load(*modelFile)
	if err != nil {
		fatalf("Error loading the model: %v", err)
	}
	return p
}

// detectFaces runs the pigo face detector over the grayscale image and
// returns the clustered detections as bounding rectangles.
func detectFaces(gray *facemark.Image) ([]facemark.Rect, error) {
	cascadeData, err := os.ReadFile(*cascade)
	if err != nil {
		return nil, fmt.Errorf("unable to read the cascade file: %v", err)
	}

	classifier := pigo.NewPigo()
	// Unpack the binary file. This will return the number of cascade trees,
	// the tree depth, the threshold and the prediction from tree's leaf nodes.
	classifier, err = classifier.Unpack(cascadeData)
	if err != nil {
		return nil, fmt.Errorf("error unpacking the cascade file: %v", err)
	}

	cParams := pigo.CascadeParams{
		MinSize:     *minFaceSize,
		MaxSize:     utils.Max(gray.Cols, gray.Rows),
		ShiftFactor: 0.1,
		ScaleFactor: 1.1,

		ImageParams: pigo.ImageParams{
			Pixels: gray.Pixels,
			Rows:   gray.Rows,
			Cols:   gray.Cols,
			Dim:    gray.Cols,
		},
	}

	faces := classifier.RunCascade(cParams, *faceAngle)
	faces = classifier.ClusterDetections(faces, 0.2)

	var rects []facemark.Rect
	for _, face := range faces {
		if face.Q > 5.0 {
			rects = append(rects, facemark.NewRect(
				float32(face.Col-face.Scale/2),
				float32(face.Row-face.Scale/2),
				float32(face.Col+face.Scale/2),
				float32(face.Row+face.Scale/2),
			))
		}
	}
	return rects, nil
}

// parseRect parses the left,top,right,bottom form of the -box flag.
func parseRect(s string) (facemark.Rect, error) {
	fields := strings.Split(s, ",")
	if len(fields) != 4 {
		return facemark.Rect{}, fmt.Errorf("expected left,top,right,bottom, got %q", s)
	}
	var vals [4]float32
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
		if err != nil {
			return facemark.Rect{}, fmt.Errorf("invalid coordinate %q: %v", f, err)
		}
		vals[i] = float32(v)
	}
	rect := facemark.NewRect(vals[0], vals[1], vals[2], vals[3])
	if rect.IsDegenerate() {
		return facemark.Rect{}, fmt.Errorf("the bounding box %s is degenerate", rect)
	}
	return rect, nil
}

// openSource opens the input image, supporting `-` as the stdin pipe name.
func openSource(in string) (io.Reader, error) {
	if in == pipeName {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			return nil, errors.New("`-` should be used with a pipe for stdin")
		}
		return os.Stdin, nil
	}
	return os.Open(in)
}

// decodeImage decodes the source stream or bails out with a descriptive error.
func decodeImage(r io.Reader) image.Image {
	img, _, err := image.Decode(r)
	if err != nil {
		fatalf("Unsupported image type, must be 8bit gray or RGB image: %v", err)
	}
	return img
}

// cloneToNRGBA copies the decoded image into a drawable NRGBA canvas.
func cloneToNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

// writeImage encodes the rendered result based on the destination extension,
// supporting `-` as the stdout pipe name.
func writeImage(out string, img image.Image) error {
	if out == pipeName {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			return errors.New("`-` should be used with a pipe for stdout")
		}
		return jpeg.Encode(os.Stdout, img, &jpeg.Options{Quality: 100})
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("unable to create the destination file: %v", err)
	}
	defer f.Close()

	switch ext := strings.ToLower(filepath.Ext(out)); ext {
	case "", ".jpg", ".jpeg":
		return jpeg.Encode(f, img, &jpeg.Options{Quality: 100})
	case ".png":
		return png.Encode(f, img)
	case ".bmp":
		return bmp.Encode(f, img)
	default:
		return fmt.Errorf("%v file type not supported", ext)
	}
}

// newSpinner creates a progress indicator with the CLI's standard styling.
func newSpinner(msg string) *utils.Spinner {
	text := fmt.Sprintf("%s %s",
		utils.DecorateText("⚡ FACEMARK", utils.StatusMessage),
		utils.DecorateText(msg, utils.DefaultMessage))
	s := utils.NewSpinner(text, time.Millisecond*200, true)
	s.StopMsg = fmt.Sprintf("%s %s",
		utils.DecorateText("⚡ FACEMARK", utils.StatusMessage),
		utils.DecorateText(msg+" ✔", utils.DefaultMessage))
	return s
}

// fatalf reports the error in the CLI's standard styling and exits.
func fatalf(format string, args ...interface{}) {
	log.Fatalf(
		utils.DecorateText("\n"+format+"\n", utils.ErrorMessage),
		args...,
	)
}
