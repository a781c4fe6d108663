package facemark

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestDataset lays a tiny imglab-style dataset into dir: one gray PNG
// and an XML file referencing it. The parts are listed out of order on
// purpose to exercise the numeric sorting.
func writeTestDataset(t *testing.T, dir string) string {
	t.Helper()

	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 20; y < 44; y++ {
		for x := 20; x < 44; x++ {
			img.SetGray(x, y, color.Gray{Y: 200})
		}
	}
	f, err := os.Create(filepath.Join(dir, "sample.png"))
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	meta := `<?xml version="1.0" encoding="UTF-8"?>
<dataset>
  <images>
    <image file="sample.png">
      <box top="10" left="12" width="40" height="42">
        <part name="2" x="30" y="40"/>
        <part name="0" x="22" y="25"/>
        <part name="10" x="41" y="45"/>
        <part name="1" x="38" y="25"/>
      </box>
      <box top="5" left="5" width="20" height="20">
        <part name="0" x="8" y="9"/>
        <part name="1" x="18" y="9"/>
        <part name="2" x="12" y="19"/>
        <part name="10" x="14" y="21"/>
      </box>
    </image>
  </images>
</dataset>
`
	path := filepath.Join(dir, "labels.xml")
	require.NoError(t, os.WriteFile(path, []byte(meta), 0o644))
	return path
}

func TestLoadDataset(t *testing.T) {
	path := writeTestDataset(t, t.TempDir())

	images, detections, err := LoadDataset(path)
	require.NoError(t, err)
	require.Len(t, images, 1)
	require.Len(t, detections, 1)
	require.Len(t, detections[0], 2)

	assert.Equal(t, 64, images[0].Cols)
	assert.Equal(t, 64, images[0].Rows)

	det := detections[0][0]
	assert.Equal(t, NewRect(12, 10, 52, 52), det.Rect)

	// Parts come back sorted by numeric name, so "10" lands last.
	require.Equal(t, 4, det.NumParts())
	assert.Equal(t, Point{X: 22, Y: 25}, det.Points[0])
	assert.Equal(t, Point{X: 38, Y: 25}, det.Points[1])
	assert.Equal(t, Point{X: 30, Y: 40}, det.Points[2])
	assert.Equal(t, Point{X: 41, Y: 45}, det.Points[3])
}

func TestLoadDataset_Errors(t *testing.T) {
	dir := t.TempDir()

	_, _, err := LoadDataset(filepath.Join(dir, "missing.xml"))
	assert.Error(t, err)

	// Unparseable metadata.
	bad := filepath.Join(dir, "bad.xml")
	require.NoError(t, os.WriteFile(bad, []byte("<dataset><images>"), 0o644))
	_, _, err = LoadDataset(bad)
	assert.Error(t, err)

	// Metadata referencing an image that does not exist.
	orphan := filepath.Join(dir, "orphan.xml")
	require.NoError(t, os.WriteFile(orphan, []byte(
		`<dataset><images><image file="gone.png"><box top="0" left="0" width="1" height="1"/></image></images></dataset>`), 0o644))
	_, _, err = LoadDataset(orphan)
	assert.Error(t, err)

	// Non-numeric part name.
	writeTestDataset(t, dir)
	badPart := filepath.Join(dir, "badpart.xml")
	require.NoError(t, os.WriteFile(badPart, []byte(
		`<dataset><images><image file="sample.png"><box top="0" left="0" width="10" height="10"><part name="nose" x="1" y="2"/></box></image></images></dataset>`), 0o644))
	_, _, err = LoadDataset(badPart)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not numeric")
}

func TestTrainFileAndTestFile(t *testing.T) {
	dir := t.TempDir()

	// Reuse the blob fixture as an on-disk dataset so the file-based entry
	// points run through a real training pass.
	images, detections := trainingFixture()
	meta := `<?xml version="1.0" encoding="UTF-8"?>` + "\n<dataset>\n  <images>\n"
	for i := range images {
		name := filepath.Join(dir, "img"+strconv.Itoa(i)+".png")
		gray := image.NewGray(image.Rect(0, 0, images[i].Cols, images[i].Rows))
		copy(gray.Pix, images[i].Pixels)
		f, err := os.Create(name)
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, gray))
		require.NoError(t, f.Close())

		det := detections[i][0]
		meta += `    <image file="` + filepath.Base(name) + `">` + "\n"
		meta += `      <box top="10" left="10" width="80" height="80">` + "\n"
		for k, p := range det.Points {
			meta += `        <part name="` + strconv.Itoa(k) + `" x="` +
				strconv.Itoa(int(p.X)) + `" y="` + strconv.Itoa(int(p.Y)) + `"/>` + "\n"
		}
		meta += "      </box>\n    </image>\n"
	}
	meta += "  </images>\n</dataset>\n"

	path := filepath.Join(dir, "labels.xml")
	require.NoError(t, os.WriteFile(path, []byte(meta), 0o644))

	opts := testOptions()
	opts.CascadeDepth = 2
	opts.NumTreesPerCascade = 10

	p, err := TrainFile(path, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, p.NumParts())

	meanErr, err := TestFile(path, p)
	require.NoError(t, err)
	assert.Greater(t, meanErr, 0.0)
	assert.Less(t, meanErr, float64(20))
}
