package facemark

import (
	"image"
	"image/color"
)

// Image is the read-only 8-bit grayscale pixel source the predictor
// samples its intensity features from. RGB inputs are reduced to their
// luminance plane once, at construction time, so that the core never has
// to branch on the pixel format again.
type Image struct {
	// Pixels holds the luminance plane in row-major order.
	Pixels []uint8
	// Cols and Rows are the image width and height.
	Cols, Rows int
}

// NewImage wraps an already grayscale pixel plane.
func NewImage(pixels []uint8, cols, rows int) *Image {
	return &Image{Pixels: pixels, Cols: cols, Rows: rows}
}

// ImageFromImage converts any image.Image into a grayscale pixel source.
// Grayscale inputs are copied over directly, everything else goes through
// the standard luminance conversion.
func ImageFromImage(src image.Image) *Image {
	if gray, ok := src.(*image.Gray); ok {
		return grayToImage(gray)
	}
	return nrgbaToImage(imgToNRGBA(src))
}

// At returns the intensity at the given pixel position. Positions outside
// of the image bounds read as zero intensity instead of failing, since the
// feature sampler may probe slightly outside of the detection box.
func (img *Image) At(x, y int) uint8 {
	if x < 0 || x >= img.Cols || y < 0 || y >= img.Rows {
		return 0
	}
	return img.Pixels[y*img.Cols+x]
}

// grayToImage copies the pixel plane of a grayscale image row by row,
// honoring its stride and a possibly non-zero origin.
func grayToImage(src *image.Gray) *Image {
	b := src.Bounds()
	dx, dy := b.Dx(), b.Dy()
	pixels := make([]uint8, dx*dy)
	for y := 0; y < dy; y++ {
		si := src.PixOffset(b.Min.X, b.Min.Y+y)
		copy(pixels[y*dx:(y+1)*dx], src.Pix[si:si+dx])
	}
	return &Image{Pixels: pixels, Cols: dx, Rows: dy}
}

// nrgbaToImage converts an NRGBA image to its luminance plane and
// returns the pixel values as a one dimensional array.
func nrgbaToImage(src *image.NRGBA) *Image {
	width, height := src.Bounds().Dx(), src.Bounds().Dy()
	gray := make([]uint8, width*height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := src.At(x, y).RGBA()
			gray[y*width+x] = uint8(
				(0.299*float64(r) +
					0.587*float64(g) +
					0.114*float64(b)) / 256,
			)
		}
	}

	return &Image{Pixels: gray, Cols: width, Rows: height}
}

// imgToNRGBA converts any image type to *image.NRGBA with min-point at (0, 0).
func imgToNRGBA(img image.Image) *image.NRGBA {
	srcBounds := img.Bounds()
	if srcBounds.Min.X == 0 && srcBounds.Min.Y == 0 {
		if src0, ok := img.(*image.NRGBA); ok {
			return src0
		}
	}
	srcMinX := srcBounds.Min.X
	srcMinY := srcBounds.Min.Y

	dstBounds := srcBounds.Sub(srcBounds.Min)
	dstW := dstBounds.Dx()
	dstH := dstBounds.Dy()
	dst := image.NewNRGBA(dstBounds)

	switch src := img.(type) {
	case *image.NRGBA:
		rowSize := srcBounds.Dx() * 4
		for dstY := 0; dstY < dstH; dstY++ {
			di := dst.PixOffset(0, dstY)
			si := src.PixOffset(srcMinX, srcMinY+dstY)
			copy(dst.Pix[di:di+rowSize], src.Pix[si:si+rowSize])
		}
	case *image.YCbCr:
		for dstY := 0; dstY < dstH; dstY++ {
			di := dst.PixOffset(0, dstY)
			for dstX := 0; dstX < dstW; dstX++ {
				srcX := srcMinX + dstX
				srcY := srcMinY + dstY
				siy := src.YOffset(srcX, srcY)
				sic := src.COffset(srcX, srcY)
				r, g, b := color.YCbCrToRGB(src.Y[siy], src.Cb[sic], src.Cr[sic])
				dst.Pix[di+0] = r
				dst.Pix[di+1] = g
				dst.Pix[di+2] = b
				dst.Pix[di+3] = 0xff
				di += 4
			}
		}
	default:
		for dstY := 0; dstY < dstH; dstY++ {
			di := dst.PixOffset(0, dstY)
			for dstX := 0; dstX < dstW; dstX++ {
				c := color.NRGBAModel.Convert(img.At(srcMinX+dstX, srcMinY+dstY)).(color.NRGBA)
				dst.Pix[di+0] = c.R
				dst.Pix[di+1] = c.G
				dst.Pix[di+2] = c.B
				dst.Pix[di+3] = c.A
				di += 4
			}
		}
	}
	return dst
}
