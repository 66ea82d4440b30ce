package classify

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"golang.org/x/image/draw"
)

// ErrNoPixelData is returned for DICOM files without a decodable frame.
var ErrNoPixelData = errors.New("dicom file has no pixel data")

// decodeFunc loads an image from disk for a classifier variant.
type decodeFunc func(path string) (image.Image, error)

// decodeRaster reads PNG or JPEG files and flattens them to RGB.
func decodeRaster(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	return toRGBA(img), nil
}

// decodeScan accepts DICOM as well as raster images. DICOM is detected by
// extension, matching what the upload front-end accepts.
func decodeScan(path string) (image.Image, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".dcm", ".dicom":
		return decodeDICOM(path)
	default:
		return decodeRaster(path)
	}
}

// decodeDICOM takes the first frame of the pixel data and min-max scales it
// to 8-bit grey.
func decodeDICOM(path string) (image.Image, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("parse dicom: %w", err)
	}
	el, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, ErrNoPixelData
	}
	info, ok := el.Value.GetValue().(dicom.PixelDataInfo)
	if !ok || len(info.Frames) == 0 {
		return nil, ErrNoPixelData
	}
	frame, err := info.Frames[0].GetImage()
	if err != nil {
		return nil, fmt.Errorf("dicom frame: %w", err)
	}
	return toRGBA(minMaxGray(frame)), nil
}

// minMaxGray rescales luminance so the darkest pixel is 0 and the brightest
// 255. A flat image becomes black.
func minMaxGray(src image.Image) *image.Gray {
	b := src.Bounds()
	lo, hi := uint32(math.MaxUint32), uint32(0)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := luminance(src, x, y)
			lo = min(lo, v)
			hi = max(hi, v)
		}
	}

	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	if hi <= lo {
		return dst
	}
	span := float64(hi - lo)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := float64(luminance(src, x, y)-lo) / span * 255
			dst.Pix[(y-b.Min.Y)*dst.Stride+(x-b.Min.X)] = uint8(math.Round(v))
		}
	}
	return dst
}

func luminance(img image.Image, x, y int) uint32 {
	r, g, b, _ := img.At(x, y).RGBA()
	return (19595*r + 38470*g + 7471*b + 1<<15) >> 16
}

func toRGBA(src image.Image) *image.RGBA {
	if rgba, ok := src.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// resizeSquare scales src to size x size, ignoring aspect ratio the way the
// model's image processor does.
func resizeSquare(src image.Image, size int) image.Image {
	if b := src.Bounds(); b.Dx() == size && b.Dy() == size {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
