package ocr

import (
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"os"
)

// preprocessFile converts the image at src to grayscale and, when threshold
// is positive, binarizes it: pixels below threshold become black and the
// rest white. The result is written to dst as PNG.
func preprocessFile(src, dst string, grayscale bool, threshold int) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	img, _, err := image.Decode(in)
	_ = in.Close()
	if err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if err := png.Encode(out, preprocess(img, grayscale, threshold)); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func preprocess(img image.Image, grayscale bool, threshold int) image.Image {
	if !grayscale && threshold <= 0 {
		return img
	}
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			v := color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
			if threshold > 0 {
				if int(v) < threshold {
					v = 0
				} else {
					v = 255
				}
			}
			gray.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return gray
}
