package assembler

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// normalizeRGB decodes the image at path, converts it to opaque 8-bit RGB
// and rewrites the file in place as PNG. The encoded bytes are returned.
func normalizeRGB(path string) ([]byte, image.Rectangle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, image.Rectangle{}, err
	}
	src, format, err := image.Decode(f)
	f.Close()
	if err != nil {
		return nil, image.Rectangle{}, fmt.Errorf("decode %s: %w", path, err)
	}

	rgb := toRGB(src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, rgb); err != nil {
		return nil, image.Rectangle{}, fmt.Errorf("encode %s (was %s): %w", path, format, err)
	}
	if err := replaceFile(path, buf.Bytes()); err != nil {
		return nil, image.Rectangle{}, err
	}
	return buf.Bytes(), rgb.Bounds(), nil
}

// toRGB drops the alpha channel without compositing: colour values are
// kept as stored (non-premultiplied) and every pixel becomes opaque.
func toRGB(src image.Image) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}

func replaceFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
