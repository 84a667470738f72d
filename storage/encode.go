package storage

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	"github.com/abihf/camrec/capture"
	"github.com/pkg/errors"
)

func encode(w io.Writer, path string, frame *capture.Frame, quality int) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		img, err := toImage(frame)
		if err != nil {
			return err
		}
		return errors.Wrap(png.Encode(w, img), "PNG encode failed")

	case ".jpg", ".jpeg":
		if frame.Format == capture.FormatMJPG {
			_, err := w.Write(frame.Data)
			return err
		}
		img, err := toImage(frame)
		if err != nil {
			return err
		}
		if quality <= 0 {
			quality = 90
		}
		return errors.Wrap(jpeg.Encode(w, img, &jpeg.Options{Quality: quality}), "JPEG encode failed")

	default:
		_, err := w.Write(frame.Data)
		return err
	}
}

func toImage(frame *capture.Frame) (image.Image, error) {
	w, h := frame.Width, frame.Height
	rect := image.Rect(0, 0, w, h)

	switch frame.Format {
	case capture.FormatMJPG:
		img, err := jpeg.Decode(bytes.NewReader(frame.Data))
		return img, errors.Wrap(err, "Can not decode MJPG frame")

	case capture.FormatGrey:
		if len(frame.Data) < w*h {
			return nil, errors.Errorf("invalid GREY data size: got %d, expected %d", len(frame.Data), w*h)
		}
		return &image.Gray{Pix: frame.Data[:w*h], Stride: w, Rect: rect}, nil

	case capture.FormatYUYV, capture.FormatUYVY:
		if w%2 != 0 || len(frame.Data) < w*h*2 {
			return nil, errors.Errorf("invalid %s data size: got %d, expected %d", frame.Format, len(frame.Data), w*h*2)
		}
		// byte offsets of Y0, Cb, Y1, Cr inside each 4-byte macropixel
		y0, cb, y1, cr := 0, 1, 2, 3
		if frame.Format == capture.FormatUYVY {
			y0, cb, y1, cr = 1, 0, 3, 2
		}
		img := image.NewYCbCr(rect, image.YCbCrSubsampleRatio422)
		for y := 0; y < h; y++ {
			row := frame.Data[y*w*2 : (y+1)*w*2]
			for x := 0; x < w; x += 2 {
				px := row[x*2 : x*2+4]
				img.Y[y*img.YStride+x] = px[y0]
				img.Y[y*img.YStride+x+1] = px[y1]
				img.Cb[y*img.CStride+x/2] = px[cb]
				img.Cr[y*img.CStride+x/2] = px[cr]
			}
		}
		return img, nil
	}
	return nil, errors.Errorf("Unsupported pixel format %q", frame.Format)
}
