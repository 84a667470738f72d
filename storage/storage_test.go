package storage

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/abihf/camrec/capture"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func greyFrame(w, h int, v byte) *capture.Frame {
	data := bytes.Repeat([]byte{v}, w*h)
	return &capture.Frame{Data: data, Width: w, Height: h, Format: capture.FormatGrey, Timestamp: time.Now()}
}

func TestFiles_WritePNG(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "picture-1.png")

	require.NoError(t, NewFiles().Write(path, greyFrame(4, 2, 77)))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 2), img.Bounds())
	assert.Equal(t, color.Gray{Y: 77}, color.GrayModel.Convert(img.At(3, 1)))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())
}

func TestFiles_WriteYUYVAsPNG(t *testing.T) {
	frame := &capture.Frame{
		// two pixels: Y0=16 Y1=235 with neutral chroma
		Data:   []byte{16, 128, 235, 128},
		Width:  2,
		Height: 1,
		Format: capture.FormatYUYV,
	}
	path := filepath.Join(t.TempDir(), "yuyv.png")
	require.NoError(t, NewFiles().Write(path, frame))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)

	dark := color.GrayModel.Convert(img.At(0, 0)).(color.Gray)
	bright := color.GrayModel.Convert(img.At(1, 0)).(color.Gray)
	assert.Less(t, dark.Y, bright.Y)
}

func TestFiles_WriteRawPassthrough(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.raw")
	frame := greyFrame(3, 3, 9)
	require.NoError(t, NewFiles().Write(path, frame))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, frame.Data, got)
}

func TestFiles_WriteMJPGAsJPEG(t *testing.T) {
	var buf bytes.Buffer
	src := image.NewGray(image.Rect(0, 0, 8, 8))
	require.NoError(t, jpeg.Encode(&buf, src, nil))
	frame := &capture.Frame{Data: buf.Bytes(), Width: 8, Height: 8, Format: capture.FormatMJPG}

	path := filepath.Join(t.TempDir(), "frame.jpg")
	require.NoError(t, NewFiles().Write(path, frame))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, frame.Data, got, "MJPG must be stored without re-encoding")
}

func TestFiles_WriteGreyAsJPEG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.jpeg")
	require.NoError(t, NewFiles().Write(path, greyFrame(8, 8, 128)))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := jpeg.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Width)
}

func TestFiles_WriteFailure(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name  string
		store *Files
		path  string
		frame *capture.Frame
	}{
		{
			name:  "missing directory",
			store: &Files{CreateDirs: false},
			path:  filepath.Join(dir, "missing", "a.png"),
			frame: greyFrame(2, 2, 0),
		},
		{
			name:  "short data",
			store: NewFiles(),
			path:  filepath.Join(dir, "short.png"),
			frame: &capture.Frame{Data: []byte{1}, Width: 4, Height: 4, Format: capture.FormatGrey},
		},
		{
			name:  "nil frame",
			store: NewFiles(),
			path:  filepath.Join(dir, "nil.png"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.store.Write(tt.path, tt.frame)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrWriteFailure))

			var we *WriteError
			require.True(t, errors.As(err, &we))
			assert.Equal(t, tt.path, we.Path)

			_, statErr := os.Stat(tt.path)
			assert.True(t, os.IsNotExist(statErr), "partial file left behind")
		})
	}
}
