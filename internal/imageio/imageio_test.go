package imageio

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

var blueRGBA = color.NRGBA{R: 0, G: 0, B: 255, A: 255}

func requireMats(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		name string
		in   image.Rectangle
		want image.Rectangle
	}{
		{name: "inside", in: image.Rect(1, 2, 3, 4), want: image.Rect(1, 2, 3, 4)},
		{name: "overhang", in: image.Rect(-5, -5, 20, 20), want: image.Rect(0, 0, 10, 8)},
		{name: "swapped corners", in: image.Rectangle{Min: image.Pt(4, 4), Max: image.Pt(2, 2)}, want: image.Rect(2, 2, 4, 4)},
		{name: "outside", in: image.Rect(50, 50, 60, 60), want: image.Rectangle{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Clamp(tt.in, 10, 8)
			if tt.want.Empty() {
				assert.True(t, got.Empty())
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoad_PNG(t *testing.T) {
	requireMats(t)

	path := filepath.Join(t.TempDir(), "cap.png")
	require.NoError(t, imaging.Save(imaging.New(12, 8, blueRGBA), path))

	m, err := Load(path)
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, 12, m.Cols())
	assert.Equal(t, 8, m.Rows())
	assert.Equal(t, gocv.MatTypeCV8UC3, m.Type())

	px := m.GetVecbAt(4, 4)
	assert.Equal(t, []uint8{255, 0, 0}, []uint8{px[0], px[1], px[2]}, "BGR order")
}

func TestLoad_WebP(t *testing.T) {
	requireMats(t)

	path := filepath.Join(t.TempDir(), "cap.webp")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, webp.Encode(f, imaging.New(16, 16, blueRGBA), &webp.Options{Lossless: true}))
	require.NoError(t, f.Close())

	m, err := Load(path)
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, 16, m.Cols())
	assert.Equal(t, 16, m.Rows())
}

func TestLoad_Errors(t *testing.T) {
	requireMats(t)

	t.Run("missing file", func(t *testing.T) {
		m, err := Load(filepath.Join(t.TempDir(), "nope.jpg"))
		defer m.Close()
		assert.Error(t, err)
	})

	t.Run("not an image", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "notes.jpg")
		require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

		m, err := Load(path)
		defer m.Close()
		assert.True(t, errors.Is(err, ErrUnknownFormat))
	})
}

func TestDecode(t *testing.T) {
	requireMats(t)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, imaging.New(6, 5, blueRGBA)))

	m, err := Decode(buf.Bytes())
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, 6, m.Cols())
	assert.Equal(t, 5, m.Rows())

	_, err = Decode(nil)
	assert.True(t, errors.Is(err, ErrUnknownFormat))

	bad, err := Decode([]byte("garbage"))
	defer bad.Close()
	assert.True(t, errors.Is(err, ErrUnknownFormat))
}

func TestCrop(t *testing.T) {
	requireMats(t)

	m := gocv.NewMatWithSize(20, 30, gocv.MatTypeCV8UC3)
	defer m.Close()

	crop, ok := Crop(m, image.Rect(25, 15, 40, 40))
	require.True(t, ok)
	defer crop.Close()
	assert.Equal(t, 5, crop.Cols())
	assert.Equal(t, 5, crop.Rows())

	empty, ok := Crop(m, image.Rect(100, 100, 120, 120))
	defer empty.Close()
	assert.False(t, ok)
}

func TestAnnotateAndSave(t *testing.T) {
	requireMats(t)

	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 64, 64, gocv.MatTypeCV8UC3)
	defer m.Close()

	Annotate(&m, []Label{
		{Box: image.Rect(10, 10, 40, 40), Text: "Dark Blue 0.91", Color: color.RGBA{R: 0, G: 0, B: 139, A: 255}},
		{Box: image.Rect(200, 200, 300, 300), Text: "off frame"},
	})

	px := m.GetVecbAt(10, 20)
	assert.NotEqual(t, []uint8{0, 0, 0}, []uint8{px[0], px[1], px[2]}, "box edge drawn")

	dir := t.TempDir()
	for _, name := range []string{"out.jpg", "out.png", "nested/out.webp"} {
		path := filepath.Join(dir, name)
		require.NoError(t, Save(path, m), name)
		assert.FileExists(t, path)
	}

	empty := gocv.NewMat()
	defer empty.Close()
	assert.Error(t, Save(filepath.Join(dir, "empty.png"), empty))
}
