package commands

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/CutoutCam/internal/config"
)

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func TestCompositeFiles(t *testing.T) {
	dir := t.TempDir()

	src := image.NewNRGBA(image.Rect(0, 0, 4, 2))
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i], src.Pix[i+1], src.Pix[i+2], src.Pix[i+3] = 10, 20, 30, 255
	}
	mask := image.NewGray(image.Rect(0, 0, 4, 2))
	mask.SetGray(0, 0, color.Gray{Y: 255})
	mask.SetGray(1, 0, color.Gray{Y: 129})
	mask.SetGray(2, 0, color.Gray{Y: 128})

	framePath := filepath.Join(dir, "frame.png")
	maskPath := filepath.Join(dir, "mask.png")
	outPath := filepath.Join(dir, "out.png")
	writePNG(t, framePath, src)
	writePNG(t, maskPath, mask)

	res, err := compositeFiles(framePath, maskPath, outPath, 128, false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Visible)

	out, err := imaging.Open(outPath)
	require.NoError(t, err)
	nrgba := imaging.Clone(out)
	assert.Equal(t, color.NRGBA{R: 10, G: 20, B: 30, A: 255}, nrgba.NRGBAAt(0, 0))
	assert.Equal(t, uint8(129), nrgba.NRGBAAt(1, 0).A)
	assert.Equal(t, uint8(0), nrgba.NRGBAAt(2, 0).A)
	assert.Equal(t, uint8(0), nrgba.NRGBAAt(3, 1).A)
}

func TestCompositeFilesSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	framePath := filepath.Join(dir, "frame.png")
	maskPath := filepath.Join(dir, "mask.png")
	writePNG(t, framePath, image.NewNRGBA(image.Rect(0, 0, 8, 8)))

	mask := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range mask.Pix {
		mask.Pix[i] = 255
	}
	writePNG(t, maskPath, mask)

	_, err := compositeFiles(framePath, maskPath, filepath.Join(dir, "out.png"), 128, false)
	assert.ErrorContains(t, err, "size_mismatch")

	res, err := compositeFiles(framePath, maskPath, filepath.Join(dir, "out.png"), 128, true)
	require.NoError(t, err)
	assert.Equal(t, 64, res.Visible)

	_, err = compositeFiles(filepath.Join(dir, "missing.png"), maskPath, filepath.Join(dir, "out.png"), 128, false)
	assert.Error(t, err)
}

func TestSetConfigValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := setConfigValue(path, "server.port", "9090")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	require.NoError(t, config.Save(path, cfg))

	cfg, err = setConfigValue(path, "transition.duration", "500ms")
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.Transition.Duration)
	assert.Equal(t, 9090, cfg.Server.Port, "earlier value kept")

	_, err = setConfigValue(path, "compositor.alpha_threshold", "300")
	assert.Error(t, err)

	_, err = setConfigValue(path, "no.such.key", "1")
	assert.Error(t, err)
}

func TestWriteConfig(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeConfig(&buf, config.Defaults(), "yaml"))
	assert.Contains(t, buf.String(), "alpha_threshold: 128")

	buf.Reset()
	require.NoError(t, writeConfig(&buf, config.Defaults(), "json"))
	assert.Contains(t, buf.String(), `"alpha_threshold": 128`)

	assert.Error(t, writeConfig(&buf, config.Defaults(), "toml"))
}
