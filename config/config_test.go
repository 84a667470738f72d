package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFile_Defaults(t *testing.T) {
	t.Setenv("CAMREC_SOCKET", "")
	conf := LoadFile(writeConfig(t, `{"device": "/dev/video2"}`))

	assert.Equal(t, "/dev/video2", conf.Device)
	assert.Equal(t, 640, conf.Width)
	assert.Equal(t, 480, conf.Height)
	assert.Equal(t, 20.0, conf.Framerate)
	assert.Equal(t, "MJPG", conf.PixelFormat)
	assert.Equal(t, -1, conf.CaptureCore)
	assert.Equal(t, 2, conf.WriterThreads)
	assert.Equal(t, "picture-{}.png", conf.PathTemplate)
	assert.Equal(t, 5*time.Second, conf.SingleShotTimeoutDuration())
	assert.Equal(t, "/var/run/camrec.sock", conf.Socket)
	assert.Equal(t, slog.LevelInfo, conf.Level())
}

func TestLoadFile_Overrides(t *testing.T) {
	conf := LoadFile(writeConfig(t, `{
		"device": "Acme_IR",
		"width": 340,
		"height": 340,
		"pixel_format": "GREY",
		"capture_core": 3,
		"writer_threads": 4,
		"output_dir": "/data/frames",
		"path_template": "ir-{}.raw",
		"single_shot_timeout": 2,
		"log_level": "debug"
	}`))

	assert.Equal(t, 340, conf.Width)
	assert.Equal(t, "GREY", conf.PixelFormat)
	assert.Equal(t, 3, conf.CaptureCore)
	assert.Equal(t, 4, conf.WriterThreads)
	assert.Equal(t, "/data/frames/ir-{}.raw", conf.PathTemplate)
	assert.Equal(t, 2*time.Second, conf.SingleShotTimeoutDuration())
	assert.Equal(t, slog.LevelDebug, conf.Level())
}

func TestLoadFile_AbsoluteTemplateIgnoresOutputDir(t *testing.T) {
	conf := LoadFile(writeConfig(t, `{"device": "x", "output_dir": "/a", "path_template": "/b/{}.png"}`))
	assert.Equal(t, "/b/{}.png", conf.PathTemplate)
}

func TestLoadFile_PanicsWithoutDevice(t *testing.T) {
	assert.PanicsWithValue(t, "Device not set", func() {
		LoadFile(writeConfig(t, `{"width": 100}`))
	})
	assert.PanicsWithValue(t, "Device not set", func() {
		LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	})
	assert.PanicsWithValue(t, "Device not set", func() {
		LoadFile(writeConfig(t, `{not json`))
	})
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("CAMREC_CONFIG", writeConfig(t, `{"device": "/dev/video9"}`))
	assert.Equal(t, "/dev/video9", Load().Device)
}

func TestLoadFile_CameraControls(t *testing.T) {
	conf := LoadFile(writeConfig(t, `{
		"device": "x",
		"settings_file": "/etc/camrec/settings.json",
		"controls": {"brightness": 120},
		"zoom": 200,
		"pan": 0
	}`))

	assert.Equal(t, "standard", conf.Setting)
	assert.Equal(t, map[string]int32{"brightness": 120}, conf.Controls)
	require.NotNil(t, conf.Zoom)
	assert.Equal(t, int32(200), *conf.Zoom)
	require.NotNil(t, conf.Pan)
	assert.Equal(t, int32(0), *conf.Pan)
	assert.Nil(t, conf.Tilt)
}

func TestSocketPath(t *testing.T) {
	t.Setenv("CAMREC_SOCKET", "")

	t.Run("config file", func(t *testing.T) {
		path := writeConfig(t, `{"device": "x", "socket": "/run/cam/ctl.sock"}`)
		t.Setenv("CAMREC_CONFIG", path)
		assert.Equal(t, "/run/cam/ctl.sock", SocketPath())
		assert.Equal(t, SocketPath(), LoadFile(path).Socket)
	})

	t.Run("config without device", func(t *testing.T) {
		t.Setenv("CAMREC_CONFIG", writeConfig(t, `{"socket": "/run/cam/other.sock"}`))
		assert.Equal(t, "/run/cam/other.sock", SocketPath())
	})

	t.Run("env wins", func(t *testing.T) {
		path := writeConfig(t, `{"device": "x", "socket": "/run/cam/ctl.sock"}`)
		t.Setenv("CAMREC_CONFIG", path)
		t.Setenv("CAMREC_SOCKET", "/tmp/override.sock")
		assert.Equal(t, "/tmp/override.sock", SocketPath())
		assert.Equal(t, "/tmp/override.sock", LoadFile(path).Socket)
	})

	t.Run("default", func(t *testing.T) {
		t.Setenv("CAMREC_CONFIG", filepath.Join(t.TempDir(), "missing.json"))
		assert.Equal(t, "/var/run/camrec.sock", SocketPath())
	})
}
