package capture

import (
	"encoding/json"
	"os"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// Control names as printed by v4l2-ctl -l.
const (
	ControlZoom = "zoom_absolute"
	ControlPan  = "pan_absolute"
	ControlTilt = "tilt_absolute"
)

const (
	zoomMin      = 100
	zoomMax      = 800
	panTiltLimit = 648000
	panTiltStep  = 3600
)

var (
	ErrInvalidControl     = errors.New("invalid control value")
	ErrUnknownControl     = errors.New("unknown control")
	ErrControlUnsupported = errors.New("source has no controls")
)

// Controller is implemented by sources whose camera controls can be set.
type Controller interface {
	SetControl(name string, value int32) error
}

// ControlKey turns a driver control name such as "Zoom, Absolute" into the
// v4l2-ctl form "zoom_absolute".
func ControlKey(name string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}

// ValidateControl checks the ranges of the zoom, pan and tilt controls.
// Other controls are range checked by the driver.
func ValidateControl(name string, value int32) error {
	switch ControlKey(name) {
	case "":
		return errors.Wrap(ErrUnknownControl, "empty control name")
	case ControlZoom:
		if value < zoomMin || value > zoomMax {
			return errors.Wrapf(ErrInvalidControl, "zoom has to be between %d and %d, got %d", zoomMin, zoomMax, value)
		}
	case ControlPan, ControlTilt:
		if value < -panTiltLimit || value > panTiltLimit || value%panTiltStep != 0 {
			return errors.Wrapf(ErrInvalidControl, "%s has to be a multiple of %d between %d and %d, got %d",
				name, panTiltStep, -panTiltLimit, panTiltLimit, value)
		}
	}
	return nil
}

// LoadSettings reads the named setting from a JSON file of the form
// {"standard": {"brightness": 128, "zoom_absolute": 100}}.
func LoadSettings(path, setting string) (map[string]int32, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "Can not open settings file")
	}
	defer file.Close()

	var settings map[string]map[string]int32
	if err := json.NewDecoder(file).Decode(&settings); err != nil {
		return nil, errors.Wrapf(err, "Can not parse settings file %s", path)
	}
	values, ok := settings[setting]
	if !ok {
		return nil, errors.Errorf("Setting %q not found in %s", setting, path)
	}
	return values, nil
}
