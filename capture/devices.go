package capture

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

var byIDDir = "/dev/v4l/by-id"

// ListDevices returns the stable ids of all video capture devices.
func ListDevices() ([]string, error) {
	entries, err := os.ReadDir(byIDDir)
	if err != nil {
		return nil, errors.Wrap(err, "Can not list video devices")
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.Name())
	}
	return ids, nil
}

// ResolveDevice maps a (partial) device id to its device node. Plain paths
// such as /dev/video0 are returned unchanged.
func ResolveDevice(device string) (string, error) {
	if strings.HasPrefix(device, "/dev/") {
		return device, nil
	}

	ids, err := ListDevices()
	if err != nil {
		return "", err
	}

	var candidates []string
	for _, id := range ids {
		if strings.Contains(id, device) {
			candidates = append(candidates, id)
		}
	}

	switch len(candidates) {
	case 0:
		return "", errors.Errorf("No video device matches %q", device)
	case 1:
		path, err := filepath.EvalSymlinks(filepath.Join(byIDDir, candidates[0]))
		if err != nil {
			return "", errors.Wrapf(err, "Can not resolve %s", candidates[0])
		}
		return path, nil
	default:
		return "", errors.Errorf("Multiple video devices match %q: %v", device, candidates)
	}
}
