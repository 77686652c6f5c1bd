package camera

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"
)

var (
	ErrDeviceNotFound = errors.New("camera: device not found")
	ErrNoStoragePath  = errors.New("camera: no photo storage path")
)

// RemoteFile is one entry in the device's photo storage.
type RemoteFile struct {
	Name    string
	ModTime time.Time
	Size    int64
}

// Device is the command channel to the imaging device: connectivity query,
// shutter trigger, remote listing and file transfer.
type Device interface {
	Connected(ctx context.Context) bool
	TriggerShutter(ctx context.Context) error
	StoragePath(ctx context.Context) (string, error)
	ListFiles(ctx context.Context, dir string) ([]RemoteFile, error)
	PullFile(ctx context.Context, remote, local string) error
}

// shutterKeycode is the camera key event on the device.
const shutterKeycode = "27"

// candidateStorageDirs are probed in order when resolving where the camera
// app stores photos.
var candidateStorageDirs = []string{
	"/sdcard/DCIM/Camera",
	"/sdcard/DCIM/OpenCamera",
	"/storage/emulated/0/DCIM/Camera",
}

// ADBDevice drives an Android phone camera over adb.
type ADBDevice struct {
	Runner Runner
	Serial string
}

// NewADBDevice returns a device bound to the given serial; an empty serial
// targets the only attached device.
func NewADBDevice(runner Runner, serial string) *ADBDevice {
	if runner == nil {
		runner = LocalRunner{}
	}
	return &ADBDevice{Runner: runner, Serial: serial}
}

func (d *ADBDevice) adb(ctx context.Context, args ...string) (string, error) {
	if d.Serial != "" {
		args = append([]string{"-s", d.Serial}, args...)
	}
	out, err := d.Runner.Run(ctx, "adb", args...)
	if err != nil && deviceGone(out) {
		return out, fmt.Errorf("%w: %s", ErrDeviceNotFound, firstLine(out))
	}
	return out, err
}

// deviceGone recognizes the adb failures that mean no usable device is
// attached, as opposed to a command that failed on the device.
func deviceGone(out string) bool {
	return strings.Contains(out, "device not found") ||
		strings.Contains(out, "no devices/emulators found") ||
		strings.Contains(out, "device offline")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Connected reports whether the device shows up in the adb device list with
// state "device".
func (d *ADBDevice) Connected(ctx context.Context) bool {
	out, err := d.adb(ctx, "devices")
	if err != nil {
		return false
	}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 || fields[1] != "device" {
			continue
		}
		if d.Serial == "" || fields[0] == d.Serial {
			return true
		}
	}
	return false
}

// TriggerShutter sends the camera key event.
func (d *ADBDevice) TriggerShutter(ctx context.Context) error {
	if _, err := d.adb(ctx, "shell", "input", "keyevent", shutterKeycode); err != nil {
		return fmt.Errorf("camera: trigger shutter: %w", err)
	}
	return nil
}

// StoragePath probes the candidate photo directories and returns the first
// one that exists on the device.
func (d *ADBDevice) StoragePath(ctx context.Context) (string, error) {
	for _, dir := range candidateStorageDirs {
		out, err := d.adb(ctx, "shell", "ls", "-d", dir)
		if err != nil || strings.Contains(out, "No such file") {
			continue
		}
		return dir, nil
	}
	return "", ErrNoStoragePath
}

// ListFiles lists the remote directory with epoch mtimes and sizes.
// Output format per line: <epoch-seconds> <size> <name>.
func (d *ADBDevice) ListFiles(ctx context.Context, dir string) ([]RemoteFile, error) {
	out, err := d.adb(ctx, "shell", "ls", "-l", "--time-style=+%s", dir)
	if err != nil {
		return nil, fmt.Errorf("camera: list %s: %w", dir, err)
	}
	return parseListing(out), nil
}

// parseListing extracts files from `ls -l --time-style=+%s` output. Lines
// that do not parse (totals, directories, surprises) are skipped.
func parseListing(out string) []RemoteFile {
	var files []RemoteFile
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		// -rw-rw---- 1 root sdcard <size> <epoch> <name>
		if len(fields) < 7 || !strings.HasPrefix(fields[0], "-") {
			continue
		}
		size, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			continue
		}
		epoch, err := strconv.ParseInt(fields[5], 10, 64)
		if err != nil {
			continue
		}
		files = append(files, RemoteFile{
			Name:    strings.Join(fields[6:], " "),
			ModTime: time.Unix(epoch, 0),
			Size:    size,
		})
	}
	return files
}

// PullFile transfers one remote file to the local path.
func (d *ADBDevice) PullFile(ctx context.Context, remote, local string) error {
	if _, err := d.adb(ctx, "pull", remote, local); err != nil {
		return fmt.Errorf("camera: pull %s: %w", path.Base(remote), err)
	}
	return nil
}
