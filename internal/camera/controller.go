package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrCaptureBusy  = errors.New("camera: capture already in progress")
	ErrNoNewPhoto   = errors.New("camera: no new photo detected")
	ErrInvalidPhoto = errors.New("camera: photo failed validation")
)

// jpegMagic is the SOI marker every JPEG starts with.
var jpegMagic = []byte{0xFF, 0xD8, 0xFF}

// ControllerConfig tunes the acquisition protocol.
type ControllerConfig struct {
	// LocalDir receives transferred photos.
	LocalDir string
	// PollInterval between storage listings while waiting for a new file.
	PollInterval time.Duration
	// Timeout bounds the whole wait for a new file.
	Timeout time.Duration
	// MinFileSize rejects suspiciously small transfers.
	MinFileSize int64
	// StrictValidation additionally checks the JPEG magic header.
	StrictValidation bool
	// MaxAttempts and RetryDelay drive CaptureWithRetry.
	MaxAttempts int
	RetryDelay  time.Duration
}

// DefaultControllerConfig returns the standard acquisition tuning.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		LocalDir:         "captures",
		PollInterval:     100 * time.Millisecond,
		Timeout:          3000 * time.Millisecond,
		MinFileSize:      10 * 1024,
		StrictValidation: true,
		MaxAttempts:      3,
		RetryDelay:       500 * time.Millisecond,
	}
}

// Controller owns the take-one-photo protocol: trigger, poll for a new file,
// transfer, validate. At most one capture runs at a time; a second request
// fails immediately with ErrCaptureBusy rather than queueing.
type Controller struct {
	cfg ControllerConfig
	dev Device
	log zerolog.Logger

	inFlight atomic.Bool

	// storagePath is resolved once per process lifetime, on the first
	// capture.
	storagePath string
	lastPhoto   string
}

// NewController returns a controller over the given device.
func NewController(dev Device, cfg ControllerConfig, log zerolog.Logger) *Controller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3000 * time.Millisecond
	}
	if cfg.LocalDir == "" {
		cfg.LocalDir = "captures"
	}
	return &Controller{
		cfg: cfg,
		dev: dev,
		log: log.With().Str("component", "camera").Logger(),
	}
}

// Capturing reports whether a capture is currently in flight.
func (c *Controller) Capturing() bool { return c.inFlight.Load() }

// Capture runs one full acquisition and returns the local path of the new
// photo.
func (c *Controller) Capture(ctx context.Context) (string, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return "", ErrCaptureBusy
	}
	defer c.inFlight.Store(false)

	if c.storagePath == "" {
		dir, err := c.dev.StoragePath(ctx)
		if err != nil {
			return "", fmt.Errorf("camera: resolve storage path: %w", err)
		}
		c.storagePath = dir
		c.log.Debug().Str("path", dir).Msg("storage path resolved")
	}

	baseline, err := c.newestFile(ctx)
	if err != nil {
		return "", err
	}

	if err := c.dev.TriggerShutter(ctx); err != nil {
		return "", err
	}

	remote, err := c.waitForNewFile(ctx, baseline)
	if err != nil {
		return "", err
	}

	local := filepath.Join(c.cfg.LocalDir, remote.Name)
	if err := os.MkdirAll(c.cfg.LocalDir, 0o755); err != nil {
		return "", fmt.Errorf("camera: create %s: %w", c.cfg.LocalDir, err)
	}
	if err := c.dev.PullFile(ctx, path.Join(c.storagePath, remote.Name), local); err != nil {
		return "", err
	}
	if err := c.validate(local); err != nil {
		return "", err
	}

	c.lastPhoto = remote.Name
	c.log.Info().Str("photo", remote.Name).Msg("capture complete")
	return local, nil
}

// CaptureWithRetry re-invokes Capture up to MaxAttempts with a fixed delay,
// surfacing the last error when every attempt fails. A busy controller is a
// terminal condition: the concurrent capture owns the single flight. A
// missing device is terminal too; the health monitor owns reconnection.
func (c *Controller) CaptureWithRetry(ctx context.Context) (string, error) {
	attempts := c.cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-time.After(c.cfg.RetryDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		path, err := c.Capture(ctx)
		if err == nil {
			return path, nil
		}
		if errors.Is(err, ErrCaptureBusy) || errors.Is(err, ErrDeviceNotFound) {
			return "", err
		}
		lastErr = err
		c.log.Warn().Err(err).Int("attempt", i+1).Int("max", attempts).Msg("capture attempt failed")
	}
	return "", lastErr
}

// newestFile returns the most recent file currently in storage, or a zero
// RemoteFile when storage is empty.
func (c *Controller) newestFile(ctx context.Context) (RemoteFile, error) {
	files, err := c.dev.ListFiles(ctx, c.storagePath)
	if err != nil {
		return RemoteFile{}, err
	}
	var newest RemoteFile
	for _, f := range files {
		if f.ModTime.After(newest.ModTime) {
			newest = f
		}
	}
	return newest, nil
}

// waitForNewFile polls storage until a file newer than the baseline and
// different from the last returned photo appears, or the timeout elapses.
func (c *Controller) waitForNewFile(ctx context.Context, baseline RemoteFile) (RemoteFile, error) {
	deadline := time.Now().Add(c.cfg.Timeout)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return RemoteFile{}, ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return RemoteFile{}, ErrNoNewPhoto
			}
			files, err := c.dev.ListFiles(ctx, c.storagePath)
			if err != nil {
				// transient listing failure, keep polling until deadline
				continue
			}
			for _, f := range files {
				if f.ModTime.After(baseline.ModTime) && f.Name != baseline.Name && f.Name != c.lastPhoto {
					return f, nil
				}
			}
		}
	}
}

// validate checks the transferred photo: minimum size and, in strict mode,
// the JPEG magic header.
func (c *Controller) validate(localPath string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("camera: stat %s: %w", localPath, err)
	}
	if info.Size() < c.cfg.MinFileSize {
		return fmt.Errorf("%w: %d bytes below minimum %d", ErrInvalidPhoto, info.Size(), c.cfg.MinFileSize)
	}
	if !c.cfg.StrictValidation {
		return nil
	}
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("camera: open %s: %w", localPath, err)
	}
	defer f.Close()
	header := make([]byte, len(jpegMagic))
	if _, err := io.ReadFull(f, header); err != nil {
		return fmt.Errorf("%w: short header read", ErrInvalidPhoto)
	}
	for i, b := range jpegMagic {
		if header[i] != b {
			return fmt.Errorf("%w: bad magic header", ErrInvalidPhoto)
		}
	}
	return nil
}
