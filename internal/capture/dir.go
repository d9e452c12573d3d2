package capture

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pitchsight/console/pkg/types"
)

// DirSource replays still images from a directory as a frame stream,
// cycling when it reaches the end. Useful for feeding recorded frame
// dumps through the live pipeline.
type DirSource struct {
	mu     sync.Mutex
	files  []string
	idx    int
	seq    uint64
	closed bool
	now    func() time.Time
}

// OpenDir scans path for JPEG/PNG files in lexical order. Permission
// failures map to the typed capture errors so the session can surface
// them without crashing.
func OpenDir(path string) (*DirSource, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		}
		return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, path)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(path, entry.Name()))
		}
	}
	sort.Strings(files)

	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no image files in %s", ErrDeviceUnavailable, path)
	}

	return &DirSource{files: files, now: time.Now}, nil
}

// Next decodes the next file in the cycle.
func (d *DirSource) Next() (*types.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrSourceClosed
	}

	path := d.files[d.idx]
	d.idx = (d.idx + 1) % len(d.files)

	img, err := decodeImageFile(path)
	if err != nil {
		return nil, fmt.Errorf("capture: decode %s: %w", path, err)
	}

	bounds := img.Bounds()
	frame := &types.Frame{
		Image:     img,
		Timestamp: d.now(),
		Seq:       d.seq,
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
	}
	d.seq++
	return frame, nil
}

// Close marks the source closed. Idempotent.
func (d *DirSource) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Len returns the number of files in the cycle.
func (d *DirSource) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.files)
}

func decodeImageFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fs.ErrPermission
		}
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	return img, err
}
