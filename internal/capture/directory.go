package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/readaloud/internal/frame"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true, ".webp": true,
}

// DirectoryDevice replays still images from a directory in name order,
// wrapping around at the end. The listing is refreshed on every request so
// frames dropped into the directory are picked up.
type DirectoryDevice struct {
	lifecycle
	dir  string
	mu   sync.Mutex
	next int
}

func NewDirectoryDevice(dir string) *DirectoryDevice {
	return &DirectoryDevice{dir: dir}
}

func (d *DirectoryDevice) RequestFrame(ctx context.Context) (frame.RawFrame, error) {
	if err := d.usable(); err != nil {
		return frame.RawFrame{}, &Error{Device: "directory", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return frame.RawFrame{}, &Error{Device: "directory", Err: err}
	}
	files, err := d.list()
	if err != nil {
		return frame.RawFrame{}, &Error{Device: "directory", Err: err}
	}
	if len(files) == 0 {
		return frame.RawFrame{}, &Error{Device: "directory", Err: fmt.Errorf("no images in %s", d.dir)}
	}

	d.mu.Lock()
	path := files[d.next%len(files)]
	d.next = (d.next + 1) % len(files)
	d.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return frame.RawFrame{}, &Error{Device: "directory", Err: err}
	}
	return frame.RawFrame{Data: data, CapturedAt: time.Now().UTC(), Source: path}, nil
}

func (d *DirectoryDevice) list() ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("read frame directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(d.dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func (d *DirectoryDevice) StartPreview(context.Context) error { return d.startPreview() }

func (d *DirectoryDevice) StopPreview(context.Context) error {
	d.stopPreview()
	return nil
}

func (d *DirectoryDevice) Release() error {
	d.release()
	return nil
}
