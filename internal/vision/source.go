package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrSourceUnavailable is returned when a frame source cannot be opened.
var ErrSourceUnavailable = errors.New("frame source unavailable")

// FrameSource delivers stereo frames to the control loop. NextFrame blocks
// until a frame is available or ctx is done.
type FrameSource interface {
	IsOpened() bool
	NextFrame(ctx context.Context) (StereoFrame, error)
}

// DirSource replays side-by-side stereo images from a directory in lexical
// order. The left half of each image is the left camera.
type DirSource struct {
	dir   string
	files []string
	next  int

	// Interval paces delivery to mimic a camera frame rate. Zero delivers
	// frames as fast as they decode.
	Interval time.Duration
	// Loop restarts from the first image after the last one.
	Loop bool
}

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// NewDirSource lists the images in dir.
func NewDirSource(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return &DirSource{dir: dir, files: files, Loop: true}, nil
}

// IsOpened reports whether the directory holds at least one image.
func (s *DirSource) IsOpened() bool { return len(s.files) > 0 }

func (s *DirSource) String() string { return "dir:" + s.dir }

// NextFrame decodes and splits the next image.
func (s *DirSource) NextFrame(ctx context.Context) (StereoFrame, error) {
	if !s.IsOpened() {
		return StereoFrame{}, fmt.Errorf("%w: no images in %s", ErrSourceUnavailable, s.dir)
	}
	if s.next >= len(s.files) {
		if !s.Loop {
			return StereoFrame{}, fmt.Errorf("%w: end of %s", ErrSourceUnavailable, s.dir)
		}
		s.next = 0
	}
	if s.Interval > 0 {
		t := time.NewTimer(s.Interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return StereoFrame{}, ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return StereoFrame{}, err
	}

	path := s.files[s.next]
	s.next++
	f, err := os.Open(path)
	if err != nil {
		return StereoFrame{}, fmt.Errorf("open frame: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return StereoFrame{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return SplitStereo(FromImage(img))
}
