// Package source abstracts where raw video frames come from and normalizes
// them to the wire format the inference server expects.
package source

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/psdew2ewqws/NexaraVision-sub000/internal/models"
	"golang.org/x/image/draw"
)

// Wire constraints for outbound frames.
const (
	MaxWidth    = 640
	MaxHeight   = 480
	jpegQuality = 50
)

// FrameSource pulls frames one at a time. Next returns io.EOF when the
// source is exhausted.
type FrameSource interface {
	Next(ctx context.Context) (models.Frame, error)
	Close() error
}

// FrameFolderDownloader is the slice of the object-store client a remote
// source needs.
type FrameFolderDownloader interface {
	DownloadFramesFromURL(ctx context.Context, folderURL string) ([][]byte, error)
}

// Directory reads a folder of JPEG frames in filename order.
type Directory struct {
	files []string
	idx   int
	seq   uint64
}

func NewDirectory(dir string) (*Directory, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".jpg" || ext == ".jpeg" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	if len(files) == 0 {
		return nil, fmt.Errorf("no frames in %s", dir)
	}
	return &Directory{files: files}, nil
}

func (d *Directory) Next(ctx context.Context) (models.Frame, error) {
	if err := ctx.Err(); err != nil {
		return models.Frame{}, err
	}
	if d.idx >= len(d.files) {
		return models.Frame{}, io.EOF
	}

	data, err := os.ReadFile(d.files[d.idx])
	d.idx++
	if err != nil {
		return models.Frame{}, fmt.Errorf("read frame: %w", err)
	}
	return d.frame(data)
}

func (d *Directory) frame(data []byte) (models.Frame, error) {
	pixels, w, h, err := Normalize(data)
	if err != nil {
		return models.Frame{}, err
	}
	d.seq++
	return models.Frame{
		Sequence:   d.seq,
		CapturedAt: time.Now(),
		Width:      w,
		Height:     h,
		Pixels:     pixels,
	}, nil
}

func (d *Directory) Close() error { return nil }

// Remote serves frames previously stored in an object-store folder.
type Remote struct {
	frames [][]byte
	idx    int
	seq    uint64
}

func NewRemote(ctx context.Context, dl FrameFolderDownloader, folderURL string) (*Remote, error) {
	frames, err := dl.DownloadFramesFromURL(ctx, folderURL)
	if err != nil {
		return nil, fmt.Errorf("download frames: %w", err)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames at %s", folderURL)
	}
	return &Remote{frames: frames}, nil
}

func (r *Remote) Next(ctx context.Context) (models.Frame, error) {
	if err := ctx.Err(); err != nil {
		return models.Frame{}, err
	}
	if r.idx >= len(r.frames) {
		return models.Frame{}, io.EOF
	}

	data := r.frames[r.idx]
	r.idx++

	pixels, w, h, err := Normalize(data)
	if err != nil {
		return models.Frame{}, err
	}
	r.seq++
	return models.Frame{
		Sequence:   r.seq,
		CapturedAt: time.Now(),
		Width:      w,
		Height:     h,
		Pixels:     pixels,
	}, nil
}

func (r *Remote) Close() error { return nil }

// Normalize re-encodes a frame to the wire constraints: JPEG, at most
// 640x480 with aspect preserved, quality tuned for transmission speed.
// The returned dimensions are the sent-frame dimensions skeleton overlays
// must be rescaled against.
func Normalize(data []byte) ([]byte, int, int, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode frame: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	if w > MaxWidth || h > MaxHeight {
		scale := min(float64(MaxWidth)/float64(w), float64(MaxHeight)/float64(h))
		w = int(float64(w)*scale + 0.5)
		h = int(float64(h)*scale + 0.5)

		scaled := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, bounds, draw.Src, nil)
		img = scaled
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, 0, 0, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), w, h, nil
}
