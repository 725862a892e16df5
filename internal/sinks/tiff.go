package sinks

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/image/tiff"

	"github.com/smazurov/svbcapture/internal/camera"
	"github.com/smazurov/svbcapture/pkg/svb"
)

// TIFFSnapshot writes every Nth frame of a run to a TIFF file in a
// directory. Sixteen-bit samples are stored unscaled.
type TIFFSnapshot struct {
	dir    string
	every  uint64
	opts   *tiff.Options
	logger *slog.Logger

	mu      sync.Mutex
	last    string
	written uint64
}

// NewTIFFSnapshot creates dir if needed. every below one means every frame.
func NewTIFFSnapshot(dir string, every int, logger *slog.Logger) (*TIFFSnapshot, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	if every < 1 {
		every = 1
	}
	return &TIFFSnapshot{
		dir:    dir,
		every:  uint64(every),
		opts:   &tiff.Options{Compression: tiff.Deflate},
		logger: orDiscard(logger),
	}, nil
}

// OnFrame writes frames 1, 1+N, 1+2N, ... of each run.
func (s *TIFFSnapshot) OnFrame(f camera.Frame) error {
	if (f.Seq-1)%s.every != 0 {
		return nil
	}
	img, err := FrameImage(f)
	if err != nil {
		return err
	}

	name := fmt.Sprintf("%s_%s_%06d.tif", f.Camera, f.RunID.String()[:8], f.Seq)
	path := filepath.Join(s.dir, name)
	if err := writeTIFF(path, img, s.opts); err != nil {
		return err
	}

	s.mu.Lock()
	s.last = path
	s.written++
	s.mu.Unlock()
	s.logger.Debug("Snapshot written", "path", path, "seq", f.Seq)
	return nil
}

// Last returns the path of the most recent snapshot.
func (s *TIFFSnapshot) Last() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.last != ""
}

// Written returns how many snapshots were written.
func (s *TIFFSnapshot) Written() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

func writeTIFF(path string, img image.Image, opts *tiff.Options) error {
	tmp := path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := tiff.Encode(out, img, opts); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// FrameImage copies f into an image. Mono 16-bit data is little-endian on
// the wire; colour data is BGR(A) as the SDK delivers it.
func FrameImage(f camera.Frame) (image.Image, error) {
	w, h := f.Width, f.Height
	bpp := f.ImageType.BytesPerPixel()
	if w <= 0 || h <= 0 || bpp == 0 {
		return nil, fmt.Errorf("frame %d: unsupported geometry %dx%d %s", f.Seq, w, h, f.ImageType)
	}
	if need := w * h * bpp; len(f.Data) < need {
		return nil, fmt.Errorf("frame %d: %d bytes, need %d", f.Seq, len(f.Data), need)
	}
	rect := image.Rect(0, 0, w, h)

	switch {
	case bpp == 1:
		img := image.NewGray(rect)
		copy(img.Pix, f.Data)
		return img, nil

	case bpp == 2:
		img := image.NewGray16(rect)
		for i := 0; i < w*h; i++ {
			v := binary.LittleEndian.Uint16(f.Data[2*i:])
			binary.BigEndian.PutUint16(img.Pix[2*i:], v)
		}
		return img, nil

	case f.ImageType == svb.ImageRGB24 || f.ImageType == svb.ImageRGB32:
		img := image.NewRGBA(rect)
		for i := 0; i < w*h; i++ {
			p := f.Data[i*bpp:]
			img.SetRGBA(i%w, i/w, color.RGBA{R: p[2], G: p[1], B: p[0], A: 0xff})
		}
		return img, nil
	}
	return nil, fmt.Errorf("frame %d: unsupported image type %s", f.Seq, f.ImageType)
}
