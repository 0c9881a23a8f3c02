// Package data loads aligned image pairs for pix2pix training.
//
// Each file holds one pair side by side: the left half is domain A and the
// right half domain B. The same random crop and flip are applied to both
// halves.
package data

import (
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"log/slog"
	"math/rand"
	"path/filepath"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	pix2pix "pix2pix/src"
)

// Preprocessing modes.
const (
	ResizeAndCrop = "resize_and_crop"
	Crop          = "crop"
	ScaleWidth    = "scale_width"
	None          = "none"
)

// Options configures an AlignedLoader.
type Options struct {
	Dir        string
	ChannelsA  int
	ChannelsB  int
	LoadSize   int
	CropSize   int
	Preprocess string
	NoFlip     bool
	BatchSize  int
	Shuffle    bool
	MaxSize    int // 0 means no limit
	Seed       int64
}

// DefaultOptions returns the usual 286 → 256 resize-and-crop setup.
func DefaultOptions(dir string) Options {
	return Options{
		Dir:        dir,
		ChannelsA:  3,
		ChannelsB:  3,
		LoadSize:   286,
		CropSize:   256,
		Preprocess: ResizeAndCrop,
		BatchSize:  1,
		Shuffle:    true,
		Seed:       1,
	}
}

// ValidateOptions checks an Options value before any file is read.
func ValidateOptions(o Options) error {
	if o.Dir == "" {
		return errors.New("data: Dir is required")
	}
	for _, c := range []int{o.ChannelsA, o.ChannelsB} {
		if c != 1 && c != 3 {
			return fmt.Errorf("data: channels must be 1 or 3, got %d", c)
		}
	}
	if o.BatchSize <= 0 {
		return fmt.Errorf("data: BatchSize must be positive, got %d", o.BatchSize)
	}
	switch o.Preprocess {
	case ResizeAndCrop, Crop, ScaleWidth:
		if o.LoadSize <= 0 || o.CropSize <= 0 {
			return fmt.Errorf("data: %s needs positive LoadSize and CropSize", o.Preprocess)
		}
		if o.Preprocess == ResizeAndCrop && o.CropSize > o.LoadSize {
			return fmt.Errorf("data: CropSize %d exceeds LoadSize %d", o.CropSize, o.LoadSize)
		}
	case None:
	default:
		return fmt.Errorf("data: preprocess mode [%s] is not implemented", o.Preprocess)
	}
	return nil
}

// AlignedLoader yields batches of A|B pairs from a directory tree. It
// implements pix2pix.Loader.
type AlignedLoader struct {
	opts  Options
	paths []string
	order []int
	pos   int
	rng   *rand.Rand
}

// NewAlignedLoader scans o.Dir recursively for image files in sorted order.
func NewAlignedLoader(o Options) (*AlignedLoader, error) {
	if err := ValidateOptions(o); err != nil {
		return nil, err
	}
	paths, err := scanImages(o.Dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("data: no images found in %s", o.Dir)
	}
	if o.MaxSize > 0 && len(paths) > o.MaxSize {
		paths = paths[:o.MaxSize]
	}
	l := &AlignedLoader{
		opts:  o,
		paths: paths,
		rng:   rand.New(rand.NewSource(o.Seed)),
	}
	if err := l.Reset(); err != nil {
		return nil, err
	}
	slog.Info("dataset", "dir", o.Dir, "images", len(paths), "batch_size", o.BatchSize)
	return l, nil
}

func scanImages(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsImageFile(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("data: scan %s: %w", dir, err)
	}
	slices.Sort(paths)
	return paths, nil
}

// Len is the number of image pairs.
func (l *AlignedLoader) Len() int { return len(l.paths) }

// Paths returns the image files in load order before shuffling.
func (l *AlignedLoader) Paths() []string { return slices.Clone(l.paths) }

// Reset starts a new epoch, reshuffling when Shuffle is set.
func (l *AlignedLoader) Reset() error {
	if l.order == nil {
		l.order = make([]int, len(l.paths))
	}
	for i := range l.order {
		l.order[i] = i
	}
	if l.opts.Shuffle {
		l.rng.Shuffle(len(l.order), func(i, j int) {
			l.order[i], l.order[j] = l.order[j], l.order[i]
		})
	}
	l.pos = 0
	return nil
}

// Next returns the next batch, or io.EOF when the epoch is exhausted. The
// final batch may be smaller than BatchSize.
func (l *AlignedLoader) Next() (pix2pix.Batch, error) {
	if l.pos >= len(l.order) {
		return pix2pix.Batch{}, io.EOF
	}
	end := min(l.pos+l.opts.BatchSize, len(l.order))
	idx := l.order[l.pos:end]
	l.pos = end

	imgs := make([]*image.RGBA, len(idx))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, k := range idx {
		i, k := i, k
		g.Go(func() error {
			ab, err := LoadImage(l.paths[k])
			if err != nil {
				return fmt.Errorf("data: %w", err)
			}
			if ab.Bounds().Dx() < 2 {
				return fmt.Errorf("data: %s is too narrow to split", l.paths[k])
			}
			imgs[i] = ab
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return pix2pix.Batch{}, err
	}

	// params are drawn serially so a seed reproduces the epoch
	params := make([]transformParams, len(idx))
	for i, ab := range imgs {
		params[i] = randomParams(l.opts, ab.Bounds().Dx()/2, ab.Bounds().Dy(), l.rng)
	}

	samples := make([]pair, len(idx))
	pix2pix.ParallelFor(len(idx), func(i int) {
		a, b := splitAB(imgs[i])
		a = transform(a, l.opts, params[i])
		b = transform(b, l.opts, params[i])
		samples[i] = pair{
			a: imageData(a, l.opts.ChannelsA),
			b: imageData(b, l.opts.ChannelsB),
			w: a.Bounds().Dx(),
			h: a.Bounds().Dy(),
		}
	})

	batch, err := assemble(samples, l.opts.ChannelsA, l.opts.ChannelsB)
	if err != nil {
		return pix2pix.Batch{}, err
	}
	for _, k := range idx {
		batch.APaths = append(batch.APaths, l.paths[k])
		batch.BPaths = append(batch.BPaths, l.paths[k])
	}
	return batch, nil
}

type pair struct {
	a, b []float64
	w, h int
}

// assemble stacks per-sample CHW data into NCHW tensors.
func assemble(samples []pair, ca, cb int) (pix2pix.Batch, error) {
	w, h := samples[0].w, samples[0].h
	a := make([]float64, 0, len(samples)*ca*w*h)
	b := make([]float64, 0, len(samples)*cb*w*h)
	for _, s := range samples {
		if s.w != w || s.h != h {
			return pix2pix.Batch{}, fmt.Errorf("data: %w: batch mixes %dx%d and %dx%d images",
				pix2pix.ErrShapeMismatch, w, h, s.w, s.h)
		}
		a = append(a, s.a...)
		b = append(b, s.b...)
	}
	ta, err := pix2pix.FromData(a, len(samples), ca, h, w)
	if err != nil {
		return pix2pix.Batch{}, err
	}
	tb, err := pix2pix.FromData(b, len(samples), cb, h, w)
	if err != nil {
		return pix2pix.Batch{}, err
	}
	return pix2pix.Batch{A: ta, B: tb}, nil
}

// LoadSingle reads one plain (not side-by-side) image, resizes it to size×size
// when size > 0 and returns a [1, channels, H, W] tensor.
func LoadSingle(path string, channels, size int) (*pix2pix.Tensor, error) {
	img, err := LoadImage(path)
	if err != nil {
		return nil, err
	}
	if size > 0 {
		img = Resize(img, size, size)
	}
	return ToTensor(img, channels)
}

var _ pix2pix.Loader = (*AlignedLoader)(nil)
