package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// DefaultFrameCount is how many frames a posture analysis samples
const DefaultFrameCount = 3

var (
	ErrInvalidCount = errors.New("frame count must be at least 1")
	ErrVideoOpen    = errors.New("cannot open video")
	ErrNoFrames     = errors.New("video has no decodable frames")
)

// SampleIndices picks up to n frame indices spread evenly over total frames.
// The stride is total/n (at least 1), starting at frame 0, so the result is
// strictly increasing and depends only on (total, n).
func SampleIndices(total, n int) ([]int, error) {
	if n < 1 {
		return nil, ErrInvalidCount
	}
	if total < 1 {
		return nil, ErrNoFrames
	}

	stride := sampleStride(total, n)
	indices := make([]int, 0, min(n, total))
	for i := 0; i < total && len(indices) < n; i += stride {
		indices = append(indices, i)
	}
	return indices, nil
}

func sampleStride(total, n int) int {
	return max(1, total/n)
}

// Decoder reads frame metadata and single frames out of a video file
type Decoder interface {
	// FrameCount returns the total number of frames in the video
	FrameCount(ctx context.Context, videoPath string) (int, error)
	// DecodeFrame writes the frame at index to outPath as an image
	DecodeFrame(ctx context.Context, videoPath string, index int, outPath string) error
}

// FrameSet is the set of frames sampled for one analysis. Close removes the
// directory holding them.
type FrameSet struct {
	Dir     string
	Indices []int
	Paths   []string
}

// Close deletes every extracted frame
func (f *FrameSet) Close() error {
	if f == nil || f.Dir == "" {
		return nil
	}
	return os.RemoveAll(f.Dir)
}

// Sampler extracts representative frames from videos
type Sampler struct {
	decoder  Decoder
	tempRoot string
	logger   *slog.Logger
}

// NewSampler creates a sampler. Frame directories are created under tempRoot,
// or the system temp directory when tempRoot is empty.
func NewSampler(decoder Decoder, tempRoot string, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		decoder:  decoder,
		tempRoot: tempRoot,
		logger:   logger,
	}
}

// Sample extracts n evenly spaced frames from videoPath into a fresh
// directory. It walks the video by the SampleIndices stride until n frames
// have decoded or the video is exhausted, so a frame that fails to decode is
// replaced by the next stride position. If none decode the directory is
// removed and ErrNoFrames is returned.
func (s *Sampler) Sample(ctx context.Context, videoPath string, n int) (*FrameSet, error) {
	if n < 1 {
		return nil, ErrInvalidCount
	}
	if _, err := os.Stat(videoPath); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVideoOpen, err)
	}

	total, err := s.decoder.FrameCount(ctx, videoPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVideoOpen, err)
	}
	if total < 1 {
		return nil, ErrNoFrames
	}
	stride := sampleStride(total, n)

	videoName := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	if s.tempRoot != "" {
		if err := os.MkdirAll(s.tempRoot, 0o755); err != nil {
			return nil, fmt.Errorf("create frame root '%s': %w", s.tempRoot, err)
		}
	}
	dir, err := os.MkdirTemp(s.tempRoot, videoName+"-frames-*")
	if err != nil {
		return nil, fmt.Errorf("create frame directory: %w", err)
	}

	s.logger.Debug("sampling frames", "video", videoPath, "total", total, "stride", stride, "want", n)

	set := &FrameSet{Dir: dir}
	for idx := 0; idx < total && len(set.Paths) < n; idx += stride {
		if err := ctx.Err(); err != nil {
			_ = set.Close()
			return nil, err
		}

		framePath := filepath.Join(dir, fmt.Sprintf("%s_frame_%d.jpg", videoName, idx))
		if err := s.decoder.DecodeFrame(ctx, videoPath, idx, framePath); err != nil {
			if ctx.Err() != nil {
				_ = set.Close()
				return nil, ctx.Err()
			}
			s.logger.Warn("skipping undecodable frame", "video", videoPath, "frame", idx, "error", err)
			continue
		}
		set.Indices = append(set.Indices, idx)
		set.Paths = append(set.Paths, framePath)
	}

	if len(set.Paths) == 0 {
		_ = set.Close()
		return nil, ErrNoFrames
	}
	return set, nil
}
