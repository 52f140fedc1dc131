package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// FFmpeg decodes frames with the ffmpeg and ffprobe binaries
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
}

// NewFFmpeg uses the binaries found on PATH
func NewFFmpeg() *FFmpeg {
	return &FFmpeg{FFmpegPath: "ffmpeg", FFprobePath: "ffprobe"}
}

type probeOutput struct {
	Streams []struct {
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
	} `json:"streams"`
}

// FrameCount asks ffprobe for the first video stream's frame count. The
// container's nb_frames is preferred; the packet count is the fallback for
// containers that do not record it.
func (f *FFmpeg) FrameCount(ctx context.Context, videoPath string) (int, error) {
	cmd := exec.CommandContext(ctx, f.FFprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-count_packets",
		"-show_entries", "stream=nb_frames,nb_read_packets",
		"-print_format", "json",
		videoPath,
	)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return 0, fmt.Errorf("ffprobe failed: %v: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseFrameCount(output)
}

func parseFrameCount(output []byte) (int, error) {
	var probe probeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return 0, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(probe.Streams) == 0 {
		return 0, errors.New("no video stream")
	}

	stream := probe.Streams[0]
	for _, v := range []string{stream.NbFrames, stream.NbReadPackets} {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n, nil
		}
	}
	return 0, nil
}

// DecodeFrame writes frame index of videoPath to outPath
func (f *FFmpeg) DecodeFrame(ctx context.Context, videoPath string, index int, outPath string) error {
	cmd := exec.CommandContext(ctx, f.FFmpegPath,
		"-v", "error",
		"-y",
		"-i", videoPath,
		"-vf", fmt.Sprintf(`select=eq(n\,%d)`, index),
		"-frames:v", "1",
		outPath,
	)

	// Capture output for better error reporting
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg failed: %w\nOutput: %s", err, string(output))
	}
	if info, err := os.Stat(outPath); err != nil || info.Size() == 0 {
		return fmt.Errorf("ffmpeg produced no image for frame %d", index)
	}
	return nil
}
