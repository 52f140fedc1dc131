package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bdougie/medai/internal/gateway"
)

// AnalyzePosture samples frames from videoPath and analyzes each one in
// order. The report labels each frame's section "Frame k Analysis". If any
// frame fails the whole analysis fails and no partial report is returned.
// The frames are removed before returning.
func (a *Analyzer) AnalyzePosture(ctx context.Context, videoPath string, progress ProgressFunc) (string, error) {
	return a.AnalyzePostureFrames(ctx, videoPath, a.frames, progress)
}

// AnalyzePostureFrames is AnalyzePosture with an explicit frame count
func (a *Analyzer) AnalyzePostureFrames(ctx context.Context, videoPath string, n int, progress ProgressFunc) (string, error) {
	if a.sampler == nil {
		return "", a.failed(TaskFrameExtraction, errors.New("no frame sampler configured"))
	}

	frames, err := a.sampler.Sample(ctx, videoPath, n)
	if err != nil {
		return "", a.failed(TaskFrameExtraction, err)
	}
	defer func() {
		if err := frames.Close(); err != nil {
			a.logger.Warn("failed to remove frames", "dir", frames.Dir, "error", err)
		}
	}()

	total := len(frames.Paths)
	a.logger.Info("analyzing posture", "video", videoPath, "frames", total)

	var report strings.Builder
	for i, framePath := range frames.Paths {
		p, err := gateway.PayloadFromFile(framePath, gateway.DefaultImageMIME)
		if err != nil {
			return "", a.failed(TaskPosture, err)
		}
		result, err := a.client.AnalyzeImage(ctx, p, posturePrompt)
		if err != nil {
			return "", a.failed(TaskPosture, fmt.Errorf("frame %d/%d: %w", i+1, total, err))
		}

		if i > 0 {
			report.WriteString("\n\n")
		}
		fmt.Fprintf(&report, "Frame %d Analysis:\n%s", i+1, strings.TrimSpace(result))

		a.logger.Info("frame analyzed", "frame", i+1, "total", total)
		if progress != nil {
			progress(float64(i+1) / float64(total))
		}
	}
	return report.String(), nil
}

// AnalyzePostureWhole sends the entire video in one request instead of
// sampling frames
func (a *Analyzer) AnalyzePostureWhole(ctx context.Context, videoPath string) (string, error) {
	p, err := gateway.PayloadFromFile(videoPath, gateway.DefaultVideoMIME)
	if err != nil {
		return "", a.failed(TaskPosture, err)
	}
	result, err := a.client.AnalyzeVideo(ctx, p, wholeVideoPosturePrompt)
	if err != nil {
		return "", a.failed(TaskPosture, err)
	}
	return result, nil
}
