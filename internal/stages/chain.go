// Package stages implements the highlight analysis chain: detection,
// trimming, and captioning of sliding-window videos. Every stage degrades
// to a deterministic fallback when the model cannot produce a usable reply,
// so a flaky provider never stalls the pipeline.
package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/llm"
	"github.com/clipforge/clipforge/internal/mediatools"
	"github.com/clipforge/clipforge/internal/observability"
)

// Detection is the outcome of the detect stage.
type Detection struct {
	IsHighlight bool
	Confidence  string
	Reason      string
	// Fallback is set when the reply could not be parsed and the stage
	// defaulted to not-a-highlight.
	Fallback bool
}

// TrimRange is the outcome of the trim stage, in 1-based segment numbers.
type TrimRange struct {
	Start     int
	End       int
	Reasoning string
	Fallback  bool
}

// Caption is the outcome of the caption stage.
type Caption struct {
	Title       string
	Description string
	KeyAction   string
	Fallback    bool
}

// Chain runs the per-window analysis stages against a generator.
type Chain struct {
	gen           llm.Generator
	toolkit       *mediatools.Toolkit
	retries       int
	chunkDuration int
	logger        *slog.Logger
}

// NewChain creates a stage chain.
func NewChain(gen llm.Generator, toolkit *mediatools.Toolkit, pipeCfg config.PipelineConfig, ingestCfg config.IngestConfig, logger *slog.Logger) *Chain {
	return &Chain{
		gen:           gen,
		toolkit:       toolkit,
		retries:       pipeCfg.StageRetries,
		chunkDuration: ingestCfg.ChunkDuration,
		logger:        observability.WithComponent(logger, "stages"),
	}
}

// Detect decides whether the window video contains a complete highlight.
// On persistent failure the window is treated as not a highlight, keeping
// false positives out of the output.
func (c *Chain) Detect(ctx context.Context, windowVideo []byte) Detection {
	req := &llm.Request{
		Parts:           []llm.Part{llm.VideoPart(windowVideo), llm.TextPart(detectPrompt)},
		Tools:           []llm.Tool{detectTool},
		RequireFunction: true,
	}

	detection, err := llm.GenerateWithRetry(ctx, c.gen, req, c.retries,
		func(r *llm.Result) (Detection, error) {
			call, ok := r.Call(detectFunction)
			if !ok {
				return Detection{}, fmt.Errorf("no %s call in reply", detectFunction)
			}
			var args struct {
				IsHighlight *bool  `json:"is_highlight"`
				Confidence  string `json:"confidence"`
				Reason      string `json:"reason"`
			}
			if err := json.Unmarshal(call.Args, &args); err != nil {
				return Detection{}, fmt.Errorf("parsing %s args: %w", detectFunction, err)
			}
			if args.IsHighlight == nil {
				return Detection{}, fmt.Errorf("%s reply missing is_highlight", detectFunction)
			}
			return Detection{
				IsHighlight: *args.IsHighlight,
				Confidence:  args.Confidence,
				Reason:      args.Reason,
			}, nil
		})
	if err != nil {
		c.logger.WarnContext(ctx, "detect stage falling back to no-highlight",
			slog.String("error", err.Error()))
		return Detection{IsHighlight: false, Fallback: true}
	}
	return detection
}

// Trim selects the consecutive segments that contain the highlight action
// and returns them concatenated. Out-of-range segment numbers are clamped
// to the window, an inverted range is swapped. On persistent failure the
// full window is kept. detection provides context from the detect stage.
func (c *Chain) Trim(ctx context.Context, chunks [][]byte, detection Detection) ([]byte, TrimRange, error) {
	segmentCount := len(chunks)

	windowVideo, err := c.toolkit.Concatenate(ctx, chunks)
	if err != nil {
		return nil, TrimRange{}, err
	}
	if segmentCount <= 1 {
		return windowVideo, TrimRange{Start: 1, End: segmentCount}, nil
	}

	prompt := trimPrompt(segmentCount, c.chunkDuration, detectionContext(detection))
	req := &llm.Request{
		Parts:           []llm.Part{llm.VideoPart(windowVideo), llm.TextPart(prompt)},
		Tools:           []llm.Tool{trimTool(segmentCount)},
		RequireFunction: true,
	}

	rng, err := llm.GenerateWithRetry(ctx, c.gen, req, c.retries,
		func(r *llm.Result) (TrimRange, error) {
			call, ok := r.Call(trimFunction)
			if !ok {
				return TrimRange{}, fmt.Errorf("no %s call in reply", trimFunction)
			}
			var args struct {
				StartSegment *int   `json:"start_segment"`
				EndSegment   *int   `json:"end_segment"`
				Reasoning    string `json:"reasoning"`
			}
			if err := json.Unmarshal(call.Args, &args); err != nil {
				return TrimRange{}, fmt.Errorf("parsing %s args: %w", trimFunction, err)
			}
			if args.StartSegment == nil || args.EndSegment == nil {
				return TrimRange{}, fmt.Errorf("%s reply missing segment bounds", trimFunction)
			}
			return normalizeRange(*args.StartSegment, *args.EndSegment, segmentCount, args.Reasoning), nil
		})
	if err != nil {
		c.logger.WarnContext(ctx, "trim stage falling back to full window",
			slog.String("error", err.Error()))
		return windowVideo, TrimRange{Start: 1, End: segmentCount, Fallback: true}, nil
	}

	if rng.Start == 1 && rng.End == segmentCount {
		return windowVideo, rng, nil
	}

	trimmed, err := c.toolkit.Concatenate(ctx, chunks[rng.Start-1:rng.End])
	if err != nil {
		return nil, TrimRange{}, err
	}
	return trimmed, rng, nil
}

// GenerateCaption produces a title and description for a trimmed highlight.
// startSeconds and endSeconds locate the highlight in the source; they feed
// the deterministic fallback caption.
func (c *Chain) GenerateCaption(ctx context.Context, video []byte, startSeconds, endSeconds int) Caption {
	req := &llm.Request{
		Parts:           []llm.Part{llm.VideoPart(video), llm.TextPart(captionPrompt)},
		Tools:           []llm.Tool{captionTool},
		RequireFunction: true,
	}

	caption, err := llm.GenerateWithRetry(ctx, c.gen, req, c.retries,
		func(r *llm.Result) (Caption, error) {
			call, ok := r.Call(captionFunction)
			if !ok {
				return Caption{}, fmt.Errorf("no %s call in reply", captionFunction)
			}
			var args struct {
				Title       string `json:"title"`
				Description string `json:"description"`
				KeyAction   string `json:"key_action"`
			}
			if err := json.Unmarshal(call.Args, &args); err != nil {
				return Caption{}, fmt.Errorf("parsing %s args: %w", captionFunction, err)
			}
			if args.Title == "" || args.Description == "" {
				return Caption{}, fmt.Errorf("%s reply missing title or description", captionFunction)
			}
			return Caption{
				Title:       args.Title,
				Description: args.Description,
				KeyAction:   args.KeyAction,
			}, nil
		})
	if err != nil {
		c.logger.WarnContext(ctx, "caption stage falling back to generic caption",
			slog.String("error", err.Error()))
		return FallbackCaption(startSeconds, endSeconds)
	}
	return caption
}

// FallbackCaption is the deterministic caption used when generation fails.
func FallbackCaption(startSeconds, endSeconds int) Caption {
	return Caption{
		Title:       fmt.Sprintf("Highlight at %ds", startSeconds),
		Description: fmt.Sprintf("Highlight from %ds to %ds", startSeconds, endSeconds),
		Fallback:    true,
	}
}

// normalizeRange clamps both bounds into [1, segmentCount] and swaps an
// inverted pair.
func normalizeRange(start, end, segmentCount int, reasoning string) TrimRange {
	start = clamp(start, 1, segmentCount)
	end = clamp(end, 1, segmentCount)
	if start > end {
		start, end = end, start
	}
	return TrimRange{Start: start, End: end, Reasoning: reasoning}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
