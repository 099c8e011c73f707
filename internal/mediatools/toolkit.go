package mediatools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/clipforge/clipforge/internal/observability"
	"github.com/clipforge/clipforge/internal/scratch"
)

// Toolkit performs media transformations on in-memory MP4 chunks.
// Every operation runs inside its own scratch scope which is removed on
// return, success or failure.
type Toolkit struct {
	bins   Binaries
	logger *slog.Logger
}

// NewToolkit creates a toolkit using the given resolved binaries.
func NewToolkit(bins Binaries, logger *slog.Logger) *Toolkit {
	return &Toolkit{
		bins:   bins,
		logger: observability.WithComponent(logger, "mediatools"),
	}
}

// Concatenate joins MP4 chunks into one continuous MP4 via the concat
// demuxer with stream copy. An empty input yields an empty output, a single
// chunk is returned unchanged. If ffmpeg fails on a multi-chunk join the
// first chunk is returned so the pipeline can degrade instead of stall.
func (t *Toolkit) Concatenate(ctx context.Context, chunks [][]byte) ([]byte, error) {
	switch len(chunks) {
	case 0:
		return []byte{}, nil
	case 1:
		return chunks[0], nil
	}

	scope, err := scratch.NewScope("concat")
	if err != nil {
		return nil, err
	}
	defer scope.Close()

	var list strings.Builder
	for i, chunk := range chunks {
		path := scope.Path(fmt.Sprintf("chunk-%04d.mp4", i))
		if err := os.WriteFile(path, chunk, 0o644); err != nil {
			return nil, fmt.Errorf("writing chunk %d: %w", i, err)
		}
		fmt.Fprintf(&list, "file '%s'\n", path)
	}
	listPath := scope.Path("list.txt")
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return nil, fmt.Errorf("writing concat list: %w", err)
	}

	outPath := scope.Path("out.mp4")
	err = NewCommandBuilder(t.bins.FFmpeg).
		HideBanner().
		Overwrite().
		ConcatInput(listPath).
		StreamCopy().
		Output(outPath).
		Run(ctx, "concatenate")
	if err != nil {
		t.logger.WarnContext(ctx, "concat failed, degrading to first chunk",
			slog.Int("chunks", len(chunks)), slog.String("error", err.Error()))
		return chunks[0], nil
	}

	return os.ReadFile(outPath)
}

// ExtractFrames samples JPEG frames from an MP4 at the given rate.
// Frames are returned in presentation order.
func (t *Toolkit) ExtractFrames(ctx context.Context, video []byte, fps float64) ([][]byte, error) {
	scope, err := scratch.NewScope("frames")
	if err != nil {
		return nil, err
	}
	defer scope.Close()

	inPath := scope.Path("in.mp4")
	if err := os.WriteFile(inPath, video, 0o644); err != nil {
		return nil, fmt.Errorf("writing frame input: %w", err)
	}
	framesDir, err := scope.Subdir("frames")
	if err != nil {
		return nil, err
	}

	err = NewCommandBuilder(t.bins.FFmpeg).
		HideBanner().
		Overwrite().
		Input(inPath).
		VideoFilter(fmt.Sprintf("fps=%g", fps)).
		Quality(2).
		Output(framesDir + "/frame-%05d.jpg").
		Run(ctx, "extract_frames")
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(framesDir)
	if err != nil {
		return nil, fmt.Errorf("listing frames: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	frames := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(framesDir + "/" + name)
		if err != nil {
			return nil, fmt.Errorf("reading frame %s: %w", name, err)
		}
		frames = append(frames, data)
	}
	return frames, nil
}

// ExtractAudio decodes an MP4's audio track to raw signed 16-bit
// little-endian mono PCM at the given sample rate. A video without an audio
// track yields empty PCM, not an error.
func (t *Toolkit) ExtractAudio(ctx context.Context, video []byte, sampleRate int) ([]byte, error) {
	scope, err := scratch.NewScope("audio")
	if err != nil {
		return nil, err
	}
	defer scope.Close()

	inPath := scope.Path("in.mp4")
	if err := os.WriteFile(inPath, video, 0o644); err != nil {
		return nil, fmt.Errorf("writing audio input: %w", err)
	}

	outPath := scope.Path("out.pcm")
	err = NewCommandBuilder(t.bins.FFmpeg).
		HideBanner().
		Overwrite().
		Input(inPath).
		NoVideo().
		AudioCodec("pcm_s16le").
		AudioRate(sampleRate).
		AudioChannels(1).
		Format("s16le").
		Output(outPath).
		Run(ctx, "extract_audio")
	if err != nil {
		if isMissingAudioStream(err) {
			t.logger.DebugContext(ctx, "input has no audio stream")
			return []byte{}, nil
		}
		return nil, err
	}

	return os.ReadFile(outPath)
}

// isMissingAudioStream reports whether an extract failure was caused by the
// input simply having no audio track. ffmpeg exits non-zero when the output
// would be streamless, with one of these phrases on stderr.
func isMissingAudioStream(err error) bool {
	var terr *TransformError
	if !errors.As(err, &terr) {
		return false
	}
	return strings.Contains(terr.Stderr, "does not contain any stream") ||
		strings.Contains(terr.Stderr, "matches no streams")
}

// RemuxAudioVideo replaces an MP4's audio track with the given raw mono PCM,
// encoded to AAC. The video stream is copied and its full duration is
// preserved even when the replacement audio is shorter or longer.
func (t *Toolkit) RemuxAudioVideo(ctx context.Context, video, pcm []byte, sampleRate int) ([]byte, error) {
	scope, err := scratch.NewScope("remux")
	if err != nil {
		return nil, err
	}
	defer scope.Close()

	videoPath := scope.Path("video.mp4")
	if err := os.WriteFile(videoPath, video, 0o644); err != nil {
		return nil, fmt.Errorf("writing remux video: %w", err)
	}
	pcmPath := scope.Path("audio.pcm")
	if err := os.WriteFile(pcmPath, pcm, 0o644); err != nil {
		return nil, fmt.Errorf("writing remux audio: %w", err)
	}

	outPath := scope.Path("out.mp4")
	err = NewCommandBuilder(t.bins.FFmpeg).
		HideBanner().
		Overwrite().
		Input(videoPath).
		PCMInput(pcmPath, sampleRate).
		Map("0:v:0").
		Map("1:a:0").
		VideoCodec("copy").
		AudioCodec("aac").
		Output(outPath).
		Run(ctx, "remux_audio_video")
	if err != nil {
		return nil, err
	}

	return os.ReadFile(outPath)
}

// FragmentMP4 rewrites an MP4 into fragmented form suitable for progressive
// delivery over a socket. Streams are copied, not re-encoded. The output is
// structurally validated before it is returned; a client must never receive
// a fragmented container it cannot decode.
func (t *Toolkit) FragmentMP4(ctx context.Context, video []byte) ([]byte, error) {
	scope, err := scratch.NewScope("fragment")
	if err != nil {
		return nil, err
	}
	defer scope.Close()

	inPath := scope.Path("in.mp4")
	if err := os.WriteFile(inPath, video, 0o644); err != nil {
		return nil, fmt.Errorf("writing fragment input: %w", err)
	}

	outPath := scope.Path("out.mp4")
	err = NewCommandBuilder(t.bins.FFmpeg).
		HideBanner().
		Overwrite().
		Input(inPath).
		StreamCopy().
		FragmentedMP4Args().
		Output(outPath).
		Run(ctx, "fragment_mp4")
	if err != nil {
		return nil, err
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, err
	}
	if err := ValidateFragmentedMP4(out); err != nil {
		return nil, &TransformError{Op: "fragment_mp4", Err: err}
	}
	return out, nil
}

// ProbeDuration returns the container duration of an MP4 in seconds.
func (t *Toolkit) ProbeDuration(ctx context.Context, video []byte) (float64, error) {
	scope, err := scratch.NewScope("probe")
	if err != nil {
		return 0, err
	}
	defer scope.Close()

	inPath := scope.Path("in.mp4")
	if err := os.WriteFile(inPath, video, 0o644); err != nil {
		return 0, fmt.Errorf("writing probe input: %w", err)
	}

	out, err := runProbe(ctx, t.bins.FFprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inPath,
	)
	if err != nil {
		return 0, err
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing probed duration %q: %w", out, err)
	}
	return duration, nil
}
