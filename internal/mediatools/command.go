// Package mediatools wraps the external media binaries (ffmpeg, ffprobe,
// yt-dlp) behind a small toolkit of byte-in, byte-out transformations.
package mediatools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/clipforge/clipforge/internal/config"
)

// stderrTailLimit bounds how much tool stderr is retained for error reporting.
const stderrTailLimit = 4096

// Binaries holds resolved paths to the external tools.
type Binaries struct {
	FFmpeg  string
	FFprobe string
	Ytdlp   string
}

// ResolveBinaries resolves tool paths from configuration, falling back to
// PATH lookup for any path left empty.
func ResolveBinaries(cfg config.ToolsConfig) (Binaries, error) {
	b := Binaries{
		FFmpeg:  cfg.FFmpegPath,
		FFprobe: cfg.FFprobePath,
		Ytdlp:   cfg.YtdlpPath,
	}

	for name, field := range map[string]*string{
		"ffmpeg":  &b.FFmpeg,
		"ffprobe": &b.FFprobe,
		"yt-dlp":  &b.Ytdlp,
	} {
		if *field != "" {
			continue
		}
		path, err := exec.LookPath(name)
		if err != nil {
			return Binaries{}, fmt.Errorf("resolving %s: %w", name, err)
		}
		*field = path
	}
	return b, nil
}

// ffmpegInput is one -i entry with its preceding input options.
type ffmpegInput struct {
	args []string
	url  string
}

// CommandBuilder assembles ffmpeg argument lists with a fluent API.
// Unlike a flat []string it keeps global, per-input, filter, and output
// options in their required positions regardless of call order.
type CommandBuilder struct {
	binary     string
	logLevel   string
	overwrite  bool
	globalArgs []string
	inputs     []ffmpegInput
	filterArgs []string
	outputArgs []string
	output     string
}

// NewCommandBuilder creates a builder for the given ffmpeg binary.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	return &CommandBuilder{
		binary:   ffmpegPath,
		logLevel: "error",
	}
}

// LogLevel sets the ffmpeg log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// HideBanner hides the ffmpeg banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// Overwrite enables output file overwriting.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.overwrite = true
	return b
}

// Input adds an input source. Preceding options apply to this input only.
func (b *CommandBuilder) Input(url string, inputArgs ...string) *CommandBuilder {
	b.inputs = append(b.inputs, ffmpegInput{args: inputArgs, url: url})
	return b
}

// ConcatInput adds a concat-demuxer list file as an input.
func (b *CommandBuilder) ConcatInput(listPath string) *CommandBuilder {
	return b.Input(listPath, "-f", "concat", "-safe", "0")
}

// PCMInput adds a raw signed 16-bit little-endian mono PCM input.
func (b *CommandBuilder) PCMInput(path string, sampleRate int) *CommandBuilder {
	return b.Input(path, "-f", "s16le", "-ar", strconv.Itoa(sampleRate), "-ac", "1")
}

// VideoFilter adds a video filter to the -vf chain.
func (b *CommandBuilder) VideoFilter(filter string) *CommandBuilder {
	b.filterArgs = append(b.filterArgs, filter)
	return b
}

// VideoCodec sets the video codec.
func (b *CommandBuilder) VideoCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:v", codec)
	return b
}

// AudioCodec sets the audio codec.
func (b *CommandBuilder) AudioCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:a", codec)
	return b
}

// StreamCopy copies all streams without re-encoding.
func (b *CommandBuilder) StreamCopy() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c", "copy")
	return b
}

// NoVideo drops the video stream from the output.
func (b *CommandBuilder) NoVideo() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-vn")
	return b
}

// Map selects a stream from an input for the output.
func (b *CommandBuilder) Map(spec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-map", spec)
	return b
}

// AudioRate sets the output audio sample rate.
func (b *CommandBuilder) AudioRate(rate int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-ar", strconv.Itoa(rate))
	return b
}

// AudioChannels sets the number of output audio channels.
func (b *CommandBuilder) AudioChannels(channels int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-ac", strconv.Itoa(channels))
	return b
}

// Format sets the output container format.
func (b *CommandBuilder) Format(format string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-f", format)
	return b
}

// Quality sets the fixed quality scale (used for JPEG frame extraction).
func (b *CommandBuilder) Quality(q int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-q:v", strconv.Itoa(q))
	return b
}

// FragmentedMP4Args configures the MP4 muxer for streamable fragmented
// output: fragments on keyframes, no leading seek index.
func (b *CommandBuilder) FragmentedMP4Args() *CommandBuilder {
	b.outputArgs = append(b.outputArgs,
		"-movflags", "frag_keyframe+empty_moov+default_base_moof",
		"-f", "mp4",
	)
	return b
}

// SegmentArgs configures the segment muxer to cut fixed-duration MP4 chunks.
// Timestamps reset per segment so every chunk starts at zero.
func (b *CommandBuilder) SegmentArgs(segmentSeconds int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs,
		"-f", "segment",
		"-segment_time", strconv.Itoa(segmentSeconds),
		"-reset_timestamps", "1",
	)
	return b
}

// OutputArgs adds arbitrary output arguments.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// Output sets the output destination.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// Args assembles the final argument list.
func (b *CommandBuilder) Args() []string {
	args := []string{"-loglevel", b.logLevel}
	args = append(args, b.globalArgs...)
	if b.overwrite {
		args = append(args, "-y")
	}
	for _, in := range b.inputs {
		args = append(args, in.args...)
		args = append(args, "-i", in.url)
	}
	if len(b.filterArgs) > 0 {
		args = append(args, "-vf", strings.Join(b.filterArgs, ","))
	}
	args = append(args, b.outputArgs...)
	if b.output != "" {
		args = append(args, b.output)
	}
	return args
}

// Run executes the built command, returning a TransformError carrying the
// stderr tail on failure. op names the transformation for error reporting.
func (b *CommandBuilder) Run(ctx context.Context, op string) error {
	cmd := exec.CommandContext(ctx, b.binary, b.Args()...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &TransformError{Op: op, Stderr: stderrTail(stderr.Bytes()), Err: err}
	}
	return nil
}

// runProbe executes ffprobe and returns its stdout.
func runProbe(ctx context.Context, binary string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, binary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", &TransformError{Op: "probe", Stderr: stderrTail(stderr.Bytes()), Err: err}
	}
	return stdout.String(), nil
}

// stderrTail returns the last stderrTailLimit bytes of the given output.
func stderrTail(out []byte) string {
	if len(out) > stderrTailLimit {
		out = out[len(out)-stderrTailLimit:]
	}
	return strings.TrimSpace(string(out))
}
