package mediatools

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/clipforge/internal/config"
)

func TestCommandBuilder_ArgOrder(t *testing.T) {
	args := NewCommandBuilder("ffmpeg").
		HideBanner().
		Overwrite().
		Input("in.mp4").
		VideoFilter("fps=1").
		Quality(2).
		Output("out/frame-%05d.jpg").
		Args()

	assert.Equal(t, []string{
		"-loglevel", "error",
		"-hide_banner",
		"-y",
		"-i", "in.mp4",
		"-vf", "fps=1",
		"-q:v", "2",
		"out/frame-%05d.jpg",
	}, args)
}

func TestCommandBuilder_MultipleInputs(t *testing.T) {
	args := NewCommandBuilder("ffmpeg").
		Input("video.mp4").
		PCMInput("audio.pcm", 24000).
		Map("0:v:0").
		Map("1:a:0").
		VideoCodec("copy").
		AudioCodec("aac").
		Output("out.mp4").
		Args()

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-i video.mp4 -f s16le -ar 24000 -ac 1 -i audio.pcm")
	assert.Contains(t, joined, "-map 0:v:0 -map 1:a:0")
	assert.Contains(t, joined, "-c:v copy -c:a aac")
	assert.NotContains(t, joined, "-shortest")
}

func TestCommandBuilder_ConcatInput(t *testing.T) {
	args := NewCommandBuilder("ffmpeg").
		ConcatInput("list.txt").
		StreamCopy().
		Output("out.mp4").
		Args()

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-f concat -safe 0 -i list.txt")
	assert.Contains(t, joined, "-c copy")
}

func TestCommandBuilder_FragmentedMP4Args(t *testing.T) {
	args := NewCommandBuilder("ffmpeg").
		Input("in.mp4").
		StreamCopy().
		FragmentedMP4Args().
		Output("out.mp4").
		Args()

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-movflags frag_keyframe+empty_moov+default_base_moof")
	assert.Contains(t, joined, "-f mp4")
}

func TestCommandBuilder_SegmentArgs(t *testing.T) {
	args := NewCommandBuilder("ffmpeg").
		Input("pipe:0").
		StreamCopy().
		SegmentArgs(4).
		Output("seg-%05d.mp4").
		Args()

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-f segment -segment_time 4 -reset_timestamps 1")
}

func TestResolveBinaries_ConfiguredPathsKept(t *testing.T) {
	bins, err := ResolveBinaries(config.ToolsConfig{
		FFmpegPath:  "/opt/ffmpeg",
		FFprobePath: "/opt/ffprobe",
		YtdlpPath:   "/opt/yt-dlp",
	})
	require.NoError(t, err)
	assert.Equal(t, "/opt/ffmpeg", bins.FFmpeg)
	assert.Equal(t, "/opt/ffprobe", bins.FFprobe)
	assert.Equal(t, "/opt/yt-dlp", bins.Ytdlp)
}
