package transcode

import (
	"context"
	"fmt"
	"strings"

	"hearth/internal/command"
)

// Prober asks ffprobe about a file's streams.
type Prober struct {
	runner command.Runner
	path   string
}

// NewProber returns a Prober using the ffprobe binary at path.
func NewProber(runner command.Runner, path string) *Prober {
	if path == "" {
		path = "ffprobe"
	}
	return &Prober{runner: runner, path: path}
}

func (p *Prober) query(ctx context.Context, file, streams, entries string) (string, error) {
	out, err := p.runner.Output(ctx, p.path,
		"-v", "error",
		"-select_streams", streams,
		"-show_entries", entries,
		"-of", "csv=p=0",
		file,
	)
	if err != nil {
		return "", fmt.Errorf("ffprobe %s: %w", streams, err)
	}
	return strings.TrimSpace(out), nil
}

// HasSubtitles reports whether file has at least one subtitle stream.
func (p *Prober) HasSubtitles(ctx context.Context, file string) (bool, error) {
	out, err := p.query(ctx, file, "s", "stream=index")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// SubtitleCodec returns the codec name of the first subtitle stream.
func (p *Prober) SubtitleCodec(ctx context.Context, file string) (string, error) {
	return p.query(ctx, file, "s:0", "stream=codec_name")
}

// Is10Bit reports whether the first video stream is 10-bit, judged by
// bits_per_raw_sample or the pixel format (yuv420p10le and friends).
func (p *Prober) Is10Bit(ctx context.Context, file string) (bool, error) {
	out, err := p.query(ctx, file, "v:0", "stream=bits_per_raw_sample,pix_fmt")
	if err != nil {
		return false, err
	}
	return strings.Contains(out, "10"), nil
}
