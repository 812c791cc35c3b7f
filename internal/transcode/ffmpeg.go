// Package transcode converts a folder of videos to H.264+AAC MKV with
// sidecar SRT subtitles and ships the results to a remote host.
package transcode

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"hearth/internal/command"
)

// Encoder names recorded on jobs and metrics.
const (
	EncoderCPU = "libx264"
	EncoderGPU = "h264_nvenc"
)

const (
	DefaultBitrate      = "2M"
	DefaultAudioBitrate = "192k"
	DefaultTempDir      = "/tmp/transcode"

	cpuPreset  = "medium"
	cpuCRF     = "22"
	gpuPreset  = "p4"
	gpuProfile = "high"
)

// VideoExtensions are matched case-insensitively.
var VideoExtensions = []string{
	".mp4", ".avi", ".mkv", ".mov", ".wmv", ".flv", ".webm",
	".m4v", ".mpg", ".mpeg", ".3gp", ".ts",
}

// imageSubtitleCodecs cannot be converted to text without OCR.
var imageSubtitleCodecs = []string{"dvd_subtitle", "dvdsub", "hdmv_pgs_subtitle", "pgssub"}

// Options control encoding.
type Options struct {
	Bitrate      string
	AudioBitrate string
	GPU          bool
	FFmpegPath   string
	FFprobePath  string
}

func (o Options) withDefaults() Options {
	if o.Bitrate == "" {
		o.Bitrate = DefaultBitrate
	}
	if o.AudioBitrate == "" {
		o.AudioBitrate = DefaultAudioBitrate
	}
	if o.FFmpegPath == "" {
		o.FFmpegPath = "ffmpeg"
	}
	if o.FFprobePath == "" {
		o.FFprobePath = "ffprobe"
	}
	return o
}

// IsVideo reports whether path has a known video extension.
func IsVideo(path string) bool {
	return slices.Contains(VideoExtensions, strings.ToLower(filepath.Ext(path)))
}

// CPUArgs returns the libx264 encode argv (without the ffmpeg binary).
func CPUArgs(input, output string, o Options) []string {
	o = o.withDefaults()
	return []string{
		"-y", "-i", input,
		"-c:v", EncoderCPU,
		"-preset", cpuPreset,
		"-crf", cpuCRF,
		"-b:v", o.Bitrate,
		"-c:a", "aac",
		"-b:a", o.AudioBitrate,
		"-map", "0:v",
		"-map", "0:a",
		output,
	}
}

// GPUArgs returns the NVENC encode argv. 10-bit sources are converted to
// yuv420p since NVENC H.264 cannot take them.
func GPUArgs(input, output string, o Options, tenBit bool) []string {
	o = o.withDefaults()
	args := []string{"-y", "-i", input}
	if tenBit {
		args = append(args, "-pix_fmt", "yuv420p")
	}
	return append(args,
		"-c:v", EncoderGPU,
		"-preset", gpuPreset,
		"-profile:v", gpuProfile,
		"-b:v", o.Bitrate,
		"-c:a", "aac",
		"-b:a", o.AudioBitrate,
		"-map", "0:v",
		"-map", "0:a",
		output,
	)
}

// Encoder runs ffmpeg for one file.
type Encoder struct {
	runner command.Runner
	prober *Prober
	opts   Options
	log    zerolog.Logger
	out    io.Writer
}

// NewEncoder returns an Encoder. out receives ffmpeg's output; nil discards it.
func NewEncoder(runner command.Runner, prober *Prober, opts Options, log zerolog.Logger, out io.Writer) *Encoder {
	return &Encoder{runner: runner, prober: prober, opts: opts.withDefaults(), log: log, out: out}
}

// Encode transcodes input to output (a .mkv path) and returns the encoder
// that produced it. A GPU failure falls back to the CPU encoder.
func (e *Encoder) Encode(ctx context.Context, input, output string) (string, error) {
	if e.opts.GPU {
		tenBit, err := e.prober.Is10Bit(ctx, input)
		if err != nil {
			e.log.Warn().Err(err).Str("file", input).Msg("could not determine bit depth")
		}
		if tenBit {
			e.log.Info().Str("file", input).Msg("10-bit source, converting for NVENC")
		}

		err = e.runner.Run(ctx, e.opts.FFmpegPath, GPUArgs(input, output, e.opts, tenBit), e.out)
		if err == nil {
			return EncoderGPU, nil
		}
		if ctx.Err() != nil {
			return "", err
		}
		e.log.Warn().Err(err).Str("file", input).Msg("GPU encoding failed, falling back to CPU")
	}

	if err := e.runner.Run(ctx, e.opts.FFmpegPath, CPUArgs(input, output, e.opts), e.out); err != nil {
		return "", fmt.Errorf("encode %s: %w", filepath.Base(input), err)
	}
	return EncoderCPU, nil
}

// ExtractSubtitles writes the first subtitle stream of input to base+".srt".
// It returns the SRT path, or "" when nothing was extracted.
func (e *Encoder) ExtractSubtitles(ctx context.Context, input, base string) (string, error) {
	codec, err := e.prober.SubtitleCodec(ctx, input)
	if err != nil {
		return "", fmt.Errorf("probe subtitle codec: %w", err)
	}
	e.log.Debug().Str("file", input).Str("codec", codec).Msg("subtitle codec")

	if err := os.MkdirAll(filepath.Dir(base), 0755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	srt := filepath.Clean(base + ".srt")
	ffmpeg := e.opts.FFmpegPath

	switch {
	case codec == "ass" || codec == "ssa":
		ass := filepath.Clean(base + ".ass")
		defer os.Remove(ass)
		if err := e.runner.Run(ctx, ffmpeg, []string{"-y", "-i", input, "-map", "0:s:0", "-c:s", "copy", ass}, e.out); err != nil {
			return "", fmt.Errorf("extract %s subtitles: %w", codec, err)
		}
		if err := e.runner.Run(ctx, ffmpeg, []string{"-y", "-i", ass, "-c:s", "srt", srt}, e.out); err != nil {
			return "", fmt.Errorf("convert %s to srt: %w", codec, err)
		}
	case slices.Contains(imageSubtitleCodecs, codec):
		e.log.Warn().Str("file", input).Str("codec", codec).Msg("image-based subtitles, OCR conversion required")
		if err := e.runner.Run(ctx, ffmpeg, directSRTArgs(input, srt), e.out); err != nil {
			return "", fmt.Errorf("extract image subtitles: %w", err)
		}
	default:
		if err := e.runner.Run(ctx, ffmpeg, directSRTArgs(input, srt), e.out); err != nil {
			return "", fmt.Errorf("extract subtitles: %w", err)
		}
	}

	if _, err := os.Stat(srt); err != nil {
		return "", nil
	}
	return srt, nil
}

func directSRTArgs(input, srt string) []string {
	return []string{"-y", "-i", input, "-map", "0:s:0", "-c:s", "srt", srt}
}
