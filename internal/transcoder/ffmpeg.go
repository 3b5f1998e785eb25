package transcoder

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// FFmpeg implements Transcoder by piping media through an ffmpeg binary on
// stdin/stdout. Construction fails soft: a missing binary yields a transcoder
// that reports ErrUnavailable on every call instead of an error at startup.
type FFmpeg struct {
	path string
}

// NewFFmpeg resolves the binary path. An empty resolved path marks the
// transcoder unavailable.
func NewFFmpeg(path string) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		resolved = ""
	}
	return &FFmpeg{path: resolved}
}

// Available reports whether the binary was found.
func (f *FFmpeg) Available() bool {
	return f != nil && f.path != ""
}

func (f *FFmpeg) OverlayImage(ctx context.Context, img []byte, p Params) ([]byte, error) {
	args := []string{"-i", "pipe:0"}
	if p.OverlayText != "" {
		args = append(args, "-vf", fmt.Sprintf("drawtext=text='%s':x=24:y=h-th-24:fontsize=42:fontcolor=white:box=1:boxcolor=black@0.4", escapeDrawtext(p.OverlayText)))
	}
	args = append(args, "-f", "image2", "-c:v", "png", "pipe:1")
	return f.run(ctx, img, args)
}

func (f *FFmpeg) LoopVideo(ctx context.Context, clip []byte, p Params) ([]byte, error) {
	loops := p.LoopCount
	if loops <= 0 {
		loops = 2
	}
	args := []string{
		"-stream_loop", fmt.Sprintf("%d", loops),
		"-i", "pipe:0",
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		"-movflags", "frag_keyframe+empty_moov",
		"-f", "mp4", "pipe:1",
	}
	return f.run(ctx, clip, args)
}

func (f *FFmpeg) RenderWidget(ctx context.Context, media []byte, p Params) ([]byte, error) {
	args := []string{"-i", "pipe:0"}
	filters := []string{"fps=12"}
	if p.Width > 0 && p.Height > 0 {
		filters = append(filters, fmt.Sprintf("scale=%d:%d", p.Width, p.Height))
	}
	if p.OverlayText != "" {
		filters = append(filters, fmt.Sprintf("drawtext=text='%s':x=24:y=h-th-24:fontsize=36:fontcolor=white:box=1:boxcolor=black@0.4", escapeDrawtext(p.OverlayText)))
	}
	args = append(args,
		"-vf", strings.Join(filters, ","),
		"-plays", "0",
		"-f", "apng", "pipe:1",
	)
	return f.run(ctx, media, args)
}

func (f *FFmpeg) run(ctx context.Context, input []byte, args []string) ([]byte, error) {
	if !f.Available() {
		return nil, ErrUnavailable
	}
	full := append([]string{"-hide_banner", "-loglevel", "error", "-y"}, args...)
	cmd := exec.CommandContext(ctx, f.path, full...)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg: produced no output")
	}
	return stdout.Bytes(), nil
}

func escapeDrawtext(text string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`, `%`, `\%`)
	return replacer.Replace(text)
}

var _ Transcoder = (*FFmpeg)(nil)
