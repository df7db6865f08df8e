package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ComposeRequest carries everything the composer needs for one render.
type ComposeRequest struct {
	Audio        *AudioAsset
	BackgroundID string
	Captions     string
	Width        int
	Height       int
}

// VideoAsset is the result of a successful composition: the rendered video,
// a thumbnail frame, and measured metadata.
type VideoAsset struct {
	Data            []byte
	Thumbnail       []byte
	Format          string
	DurationSeconds float64
	Width           int
	Height          int
}

// Composer renders narration over a background clip into a single video.
type Composer interface {
	Compose(ctx context.Context, req ComposeRequest) (*VideoAsset, error)
}

// FFmpegComposer shells out to ffmpeg: it loops the background clip under the
// narration track, scales to the requested resolution, optionally burns
// captions, and extracts a thumbnail frame.
type FFmpegComposer struct {
	FFmpegPath    string
	BackgroundDir string
}

// NewFFmpegComposer builds a composer over the given background clip library.
func NewFFmpegComposer(ffmpegPath, backgroundDir string) (*FFmpegComposer, error) {
	if strings.TrimSpace(backgroundDir) == "" {
		return nil, errors.New("compose: background directory is required")
	}
	if strings.TrimSpace(ffmpegPath) == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegComposer{FFmpegPath: ffmpegPath, BackgroundDir: backgroundDir}, nil
}

// Compose renders the video. Deadline expiry is transient (the retry policy
// decides whether to try again); ffmpeg exit errors are terminal since a
// render that failed once on the same inputs will fail again.
func (c *FFmpegComposer) Compose(ctx context.Context, req ComposeRequest) (*VideoAsset, error) {
	if req.Audio == nil || len(req.Audio.Data) == 0 {
		return nil, errors.New("compose: audio asset is required")
	}

	background := filepath.Join(c.BackgroundDir, req.BackgroundID+".mp4")
	if _, err := os.Stat(background); err != nil {
		return nil, fmt.Errorf("compose: background clip %q: %w", req.BackgroundID, err)
	}

	workDir, err := os.MkdirTemp("", "compose-*")
	if err != nil {
		return nil, fmt.Errorf("compose: temp dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	audioPath := filepath.Join(workDir, "narration.mp3")
	if err := os.WriteFile(audioPath, req.Audio.Data, 0o644); err != nil {
		return nil, fmt.Errorf("compose: stage audio: %w", err)
	}

	outPath := filepath.Join(workDir, "out.mp4")
	filter := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d",
		req.Width, req.Height, req.Width, req.Height)
	if req.Captions != "" {
		filter += ",drawtext=text='" + escapeDrawtext(req.Captions) +
			"':fontcolor=white:fontsize=48:box=1:boxcolor=black@0.5:x=(w-text_w)/2:y=h-th-120"
	}
	args := []string{
		"-y",
		"-stream_loop", "-1", "-i", background,
		"-i", audioPath,
		"-map", "0:v:0", "-map", "1:a:0",
		"-vf", filter,
		"-c:v", "libx264", "-preset", "veryfast",
		"-c:a", "aac",
		"-shortest",
		outPath,
	}
	if err := c.run(ctx, args); err != nil {
		return nil, err
	}

	thumbPath := filepath.Join(workDir, "thumb.jpg")
	thumbArgs := []string{
		"-y",
		"-ss", "1", "-i", outPath,
		"-vframes", "1",
		"-vf", "scale=320:-1",
		thumbPath,
	}
	if err := c.run(ctx, thumbArgs); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("compose: read output: %w", err)
	}
	thumb, err := os.ReadFile(thumbPath)
	if err != nil {
		return nil, fmt.Errorf("compose: read thumbnail: %w", err)
	}

	return &VideoAsset{
		Data:            data,
		Thumbnail:       thumb,
		Format:          "video/mp4",
		DurationSeconds: req.Audio.DurationSeconds,
		Width:           req.Width,
		Height:          req.Height,
	}, nil
}

func (c *FFmpegComposer) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, c.FFmpegPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return Transient(fmt.Errorf("compose: ffmpeg interrupted: %w", ctx.Err()))
		}
		return fmt.Errorf("compose: ffmpeg: %w: %s", err, lastLine(out))
	}
	return nil
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}

func escapeDrawtext(text string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`, `%`, `\%`)
	return replacer.Replace(text)
}

var _ Composer = (*FFmpegComposer)(nil)

// StubComposer renders a deterministic placeholder video. Used when ffmpeg is
// not available and throughout the test suite.
type StubComposer struct {
	Err error
}

// Compose returns placeholder video bytes sized to look like a real render.
func (c *StubComposer) Compose(ctx context.Context, req ComposeRequest) (*VideoAsset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.Err != nil {
		return nil, c.Err
	}
	if req.Audio == nil {
		return nil, errors.New("compose: audio asset is required")
	}
	return &VideoAsset{
		Data:            []byte("synthetic-video:" + req.BackgroundID),
		Thumbnail:       []byte("synthetic-thumbnail"),
		Format:          "video/mp4",
		DurationSeconds: req.Audio.DurationSeconds,
		Width:           req.Width,
		Height:          req.Height,
	}, nil
}

var _ Composer = (*StubComposer)(nil)
