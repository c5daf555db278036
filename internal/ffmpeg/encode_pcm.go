package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
)

// NewPCMEncoder returns an Encoder for EncodeFromPCM's stdin-driven path,
// which carries no bitrate/sample-rate/channel configuration of its own
// (that comes from the per-call StreamInfo instead) — the Stream/ConvertToOGG
// constructor NewEncoder is for the other, file-driven encode paths.
func NewPCMEncoder() *Encoder { return &Encoder{} }

// EncodeOptions carries the AudioEncoder collaborator's options (spec §6):
// compression level, an optional verification pass, block size, a
// total-samples hint for the container header, and the metadata fields to
// stamp into it.
type EncodeOptions struct {
	CompressionLevel int
	Verify           bool
	BlockSize        int
	TotalSamplesHint *uint64

	Title, Artist, Album string
	Year                 int
}

// EncodeFromPCM pipes raw little-endian interleaved PCM read from in
// through ffmpeg into the canonical cache container format (FLAC),
// stamping metadata from opts, and writes the encoded bytes to out. It
// mirrors Encoder.Stream's exec.CommandContext/pipe plumbing, but drives
// stdin instead of reading a file, since the cache sink (§4.5) hands it a
// live decoded frame stream rather than a path on disk.
func (e *Encoder) EncodeFromPCM(ctx context.Context, in io.Reader, info StreamInfo, opts EncodeOptions, out io.Writer) error {
	// If in is the read end of an io.Pipe (the case for every caller in
	// this codebase) and ffmpeg never starts reading from it — because it
	// fails to launch, or exits early — closing it here unblocks whatever
	// is still writing to the other end instead of leaving it blocked
	// forever on a Write nobody will ever service.
	if c, ok := in.(io.Closer); ok {
		defer c.Close()
	}

	pcmFmt, err := pcmFormat(info.BitsPerSample)
	if err != nil {
		return err
	}

	args := []string{
		"-f", pcmFmt,
		"-ar", strconv.Itoa(info.SampleRateHz),
		"-ac", strconv.Itoa(info.Channels),
		"-i", "pipe:0",
		"-c:a", "flac",
		"-compression_level", strconv.Itoa(opts.CompressionLevel),
	}
	if opts.Title != "" {
		args = append(args, "-metadata", "title="+opts.Title)
	}
	if opts.Artist != "" {
		args = append(args, "-metadata", "artist="+opts.Artist)
	}
	if opts.Album != "" {
		args = append(args, "-metadata", "album="+opts.Album)
	}
	if opts.Year != 0 {
		args = append(args, "-metadata", "date="+strconv.Itoa(opts.Year))
	}
	if opts.BlockSize > 0 {
		args = append(args, "-frame_size", strconv.Itoa(opts.BlockSize))
	}
	args = append(args, "-f", "flac", "pipe:1")

	if opts.Verify {
		// ffmpeg's flac encoder has no reference-decoder verify pass (the
		// flac CLI's --verify), so the request is only logged and no
		// verification of the encoded output takes place.
		slog.Debug("ffmpeg encode: verify requested, no verify pass available, skipping")
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdin = in

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg: start encode: %w", err)
	}

	go func() {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			slog.Debug("ffmpeg encode", "output", sc.Text())
		}
	}()

	_, copyErr := io.Copy(out, stdout)
	waitErr := cmd.Wait()

	if copyErr != nil && ctx.Err() == nil {
		return fmt.Errorf("ffmpeg: encode copy error: %w", copyErr)
	}
	if waitErr != nil && ctx.Err() == nil {
		return fmt.Errorf("ffmpeg: encode process error: %w", waitErr)
	}
	return nil
}
