package capture

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os/exec"
	"sync"

	"github.com/teslashibe/go-emotion/internal/log"
)

// H264Decoder feeds an Annex-B H264 stream into a persistent ffmpeg process
// and hands every decoded frame to a callback. A single long-lived process
// keeps inter-frame state, so P-frames decode correctly.
type H264Decoder struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	onFrame func(image.Image)

	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex // Serialises writes
}

// StartH264Decoder launches ffmpeg. onFrame runs on the decoder's reader
// goroutine.
func StartH264Decoder(ctx context.Context, onFrame func(image.Image)) (*H264Decoder, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-loglevel", "error",
		"-fflags", "nobuffer",
		"-flags", "low_delay",
		"-f", "h264", // Input format
		"-i", "pipe:0",
		"-f", "image2pipe", // Output as pipe
		"-vcodec", "mjpeg",
		"-q:v", "3", // Quality (1-31, lower is better)
		"pipe:1",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("capture: ffmpeg stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture: ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("capture: start ffmpeg: %w", err)
	}

	d := &H264Decoder{cmd: cmd, stdin: stdin, onFrame: onFrame, done: make(chan struct{})}
	go d.read(stdout)
	return d, nil
}

// Write queues one access unit (Annex-B NAL units) for decoding.
func (d *H264Decoder) Write(au []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.stdin.Write(au)
	return err
}

func (d *H264Decoder) read(r io.Reader) {
	defer close(d.done)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<20), 16<<20)
	sc.Split(splitJPEG)
	for sc.Scan() {
		img, err := jpeg.Decode(bytes.NewReader(sc.Bytes()))
		if err != nil {
			log.Debug("ffmpeg frame decode failed", "error", err)
			continue
		}
		d.onFrame(img)
	}
	if err := sc.Err(); err != nil {
		log.Warn("ffmpeg output ended", "error", err)
	}
}

// Close stops ffmpeg and waits for the reader to drain.
func (d *H264Decoder) Close() error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.stdin.Close()
		d.mu.Unlock()
		<-d.done
		d.cmd.Wait()
	})
	return nil
}

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// splitJPEG is a bufio.SplitFunc yielding whole JPEG images from a
// concatenated MJPEG stream.
func splitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep the last byte; it may be the first half of a marker.
		return len(data) - 1, nil, nil
	}
	end := bytes.Index(data[start+2:], jpegEOI)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	stop := start + 2 + end + 2
	return stop, data[start:stop], nil
}
