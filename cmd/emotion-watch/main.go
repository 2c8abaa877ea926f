// emotion-watch tails the status stream of a running emotion demo.
// On a terminal it redraws the smoothed emotion bars in place; when piped it
// prints one line per update.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/term"

	"github.com/teslashibe/go-emotion/pkg/session"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "Demo server host:port")
	width := flag.Int("width", 30, "Bar width in characters")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p := &printer{
		out:   os.Stdout,
		live:  term.IsTerminal(int(os.Stdout.Fd())),
		width: *width,
	}
	if err := watch(ctx, *addr, p); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func watch(ctx context.Context, addr string, p *printer) error {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws/status"}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", u.String(), err)
	}
	defer ws.Close()

	go func() {
		<-ctx.Done()
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		ws.Close()
	}()

	for {
		typ, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if typ != websocket.TextMessage {
			continue
		}
		var st session.Status
		if err := jsoniter.Unmarshal(data, &st); err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  bad status message: %v\n", err)
			continue
		}
		p.print(st)
	}
}

type printer struct {
	out   io.Writer
	live  bool
	width int
	lines int // Lines drawn by the previous live frame
}

func (p *printer) print(st session.Status) {
	if !p.live {
		fmt.Fprintln(p.out, summary(st))
		return
	}
	// Move back over the previous frame and redraw it.
	if p.lines > 0 {
		fmt.Fprintf(p.out, "\033[%dA\033[J", p.lines)
	}
	frame := render(st, p.width)
	fmt.Fprint(p.out, frame)
	p.lines = countLines(frame)
}

// summary is the one-line form used when output is not a terminal.
func summary(st session.Status) string {
	line := fmt.Sprintf("%s state=%s", st.UpdatedAt.Format(time.RFC3339), st.State)
	if st.DemoMode {
		line += " demo"
	}
	if st.Error != nil {
		return line + fmt.Sprintf(" error=%s %q", st.Error.Kind, st.Error.Message)
	}
	if st.Face != nil {
		line += fmt.Sprintf(" face=%.0f,%.0f,%.0fx%.0f", st.Face.X, st.Face.Y, st.Face.W, st.Face.H)
	}
	if st.Dominant != "" {
		line += " dominant=" + st.Dominant
	}
	for _, s := range st.Emotions {
		line += fmt.Sprintf(" %s=%.2f", s.Label, s.Value)
	}
	return line
}

// render draws the multi-line terminal view.
func render(st session.Status, width int) string {
	header := fmt.Sprintf("😀 Emotion demo  state: %s", st.State)
	if st.DemoMode {
		header += "  (demo mode)"
	}
	out := header + "\n"

	switch {
	case st.Error != nil:
		out += "❌ " + st.Error.Message + "\n"
		if st.Error.Retryable {
			out += "   retry is available from the UI\n"
		}
		return out
	case st.Loading:
		return out + "⏳ Loading AI models...\n"
	case len(st.Emotions) == 0:
		return out + "   waiting for a face\n"
	}

	for _, s := range st.Emotions {
		mark := " "
		if s.Label == st.Dominant {
			mark = "▶"
		}
		out += fmt.Sprintf("%s %-9s %s %3.0f%%\n", mark, s.Label, bar(s.Value, width), s.Value*100)
	}
	return out
}

func bar(v float64, width int) string {
	n := int(v*float64(width) + 0.5)
	n = max(0, min(n, width))
	b := make([]rune, width)
	for i := range b {
		if i < n {
			b[i] = '█'
		} else {
			b[i] = '·'
		}
	}
	return string(b)
}

func countLines(s string) int {
	n := 0
	for _, r := range s {
		if r == '\n' {
			n++
		}
	}
	return n
}
