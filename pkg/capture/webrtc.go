package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-emotion/internal/log"
	"github.com/teslashibe/go-emotion/pkg/camera"
)

// keyframeInterval is how often a picture loss indication asks the browser
// for a fresh keyframe.
const keyframeInterval = 3 * time.Second

// WebRTCSource receives the operator's browser camera. The browser calls
// getUserMedia, then either posts an SDP offer (Negotiate) or reports the
// DOMException it got (Reject).
type WebRTCSource struct {
	cfg     camera.Config
	timeout time.Duration
	store   *frameStore
	fail    chan error

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	pc       *webrtc.PeerConnection
	stopOnce sync.Once

	// workerMu orders wg.Add in track callbacks before Stop's wg.Wait.
	workerMu sync.Mutex
	wg       sync.WaitGroup
}

// NewWebRTC creates a source waiting for a browser offer.
func NewWebRTC(cfg camera.Config, timeout time.Duration) *WebRTCSource {
	ctx, cancel := context.WithCancel(context.Background())
	return &WebRTCSource{
		cfg:     cfg,
		timeout: timeout,
		store:   newFrameStore(),
		fail:    make(chan error, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start waits for the browser to deliver its first frame or a rejection.
func (s *WebRTCSource) Start(ctx context.Context) error {
	return s.store.wait(ctx, s.timeout, s.fail)
}

// Latest returns the most recent decoded frame.
func (s *WebRTCSource) Latest() image.Image {
	return s.store.Latest()
}

// Reject records a getUserMedia failure reported by the browser.
func (s *WebRTCSource) Reject(err *CameraError) {
	select {
	case s.fail <- err:
	default:
	}
}

// Negotiate answers a browser SDP offer. It returns once ICE gathering has
// completed so the answer carries every candidate.
func (s *WebRTCSource) Negotiate(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return nil, ErrNoPendingSource
	}
	if s.pc != nil {
		return nil, errors.New("capture: offer already negotiated")
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("capture: peer connection: %w", err)
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info("browser track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		if track.Kind() != webrtc.RTPCodecTypeVideo || !s.startWorkers(2) {
			return
		}
		go s.readTrack(track)
		go s.requestKeyframes(pc, track)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug("browser connection state", "state", state.String())
		if state == webrtc.PeerConnectionStateFailed {
			s.Reject(&CameraError{Kind: KindUnknown, Device: "browser", Err: errors.New("peer connection failed")})
		}
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("capture: set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("capture: create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("capture: set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		pc.Close()
		return nil, ctx.Err()
	}

	s.pc = pc
	return pc.LocalDescription(), nil
}

// startWorkers reserves n track goroutines. It fails once Stop has begun.
func (s *WebRTCSource) startWorkers(n int) bool {
	s.workerMu.Lock()
	defer s.workerMu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.wg.Add(n)
	return true
}

func (s *WebRTCSource) readTrack(track *webrtc.TrackRemote) {
	defer s.wg.Done()

	if !strings.EqualFold(track.Codec().MimeType, webrtc.MimeTypeH264) {
		s.Reject(&CameraError{Kind: KindUnknown, Device: "browser",
			Err: fmt.Errorf("unsupported codec %s", track.Codec().MimeType)})
		return
	}

	dec, err := StartH264Decoder(s.ctx, s.store.put)
	if err != nil {
		s.Reject(&CameraError{Kind: KindUnknown, Device: "browser", Err: err})
		return
	}
	defer dec.Close()

	var (
		depacketizer codecs.H264Packet
		au           []byte
	)
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		nal, err := depacketizer.Unmarshal(pkt.Payload)
		if err != nil {
			continue
		}
		au = append(au, nal...)
		if pkt.Marker && len(au) > 0 {
			if err := dec.Write(au); err != nil {
				log.Warn("h264 decoder write failed", "error", err)
				return
			}
			au = au[:0]
		}
	}
}

func (s *WebRTCSource) requestKeyframes(pc *webrtc.PeerConnection, track *webrtc.TrackRemote) {
	defer s.wg.Done()

	ticker := time.NewTicker(keyframeInterval)
	defer ticker.Stop()
	for {
		pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}
		if err := pc.WriteRTCP(pli); err != nil {
			return
		}
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop closes the peer connection, which ends every remote track.
func (s *WebRTCSource) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.workerMu.Lock()
		s.cancel()
		s.workerMu.Unlock()

		s.mu.Lock()
		if s.pc != nil {
			err = s.pc.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
	})
	return err
}

// Broker connects the HTTP signalling endpoints to the session waiting for
// a browser camera.
type Broker struct {
	// Wait is how long Offer and Reject wait for a session to ask for a
	// browser camera. The page may post its offer while models are still
	// loading. Zero fails at once.
	Wait time.Duration

	mu      sync.Mutex
	pending *WebRTCSource
	changed chan struct{} // Closed when pending is replaced
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{}
}

// Open creates a WebRTC source and makes it the target of the next offer.
func (b *Broker) Open(cfg camera.Config, timeout time.Duration) *WebRTCSource {
	src := NewWebRTC(cfg, timeout)
	b.mu.Lock()
	b.pending = src
	if b.changed != nil {
		close(b.changed)
		b.changed = nil
	}
	b.mu.Unlock()
	return src
}

func (b *Broker) current(ctx context.Context) (*WebRTCSource, error) {
	var expired <-chan time.Time
	if b.Wait > 0 {
		t := time.NewTimer(b.Wait)
		defer t.Stop()
		expired = t.C
	}
	for {
		b.mu.Lock()
		src := b.pending
		if src != nil && src.ctx.Err() == nil {
			b.mu.Unlock()
			return src, nil
		}
		if b.changed == nil {
			b.changed = make(chan struct{})
		}
		changed := b.changed
		b.mu.Unlock()

		if expired == nil {
			return nil, ErrNoPendingSource
		}
		select {
		case <-changed:
		case <-expired:
			return nil, ErrNoPendingSource
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Offer forwards a browser offer to the waiting source.
func (b *Broker) Offer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	src, err := b.current(ctx)
	if err != nil {
		return nil, err
	}
	return src.Negotiate(ctx, offer)
}

// Reject forwards a browser getUserMedia failure to the waiting source.
func (b *Broker) Reject(ctx context.Context, name, message string) error {
	src, err := b.current(ctx)
	if err != nil {
		return err
	}
	src.Reject(FromBrowser(name, message))
	return nil
}
