package publish

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"vcam-daemon/internal/camera"
	"vcam-daemon/internal/coord"
	"vcam-daemon/internal/ipc"
	"vcam-daemon/internal/platform/metrics"
)

const jpegQuality = 85

// ClientInfo identifies a connecting consumer for the authorization hook.
type ClientInfo struct {
	ID         string
	RemoteAddr string
	UserAgent  string
}

// AuthorizeFunc is evaluated per connecting consumer before it receives any
// frame. The default policy accepts unconditionally; the hook exists so a
// stricter policy can be plugged in without touching the publisher.
type AuthorizeFunc func(info ClientInfo) bool

// AcceptAll is the default authorization policy.
func AcceptAll(ClientInfo) bool { return true }

// ConnectionListener receives one ConsumerConnect per authorized attach and
// one ConsumerDisconnect per detach. The publisher holds no camera lifecycle
// logic of its own; it only reports these edges.
type ConnectionListener interface {
	ConsumerConnect()
	ConsumerDisconnect()
}

// encodedFrame is the latest published frame; seq lets client loops skip
// writes when nothing new arrived.
type encodedFrame struct {
	seq  uint64
	jpeg []byte
}

// Publisher is the component external consumers attach to. It serves the
// composited stream as MJPEG at one negotiated format per activation and
// reports runtime phase and heartbeat into the shared status record.
type Publisher struct {
	log       *slog.Logger
	spec      camera.StreamSpec
	authorize AuthorizeFunc
	listener  ConnectionListener
	status    *ipc.StatusStore
	met       *metrics.Metrics
	hbEvery   time.Duration

	seq   atomic.Uint64
	frame atomic.Pointer[encodedFrame]

	mu        sync.Mutex
	consumers int
	hbStop    chan struct{}
	hbWG      sync.WaitGroup
}

// New returns a Publisher for the negotiated spec. authorize may be nil for
// the default accept-all policy; met may be nil in tests.
func New(spec camera.StreamSpec, authorize AuthorizeFunc, listener ConnectionListener, status *ipc.StatusStore, hbEvery time.Duration, log *slog.Logger, met *metrics.Metrics) *Publisher {
	if authorize == nil {
		authorize = AcceptAll
	}
	if hbEvery <= 0 {
		hbEvery = 2 * time.Second
	}
	if spec.FrameRate <= 0 {
		spec.FrameRate = 30
	}
	return &Publisher{
		log:       log,
		spec:      spec,
		authorize: authorize,
		listener:  listener,
		status:    status,
		met:       met,
		hbEvery:   hbEvery,
	}
}

// Publish makes img the frame served to all attached consumers. Called from
// the capture pipeline once per composite cycle; encoding happens here so
// N consumers cost one encode.
func (p *Publisher) Publish(img *image.RGBA) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return err
	}
	p.frame.Store(&encodedFrame{seq: p.seq.Add(1), jpeg: buf.Bytes()})
	return nil
}

// FrameSeq returns the sequence number of the latest published frame; zero
// means nothing has been published yet.
func (p *Publisher) FrameSeq() uint64 {
	return p.seq.Load()
}

// Consumers returns the number of currently attached consumers.
func (p *Publisher) Consumers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consumers
}

// UpdatePhase mirrors a coordinator transition into the shared status record
// and manages the heartbeat timer: it runs only while streaming and is
// cancelled as soon as the phase leaves streaming.
func (p *Publisher) UpdatePhase(st coord.StreamingState, deviceName string) {
	p.mu.Lock()
	if st.Phase == coord.PhaseStreaming && p.hbStop == nil {
		p.hbStop = make(chan struct{})
		p.hbWG.Add(1)
		go p.heartbeatLoop(p.hbStop)
	} else if st.Phase != coord.PhaseStreaming && p.hbStop != nil {
		close(p.hbStop)
		p.hbStop = nil
	}
	p.mu.Unlock()

	if err := p.status.Update(func(rec *ipc.Status) {
		rec.RuntimePhase = string(st.Phase)
		rec.CurrentDeviceName = deviceName
		rec.LastErrorMessage = st.LastError
		if st.Phase == coord.PhaseStreaming {
			rec.LastHeartbeat = time.Now().UTC()
		}
	}); err != nil {
		p.log.Error("status record update failed", "error", err)
	}
}

// Close stops the heartbeat timer and waits for it to exit.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.hbStop != nil {
		close(p.hbStop)
		p.hbStop = nil
	}
	p.mu.Unlock()
	p.hbWG.Wait()
}

func (p *Publisher) heartbeatLoop(stop chan struct{}) {
	defer p.hbWG.Done()
	ticker := time.NewTicker(p.hbEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			if err := p.status.Heartbeat(now.UTC()); err != nil {
				p.log.Warn("heartbeat write failed", "error", err)
			}
		}
	}
}

// Handler serves GET /stream.mjpeg. Each consumer is authorized, counted,
// and then fed the latest frame at the negotiated rate until it disconnects.
// A consumer that cannot keep up skips frames; nothing is queued.
func (p *Publisher) Handler(w http.ResponseWriter, r *http.Request) {
	info := ClientInfo{
		ID:         uuid.NewString(),
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	}

	if !p.authorize(info) {
		p.log.Warn("consumer rejected", "client_id", info.ID, "remote", info.RemoteAddr)
		w.WriteHeader(http.StatusForbidden)
		return
	}

	p.attach(info)
	defer p.detach(info)

	mw := multipart.NewWriter(w)
	defer mw.Close()
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	ticker := time.NewTicker(p.spec.Interval())
	defer ticker.Stop()

	var lastSeq uint64
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			frame := p.frame.Load()
			if frame == nil || frame.seq == lastSeq {
				continue
			}
			if err := writePart(mw, frame.jpeg); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			lastSeq = frame.seq
		}
	}
}

func writePart(mw *multipart.Writer, data []byte) error {
	header := textproto.MIMEHeader{
		"Content-Type":   {"image/jpeg"},
		"Content-Length": {fmt.Sprintf("%d", len(data))},
	}
	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = part.Write(data)
	return err
}

// attach counts a consumer in and reports the connect to the listener outside
// the publisher lock, since the listener's transition calls back into
// UpdatePhase.
func (p *Publisher) attach(info ClientInfo) {
	p.mu.Lock()
	p.consumers++
	n := p.consumers
	p.mu.Unlock()

	p.log.Info("consumer attached",
		slog.String("client_id", info.ID),
		slog.String("remote", info.RemoteAddr),
		slog.Int("consumers", n),
	)
	if p.met != nil {
		p.met.SetAttachedConsumers(n)
	}
	if p.listener != nil {
		p.listener.ConsumerConnect()
	}
}

func (p *Publisher) detach(info ClientInfo) {
	p.mu.Lock()
	p.consumers--
	n := p.consumers
	p.mu.Unlock()

	p.log.Info("consumer detached",
		slog.String("client_id", info.ID),
		slog.Int("consumers", n),
	)
	if p.met != nil {
		p.met.SetAttachedConsumers(n)
	}
	if p.listener != nil {
		p.listener.ConsumerDisconnect()
	}
}
