// Package twilio implements the Transport interface over Twilio Media
// Streams: a websocket carrying base64 mu-law audio plus JSON control
// envelopes, a TwiML voice webhook, and a status callback.
package twilio

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	twilioclient "github.com/twilio/twilio-go/client"

	"github.com/mzaldivar/centralita/pkg/errorsx"
	"github.com/mzaldivar/centralita/pkg/frames"
	"github.com/mzaldivar/centralita/pkg/logging"
)

type Config struct {
	ServerAddr         string   `mapstructure:"server_addr"`
	PublicURL          string   `mapstructure:"public_url"`
	AuthToken          string   `mapstructure:"auth_token"`
	AccountSID         string   `mapstructure:"account_sid"`
	VoicePath          string   `mapstructure:"voice_path"`
	WebsocketPath      string   `mapstructure:"ws_path"`
	StatusCallbackPath string   `mapstructure:"status_callback_path"`
	Greeting           string   `mapstructure:"greeting"`
	AllowAnyOrigin     bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.VoicePath == "" {
		c.VoicePath = "/voice"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if c.StatusCallbackPath == "" {
		c.StatusCallbackPath = "/status"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// Greeter resolves greeting text to a playable audio URL. The
// synthesis cache satisfies it; a nil Greeter falls back to TwiML Say.
type Greeter interface {
	Speak(ctx context.Context, text string) (string, error)
}

type Transport struct {
	cfg      Config
	greeter  Greeter
	server   *http.Server
	upgrader websocket.Upgrader
	recvCh   chan frames.Frame
	done     chan struct{}
	logger   *slog.Logger

	mu          sync.Mutex
	sessions    map[string]*session
	callSIDs    map[string]string
	callStreams map[string]string
	traceIDs    map[string]string
	fromNumbers map[string]string

	draining   atomic.Bool
	deliverers sync.WaitGroup
}

func New(cfg Config, greeter Greeter) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		cfg:     cfg,
		greeter: greeter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		recvCh:      make(chan frames.Frame, 512),
		done:        make(chan struct{}),
		logger:      logging.NewComponentLogger(slog.Default(), "twilio_transport"),
		sessions:    make(map[string]*session),
		callSIDs:    make(map[string]string),
		callStreams: make(map[string]string),
		traceIDs:    make(map[string]string),
		fromNumbers: make(map[string]string),
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	return t
}

func (t *Transport) Name() string { return "twilio" }

func (t *Transport) Recv() <-chan frames.Frame { return t.recvCh }

func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{
		"webhook_url":         t.publicHTTPURL(t.cfg.VoicePath),
		"status_callback_url": t.publicHTTPURL(t.cfg.StatusCallbackPath),
	}
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.HandleFunc(t.cfg.VoicePath, t.handleVoice)
	mux.Handle(t.cfg.WebsocketPath, t)
	mux.HandleFunc(t.cfg.StatusCallbackPath, t.handleStatusCallback)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	t.server = &http.Server{
		Addr:              t.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	go func() {
		<-ctx.Done()
		_ = t.server.Close()
	}()
	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("server error", "error", err)
		}
	}()
	return nil
}

func (t *Transport) Stop() error {
	// Flip the drain flag under the mutex so no new handler can
	// register once it is set; see registerDeliverer.
	t.mu.Lock()
	t.draining.Store(true)
	t.mu.Unlock()
	close(t.done)
	if t.server != nil {
		_ = t.server.Close()
	}
	t.mu.Lock()
	for _, sess := range t.sessions {
		_ = sess.close()
	}
	t.sessions = make(map[string]*session)
	t.mu.Unlock()
	// recvCh closes only after every handler holding a deliverer slot
	// has returned, so deliver can never send on a closed channel.
	t.deliverers.Wait()
	close(t.recvCh)
	return nil
}

// registerDeliverer claims a slot that keeps recvCh open. Handlers
// that deliver frames must hold one for their whole lifetime.
func (t *Transport) registerDeliverer() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.draining.Load() {
		return false
	}
	t.deliverers.Add(1)
	return true
}

// ServeHTTP runs the media stream websocket: one connection per call,
// decoding each provider message into a frame. The read loop applies
// backpressure by blocking on the frame channel instead of dropping
// audio when downstream is slow.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !t.registerDeliverer() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	defer t.deliverers.Done()
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var streamID string
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var evt StreamEvent
		if err := json.Unmarshal(msg, &evt); err != nil {
			// Malformed control payloads are skipped, never fatal.
			t.logger.Debug("unparseable stream message skipped", "stream_id", streamID)
			continue
		}
		switch evt.Event {
		case "connected":
			t.deliver(frames.NewSystemFrame(streamID, time.Now().UnixNano(), frames.SystemConnected, nil))
		case "start":
			if evt.Start == nil {
				continue
			}
			streamID = evt.Start.StreamID
			traceID := uuid.NewString()
			if old := t.attach(streamID, evt.Start.CallSID, traceID, evt.Start.From, conn); old != nil {
				_ = old.close()
			}
			meta := map[string]string{
				frames.MetaStreamID:   streamID,
				frames.MetaCallSID:    evt.Start.CallSID,
				frames.MetaTraceID:    traceID,
				frames.MetaFromNumber: evt.Start.From,
				frames.MetaSource:     "transport",
			}
			t.deliver(frames.NewSystemFrame(streamID, time.Now().UnixNano(), frames.SystemStreamStart, meta))
		case "media":
			if evt.Media == nil {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(evt.Media.Payload)
			if err != nil {
				t.logger.Debug("bad media payload skipped", "stream_id", streamID)
				continue
			}
			meta := t.metaForStream(streamID)
			meta[frames.MetaEncoding] = "mulaw"
			t.deliver(frames.NewAudioFrame(streamID, time.Now().UnixNano(), payload, 8000, 1, meta))
		case "dtmf":
			if evt.DTMF == nil {
				continue
			}
			meta := t.metaForStream(streamID)
			meta[frames.MetaDTMFDigit] = evt.DTMF.Digit
			t.deliver(frames.NewControlFrame(streamID, time.Now().UnixNano(), frames.ControlDTMF, meta))
		case "stop":
			meta := t.metaForStream(streamID)
			meta[frames.MetaCallEndReason] = "completed"
			t.deliver(frames.NewSystemFrame(streamID, time.Now().UnixNano(), frames.SystemStreamStop, meta))
			t.detach(streamID)
			return
		default:
			t.logger.Debug("unknown stream event ignored", "stream_id", streamID, "event", evt.Event)
		}
	}
	// The socket dropped without a stop event. Early disconnects are
	// normal teardown for the session but worth surfacing in logs.
	if streamID != "" {
		t.logger.Warn("stream disconnected without stop", "stream_id", streamID)
		meta := t.metaForStream(streamID)
		meta[frames.MetaCallEndReason] = "transport_closed"
		t.deliver(frames.NewSystemFrame(streamID, time.Now().UnixNano(), frames.SystemDisconnected, meta))
		t.detach(streamID)
	}
}

// Send writes an outbound frame to the call's websocket. Audio becomes
// a media event, text a diagnostic transcript event, and a clear
// control flushes the provider's playback buffer. Unroutable frames
// are dropped silently; outbound delivery is best-effort.
func (t *Transport) Send(f frames.Frame) error {
	streamID := f.Meta()[frames.MetaStreamID]
	if streamID == "" {
		if sid := f.Meta()[frames.MetaCallSID]; sid != "" {
			streamID = t.streamForCall(sid)
		}
	}
	sess := t.session(streamID)
	if sess == nil {
		return nil
	}
	switch fr := f.(type) {
	case frames.AudioFrame:
		return sess.enqueue(map[string]any{
			"event":     "media",
			"streamSid": streamID,
			"media": map[string]any{
				"payload": base64.StdEncoding.EncodeToString(fr.RawPayload()),
			},
		})
	case frames.TextFrame:
		return sess.enqueue(map[string]any{
			"event":     "transcript",
			"streamSid": streamID,
			"text":      fr.Text(),
		})
	case frames.ControlFrame:
		if fr.Code() == frames.ControlClear {
			return sess.enqueue(map[string]any{
				"event":     "clear",
				"streamSid": streamID,
			})
		}
		return nil
	default:
		return nil
	}
}

// handleVoice answers the provider's inbound-call webhook with markup
// that opens the media stream and greets the caller. The greeting
// plays from the synthesis cache when available and degrades to
// provider-native speech when synthesis fails.
func (t *Transport) handleVoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if t.cfg.AuthToken != "" && !t.validateTwilioRequest(r) {
		t.logger.Warn("invalid webhook signature", "reason_code", string(errorsx.ReasonTransportInvalidSignature))
		w.WriteHeader(http.StatusForbidden)
		return
	}

	var b strings.Builder
	b.WriteString(`<Response><Start><Stream url="` + t.websocketURL(r) + `"/></Start>`)
	if greeting := strings.TrimSpace(t.cfg.Greeting); greeting != "" {
		b.WriteString(t.greetingTwiML(r.Context(), greeting))
	}
	b.WriteString(`<Pause length="60"/></Response>`)

	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(b.String()))
}

func (t *Transport) greetingTwiML(ctx context.Context, greeting string) string {
	if t.greeter != nil {
		url, err := t.greeter.Speak(ctx, greeting)
		if err == nil {
			return `<Play>` + xmlEscape(url) + `</Play>`
		}
		t.logger.Warn("greeting synthesis failed, falling back to say", "error", err)
	}
	return `<Say>` + xmlEscape(greeting) + `</Say>`
}

// handleStatusCallback maps provider call-status updates onto stream
// stop frames so a call torn down outside the websocket still closes
// its session.
func (t *Transport) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !t.registerDeliverer() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	defer t.deliverers.Done()
	if t.cfg.AuthToken != "" && !t.validateTwilioRequest(r) {
		t.logger.Warn("invalid status signature", "reason_code", string(errorsx.ReasonTransportInvalidSignature))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	callSID := r.FormValue("CallSid")
	status := strings.ToLower(strings.TrimSpace(r.FormValue("CallStatus")))
	switch status {
	case "completed", "busy", "no-answer", "failed", "canceled":
	default:
		w.WriteHeader(http.StatusOK)
		return
	}
	streamID := t.streamForCall(callSID)
	if streamID == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	meta := t.metaForStream(streamID)
	meta[frames.MetaCallEndReason] = status
	t.deliver(frames.NewSystemFrame(streamID, time.Now().UnixNano(), frames.SystemStreamStop, meta))
	t.detach(streamID)
	w.WriteHeader(http.StatusOK)
}

// deliver hands one frame to the session layer, pausing the caller
// when the channel is full rather than dropping audio.
func (t *Transport) deliver(f frames.Frame) {
	if t.draining.Load() {
		return
	}
	select {
	case t.recvCh <- f:
	case <-t.done:
	}
}

func (t *Transport) websocketURL(r *http.Request) string {
	if t.cfg.PublicURL != "" {
		return "wss://" + normalizePublicURL(t.cfg.PublicURL) + t.cfg.WebsocketPath
	}
	host := r.Host
	if host == "" {
		host = strings.TrimPrefix(t.cfg.ServerAddr, ":")
	}
	return "wss://" + host + t.cfg.WebsocketPath
}

func (t *Transport) publicHTTPURL(path string) string {
	if t.cfg.PublicURL != "" {
		return "https://" + normalizePublicURL(t.cfg.PublicURL) + path
	}
	addr := t.cfg.ServerAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + path
}

func (t *Transport) attach(streamID, callSID, traceID, from string, conn *websocket.Conn) *session {
	sess := &session{
		conn:   conn,
		sendCh: make(chan []byte, 256),
	}
	var oldSess *session
	t.mu.Lock()
	if callSID != "" {
		if existing := t.callStreams[callSID]; existing != "" && existing != streamID {
			oldSess = t.sessions[existing]
			delete(t.sessions, existing)
			delete(t.callSIDs, existing)
			delete(t.traceIDs, existing)
			delete(t.fromNumbers, existing)
		}
		t.callStreams[callSID] = streamID
	}
	t.sessions[streamID] = sess
	t.callSIDs[streamID] = callSID
	t.traceIDs[streamID] = traceID
	if from != "" {
		t.fromNumbers[streamID] = from
	}
	t.mu.Unlock()
	go sess.loop()
	return oldSess
}

func (t *Transport) detach(streamID string) {
	t.mu.Lock()
	sess := t.sessions[streamID]
	callSID := t.callSIDs[streamID]
	delete(t.sessions, streamID)
	delete(t.callSIDs, streamID)
	delete(t.traceIDs, streamID)
	delete(t.fromNumbers, streamID)
	if callSID != "" && t.callStreams[callSID] == streamID {
		delete(t.callStreams, callSID)
	}
	t.mu.Unlock()
	if sess != nil {
		_ = sess.close()
	}
}

func (t *Transport) session(streamID string) *session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[streamID]
}

func (t *Transport) streamForCall(callSID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.callStreams[callSID]
}

func (t *Transport) metaForStream(streamID string) map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	meta := map[string]string{frames.MetaStreamID: streamID}
	if v := t.callSIDs[streamID]; v != "" {
		meta[frames.MetaCallSID] = v
	}
	if v := t.traceIDs[streamID]; v != "" {
		meta[frames.MetaTraceID] = v
	}
	if v := t.fromNumbers[streamID]; v != "" {
		meta[frames.MetaFromNumber] = v
	}
	return meta
}

func (t *Transport) validateTwilioRequest(r *http.Request) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" || t.cfg.AuthToken == "" {
		return false
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return false
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	validator := twilioclient.NewRequestValidator(t.cfg.AuthToken)
	return validator.ValidateBody(t.requestURL(r), body, signature)
}

func (t *Transport) requestURL(r *http.Request) string {
	if t.cfg.PublicURL != "" {
		return strings.TrimRight(t.cfg.PublicURL, "/") + r.URL.RequestURI()
	}
	scheme := r.URL.Scheme
	if scheme == "" {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else {
			scheme = "https"
		}
	}
	host := r.Host
	if host == "" {
		host = strings.TrimPrefix(t.cfg.ServerAddr, ":")
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range t.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

func xmlEscape(in string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&apos;",
	)
	return replacer.Replace(in)
}

type session struct {
	conn   *websocket.Conn
	sendCh chan []byte
	closed atomic.Bool
}

func (s *session) enqueue(msg map[string]any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}
	select {
	case s.sendCh <- b:
	default:
	}
	return nil
}

func (s *session) loop() {
	for msg := range s.sendCh {
		_ = s.conn.WriteMessage(websocket.TextMessage, msg)
	}
}

func (s *session) close() error {
	if s.closed.CompareAndSwap(false, true) {
		close(s.sendCh)
	}
	return s.conn.Close()
}

// StreamEvent is the JSON control envelope carried on the media
// stream websocket.
type StreamEvent struct {
	Event string       `json:"event"`
	Start *StreamStart `json:"start,omitempty"`
	Media *StreamMedia `json:"media,omitempty"`
	DTMF  *StreamDTMF  `json:"dtmf,omitempty"`
	Stop  *StreamStop  `json:"stop,omitempty"`
}

type StreamStart struct {
	CallSID  string `json:"callSid"`
	StreamID string `json:"streamSid"`
	From     string `json:"from"`
}

type StreamMedia struct {
	Payload string `json:"payload"`
}

type StreamDTMF struct {
	Digit string `json:"digit"`
}

type StreamStop struct {
	Reason string `json:"reason"`
}

func normalizePublicURL(v string) string {
	v = strings.TrimPrefix(v, "https://")
	v = strings.TrimPrefix(v, "http://")
	return strings.TrimRight(v, "/")
}
