package twilio

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/mzaldivar/centralita/pkg/frames"
)

type stubGreeter struct {
	url string
	err error
}

func (s stubGreeter) Speak(ctx context.Context, text string) (string, error) {
	return s.url, s.err
}

func TestHandleVoiceOpensStreamWithCachedGreeting(t *testing.T) {
	tr := New(Config{PublicURL: "https://example.com", Greeting: "hola, bienvenido"},
		stubGreeter{url: "https://cdn.example.com/audio/abc.mp3"})

	req := httptest.NewRequest(http.MethodPost, "https://example.com/voice", nil)
	w := httptest.NewRecorder()
	tr.handleVoice(w, req)

	body := w.Body.String()
	if !strings.Contains(body, `<Stream url="wss://example.com/ws"/>`) {
		t.Fatalf("expected stream element, got %q", body)
	}
	if !strings.Contains(body, `<Play>https://cdn.example.com/audio/abc.mp3</Play>`) {
		t.Fatalf("expected cached greeting play, got %q", body)
	}
	if !strings.Contains(body, `<Pause`) {
		t.Fatalf("expected pause to keep the call open, got %q", body)
	}
}

func TestHandleVoiceFallsBackToSayOnSynthesisFailure(t *testing.T) {
	tr := New(Config{PublicURL: "https://example.com", Greeting: "hola & adios"},
		stubGreeter{err: errors.New("tts down")})

	req := httptest.NewRequest(http.MethodPost, "https://example.com/voice", nil)
	w := httptest.NewRecorder()
	tr.handleVoice(w, req)

	body := w.Body.String()
	if !strings.Contains(body, `<Say>hola &amp; adios</Say>`) {
		t.Fatalf("expected escaped say fallback, got %q", body)
	}
	if strings.Contains(body, `<Play>`) {
		t.Fatalf("play must not appear when synthesis fails: %q", body)
	}
}

func TestHandleVoiceSignatureValidation(t *testing.T) {
	cfg := Config{AuthToken: "token", PublicURL: "https://example.com", VoicePath: "/voice"}
	tr := New(cfg, nil)

	form := url.Values{}
	form.Set("CallSid", "CA123")
	form.Set("From", "+123")
	body := form.Encode()

	req := httptest.NewRequest(http.MethodPost, "https://example.com/voice", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	params := map[string]string{"CallSid": "CA123", "From": "+123"}
	sig := computeSignature(cfg.AuthToken, tr.requestURL(req), params)
	req.Header.Set("X-Twilio-Signature", sig)

	w := httptest.NewRecorder()
	tr.handleVoice(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	reqInvalid := httptest.NewRequest(http.MethodPost, "https://example.com/voice", strings.NewReader(body))
	reqInvalid.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	reqInvalid.Header.Set("X-Twilio-Signature", "invalid")
	wInvalid := httptest.NewRecorder()
	tr.handleVoice(wInvalid, reqInvalid)
	if wInvalid.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", wInvalid.Code)
	}
}

func TestSendEncodesOutboundFrames(t *testing.T) {
	tr := New(Config{}, nil)
	sess := &session{sendCh: make(chan []byte, 4)}
	tr.mu.Lock()
	tr.sessions["stream-1"] = sess
	tr.mu.Unlock()

	af := frames.NewAudioFrame("stream-1", time.Now().UnixNano(), []byte{0x7F, 0x7F}, 8000, 1, nil)
	if err := tr.Send(af); err != nil {
		t.Fatalf("send audio: %v", err)
	}
	tf := frames.NewTextFrame("stream-1", time.Now().UnixNano(), "hola mundo", nil)
	if err := tr.Send(tf); err != nil {
		t.Fatalf("send text: %v", err)
	}
	cf := frames.NewControlFrame("stream-1", time.Now().UnixNano(), frames.ControlClear, nil)
	if err := tr.Send(cf); err != nil {
		t.Fatalf("send clear: %v", err)
	}

	var events []string
	for i := 0; i < 3; i++ {
		select {
		case msg := <-sess.sendCh:
			var payload map[string]any
			if err := json.Unmarshal(msg, &payload); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			evt, _ := payload["event"].(string)
			events = append(events, evt)
			if evt == "media" {
				media, _ := payload["media"].(map[string]any)
				enc, _ := media["payload"].(string)
				raw, err := base64.StdEncoding.DecodeString(enc)
				if err != nil || len(raw) != 2 {
					t.Fatalf("bad media payload %q", enc)
				}
			}
		default:
			t.Fatalf("expected 3 outbound messages, got %d", len(events))
		}
	}
	want := []string{"media", "transcript", "clear"}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, events)
		}
	}
}

func TestSendWithoutSessionIsBestEffort(t *testing.T) {
	tr := New(Config{}, nil)
	tf := frames.NewTextFrame("missing", time.Now().UnixNano(), "hola", nil)
	if err := tr.Send(tf); err != nil {
		t.Fatalf("expected silent drop, got %v", err)
	}
}

func TestStopWaitsForInFlightHandlers(t *testing.T) {
	tr := New(Config{}, nil)
	if !tr.registerDeliverer() {
		t.Fatalf("expected registration to succeed before stop")
	}

	stopped := make(chan struct{})
	go func() {
		_ = tr.Stop()
		close(stopped)
	}()

	// Stop must not close the frame channel while a handler still
	// holds a deliverer slot.
	select {
	case <-stopped:
		t.Fatalf("stop returned with a handler still registered")
	case <-time.After(50 * time.Millisecond):
	}

	// Delivering during the drain drops the frame instead of hitting
	// a closed channel.
	tr.deliver(frames.NewSystemFrame("stream-1", time.Now().UnixNano(), frames.SystemConnected, nil))

	tr.deliverers.Done()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatalf("stop did not finish after handlers exited")
	}

	if tr.registerDeliverer() {
		t.Fatalf("expected registration refused after stop")
	}
}

func TestHandleStatusCallbackStopsSession(t *testing.T) {
	cfg := Config{AuthToken: "token", PublicURL: "https://example.com", StatusCallbackPath: "/status"}
	tr := New(cfg, nil)
	streamID := "stream-1"
	callSID := "CA123"

	tr.mu.Lock()
	tr.callStreams[callSID] = streamID
	tr.callSIDs[streamID] = callSID
	tr.mu.Unlock()

	form := url.Values{}
	form.Set("CallSid", callSID)
	form.Set("CallStatus", "completed")
	body := form.Encode()

	req := httptest.NewRequest(http.MethodPost, "https://example.com/status", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	params := map[string]string{"CallSid": callSID, "CallStatus": "completed"}
	sig := computeSignature(cfg.AuthToken, tr.requestURL(req), params)
	req.Header.Set("X-Twilio-Signature", sig)

	w := httptest.NewRecorder()
	tr.handleStatusCallback(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	select {
	case frame := <-tr.Recv():
		sys, ok := frame.(frames.SystemFrame)
		if !ok {
			t.Fatalf("expected SystemFrame, got %T", frame)
		}
		if sys.Name() != frames.SystemStreamStop {
			t.Fatalf("expected stream stop, got %q", sys.Name())
		}
		meta := sys.Meta()
		if meta[frames.MetaCallEndReason] != "completed" {
			t.Fatalf("expected completed reason, got %q", meta[frames.MetaCallEndReason])
		}
		if meta[frames.MetaCallSID] != callSID {
			t.Fatalf("expected call_sid %q, got %q", callSID, meta[frames.MetaCallSID])
		}
	case <-time.After(time.Second):
		t.Fatal("expected stream stop frame")
	}
}

type stubCallCreator struct {
	lastParams *api.CreateCallParams
	sid        string
	err        error
}

func (s *stubCallCreator) CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error) {
	s.lastParams = params
	if s.err != nil {
		return nil, s.err
	}
	return &api.ApiV2010Call{Sid: &s.sid}, nil
}

func TestDialerCreatesCall(t *testing.T) {
	stub := &stubCallCreator{sid: "CA999"}
	d := NewDialer(Config{AccountSID: "AC1", AuthToken: "tok", PublicURL: "https://example.com"})
	d.client = stub

	sid, err := d.Dial(context.Background(), "+15550001", "+15550002", "")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if sid != "CA999" {
		t.Fatalf("expected CA999, got %q", sid)
	}
	if stub.lastParams == nil || stub.lastParams.Url == nil {
		t.Fatal("expected webhook url on create call params")
	}
	if *stub.lastParams.Url != "https://example.com/voice" {
		t.Fatalf("unexpected webhook url %q", *stub.lastParams.Url)
	}
}

func TestDialerRequiresCredentials(t *testing.T) {
	d := NewDialer(Config{})
	if _, err := d.Dial(context.Background(), "+15550001", "+15550002", ""); err == nil {
		t.Fatal("expected error without credentials")
	}
}

func computeSignature(authToken, url string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	base := url
	for _, k := range keys {
		base += k + params[k]
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	_, _ = mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
