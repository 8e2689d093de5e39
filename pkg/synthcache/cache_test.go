package synthcache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mzaldivar/centralita/pkg/metrics"
	"github.com/mzaldivar/centralita/pkg/providers/mock"
	"github.com/mzaldivar/centralita/pkg/resilience"
	"github.com/mzaldivar/centralita/pkg/storage"
)

func newCache(t *testing.T, synth *mock.TTS, store storage.Store, obs metrics.Observer) *Cache {
	t.Helper()
	return New(synth, store, obs, Config{
		Voice: "nova",
		Model: "tts-1",
		Retry: resilience.RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond},
	})
}

func TestSpeakSynthesizesOnceForSameText(t *testing.T) {
	synth := &mock.TTS{}
	store := storage.NewMemory()
	obs := metrics.NewMemoryObserver()
	cache := newCache(t, synth, store, obs)

	url1, err := cache.Speak(context.Background(), "hola mundo")
	if err != nil {
		t.Fatalf("first Speak: %v", err)
	}
	url2, err := cache.Speak(context.Background(), "hola mundo")
	if err != nil {
		t.Fatalf("second Speak: %v", err)
	}

	if url1 != url2 {
		t.Fatalf("expected stable URL, got %q then %q", url1, url2)
	}
	if synth.Calls() != 1 {
		t.Fatalf("expected exactly one synthesis, got %d", synth.Calls())
	}
	if store.Puts() != 1 {
		t.Fatalf("expected exactly one upload, got %d", store.Puts())
	}
	if n := len(obs.Named(metrics.EventCacheHit)); n != 1 {
		t.Fatalf("expected one cache hit event, got %d", n)
	}
	if n := len(obs.Named(metrics.EventCacheMiss)); n != 1 {
		t.Fatalf("expected one cache miss event, got %d", n)
	}
}

func TestKeyChangesWithVoiceAndModel(t *testing.T) {
	synth := &mock.TTS{}
	store := storage.NewMemory()

	a := New(synth, store, nil, Config{Voice: "nova", Model: "tts-1"})
	b := New(synth, store, nil, Config{Voice: "alloy", Model: "tts-1"})
	c := New(synth, store, nil, Config{Voice: "nova", Model: "tts-1-hd"})

	ka, kb, kc := a.Key("hola"), b.Key("hola"), c.Key("hola")
	if ka == kb || ka == kc || kb == kc {
		t.Fatalf("expected distinct keys, got %q %q %q", ka, kb, kc)
	}
	for _, k := range []string{ka, kb, kc} {
		if !strings.HasSuffix(k, ".mp3") {
			t.Fatalf("expected mp3 suffix, got %q", k)
		}
	}
}

func TestSpeakProbeErrorFallsThroughToSynthesis(t *testing.T) {
	synth := &mock.TTS{}
	store := storage.NewMemory()
	store.HeadErr = errors.New("head timeout")
	cache := newCache(t, synth, store, nil)

	url, err := cache.Speak(context.Background(), "buenos dias")
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if url == "" {
		t.Fatal("expected URL despite probe failure")
	}
	if synth.Calls() != 1 {
		t.Fatalf("expected synthesis on probe failure, got %d calls", synth.Calls())
	}
}

func TestSpeakPropagatesSynthesisFailure(t *testing.T) {
	synth := &mock.TTS{Err: errors.New("vendor down")}
	store := storage.NewMemory()
	cache := newCache(t, synth, store, nil)

	if _, err := cache.Speak(context.Background(), "hola"); err == nil {
		t.Fatal("expected error from failing synthesizer")
	}
	if store.Puts() != 0 {
		t.Fatalf("expected no upload after synthesis failure, got %d", store.Puts())
	}
	// The retry budget allows multiple attempts before giving up.
	if synth.Calls() != 3 {
		t.Fatalf("expected 3 synthesis attempts, got %d", synth.Calls())
	}
}

func TestSpeakStoresContentType(t *testing.T) {
	synth := &mock.TTS{Audio: []byte("abc"), Type: "audio/mpeg"}
	store := storage.NewMemory()
	cache := newCache(t, synth, store, nil)

	if _, err := cache.Speak(context.Background(), "hola"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	body, ok := store.Get(cache.Key("hola"))
	if !ok {
		t.Fatal("expected object stored under derived key")
	}
	if string(body) != "abc" {
		t.Fatalf("stored body mismatch: %q", body)
	}
}
