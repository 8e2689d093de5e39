package synthcache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/mzaldivar/centralita/pkg/adapters/tts"
	"github.com/mzaldivar/centralita/pkg/logging"
	"github.com/mzaldivar/centralita/pkg/metrics"
	"github.com/mzaldivar/centralita/pkg/resilience"
	"github.com/mzaldivar/centralita/pkg/storage"
)

// Config tunes the synthesis cache.
type Config struct {
	// Voice and Model participate in the cache key alongside the text,
	// so changing either produces a fresh object.
	Voice  string
	Model  string
	Format string // object suffix, "mp3" by default
	Retry  resilience.RetryPolicy
}

func (c Config) withDefaults() Config {
	if c.Format == "" {
		c.Format = "mp3"
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = resilience.NewRetryPolicy(3, 200*time.Millisecond)
	}
	return c
}

// Cache deduplicates speech synthesis by content. Speak returns the
// public URL of the synthesized audio for text, synthesizing and
// uploading only when no object exists under the derived key.
type Cache struct {
	cfg      Config
	synth    tts.Synthesizer
	store    storage.Store
	observer metrics.Observer
	logger   *slog.Logger
}

func New(synth tts.Synthesizer, store storage.Store, observer metrics.Observer, cfg Config) *Cache {
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	return &Cache{
		cfg:      cfg.withDefaults(),
		synth:    synth,
		store:    store,
		observer: observer,
		logger:   logging.NewComponentLogger(slog.Default(), "synthcache"),
	}
}

// Key derives the deterministic object key for text under the current
// voice, model, and format settings.
func (c *Cache) Key(text string) string {
	h := sha1.Sum([]byte(text + "|" + c.cfg.Voice + "|" + c.cfg.Model + "|" + c.cfg.Format))
	return hex.EncodeToString(h[:]) + "." + c.cfg.Format
}

// Speak ensures synthesized audio for text exists in the store and
// returns its public URL.
//
// The existence probe treats a missing object as a normal miss. Any
// other probe error is logged and the miss path runs anyway, so a
// flaky HEAD never blocks synthesis. Synthesis and upload each retry
// under the configured policy.
func (c *Cache) Speak(ctx context.Context, text string) (string, error) {
	key := c.Key(text)

	exists, err := c.store.Exists(ctx, key)
	if err != nil {
		c.logger.Warn("cache probe failed, synthesizing anyway", "key", key, "error", err)
	} else if exists {
		c.observer.RecordEvent(metrics.MetricsEvent{
			Name: metrics.EventCacheHit,
			Time: time.Now(),
			Tags: map[string]string{"key": key},
		})
		return c.store.URL(key), nil
	}

	c.observer.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventCacheMiss,
		Time: time.Now(),
		Tags: map[string]string{"key": key},
	})

	var audio []byte
	err = c.cfg.Retry.Do(ctx, func() error {
		var synthErr error
		audio, synthErr = c.synth.Synthesize(ctx, text)
		return synthErr
	})
	if err != nil {
		return "", err
	}

	err = c.cfg.Retry.Do(ctx, func() error {
		return c.store.Put(ctx, key, audio, c.synth.ContentType())
	})
	if err != nil {
		return "", err
	}

	c.logger.Info("synthesized and cached", "key", key, "bytes", len(audio))
	return c.store.URL(key), nil
}
