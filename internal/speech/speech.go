// Package speech joins the speech cache with the playback queue: cached
// utterances are inflated and queued by key, and freshly synthesized audio
// is compressed into the cache.
package speech

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/yok-tottii/ezvoice/internal/background"
	"github.com/yok-tottii/ezvoice/internal/logger"
	"github.com/yok-tottii/ezvoice/internal/observe"
	"github.com/yok-tottii/ezvoice/internal/playback"
	"github.com/yok-tottii/ezvoice/internal/speechcache"
)

// Service plays and caches synthesized speech
type Service struct {
	store   speechcache.Store
	codec   *speechcache.Codec
	queue   *playback.Queue
	exec    *background.Executor
	log     *logger.Logger
	metrics *observe.Metrics
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(s *Service) { s.log = l.With("speech") }
}

// WithMetrics sets the metrics instance
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates a speech service
func New(store speechcache.Store, codec *speechcache.Codec, queue *playback.Queue, exec *background.Executor, opts ...Option) *Service {
	s := &Service{
		store:   store,
		codec:   codec,
		queue:   queue,
		exec:    exec,
		log:     logger.Discard(),
		metrics: observe.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Play queues pcm without caching it and returns its utterance id
func (s *Service) Play(pcm []byte) (string, error) {
	id := uuid.NewString()
	if err := s.queue.Enqueue(pcm, id); err != nil {
		return "", fmt.Errorf("failed to enqueue utterance: %w", err)
	}
	return id, nil
}

// PlayCached queues the utterance cached under key. ok is false when the key
// is not cached or its row could not be read back; an unreadable row is
// removed in the background.
func (s *Service) PlayCached(key string) (utteranceID string, ok bool, err error) {
	ctx := context.Background()

	entry, found, err := s.store.Get(key)
	if errors.Is(err, speechcache.ErrCorruptEntry) {
		s.metrics.RecordCacheLookup(ctx, "corrupt")
		s.log.Warn("Cached record for %q is not decodable (row %d)", key, entry.RowID)
		s.codec.Discard(entry.RowID)
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up %q: %w", key, err)
	}
	if !found {
		s.metrics.RecordCacheLookup(ctx, "miss")
		return "", false, nil
	}

	pcm := s.codec.Decompress(entry.Data, entry.RowID)
	if len(pcm) == 0 {
		s.metrics.RecordCacheLookup(ctx, "corrupt")
		s.log.Warn("Cached speech for %q is unreadable (row %d)", key, entry.RowID)
		return "", false, nil
	}
	s.metrics.RecordCacheLookup(ctx, "hit")

	id, err := s.Play(pcm)
	if err != nil {
		return "", false, err
	}
	s.log.Debug("Playing cached %q as %s", key, id)
	return id, true, nil
}

// Cache compresses pcm and stores it under key
func (s *Service) Cache(key string, pcm []byte) (int64, error) {
	if len(pcm) == 0 {
		return 0, fmt.Errorf("refusing to cache empty speech for %q", key)
	}
	compressed := s.codec.Compress(pcm)
	if len(compressed) == 0 {
		return 0, fmt.Errorf("compression produced no output for %q", key)
	}

	rowID, err := s.store.Put(key, compressed)
	if err != nil {
		return 0, fmt.Errorf("failed to cache %q: %w", key, err)
	}
	s.log.Debug("Cached %q as row %d (%d -> %d bytes)", key, rowID, len(pcm), len(compressed))
	return rowID, nil
}

// CacheAsync runs Cache on the background executor
func (s *Service) CacheAsync(key string, pcm []byte) error {
	return s.exec.Submit("cache-speech", func() error {
		_, err := s.Cache(key, pcm)
		return err
	})
}

// PlayCachedAsync runs PlayCached on the background executor so the caller
// never waits on decompression. A miss is logged, not returned.
func (s *Service) PlayCachedAsync(key string) error {
	return s.exec.Submit("play-cached", func() error {
		_, ok, err := s.PlayCached(key)
		if err != nil {
			return err
		}
		if !ok {
			s.log.Debug("Nothing cached under %q", key)
		}
		return nil
	})
}

// Stop halts playback; see playback.Queue.Stop
func (s *Service) Stop(interrupt bool) {
	s.queue.Stop(interrupt)
}

// Pending returns the number of utterances not yet fully played
func (s *Service) Pending() int {
	return s.queue.Len()
}
