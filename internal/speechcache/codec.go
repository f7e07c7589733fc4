package speechcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/yok-tottii/ezvoice/internal/background"
	"github.com/yok-tottii/ezvoice/internal/logger"
	"github.com/yok-tottii/ezvoice/internal/observe"
)

// ChunkSize is the read size used while inflating
const ChunkSize = 4096

// Deleter removes a cache row by id
type Deleter interface {
	Delete(rowID int64) error
}

// Codec compresses synthesized speech for storage and inflates it on a cache
// hit. Rows that cannot be read back are deleted in the background.
type Codec struct {
	deleter Deleter
	exec    *background.Executor
	log     *logger.Logger
	metrics *observe.Metrics
	tempDir string
}

// CodecOption configures a Codec
type CodecOption func(*Codec)

// WithCodecLogger sets the logger
func WithCodecLogger(l *logger.Logger) CodecOption {
	return func(c *Codec) { c.log = l.With("codec") }
}

// WithCodecMetrics sets the metrics instance
func WithCodecMetrics(m *observe.Metrics) CodecOption {
	return func(c *Codec) { c.metrics = m }
}

// WithTempDir sets the directory used by DecompressToFile. Empty means
// os.TempDir().
func WithTempDir(dir string) CodecOption {
	return func(c *Codec) { c.tempDir = dir }
}

// NewCodec creates a codec that schedules deletes of corrupted rows on exec
func NewCodec(deleter Deleter, exec *background.Executor, opts ...CodecOption) *Codec {
	c := &Codec{
		deleter: deleter,
		exec:    exec,
		log:     logger.Discard(),
		metrics: observe.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Compress gzips b at the highest compression level.
//
// It fails soft: on error it logs and returns whatever output was produced,
// possibly empty, and never returns an error.
func (c *Codec) Compress(b []byte) []byte {
	start := time.Now()
	defer func() {
		c.metrics.RecordCodec(context.Background(), "compress", time.Since(start).Seconds())
	}()

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		c.log.Error("Failed to create gzip writer: %v", err)
		return buf.Bytes()
	}
	if _, err := zw.Write(b); err != nil {
		c.log.Error("Failed to compress %d bytes: %v", len(b), err)
	}
	if err := zw.Close(); err != nil {
		c.log.Error("Failed to finish gzip stream: %v", err)
	}
	return buf.Bytes()
}

// Decompress inflates data read from row rowID. A nil or empty result means
// the row is unreadable, and a delete of rowID has been scheduled.
func (c *Codec) Decompress(data []byte, rowID int64) []byte {
	out, err := c.inflate(data)
	if err != nil {
		c.log.Warn("Failed to decompress row %d: %v", rowID, err)
		out = nil
	}
	if len(out) == 0 {
		c.scheduleDelete(rowID)
		return nil
	}
	return out
}

// DecompressToFile inflates data into a new temporary file and returns its
// path. On failure no file is left behind and ok is false. An unreadable row
// is scheduled for deletion as in Decompress.
func (c *Codec) DecompressToFile(data []byte, rowID int64) (path string, ok bool) {
	out := c.Decompress(data, rowID)
	if len(out) == 0 {
		return "", false
	}

	f, err := os.CreateTemp(c.tempDir, "speech-*.pcm")
	if err != nil {
		c.log.Error("Failed to create temp file for row %d: %v", rowID, err)
		return "", false
	}
	if _, err := f.Write(out); err != nil {
		c.log.Error("Failed to write temp file %s: %v", f.Name(), err)
		f.Close()
		os.Remove(f.Name())
		return "", false
	}
	if err := f.Close(); err != nil {
		c.log.Error("Failed to close temp file %s: %v", f.Name(), err)
		os.Remove(f.Name())
		return "", false
	}
	return f.Name(), true
}

func (c *Codec) inflate(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	start := time.Now()
	defer func() {
		c.metrics.RecordCodec(context.Background(), "decompress", time.Since(start).Seconds())
	}()

	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer zr.Close()

	var out bytes.Buffer
	chunk := make([]byte, ChunkSize)
	for {
		n, err := zr.Read(chunk)
		out.Write(chunk[:n])
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to inflate: %w", err)
		}
	}
	return out.Bytes(), nil
}

// Discard schedules a background delete of a row that could not be read
// back at all
func (c *Codec) Discard(rowID int64) {
	c.scheduleDelete(rowID)
}

func (c *Codec) scheduleDelete(rowID int64) {
	c.metrics.CacheDeletes.Add(context.Background(), 1)

	err := c.exec.Submit("delete-row", func() error {
		if err := c.deleter.Delete(rowID); err != nil {
			return fmt.Errorf("failed to delete row %d: %w", rowID, err)
		}
		c.log.Info("Deleted unreadable cache row %d", rowID)
		return nil
	})
	if err != nil {
		c.log.Warn("Failed to schedule delete of row %d: %v", rowID, err)
	}
}
