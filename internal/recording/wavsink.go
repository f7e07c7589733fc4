package recording

import (
	"encoding/binary"
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/yok-tottii/ezvoice/internal/audio"
)

// wavSink appends captured PCM to a WAV file
type wavSink struct {
	path string
	f    *os.File
	enc  *wav.Encoder
	buf  *goaudio.IntBuffer
}

func newWAVSink(path string, p audio.Params) (*wavSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}

	return &wavSink{
		path: path,
		f:    f,
		enc:  wav.NewEncoder(f, p.SampleRate, p.BitDepth, p.Channels, 1),
		buf: &goaudio.IntBuffer{
			Format: &goaudio.Format{
				NumChannels: p.Channels,
				SampleRate:  p.SampleRate,
			},
			SourceBitDepth: p.BitDepth,
		},
	}, nil
}

// Write appends 16-bit little-endian samples
func (s *wavSink) Write(pcm []byte) error {
	samples := len(pcm) / 2
	if cap(s.buf.Data) < samples {
		s.buf.Data = make([]int, samples)
	}
	s.buf.Data = s.buf.Data[:samples]
	for i := 0; i < samples; i++ {
		s.buf.Data[i] = int(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}
	if err := s.enc.Write(s.buf); err != nil {
		return fmt.Errorf("failed to write capture file: %w", err)
	}
	return nil
}

// Close finalizes the header and closes the file
func (s *wavSink) Close() error {
	encErr := s.enc.Close()
	fileErr := s.f.Close()
	if encErr != nil {
		return fmt.Errorf("failed to finalize capture file: %w", encErr)
	}
	if fileErr != nil {
		return fmt.Errorf("failed to close capture file: %w", fileErr)
	}
	return nil
}
