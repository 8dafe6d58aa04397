//go:build opus

package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/foxseedlab/kuchiguse/internal/audio"
	"github.com/hraban/opus"
)

const (
	sampleRate  = 48000
	frameSizeMs = 20
	// opusfile may return up to 120ms per call
	readBufferSamples = sampleRate * frameSizeMs * 6 / 1000
)

type OggOpusDecoder struct{}

func NewOggOpusDecoder() audio.Decoder {
	return &OggOpusDecoder{}
}

func (d *OggOpusDecoder) DecodeOggOpus(data []byte) (audio.PCM, error) {
	if len(data) == 0 {
		return audio.PCM{}, fmt.Errorf("empty audio payload")
	}
	stream, err := opus.NewStream(bytes.NewReader(data))
	if err != nil {
		return audio.PCM{}, fmt.Errorf("open ogg/opus stream: %w", err)
	}
	defer func() {
		_ = stream.Close()
	}()

	buf := make([]int16, readBufferSamples)
	samples := make([]int16, 0, len(data)*8)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			samples = append(samples, buf[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return audio.PCM{}, fmt.Errorf("decode ogg/opus: %w", err)
		}
	}
	return audio.PCM{SampleRate: sampleRate, Samples: samples}, nil
}
