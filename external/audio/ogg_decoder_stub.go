//go:build !opus

package audio

import "github.com/foxseedlab/kuchiguse/internal/audio"

type noopDecoder struct{}

func NewOggOpusDecoder() audio.Decoder {
	return &noopDecoder{}
}

func (d *noopDecoder) DecodeOggOpus(_ []byte) (audio.PCM, error) {
	return audio.PCM{}, audio.ErrDecoderUnavailable
}
