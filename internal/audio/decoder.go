package audio

import (
	"encoding/binary"
	"errors"
)

var ErrDecoderUnavailable = errors.New("audio: ogg/opus decoder not compiled in")

// PCM is mono signed 16-bit audio.
type PCM struct {
	SampleRate int
	Samples    []int16
}

type Decoder interface {
	DecodeOggOpus(data []byte) (PCM, error)
}

// LittleEndian encodes the samples as LINEAR16.
func (p PCM) LittleEndian() []byte {
	buf := make([]byte, len(p.Samples)*2)
	for i, s := range p.Samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// Float32 resamples to targetRate by linear interpolation and scales to [-1, 1].
func (p PCM) Float32(targetRate int) []float32 {
	if len(p.Samples) == 0 || p.SampleRate <= 0 || targetRate <= 0 {
		return nil
	}
	ratio := float64(p.SampleRate) / float64(targetRate)
	n := int(float64(len(p.Samples)) / ratio)
	out := make([]float32, n)
	last := len(p.Samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = float32(p.Samples[last]) / 32768
			continue
		}
		frac := pos - float64(idx)
		v := float64(p.Samples[idx])*(1-frac) + float64(p.Samples[idx+1])*frac
		out[i] = float32(v / 32768)
	}
	return out
}

func (p PCM) Duration() float64 {
	if p.SampleRate <= 0 {
		return 0
	}
	return float64(len(p.Samples)) / float64(p.SampleRate)
}
