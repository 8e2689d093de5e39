package audio

import (
	"encoding/binary"
	"fmt"

	"github.com/mzaldivar/centralita/pkg/errorsx"
)

// Resample converts 16-bit mono PCM between two integer sample rates
// using linear interpolation. Signal duration is preserved to within
// one sample period. Equal rates return the input unchanged.
func Resample(pcm []byte, fromRate, toRate int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, ErrNoAudio
	}
	if len(pcm)%2 != 0 {
		return nil, errorsx.Wrap(fmt.Errorf("audio: odd pcm length %d", len(pcm)), errorsx.ReasonCodecResample)
	}
	if fromRate <= 0 || toRate <= 0 {
		return nil, errorsx.Wrap(fmt.Errorf("audio: invalid sample rates %d -> %d", fromRate, toRate), errorsx.ReasonCodecResample)
	}
	if fromRate == toRate {
		return pcm, nil
	}
	in := pcmToSamples(pcm)
	outLen := int(int64(len(in)) * int64(toRate) / int64(fromRate))
	if outLen == 0 {
		outLen = 1
	}
	out := make([]int16, outLen)
	ratio := float64(fromRate) / float64(toRate)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(idx)
		a := float64(in[idx])
		b := float64(in[idx+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return samplesToPCM(out), nil
}

func pcmToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

func samplesToPCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
