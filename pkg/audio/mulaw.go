// Package audio converts the 8-bit mu-law telephony encoding used on
// provider media streams into 16-bit linear PCM, and back, plus the
// small amount of DSP the transcription path needs (resampling, gain
// normalization, WAV framing).
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mzaldivar/centralita/pkg/errorsx"
)

// ErrNoAudio is returned when a payload contains no usable samples.
var ErrNoAudio = errors.New("audio: empty payload")

const (
	ulawBias = 0x84
	ulawClip = 32635
)

// DecodeMuLaw expands 8-bit mu-law samples into 16-bit little-endian
// linear PCM. One input byte always yields exactly two output bytes.
func DecodeMuLaw(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrNoAudio
	}
	out := make([]byte, len(data)*2)
	for i, u := range data {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(ulawToLinear(u)))
	}
	return out, nil
}

// EncodeMuLaw compands 16-bit little-endian PCM into 8-bit mu-law.
// The input length must be even; a trailing partial sample is an error
// rather than a silent truncation.
func EncodeMuLaw(pcm []byte) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, ErrNoAudio
	}
	if len(pcm)%2 != 0 {
		return nil, errorsx.Wrap(fmt.Errorf("audio: odd pcm length %d", len(pcm)), errorsx.ReasonCodecDecode)
	}
	out := make([]byte, len(pcm)/2)
	for i := range out {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = linearToUlaw(s)
	}
	return out, nil
}

func ulawToLinear(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exp := (u >> 4) & 0x07
	mant := u & 0x0F
	value := (int(mant) << 3) + ulawBias
	value <<= uint(exp)
	value -= ulawBias
	if sign != 0 {
		return int16(-value)
	}
	return int16(value)
}

func linearToUlaw(s int16) byte {
	v := int(s)
	var sign byte
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > ulawClip {
		v = ulawClip
	}
	v += ulawBias
	exp := 7
	for mask := 0x4000; exp > 0 && v&mask == 0; exp-- {
		mask >>= 1
	}
	mant := byte((v >> uint(exp+3)) & 0x0F)
	return ^(sign | byte(exp)<<4 | mant)
}
