package audio

import (
	"fmt"
	"math"
)

// ConditionConfig tunes the optional signal conditioning stage.
type ConditionConfig struct {
	SampleRate int
	// TargetRMS is the desired RMS level in absolute int16 units.
	TargetRMS float64
	// HighPassHz is the cutoff of the single-pole high-pass filter.
	// Defaults to 100 Hz, below the telephony voice band; negative
	// disables the filter.
	HighPassHz float64
	// MaxGain caps the normalization boost so near-silence is not
	// amplified into noise.
	MaxGain float64
}

func (c ConditionConfig) withDefaults() ConditionConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = 8000
	}
	if c.TargetRMS <= 0 {
		c.TargetRMS = 3000
	}
	if c.MaxGain <= 0 {
		c.MaxGain = 8
	}
	if c.HighPassHz == 0 {
		c.HighPassHz = 100
	}
	return c
}

// Condition gain-normalizes PCM to the target RMS level and applies a
// single-pole high-pass filter to suppress DC and low-frequency rumble.
// The sample count of the output always equals the input; downstream
// timestamping depends on it.
func Condition(pcm []byte, cfg ConditionConfig) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, ErrNoAudio
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audio: odd pcm length %d", len(pcm))
	}
	cfg = cfg.withDefaults()
	samples := pcmToSamples(pcm)
	work := make([]float64, len(samples))
	for i, s := range samples {
		work[i] = float64(s)
	}

	if cfg.HighPassHz > 0 {
		rc := 1.0 / (2 * math.Pi * cfg.HighPassHz)
		dt := 1.0 / float64(cfg.SampleRate)
		alpha := rc / (rc + dt)
		prevIn := work[0]
		prevOut := work[0]
		for i := 1; i < len(work); i++ {
			in := work[i]
			out := alpha * (prevOut + in - prevIn)
			prevIn = in
			prevOut = out
			work[i] = out
		}
	}

	rms := rmsFloat(work)
	if rms > 0 {
		gain := cfg.TargetRMS / rms
		if gain > cfg.MaxGain {
			gain = cfg.MaxGain
		}
		for i := range work {
			work[i] *= gain
		}
	}

	out := make([]int16, len(work))
	for i, v := range work {
		switch {
		case v > math.MaxInt16:
			out[i] = math.MaxInt16
		case v < math.MinInt16:
			out[i] = math.MinInt16
		default:
			out[i] = int16(v)
		}
	}
	return samplesToPCM(out), nil
}

// RMS computes the root-mean-square level of 16-bit PCM. Used by the
// energy endpointing policy; zero for empty or malformed input.
func RMS(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}
	samples := pcmToSamples(pcm[:len(pcm)-len(pcm)%2])
	sum := 0.0
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func rmsFloat(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	sum := 0.0
	for _, f := range v {
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(v)))
}
