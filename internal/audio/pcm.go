package audio

import (
	"math"
)

// fullScale is the reference amplitude for dBFS computation on 16-bit PCM.
const fullScale = 32768.0

// silenceFloorDBFS is treated as "no signal": windows at or below it never
// count as speech and near-silent clips get default makeup gain instead of
// a huge computed one.
const silenceFloorDBFS = -90.0

// chunkMs is the analysis window used for silence detection.
const chunkMs = 10

// RMSdBFS returns the RMS level of the samples relative to full scale.
// Returns a value at or below silenceFloorDBFS for empty or all-zero input.
func RMSdBFS(samples []int16) float64 {
	if len(samples) == 0 {
		return silenceFloorDBFS
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms <= 0 {
		return silenceFloorDBFS
	}
	db := 20 * math.Log10(rms/fullScale)
	return math.Max(db, silenceFloorDBFS)
}

// PeakdBFS returns the peak sample level relative to full scale.
func PeakdBFS(samples []int16) float64 {
	var peak float64
	for _, s := range samples {
		v := math.Abs(float64(s))
		if v > peak {
			peak = v
		}
	}
	if peak <= 0 {
		return silenceFloorDBFS
	}
	db := 20 * math.Log10(peak/fullScale)
	return math.Max(db, silenceFloorDBFS)
}

// applyGain scales all samples by gainDB decibels, clamping at full scale.
func applyGain(samples []int16, gainDB float64) []int16 {
	factor := math.Pow(10, gainDB/20)
	ret := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s) * factor
		switch {
		case v > math.MaxInt16:
			ret[i] = math.MaxInt16
		case v < math.MinInt16:
			ret[i] = math.MinInt16
		default:
			ret[i] = int16(math.Round(v))
		}
	}
	return ret
}

// leadingSilence returns the number of leading samples whose 10ms analysis
// windows stay below thresholdDB.
func leadingSilence(samples []int16, sampleRate int, thresholdDB float64) int {
	chunk := sampleRate * chunkMs / 1000
	if chunk <= 0 {
		chunk = 1
	}
	offset := 0
	for offset < len(samples) {
		end := offset + chunk
		if end > len(samples) {
			end = len(samples)
		}
		if RMSdBFS(samples[offset:end]) >= thresholdDB {
			break
		}
		offset = end
	}
	return offset
}

// trimSilence removes leading and trailing windows below thresholdDB. When
// the whole clip sits below the threshold, the middle third is kept so a
// quiet take is preserved rather than erased.
func trimSilence(samples []int16, sampleRate int, thresholdDB float64) []int16 {
	start := leadingSilence(samples, sampleRate, thresholdDB)

	reversed := make([]int16, len(samples))
	for i, s := range samples {
		reversed[len(samples)-1-i] = s
	}
	endTrim := leadingSilence(reversed, sampleRate, thresholdDB)

	if start+endTrim >= len(samples) {
		minKeep := sampleRate / 10 // 100ms
		if len(samples) > minKeep {
			return samples[len(samples)/3 : 2*len(samples)/3]
		}
		return samples
	}
	return samples[start : len(samples)-endTrim]
}

// padSilence prepends and appends exactly paddingMs of zero samples.
func padSilence(samples []int16, sampleRate, paddingMs int) []int16 {
	pad := sampleRate * paddingMs / 1000
	ret := make([]int16, 0, len(samples)+2*pad)
	ret = append(ret, make([]int16, pad)...)
	ret = append(ret, samples...)
	ret = append(ret, make([]int16, pad)...)
	return ret
}

// normalizePeak applies the gain that brings the peak level to targetDBFS.
// Near-silent clips get a fixed makeup gain relative to -15 dBFS instead of
// an unbounded one.
func normalizePeak(samples []int16, targetDBFS float64) []int16 {
	peak := PeakdBFS(samples)
	var gain float64
	if peak > silenceFloorDBFS {
		gain = targetDBFS - peak
	} else {
		gain = targetDBFS - (-15.0)
	}
	return applyGain(samples, gain)
}
