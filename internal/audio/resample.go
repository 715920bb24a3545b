package audio

import "math"

// lanczosLobes is the kernel half-width in zero crossings.
const lanczosLobes = 8

// Resample converts in from inRate to outRate using Lanczos windowed-sinc
// interpolation. When downsampling, the kernel is widened by the rate ratio
// so it acts as a low-pass filter. Equal rates return the input unchanged.
func Resample(in []float32, inRate, outRate int) []float32 {
	if inRate == outRate {
		return in
	}
	if len(in) == 0 {
		return nil
	}

	outLen := len(in) * outRate / inRate
	out := make([]float32, outLen)

	step := float64(inRate) / float64(outRate)
	scale := 1.0
	if step > 1 {
		scale = step
	}
	halfWidth := lanczosLobes * scale

	for i := range out {
		pos := float64(i) * step

		start := int(math.Ceil(pos - halfWidth))
		end := int(math.Floor(pos + halfWidth))
		start = max(start, 0)
		end = min(end, len(in)-1)

		var sum, weightSum float32
		for j := start; j <= end; j++ {
			w := float32(lanczos((float64(j) - pos) / scale))
			sum += in[j] * w
			weightSum += w
		}

		// Normalizing by the used weights keeps boundary samples from
		// being attenuated where the kernel is clipped.
		if weightSum != 0 {
			out[i] = sum / weightSum
		}
	}

	return out
}

// lanczos evaluates the a=8 Lanczos kernel at x.
func lanczos(x float64) float64 {
	if x == 0 {
		return 1
	}
	if x <= -lanczosLobes || x >= lanczosLobes {
		return 0
	}

	px := math.Pi * x
	return (math.Sin(px) / px) * (math.Sin(px/lanczosLobes) / (px / lanczosLobes))
}
