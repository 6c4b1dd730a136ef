package reference

import (
	"math"
	"math/rand"
)

const layerNormEps = 1e-5

func applyLayerNorm(dst, x []float32, ln layerNorm) {
	var mean float64
	for _, v := range x {
		mean += float64(v)
	}
	mean /= float64(len(x))

	var variance float64
	for _, v := range x {
		d := float64(v) - mean
		variance += d * d
	}
	variance /= float64(len(x))
	inv := 1 / math.Sqrt(variance+layerNormEps)

	for i, v := range x {
		dst[i] = float32((float64(v)-mean)*inv)*ln.gamma[i] + ln.beta[i]
	}
}

// apply computes dst = x·W + b for a single row.
func (l linear) apply(dst, x []float32) {
	copy(dst, l.b)
	for i, xv := range x {
		if xv == 0 {
			continue
		}
		w := l.w[i*l.out : (i+1)*l.out]
		for j, wv := range w {
			dst[j] += xv * wv
		}
	}
}

// causalAttention computes multi-head scaled dot-product attention over n
// positions where position i sees positions [0, i].
func causalAttention(dst, q, k, v, scores []float32, n, heads, hd int) {
	h := heads * hd
	scale := float32(1 / math.Sqrt(float64(hd)))
	for i := range dst {
		dst[i] = 0
	}

	for head := 0; head < heads; head++ {
		off := head * hd
		for i := 0; i < n; i++ {
			qi := q[i*h+off : i*h+off+hd]
			maxScore := float32(math.Inf(-1))
			for j := 0; j <= i; j++ {
				kj := k[j*h+off : j*h+off+hd]
				var dot float32
				for d := range qi {
					dot += qi[d] * kj[d]
				}
				scores[j] = dot * scale
				if scores[j] > maxScore {
					maxScore = scores[j]
				}
			}

			var sum float32
			for j := 0; j <= i; j++ {
				scores[j] = float32(math.Exp(float64(scores[j] - maxScore)))
				sum += scores[j]
			}

			out := dst[i*h+off : i*h+off+hd]
			for j := 0; j <= i; j++ {
				w := scores[j] / sum
				vj := v[j*h+off : j*h+off+hd]
				for d := range out {
					out[d] += w * vj[d]
				}
			}
		}
	}
}

// gelu uses the tanh approximation.
func gelu(x float32) float32 {
	xf := float64(x)
	return float32(0.5 * xf * (1 + math.Tanh(math.Sqrt(2/math.Pi)*(xf+0.044715*xf*xf*xf))))
}

// sampleToken picks the argmax when temperature is 0, otherwise samples from
// softmax(logits / temperature).
func sampleToken(logits []float32, temperature float64, rng *rand.Rand) int {
	if temperature <= 0 {
		best := 0
		for i, v := range logits {
			if v > logits[best] {
				best = i
			}
		}
		return best
	}

	maxLogit := logits[0]
	for _, v := range logits {
		if v > maxLogit {
			maxLogit = v
		}
	}
	probs := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		probs[i] = math.Exp(float64(v-maxLogit) / temperature)
		sum += probs[i]
	}

	r := rng.Float64() * sum
	for i, p := range probs {
		r -= p
		if r <= 0 {
			return i
		}
	}
	return len(probs) - 1
}
