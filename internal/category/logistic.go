package category

import (
	"math"
)

// trainConfig holds optimiser settings for the logistic model.
type trainConfig struct {
	C            float64
	LearningRate float64
	Iterations   int
}

func defaultTrainConfig() trainConfig {
	return trainConfig{C: 1.0, LearningRate: 0.05, Iterations: 400}
}

// logisticModel is a multinomial (softmax) logistic regression.
type logisticModel struct {
	Weights   [][]float64 // classes x features
	Intercept []float64
}

func (m *logisticModel) numClasses() int { return len(m.Intercept) }

func (m *logisticModel) decision(x []float64) []float64 {
	out := make([]float64, len(m.Intercept))
	for c, w := range m.Weights {
		z := m.Intercept[c]
		for j, xj := range x {
			z += w[j] * xj
		}
		out[c] = z
	}
	return out
}

func (m *logisticModel) predictProba(x []float64) []float64 {
	return softmax(m.decision(x))
}

func (m *logisticModel) coefficients() [][]float64 {
	return m.Weights
}

// balancedWeights gives each sample n / (k * n_class), where k counts the
// classes actually present in y.
func balancedWeights(y []int, numClasses int) []float64 {
	counts := make([]int, numClasses)
	for _, label := range y {
		counts[label]++
	}
	present := 0
	for _, c := range counts {
		if c > 0 {
			present++
		}
	}

	weights := make([]float64, len(y))
	n := float64(len(y))
	for i, label := range y {
		weights[i] = n / (float64(present) * float64(counts[label]))
	}
	return weights
}

// fitLogistic minimises the weighted cross-entropy plus an L2 penalty of
// 1/(2C) on the weights (intercepts are not penalised) with full-batch Adam
// from a zero start, so identical inputs always give identical models.
func fitLogistic(x [][]float64, y []int, numClasses int, sampleWeights []float64, cfg trainConfig) *logisticModel {
	n := len(x)
	d := 0
	if n > 0 {
		d = len(x[0])
	}

	m := &logisticModel{Weights: make([][]float64, numClasses), Intercept: make([]float64, numClasses)}
	for c := range m.Weights {
		m.Weights[c] = make([]float64, d)
	}
	if n == 0 {
		return m
	}

	var totalWeight float64
	for _, w := range sampleWeights {
		totalWeight += w
	}
	lambda := 1.0 / (cfg.C * totalWeight)

	const (
		beta1 = 0.9
		beta2 = 0.999
		eps   = 1e-8
	)
	width := d + 1
	gradW := make([][]float64, numClasses)
	mom := make([][]float64, numClasses)
	vel := make([][]float64, numClasses)
	for c := 0; c < numClasses; c++ {
		gradW[c] = make([]float64, width)
		mom[c] = make([]float64, width)
		vel[c] = make([]float64, width)
	}

	for iter := 1; iter <= cfg.Iterations; iter++ {
		for c := range gradW {
			for j := range gradW[c] {
				gradW[c][j] = 0
			}
		}

		for i, xi := range x {
			p := m.predictProba(xi)
			scale := sampleWeights[i] / totalWeight
			for c := 0; c < numClasses; c++ {
				residual := p[c]
				if c == y[i] {
					residual--
				}
				residual *= scale
				if residual == 0 {
					continue
				}
				g := gradW[c]
				for j, xij := range xi {
					g[j] += residual * xij
				}
				g[d] += residual
			}
		}

		corr1 := 1 - math.Pow(beta1, float64(iter))
		corr2 := 1 - math.Pow(beta2, float64(iter))
		for c := 0; c < numClasses; c++ {
			for j := 0; j < width; j++ {
				g := gradW[c][j]
				if j < d {
					g += lambda * m.Weights[c][j]
				}
				mom[c][j] = beta1*mom[c][j] + (1-beta1)*g
				vel[c][j] = beta2*vel[c][j] + (1-beta2)*g*g
				step := cfg.LearningRate * (mom[c][j] / corr1) / (math.Sqrt(vel[c][j]/corr2) + eps)
				if j < d {
					m.Weights[c][j] -= step
				} else {
					m.Intercept[c] -= step
				}
			}
		}
	}

	return m
}

func softmax(z []float64) []float64 {
	out := make([]float64, len(z))
	if len(z) == 0 {
		return out
	}
	maxZ := z[0]
	for _, v := range z[1:] {
		if v > maxZ {
			maxZ = v
		}
	}
	var sum float64
	for i, v := range z {
		out[i] = math.Exp(v - maxZ)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
