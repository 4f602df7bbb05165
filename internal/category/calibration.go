package category

import (
	"math"
)

// sigmoidCalibrator maps a decision value f to 1 / (1 + exp(A*f + B)).
type sigmoidCalibrator struct {
	A float64
	B float64
}

func (s sigmoidCalibrator) apply(f float64) float64 {
	return 1.0 / (1.0 + math.Exp(s.A*f+s.B))
}

// fitSigmoid fits Platt scaling with smoothed targets using Newton's method
// with backtracking (Lin, Lin & Weng, 2007).
func fitSigmoid(f []float64, positive []bool) sigmoidCalibrator {
	var nPos, nNeg float64
	for _, p := range positive {
		if p {
			nPos++
		} else {
			nNeg++
		}
	}

	hiTarget := (nPos + 1) / (nPos + 2)
	loTarget := 1 / (nNeg + 2)
	t := make([]float64, len(f))
	for i, p := range positive {
		if p {
			t[i] = hiTarget
		} else {
			t[i] = loTarget
		}
	}

	const (
		maxIter = 100
		minStep = 1e-10
		sigma   = 1e-12
		eps     = 1e-5
	)

	a := 0.0
	b := math.Log((nNeg + 1) / (nPos + 1))
	fval := sigmoidObjective(f, t, a, b)

	for iter := 0; iter < maxIter; iter++ {
		h11, h22, h21 := sigma, sigma, 0.0
		g1, g2 := 0.0, 0.0
		for i := range f {
			fApB := f[i]*a + b
			var p, q float64
			if fApB >= 0 {
				p = math.Exp(-fApB) / (1 + math.Exp(-fApB))
				q = 1 / (1 + math.Exp(-fApB))
			} else {
				p = 1 / (1 + math.Exp(fApB))
				q = math.Exp(fApB) / (1 + math.Exp(fApB))
			}
			d2 := p * q
			h11 += f[i] * f[i] * d2
			h22 += d2
			h21 += f[i] * d2
			d1 := t[i] - p
			g1 += f[i] * d1
			g2 += d1
		}

		if math.Abs(g1) < eps && math.Abs(g2) < eps {
			break
		}

		det := h11*h22 - h21*h21
		dA := -(h22*g1 - h21*g2) / det
		dB := -(-h21*g1 + h11*g2) / det
		gd := g1*dA + g2*dB

		step := 1.0
		for step >= minStep {
			newA := a + step*dA
			newB := b + step*dB
			newF := sigmoidObjective(f, t, newA, newB)
			if newF < fval+0.0001*step*gd {
				a, b, fval = newA, newB, newF
				break
			}
			step /= 2
		}
		if step < minStep {
			break
		}
	}

	return sigmoidCalibrator{A: a, B: b}
}

func sigmoidObjective(f, t []float64, a, b float64) float64 {
	var total float64
	for i := range f {
		fApB := f[i]*a + b
		if fApB >= 0 {
			total += t[i]*fApB + math.Log1p(math.Exp(-fApB))
		} else {
			total += (t[i]-1)*fApB + math.Log1p(math.Exp(fApB))
		}
	}
	return total
}

// calibratedFold is a base model fitted on one training split plus one
// calibrator per class fitted on the held-out split.
type calibratedFold struct {
	Base        logisticModel
	Calibrators []sigmoidCalibrator
}

// calibratedModel averages the normalised calibrated probabilities of its folds.
type calibratedModel struct {
	Folds []calibratedFold
}

func (m *calibratedModel) predictProba(x []float64) []float64 {
	k := m.Folds[0].Base.numClasses()
	avg := make([]float64, k)
	for _, fold := range m.Folds {
		decision := fold.Base.decision(x)
		probs := make([]float64, k)
		var sum float64
		for c := 0; c < k; c++ {
			probs[c] = fold.Calibrators[c].apply(decision[c])
			sum += probs[c]
		}
		for c := 0; c < k; c++ {
			if sum > 0 {
				avg[c] += probs[c] / sum
			} else {
				avg[c] += 1.0 / float64(k)
			}
		}
	}
	for c := range avg {
		avg[c] /= float64(len(m.Folds))
	}
	return avg
}

func (m *calibratedModel) coefficients() [][]float64 {
	return m.Folds[0].Base.Weights
}

// stratifiedFolds deals each class's samples round-robin across folds and
// returns the held-out indices of every fold.
func stratifiedFolds(y []int, numClasses, folds int) [][]int {
	out := make([][]int, folds)
	seen := make([]int, numClasses)
	for i, label := range y {
		f := seen[label] % folds
		out[f] = append(out[f], i)
		seen[label]++
	}
	return out
}

// splitFold returns the training rows and labels that remain when held is held out.
func splitFold(x [][]float64, y []int, held []int) ([][]float64, []int) {
	heldSet := make(map[int]bool, len(held))
	for _, i := range held {
		heldSet[i] = true
	}
	trainX := make([][]float64, 0, len(x)-len(held))
	trainY := make([]int, 0, len(y)-len(held))
	for i := range x {
		if !heldSet[i] {
			trainX = append(trainX, x[i])
			trainY = append(trainY, y[i])
		}
	}
	return trainX, trainY
}

func fitCalibrated(x [][]float64, y []int, numClasses, folds int, cfg trainConfig) *calibratedModel {
	m := &calibratedModel{}
	for _, held := range stratifiedFolds(y, numClasses, folds) {
		trainX, trainY := splitFold(x, y, held)
		base := fitLogistic(trainX, trainY, numClasses, balancedWeights(trainY, numClasses), cfg)

		decisions := make([][]float64, len(held))
		for i, idx := range held {
			decisions[i] = base.decision(x[idx])
		}

		calibrators := make([]sigmoidCalibrator, numClasses)
		for c := 0; c < numClasses; c++ {
			f := make([]float64, len(held))
			positive := make([]bool, len(held))
			for i, idx := range held {
				f[i] = decisions[i][c]
				positive[i] = y[idx] == c
			}
			calibrators[c] = fitSigmoid(f, positive)
		}

		m.Folds = append(m.Folds, calibratedFold{Base: *base, Calibrators: calibrators})
	}
	return m
}
