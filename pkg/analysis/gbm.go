// pkg/analysis/gbm.go
package analysis

import "math"

// TradingDays 年化使用的交易日数
const TradingDays = 252

// LogReturns 计算相邻收盘价的对数收益率，closes 需按日期升序；非正价格被跳过
func LogReturns(closes []float64) []float64 {
	var returns []float64
	prev := 0.0
	for _, c := range closes {
		if c <= 0 || math.IsNaN(c) || math.IsInf(c, 0) {
			continue
		}
		if prev > 0 {
			returns = append(returns, math.Log(c/prev))
		}
		prev = c
	}
	return returns
}

// EstimateGBM 由日对数收益率估计年化漂移率 mu 与波动率 sigma
//
// sigma 为样本标准差（ddof=1）乘以 sqrt(252)，少于两个样本时为 0；
// 对数收益率均值为 (mu - sigma²/2)·dt，因此 mu = mean·252 + sigma²/2。
func EstimateGBM(returns []float64) (mu, sigma float64) {
	n := len(returns)
	if n == 0 {
		return 0, 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(n)

	if n > 1 {
		ss := 0.0
		for _, r := range returns {
			d := r - mean
			ss += d * d
		}
		sigma = math.Sqrt(ss/float64(n-1)) * math.Sqrt(TradingDays)
	}
	mu = mean*TradingDays + sigma*sigma/2
	return mu, sigma
}

// ProbabilityExceed 在几何布朗运动下，horizon 年后收益率超过 target 的概率
//
//	P = 1 - Φ((ln(1+R) - (mu - sigma²/2)·T) / (sigma·√T))
func ProbabilityExceed(target, horizon, mu, sigma float64) float64 {
	if sigma <= 0 || horizon <= 0 || target <= -1 {
		return 0
	}
	threshold := math.Log(1 + target)
	drift := (mu - sigma*sigma/2) * horizon
	diffusion := sigma * math.Sqrt(horizon)
	return 1 - NormalCDF((threshold-drift)/diffusion)
}

// NormalCDF 标准正态分布函数
func NormalCDF(z float64) float64 {
	return 0.5 * math.Erfc(-z/math.Sqrt2)
}
