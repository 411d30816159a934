package features

import (
	"fmt"
	"time"

	"AutoTrader/internal/domain/models"
)

const (
	ColVWAP          = "VWAP"
	ColMACD          = "MACD"
	ColMACDSignal    = "MACD_Signal"
	ColMACDHist      = "MACD_Hist"
	ColVWAPDeviation = "VWAP_Deviation"
	ColReturn1       = "Return_1"
	ColReturn5       = "Return_5"
	ColVolatility20  = "Volatility_20"
	ColVolumeRatio   = "Volume_Ratio"
	ColTarget        = "Target"
)

// warmup rows are dropped from labeled frames so the slow EMA has settled.
const warmup = 26

// Builder derives indicator columns from bars. It implements
// repository.FrameBuilder.
type Builder struct {
	lookahead    int
	profitTarget float64
	loc          *time.Location
}

type Option func(*Builder)

func WithLookahead(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.lookahead = n
		}
	}
}

func WithProfitTarget(p float64) Option {
	return func(b *Builder) { b.profitTarget = p }
}

// WithLocation sets the zone whose calendar day resets the session VWAP.
func WithLocation(loc *time.Location) Option {
	return func(b *Builder) {
		if loc != nil {
			b.loc = loc
		}
	}
}

func NewBuilder(opts ...Option) *Builder {
	b := &Builder{lookahead: 5, profitTarget: 0.001, loc: time.UTC}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns a frame with every indicator column.
func (b *Builder) Build(symbol string, bars []models.Bar) (*models.FeatureFrame, error) {
	frame := models.NewFeatureFrame(symbol, bars)
	if err := frame.Validate(); err != nil {
		return nil, fmt.Errorf("build frame %s: %w", symbol, err)
	}

	n := len(bars)
	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i, bar := range bars {
		closes[i] = bar.Close
		volumes[i] = bar.Volume
	}

	vwap := b.sessionVWAP(bars)
	macd, signal, hist := MACD(closes)

	dev := make([]float64, n)
	for i := range closes {
		if vwap[i] != 0 {
			dev[i] = (closes[i] - vwap[i]) / vwap[i]
		}
	}

	logReturns := append([]float64{0}, ComputeLogReturns(bars)...)
	vol := make([]float64, n)
	for i := range closes {
		vol[i] = RealizedVolatility(logReturns[:i+1], 20, 1)
	}

	avgVolume := RollingMean(volumes, 20)
	volRatio := make([]float64, n)
	for i := range volumes {
		if avgVolume[i] > 0 {
			volRatio[i] = volumes[i] / avgVolume[i]
		}
	}

	cols := []struct {
		name   string
		values []float64
	}{
		{ColVWAP, vwap},
		{ColMACD, macd},
		{ColMACDSignal, signal},
		{ColMACDHist, hist},
		{ColVWAPDeviation, dev},
		{ColReturn1, PctChange(closes, 1)},
		{ColReturn5, PctChange(closes, 5)},
		{ColVolatility20, vol},
		{ColVolumeRatio, volRatio},
	}
	for _, c := range cols {
		if err := frame.SetColumn(c.name, c.values); err != nil {
			return nil, err
		}
	}
	return frame, nil
}

// BuildLabeled adds the Target column: 1 when MACD crosses above its signal
// line, close is above VWAP, and the return over the lookahead exceeds the
// profit target. Warmup rows and the trailing rows without a known future
// are dropped.
func (b *Builder) BuildLabeled(symbol string, bars []models.Bar) (*models.FeatureFrame, error) {
	if len(bars) <= warmup+b.lookahead {
		return nil, fmt.Errorf("label %s: need more than %d bars, have %d", symbol, warmup+b.lookahead, len(bars))
	}
	frame, err := b.Build(symbol, bars)
	if err != nil {
		return nil, err
	}

	macd, _ := frame.Column(ColMACD)
	signal, _ := frame.Column(ColMACDSignal)
	vwap, _ := frame.Column(ColVWAP)

	target := make([]float64, len(bars))
	for i := 1; i < len(bars)-b.lookahead; i++ {
		crossUp := macd[i-1] <= signal[i-1] && macd[i] > signal[i]
		future := bars[i+b.lookahead].Close/bars[i].Close - 1
		if crossUp && bars[i].Close > vwap[i] && future > b.profitTarget {
			target[i] = 1
		}
	}
	if err := frame.SetColumn(ColTarget, target); err != nil {
		return nil, err
	}
	return frame.Slice(warmup, len(bars)-b.lookahead), nil
}

func (b *Builder) sessionVWAP(bars []models.Bar) []float64 {
	out := make([]float64, len(bars))
	var cumPV, cumV float64
	var day string
	for i, bar := range bars {
		d := bar.Time.In(b.loc).Format("2006-01-02")
		if d != day {
			day = d
			cumPV, cumV = 0, 0
		}
		typical := (bar.High + bar.Low + bar.Close) / 3
		cumPV += typical * bar.Volume
		cumV += bar.Volume
		if cumV > 0 {
			out[i] = cumPV / cumV
		} else {
			out[i] = bar.Close
		}
	}
	return out
}
