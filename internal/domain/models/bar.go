package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrEmptyFrame     = errors.New("feature frame has no rows")
	ErrNonMonotonic   = errors.New("feature frame timestamps are not strictly increasing")
	ErrMissingColumn  = errors.New("feature frame column missing")
	ErrColumnLength   = errors.New("feature frame column length mismatch")
	ErrRowOutOfBounds = errors.New("feature frame row out of bounds")
)

// Bar is one OHLCV observation.
type Bar struct {
	Time   time.Time `json:"t"`
	Open   float64   `json:"o"`
	High   float64   `json:"h"`
	Low    float64   `json:"l"`
	Close  float64   `json:"c"`
	Volume float64   `json:"v"`
}

// FeatureFrame is an ordered bar series plus derived indicator columns.
// Every column has one value per bar; the last row is the current observation.
// Consumers treat a frame as read-only.
type FeatureFrame struct {
	Symbol  string
	Bars    []Bar
	columns map[string][]float64
	order   []string
}

func NewFeatureFrame(symbol string, bars []Bar) *FeatureFrame {
	return &FeatureFrame{
		Symbol:  symbol,
		Bars:    bars,
		columns: make(map[string][]float64),
	}
}

func (f *FeatureFrame) Len() int { return len(f.Bars) }

// Validate checks the frame has rows and strictly increasing timestamps.
func (f *FeatureFrame) Validate() error {
	if len(f.Bars) == 0 {
		return ErrEmptyFrame
	}
	for i := 1; i < len(f.Bars); i++ {
		if !f.Bars[i].Time.After(f.Bars[i-1].Time) {
			return fmt.Errorf("%w: row %d at %s", ErrNonMonotonic, i, f.Bars[i].Time.Format(time.RFC3339))
		}
	}
	return nil
}

// Last returns the current observation. The frame must not be empty.
func (f *FeatureFrame) Last() Bar {
	return f.Bars[len(f.Bars)-1]
}

// SetColumn adds or replaces a derived column. Only frame builders call it.
func (f *FeatureFrame) SetColumn(name string, values []float64) error {
	if len(values) != len(f.Bars) {
		return fmt.Errorf("%w: %s has %d values for %d bars", ErrColumnLength, name, len(values), len(f.Bars))
	}
	if _, ok := f.columns[name]; !ok {
		f.order = append(f.order, name)
	}
	f.columns[name] = values
	return nil
}

func (f *FeatureFrame) Column(name string) ([]float64, bool) {
	v, ok := f.columns[name]
	return v, ok
}

func (f *FeatureFrame) HasColumn(name string) bool {
	_, ok := f.columns[name]
	return ok
}

// Columns returns column names in insertion order.
func (f *FeatureFrame) Columns() []string {
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

// Row extracts the named columns at row i.
func (f *FeatureFrame) Row(i int, cols []string) ([]float64, error) {
	if i < 0 || i >= len(f.Bars) {
		return nil, fmt.Errorf("%w: %d of %d", ErrRowOutOfBounds, i, len(f.Bars))
	}
	out := make([]float64, len(cols))
	for j, c := range cols {
		v, ok := f.columns[c]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, c)
		}
		out[j] = v[i]
	}
	return out, nil
}

// Slice returns a copy of rows [from, to).
func (f *FeatureFrame) Slice(from, to int) *FeatureFrame {
	if from < 0 {
		from = 0
	}
	if to > len(f.Bars) {
		to = len(f.Bars)
	}
	if from > to {
		from = to
	}
	out := NewFeatureFrame(f.Symbol, append([]Bar(nil), f.Bars[from:to]...))
	for _, name := range f.order {
		out.order = append(out.order, name)
		out.columns[name] = append([]float64(nil), f.columns[name][from:to]...)
	}
	return out
}

// ConcatFrames stacks frames row-wise, keeping only the columns every frame has.
// The result mixes symbols and is meant for training, not prediction.
func ConcatFrames(frames ...*FeatureFrame) *FeatureFrame {
	out := NewFeatureFrame("", nil)
	if len(frames) == 0 {
		return out
	}

	var common []string
	for _, name := range frames[0].order {
		shared := true
		for _, fr := range frames[1:] {
			if !fr.HasColumn(name) {
				shared = false
				break
			}
		}
		if shared {
			common = append(common, name)
		}
	}

	for _, fr := range frames {
		out.Bars = append(out.Bars, fr.Bars...)
		for _, name := range common {
			out.columns[name] = append(out.columns[name], fr.columns[name]...)
		}
	}
	out.order = common
	return out
}
