package catalog

import "fmt"

// Metric names a quantity an achievement rule can test.
type Metric string

const (
	MetricClicks    Metric = "clicks"
	MetricPurchases Metric = "purchases"
	MetricCurrency  Metric = "currency"
	MetricHashrate  Metric = "hashrate"
	MetricOwned     Metric = "owned"
)

// Metrics is the view of progress that achievement conditions see.
type Metrics struct {
	Clicks    int64
	Purchases int64
	Currency  float64
	Hashrate  float64
	Owned     int64
}

// Value returns the metric's current value.
func (m Metrics) Value(metric Metric) (float64, bool) {
	switch metric {
	case MetricClicks:
		return float64(m.Clicks), true
	case MetricPurchases:
		return float64(m.Purchases), true
	case MetricCurrency:
		return m.Currency, true
	case MetricHashrate:
		return m.Hashrate, true
	case MetricOwned:
		return float64(m.Owned), true
	}
	return 0, false
}

// Rule is a declarative threshold condition: Metric >= AtLeast.
type Rule struct {
	Metric  Metric  `json:"metric" yaml:"metric"`
	AtLeast float64 `json:"at_least" yaml:"at_least"`
}

// Holds evaluates the rule. Unknown metrics never hold.
func (r Rule) Holds(m Metrics) bool {
	v, ok := m.Value(r.Metric)
	if !ok {
		return false
	}
	return v >= r.AtLeast
}

// Validate rejects unknown metrics and negative thresholds.
func (r Rule) Validate() error {
	if _, ok := (Metrics{}).Value(r.Metric); !ok {
		return fmt.Errorf("%w: unknown metric %q", ErrInvalidEntry, r.Metric)
	}
	if r.AtLeast < 0 {
		return fmt.Errorf("%w: negative threshold for %q", ErrInvalidEntry, r.Metric)
	}
	return nil
}
