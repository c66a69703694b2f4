package insight

// Policy holds the zone classification thresholds. The exact NDVI science
// is not validated here; thresholds are configuration, not constants baked
// into the classifier.
type Policy struct {
	// WatchBelow and CriticalBelow are relative-score thresholds in [0,1].
	WatchBelow    float64
	CriticalBelow float64

	// TrendBand is the NDVI delta (current minus baseline) within which a
	// zone reads as stable.
	TrendBand float64
}

func DefaultPolicy() Policy {
	return Policy{
		WatchBelow:    0.55,
		CriticalBelow: 0.35,
		TrendBand:     0.04,
	}
}
