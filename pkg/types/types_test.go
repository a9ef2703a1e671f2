package types

import (
	"context"
	"testing"
)

func TestParseStrategy(t *testing.T) {
	for _, s := range Strategies() {
		got, err := ParseStrategy(string(s))
		if err != nil {
			t.Errorf("ParseStrategy(%q) returned error: %v", s, err)
		}
		if got != s {
			t.Errorf("ParseStrategy(%q) = %q", s, got)
		}
	}

	if got, err := ParseStrategy("LRU"); err != nil || got != StrategyLRU {
		t.Errorf("ParseStrategy should be case-insensitive, got %q, %v", got, err)
	}

	if _, err := ParseStrategy("mru"); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		input   string
		want    Priority
		wantErr bool
	}{
		{"low", PriorityLow, false},
		{"Medium", PriorityMedium, false},
		{"HIGH", PriorityHigh, false},
		{"urgent", PriorityLow, true},
	}

	for _, tt := range tests {
		got, err := ParsePriority(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePriority(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParsePriority(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestPriorityOrdering(t *testing.T) {
	if !(PriorityLow < PriorityMedium && PriorityMedium < PriorityHigh) {
		t.Error("priority ranks must order low < medium < high")
	}
}

func TestPrefetchRank(t *testing.T) {
	hot := PrefetchRequest{AssetKey: "x", Priority: 0.9, Confidence: 0.95}
	cold := PrefetchRequest{AssetKey: "y", Priority: 0.1, Confidence: 0.05}

	if hot.Rank() <= cold.Rank() {
		t.Errorf("expected %f > %f", hot.Rank(), cold.Rank())
	}
}

func TestStrategyMetricsSamples(t *testing.T) {
	m := StrategyMetrics{Hits: 3, Misses: 2, Evictions: 1}
	if m.Samples() != 6 {
		t.Errorf("expected 6 samples, got %d", m.Samples())
	}
}

func TestAssetFetcherFunc(t *testing.T) {
	fetcher := AssetFetcherFunc(func(_ context.Context, key string) ([]byte, error) {
		return []byte(key), nil
	})

	data, err := fetcher.Fetch(context.Background(), "sample.wav")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "sample.wav" {
		t.Errorf("expected payload to echo key, got %q", data)
	}
}
