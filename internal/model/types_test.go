package model

import "testing"

func TestRiskForBands(t *testing.T) {
	cases := []struct {
		probability float64
		want        RiskLevel
	}{
		{0.0, RiskLow},
		{0.29, RiskLow},
		{0.3, RiskMedium},
		{0.59, RiskMedium},
		{0.6, RiskHigh},
		{0.79, RiskHigh},
		{0.8, RiskCritical},
		{1.0, RiskCritical},
	}
	for _, c := range cases {
		if got := RiskFor(c.probability); got != c.want {
			t.Fatalf("RiskFor(%v) = %s, want %s", c.probability, got, c.want)
		}
	}
}

func TestIsKnownMetric(t *testing.T) {
	for _, m := range KnownMetrics() {
		if !IsKnownMetric(m) {
			t.Fatalf("expected %s to be known", m)
		}
	}
	if IsKnownMetric("gamma_flux") {
		t.Fatalf("unexpected metric accepted")
	}
}
