package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilCollectorsAreNoops(t *testing.T) {
	var c *Collectors
	c.ObserveRemote("auth.login", time.Now(), nil)
	c.ObserveAdherence(true, nil)
	c.ObserveMood("sad", errors.New("boom"))
	c.ObserveSOS("triggered")
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.ObserveAdherence(false, nil)
	c.ObserveAdherence(true, errors.New("down"))
	c.ObserveMood("good", nil)
	c.ObserveSOS("confirming")
	c.ObserveSOS("confirming")

	if got := testutil.ToFloat64(c.AdherenceEvents.WithLabelValues("taken", "ok")); got != 1 {
		t.Fatalf("expected 1 taken event, got %v", got)
	}
	if got := testutil.ToFloat64(c.AdherenceEvents.WithLabelValues("skipped", "error")); got != 1 {
		t.Fatalf("expected 1 failed skip, got %v", got)
	}
	if got := testutil.ToFloat64(c.MoodSubmissions.WithLabelValues("good", "ok")); got != 1 {
		t.Fatalf("expected 1 mood submission, got %v", got)
	}
	if got := testutil.ToFloat64(c.SOSTransitions.WithLabelValues("confirming")); got != 2 {
		t.Fatalf("expected 2 transitions, got %v", got)
	}
	if n, err := testutil.GatherAndCount(reg); err != nil || n == 0 {
		t.Fatalf("expected registered metrics, got %d %v", n, err)
	}
}
