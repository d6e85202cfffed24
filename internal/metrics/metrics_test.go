package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"strato/internal/metrics"
)

func TestCollectorsAreIsolated(t *testing.T) {
	// Two collectors must register without panicking, which fails on the
	// shared default registry.
	a := metrics.NewCollector()
	b := metrics.NewCollector()
	a.RecordJobSubmitted()
	b.RecordForcedReclamation()
}

func TestHandlerExposesRecordedValues(t *testing.T) {
	c := metrics.NewCollector()
	c.RecordJobSubmitted()
	c.RecordJobSubmitted()
	c.RecordForcedReclamation()
	c.SetVolumesAttached(3)
	c.RecordDeployApplied(1.5)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read scrape body: %v", err)
	}
	body := string(raw)

	for _, want := range []string{
		"strato_jobs_submitted_total 2",
		"strato_volume_forced_reclamations_total 1",
		"strato_volumes_attached 3",
		"strato_deploys_applied_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("scrape output missing %q:\n%s", want, body)
		}
	}
}
