package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ghalamif/AegisArchive/internal/adapters/httpapi"
	"github.com/ghalamif/AegisArchive/internal/ports"
)

func TestScrapeSumsFamilies(t *testing.T) {
	body := `# HELP aegis_archive_samples_received_total Samples received.
# TYPE aegis_archive_samples_received_total counter
aegis_archive_samples_received_total 42
# HELP aegis_archive_samples_buffered Samples buffered.
# TYPE aegis_archive_samples_buffered gauge
aegis_archive_samples_buffered 3
`
	values, err := scrape(strings.NewReader(body))
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	if values[ports.MetricSamplesReceived] != 42 {
		t.Fatalf("received = %v", values[ports.MetricSamplesReceived])
	}
	if values[ports.GaugeSamplesBuffered] != 3 {
		t.Fatalf("buffered = %v", values[ports.GaugeSamplesBuffered])
	}
}

func TestScrapeRejectsGarbage(t *testing.T) {
	if _, err := scrape(strings.NewReader("not metrics {")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestRenderStatusPlain(t *testing.T) {
	var buf bytes.Buffer
	err := renderStatus(&buf, []httpapi.ChannelInfo{
		{Name: "vac:p1", State: "connected", Connected: true, Received: 5, Current: "1.5", LastArchived: "1.5", Groups: []string{"vacuum"}},
		{Name: "rf:power", State: "stopped", Current: "null", LastArchived: "null"},
	}, false)
	if err != nil {
		t.Fatalf("renderStatus: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("plain output contains escape codes: %q", out)
	}
	for _, want := range []string{"CHANNEL", "vac:p1", "connected", "vacuum", "rf:power", "stopped"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}
