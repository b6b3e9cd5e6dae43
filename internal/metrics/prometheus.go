package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// PrometheusFormat exports all metrics in Prometheus text exposition format.
// See: https://prometheus.io/docs/instrumenting/exposition_formats/
func (m *Metrics) PrometheusFormat() string {
	m.collect()
	m.Uptime.Set(time.Since(m.startTime).Seconds())

	var sb strings.Builder

	writeCounterVec(&sb, m.Submissions)
	writeGauge(&sb, m.EvaluationsActive)
	writeGauge(&sb, m.EvaluationsQueued)
	writeHistogram(&sb, m.EvaluationDuration.name, m.EvaluationDuration.help, []*Histogram{m.EvaluationDuration})
	writeCounterVec(&sb, m.EvaluationItems)
	writeHistogram(&sb, m.AggregateScores.name, m.AggregateScores.help, []*Histogram{m.AggregateScores})
	writeCounter(&sb, m.ProgressEvents)
	writeCounter(&sb, m.Deletions)
	writeGauge(&sb, m.LeaderboardEntries)

	writeCounterVec(&sb, m.ScorerCache)

	writeCounterVec(&sb, m.BusPublish)
	writeHistogram(&sb, m.BusPublishLatency.name, m.BusPublishLatency.help, m.BusPublishLatency.sorted())

	writeCounterVec(&sb, m.HTTPRequests)
	writeHistogram(&sb, m.HTTPDuration.name, m.HTTPDuration.help, m.HTTPDuration.sorted())
	writeGauge(&sb, m.HTTPRequestsInFlight)

	writeGauge(&sb, m.Uptime)

	return sb.String()
}

func writeHeader(sb *strings.Builder, name, help, kind string) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

func writeCounter(sb *strings.Builder, c *Counter) {
	writeHeader(sb, c.name, c.help, "counter")
	fmt.Fprintf(sb, "%s%s %d\n", c.name, formatLabels(c.labels, "", ""), c.Value())
}

func writeGauge(sb *strings.Builder, g *Gauge) {
	writeHeader(sb, g.name, g.help, "gauge")
	fmt.Fprintf(sb, "%s %s\n", g.name, formatFloat(g.Value()))
}

// writeCounterVec writes nothing until at least one label set was used.
func writeCounterVec(sb *strings.Builder, cv *CounterVec) {
	counters := cv.sorted()
	if len(counters) == 0 {
		return
	}
	writeHeader(sb, cv.name, cv.help, "counter")
	for _, c := range counters {
		fmt.Fprintf(sb, "%s%s %d\n", c.name, formatLabels(c.labels, "", ""), c.Value())
	}
}

func writeHistogram(sb *strings.Builder, name, help string, hs []*Histogram) {
	if len(hs) == 0 {
		return
	}
	writeHeader(sb, name, help, "histogram")
	for _, h := range hs {
		counts, sum, count := h.Snapshot()
		for i, upper := range h.buckets {
			fmt.Fprintf(sb, "%s_bucket%s %d\n", name, formatLabels(h.labels, "le", formatFloat(upper)), counts[i])
		}
		fmt.Fprintf(sb, "%s_bucket%s %d\n", name, formatLabels(h.labels, "le", "+Inf"), counts[len(counts)-1])
		fmt.Fprintf(sb, "%s_sum%s %s\n", name, formatLabels(h.labels, "", ""), formatFloat(sum))
		fmt.Fprintf(sb, "%s_count%s %d\n", name, formatLabels(h.labels, "", ""), count)
	}
}

// formatLabels renders {k="v",...} in key order, with an optional extra pair.
func formatLabels(labels map[string]string, extraKey, extraValue string) string {
	if len(labels) == 0 && extraKey == "" {
		return ""
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		parts = append(parts, k+`="`+escapeString(labels[k])+`"`)
	}
	if extraKey != "" {
		parts = append(parts, extraKey+`="`+extraValue+`"`)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// escapeString escapes special characters in label values.
func escapeString(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}
