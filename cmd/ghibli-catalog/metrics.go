package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const metricsPrefix = "ghibli_"

// writeMetrics writes this program's own metrics in the Prometheus text format.
// The Go runtime and process metrics of the default registry are left out.
func writeMetrics(w io.Writer, gatherer prometheus.Gatherer) error {
	families, err := gatherer.Gather()
	if err != nil {
		return fmt.Errorf("Couldn't gather metrics: %w", err)
	}
	fmt.Fprintln(w)
	for _, family := range families {
		if !strings.HasPrefix(family.GetName(), metricsPrefix) {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, family); err != nil {
			return fmt.Errorf("Couldn't encode metric family %v: %w", family.GetName(), err)
		}
	}
	return nil
}
