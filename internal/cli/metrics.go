package cli

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// MetricSample is one gathered series. Histograms report their sample count
// as Value and carry Sum.
type MetricSample struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
	Sum    *float64          `json:"sum,omitempty"`
}

// GatherSamples flattens everything g exposes, sorted by name.
func GatherSamples(g prometheus.Gatherer) ([]MetricSample, error) {
	mfs, err := g.Gather()
	if err != nil {
		return nil, fmt.Errorf("failed to gather metrics: %w", err)
	}
	var out []MetricSample
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			s := MetricSample{Name: mf.GetName(), Labels: labelMap(m)}
			switch {
			case m.GetCounter() != nil:
				s.Value = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				s.Value = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				sum := m.GetHistogram().GetSampleSum()
				s.Value = float64(m.GetHistogram().GetSampleCount())
				s.Sum = &sum
			default:
				continue
			}
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func labelMap(m *dto.Metric) map[string]string {
	if len(m.GetLabel()) == 0 {
		return nil
	}
	labels := make(map[string]string, len(m.GetLabel()))
	for _, pair := range m.GetLabel() {
		labels[pair.GetName()] = pair.GetValue()
	}
	return labels
}

// PrintMetrics outputs the current values of every metric g exposes.
func PrintMetrics(w io.Writer, g prometheus.Gatherer, format OutputFormat) error {
	samples, err := GatherSamples(g)
	if err != nil {
		return err
	}
	switch format {
	case FormatJSON:
		return printJSON(w, samples)
	case FormatYAML:
		return printYAML(w, samples)
	case FormatTable:
		return printMetricsTable(w, samples)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func printMetricsTable(w io.Writer, samples []MetricSample) error {
	table := tablewriter.NewWriter(w)
	table.Header("Metric", "Labels", "Value", "Sum")

	for _, s := range samples {
		keys := make([]string, 0, len(s.Labels))
		for k := range s.Labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+s.Labels[k])
		}
		sum := ""
		if s.Sum != nil {
			sum = strconv.FormatFloat(*s.Sum, 'g', 6, 64)
		}
		table.Append(
			s.Name,
			strings.Join(pairs, ","),
			strconv.FormatFloat(s.Value, 'g', -1, 64),
			sum,
		)
	}
	return table.Render()
}
