//nolint:mnd
package webgui

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// avgIndexTime returns a string of the average snapshot build time.
func (d *Dashboard) avgIndexTime() string {
	m := d.fsys.Index().Metrics

	return time.Duration(m.TotalIndexTime.Load() / max(1, m.TotalIndexCount.Load())).String()
}

// avgExtractTime returns a string of the average extraction time.
func (d *Dashboard) avgExtractTime() string {
	m := d.fsys.Index().Metrics

	return time.Duration(m.TotalExtractTime.Load() / max(1, m.TotalExtractCount.Load())).String()
}

// avgExtractSpeed returns a string of the average extraction throughput.
func (d *Dashboard) avgExtractSpeed() string {
	m := d.fsys.Index().Metrics
	bytes := m.TotalExtractBytes.Load()
	ns := m.TotalExtractTime.Load()

	if ns == 0 {
		return "0 B/s"
	}

	bps := float64(bytes) / (float64(ns) / 1e9)

	return humanize.IBytes(uint64(bps)) + "/s"
}

// totalExtractBytes returns a string of the total extracted bytes.
func (d *Dashboard) totalExtractBytes() string {
	bytes := d.fsys.Index().Metrics.TotalExtractBytes.Load()

	if bytes < 0 {
		return humanize.IBytes(0)
	}

	return humanize.IBytes(uint64(bytes))
}

// ratio returns a string of the hit/miss ratio of a cache.
func ratio(hits, misses int64) string {
	total := hits + misses

	if total == 0 {
		return "0.00%"
	}

	perc := (float64(hits) / float64(total)) * 100

	return fmt.Sprintf("%.2f%%", perc)
}
