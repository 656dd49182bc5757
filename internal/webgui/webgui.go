// Package webgui implements the diagnostics server.
package webgui

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"slices"
	"text/template"

	"github.com/GlennPegden2/TransFS/internal/filesystem"
	"github.com/GlennPegden2/TransFS/internal/logging"
	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
)

var (
	//go:embed templates/*.html
	templateFS    embed.FS
	indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

	// errInvalidArgument is for an invalid constructor argument.
	errInvalidArgument = errors.New("invalid argument")
)

// Dashboard is the implementation of the filesystem dashboard.
type Dashboard struct {
	version string
	fsys    *filesystem.FS
	rbuf    *logging.RingBuffer
}

// NewDashboard returns a pointer to a new [Dashboard].
func NewDashboard(fsys *filesystem.FS, rbuf *logging.RingBuffer, version string) (*Dashboard, error) {
	if fsys == nil {
		return nil, fmt.Errorf("%w: need filesystem", errInvalidArgument)
	}
	if rbuf == nil {
		return nil, fmt.Errorf("%w: need ring buffer", errInvalidArgument)
	}

	return &Dashboard{
		version: version,
		fsys:    fsys,
		rbuf:    rbuf,
	}, nil
}

// Serve serves the diagnostics dashboard as part of a [http.Server].
func (d *Dashboard) Serve(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: d.dashboardMux()}

	go func() {
		defer func() {
			r := recover()
			if r != nil {
				fmt.Fprintf(os.Stderr, "(webgui) PANIC: %v\n", r)
				debug.PrintStack()
			}
		}()
		d.rbuf.Printf("serving dashboard on %s\n", addr)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.rbuf.Printf("HTTP error: %v\n", err)
		}
	}()

	return srv
}

func (d *Dashboard) dashboardMux() *mux.Router {
	mux := mux.NewRouter()

	mux.HandleFunc("/", d.dashboardHandler)
	mux.HandleFunc("/metrics.json", d.metricsHandler)
	mux.HandleFunc("/gc", d.gcHandler)
	mux.HandleFunc("/reset", d.resetMetricsHandler)
	mux.HandleFunc("/set/threshold/{value}", d.thresholdHandler)

	return mux
}

type dashboardData struct {
	AllocBytes            string   `json:"allocBytes"`
	AvgExtractSpeed       string   `json:"avgExtractSpeed"`
	AvgExtractTime        string   `json:"avgExtractTime"`
	AvgIndexTime          string   `json:"avgIndexTime"`
	ListingCacheDiskHits  int64    `json:"listingCacheDiskHits"`
	ListingCacheHits      int64    `json:"listingCacheHits"`
	ListingCacheMisses    int64    `json:"listingCacheMisses"`
	ListingCacheRatio     string   `json:"listingCacheRatio"`
	Logs                  []string `json:"logs"`
	NumGC                 uint32   `json:"numGc"`
	OpenArchives          int64    `json:"openArchives"`
	OpenHandles           int64    `json:"openHandles"`
	RingBufferSize        int      `json:"ringBufferSize"`
	SnapshotCacheRatio    string   `json:"snapshotCacheRatio"`
	StreamingThreshold    string   `json:"streamingThreshold"`
	SysBytes              string   `json:"sysBytes"`
	TotalEnoents          int64    `json:"totalEnoents"`
	TotalErrors           int64    `json:"totalErrors"`
	TotalExtractBytes     string   `json:"totalExtractBytes"`
	TotalExtractedHandles int64    `json:"totalExtractedHandles"`
	TotalExtracts         int64    `json:"totalExtracts"`
	TotalIndexBuilds      int64    `json:"totalIndexBuilds"`
	TotalLookups          int64    `json:"totalLookups"`
	TotalReaddirs         int64    `json:"totalReaddirs"`
	TotalReads            int64    `json:"totalReads"`
	Uptime                string   `json:"uptime"`
	Version               string   `json:"version"`
}

func (d *Dashboard) collectMetrics() dashboardData {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	lines := d.rbuf.Lines()
	slices.Reverse(lines)

	ixm := d.fsys.Index().Metrics
	lcm := d.fsys.ListingCache().Metrics
	fsm := d.fsys.Metrics

	return dashboardData{
		AllocBytes:            humanize.IBytes(m.Alloc),
		AvgExtractSpeed:       d.avgExtractSpeed(),
		AvgExtractTime:        d.avgExtractTime(),
		AvgIndexTime:          d.avgIndexTime(),
		ListingCacheDiskHits:  lcm.TotalDiskHits.Load(),
		ListingCacheHits:      lcm.TotalHits.Load(),
		ListingCacheMisses:    lcm.TotalMisses.Load(),
		ListingCacheRatio:     ratio(lcm.TotalHits.Load()+lcm.TotalDiskHits.Load(), lcm.TotalMisses.Load()),
		Logs:                  lines,
		NumGC:                 m.NumGC,
		OpenArchives:          ixm.OpenArchives.Load(),
		OpenHandles:           fsm.OpenHandles.Load(),
		RingBufferSize:        d.rbuf.Size(),
		SnapshotCacheRatio:    ratio(ixm.TotalSnapshotHits.Load(), ixm.TotalSnapshotMisses.Load()),
		StreamingThreshold:    humanize.IBytes(d.fsys.Options.StreamingThreshold.Load()),
		SysBytes:              humanize.IBytes(m.Sys),
		TotalEnoents:          fsm.TotalEnoents.Load(),
		TotalErrors:           fsm.Errors.Load(),
		TotalExtractBytes:     d.totalExtractBytes(),
		TotalExtractedHandles: fsm.TotalExtractedHandles.Load(),
		TotalExtracts:         ixm.TotalExtractCount.Load(),
		TotalIndexBuilds:      ixm.TotalIndexCount.Load(),
		TotalLookups:          fsm.TotalLookups.Load(),
		TotalReaddirs:         fsm.TotalReaddirs.Load(),
		TotalReads:            fsm.TotalReads.Load(),
		Uptime:                humanize.Time(d.fsys.MountTime),
		Version:               d.version,
	}
}

func (d *Dashboard) dashboardHandler(w http.ResponseWriter, _ *http.Request) {
	data := d.collectMetrics()

	if err := indexTemplate.Execute(w, data); err != nil {
		d.rbuf.Printf("HTTP template execution error: %v\n", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (d *Dashboard) metricsHandler(w http.ResponseWriter, _ *http.Request) {
	data := d.collectMetrics()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (d *Dashboard) gcHandler(w http.ResponseWriter, _ *http.Request) {
	runtime.GC()
	debug.FreeOSMemory()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	d.rbuf.Printf("GC forced via API, current heap: %s.\n", humanize.IBytes(m.Alloc))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "GC forced, current heap: %s.\n", humanize.IBytes(m.Alloc))
}

func (d *Dashboard) resetMetricsHandler(w http.ResponseWriter, _ *http.Request) {
	fsm := d.fsys.Metrics
	fsm.TotalLookups.Store(0)
	fsm.TotalReaddirs.Store(0)
	fsm.TotalReads.Store(0)
	fsm.TotalExtractedHandles.Store(0)
	fsm.TotalEnoents.Store(0)
	fsm.Errors.Store(0)

	ixm := d.fsys.Index().Metrics
	ixm.TotalOpenedArchives.Store(0)
	ixm.TotalClosedArchives.Store(0)
	ixm.TotalIndexTime.Store(0)
	ixm.TotalIndexCount.Store(0)
	ixm.TotalExtractTime.Store(0)
	ixm.TotalExtractCount.Store(0)
	ixm.TotalExtractBytes.Store(0)
	ixm.TotalSnapshotHits.Store(0)
	ixm.TotalSnapshotMisses.Store(0)

	lcm := d.fsys.ListingCache().Metrics
	lcm.TotalHits.Store(0)
	lcm.TotalDiskHits.Store(0)
	lcm.TotalMisses.Store(0)

	d.rbuf.Println("Metrics reset via API.")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "Metrics reset.")
}

func (d *Dashboard) thresholdHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	val, err := humanize.ParseBytes(vars["value"])
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid string value: %v", err), http.StatusBadRequest)

		return
	}
	d.fsys.Options.StreamingThreshold.Store(val)

	d.rbuf.Printf("Streaming threshold set via API: %s.\n", humanize.IBytes(val))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "Streaming threshold set: %s.\n", humanize.IBytes(val))
}
