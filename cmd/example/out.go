package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/TylerBrock/colorjson"
	"github.com/logrusorgru/aurora"
	"github.com/rcrowley/go-metrics"

	"github.com/godaddy/asherah/go/flexmem"
	"github.com/godaddy/asherah/go/flexmem/keystore"
	"github.com/godaddy/asherah/go/flexmem/secure"
)

// metricPrefixes select the registry entries dumped unless every metric is requested.
var metricPrefixes = []string{"flexmem.", "keystore.", "secure."}

type namedTimer struct {
	name  string
	timer metrics.Timer
}

// report writes the results of a run as aligned, coloured tables.
type report struct {
	w    *tabwriter.Writer
	out  io.Writer
	json *colorjson.Formatter
}

func newReport(out io.Writer) *report {
	f := colorjson.NewFormatter()
	f.Indent = 4

	return &report{
		w:    tabwriter.NewWriter(out, 0, 2, 2, ' ', 0),
		out:  out,
		json: f,
	}
}

func (r *report) title(name string) {
	fmt.Fprintln(r.w, aurora.Bold(aurora.Cyan(name)))
}

func (r *report) row(name string, v interface{}) {
	fmt.Fprintf(r.w, "\t%s\t%v\t\n", aurora.White(name), v)
}

// summary prints the run configuration followed by the storage, region and key counters.
func (r *report) summary(elapsed time.Duration, failures int) {
	staged := opts.Workers * opts.Count

	r.title("Run")
	r.row("Elapsed:", elapsed)
	r.row("Regions staged:", staged)
	r.row("Region size:", fmt.Sprintf("%d bytes (%s, keys in %s memory)", opts.Size, opts.Cipher, opts.KeyStore))
	r.row("Staging buffer:", fmt.Sprintf("%d inline, %s allocator", opts.Inline, opts.Allocator))

	if failures > 0 {
		r.row("Failed workers:", aurora.Red(failures))
	} else {
		r.row("Failed workers:", aurora.Green(0))
	}

	spilled := flexmem.SpillCounter.Count()

	r.title("Storage")
	r.row("Allocations:", flexmem.AllocCounter.Count())
	r.row("Still in use:", flexmem.InUseCounter.Count())
	r.row("Spilled buffers:", fmt.Sprintf("%d of %d", spilled, staged))

	r.title("Regions")
	r.row("Still open:", secure.RegionCounter.Count())
	r.row("Keys allocated:", keystore.AllocCounter.Count())
	r.row("Keys in use:", keystore.InUseCounter.Count())

	r.w.Flush()
	fmt.Fprintln(r.out)
}

// timers prints one row per timer. Timers that never ran are only listed when all is set.
func (r *report) timers(all bool, timers ...namedTimer) {
	r.title("Timings")
	fmt.Fprintf(r.w, "\t\tcount\tmean\tp50\tp99\tmax\t\n")

	for _, nt := range timers {
		t := nt.timer.Snapshot()

		if t.Count() == 0 {
			if all {
				fmt.Fprintf(r.w, "\t%s\t%s\t\t\t\t\t\n", aurora.White(nt.name), aurora.Red("not run"))
			}

			continue
		}

		fmt.Fprintf(r.w, "\t%s\t%d\t%v\t%v\t%v\t%v\t\n",
			aurora.White(nt.name),
			t.Count(),
			time.Duration(t.Mean()),
			time.Duration(t.Percentile(0.5)),
			time.Duration(t.Percentile(0.99)),
			time.Duration(t.Max()))
	}

	r.w.Flush()
	fmt.Fprintln(r.out)
}

// registry dumps the flexmem metrics of reg, or all of them, as coloured JSON.
func (r *report) registry(reg metrics.Registry, all bool) error {
	values, err := collect(reg, all)
	if err != nil {
		return err
	}

	b, err := r.json.Marshal(values)
	if err != nil {
		return err
	}

	r.title("Metrics")
	r.w.Flush()

	_, err = fmt.Fprintf(r.out, "%s\n\n", b)

	return err
}

// collect returns the metrics of reg as generic JSON values, keeping only those under metricPrefixes unless
// all is set.
func collect(reg metrics.Registry, all bool) (map[string]interface{}, error) {
	selected := make(map[string]map[string]interface{})

	for name, values := range reg.GetAll() {
		if all || hasMetricPrefix(name) {
			selected[name] = values
		}
	}

	b, err := json.Marshal(selected)
	if err != nil {
		return nil, err
	}

	var ret map[string]interface{}
	if err := json.Unmarshal(b, &ret); err != nil {
		return nil, err
	}

	return ret, nil
}

func hasMetricPrefix(name string) bool {
	for _, p := range metricPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}

	return false
}
