package report

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jobrunner/osmacc/internal/domain"
)

const textHeader = "BUFFER(m)|OSM_IN(m)|OSM_IN(%)|OSM_OUT(m)|OSM_OUT(%)|REF_IN(m)|REF_IN(%)|REF_OUT(m)|REF_OUT(%)"

// WriteText writes the pipe-delimited sweep report: three summary lines, a
// blank line, the header and one row per buffer in input order.
func WriteText(out io.Writer, r *domain.SweepReport) error {
	bw := bufio.NewWriter(out)
	fmt.Fprintf(bw, "REF length: %s m\n", round1(r.ReferenceLength))
	fmt.Fprintf(bw, "OSM length: %s m\n", round1(r.CandidateLength))
	fmt.Fprintf(bw, "REF-OSM difference: %s m (%s%%)\n", round1(r.Difference), round1(r.DifferencePct))
	fmt.Fprintln(bw)
	fmt.Fprintln(bw, textHeader)
	for _, row := range r.Rows {
		fields := []string{
			bufferLabel(row.Distance),
			round1(row.OSMIn), round1(row.OSMInPct),
			round1(row.OSMOut), round1(row.OSMOutPct),
			round1(row.RefIn), round1(row.RefInPct),
			round1(row.RefOut), round1(row.RefOutPct),
		}
		fmt.Fprintln(bw, strings.Join(fields, "|"))
	}
	return bw.Flush()
}

// WriteSeries writes the chart series as CSV: the buffer distance and the
// inside percentages of both datasets.
func WriteSeries(out io.Writer, r *domain.SweepReport) error {
	w := csv.NewWriter(out)
	if err := w.Write([]string{"buffer", "osm_in_pct", "ref_in_pct"}); err != nil {
		return err
	}
	distances, osmIn, refIn := r.Series()
	for i := range distances {
		rec := []string{
			strconv.FormatFloat(distances[i], 'f', -1, 64),
			strconv.FormatFloat(osmIn[i], 'f', -1, 64),
			strconv.FormatFloat(refIn[i], 'f', -1, 64),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func round1(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// bufferLabel prints the distance as given, integral values with ".0".
func bufferLabel(d float64) string {
	s := strconv.FormatFloat(d, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
