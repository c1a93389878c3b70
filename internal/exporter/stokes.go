package exporter

import (
	"fmt"
	"io"

	"polarcli/pkg/contracts/domain"
)

// StokesExport is a StokesTable joined with its PropertyTable
type StokesExport struct {
	Stokes     *domain.StokesTable
	Properties *domain.PropertyTable // nil exports the Stokes columns only
}

// Headers returns the exported column names
func (e StokesExport) Headers() []string {
	headers := append([]string(nil), domain.StokesHeaders...)
	if e.Properties != nil {
		headers = append(headers, domain.PropertyHeaders...)
	}
	return headers
}

// Records renders every Stokes row, left-joined with the property row of
// the same sample number. Repeated sample numbers pair in order; a Stokes
// row without a property match keeps empty property cells.
func (e StokesExport) Records() [][]string {
	n := e.Stokes.Len()
	records := make([][]string, 0, n)

	var match func(no int64) (int, bool)
	if e.Properties != nil {
		match = joinIndex(e.Properties.No)
	}

	width := len(domain.StokesHeaders)
	if e.Properties != nil {
		width += len(domain.PropertyHeaders)
	}

	for i := 0; i < n; i++ {
		record := make([]string, 0, width)
		record = append(record, FormatInt(e.Stokes.No[i]))
		for _, v := range e.Stokes.Values(i) {
			record = append(record, FormatFloat(v))
		}
		if match != nil {
			if j, ok := match(e.Stokes.No[i]); ok {
				for _, v := range e.Properties.Values(j) {
					record = append(record, FormatFloat(v))
				}
			} else {
				for range domain.PropertyHeaders {
					record = append(record, "")
				}
			}
		}
		records = append(records, record)
	}
	return records
}

// joinIndex returns a matcher yielding, for each sample number, the next
// unused row carrying it
func joinIndex(nos []int64) func(no int64) (int, bool) {
	queues := make(map[int64][]int, len(nos))
	for i, no := range nos {
		queues[no] = append(queues[no], i)
	}
	return func(no int64) (int, bool) {
		q := queues[no]
		if len(q) == 0 {
			return 0, false
		}
		queues[no] = q[1:]
		return q[0], true
	}
}

// WriteStokes writes the export to out, with a BOM when bom is set
func (w *CSVWriter) WriteStokes(out io.Writer, export StokesExport, bom bool) error {
	if export.Stokes == nil {
		return fmt.Errorf("no stokes table to export")
	}
	return w.Write(out, WriteOptions{
		Headers:   export.Headers(),
		Records:   export.Records(),
		BOMPrefix: bom,
	})
}

// SaveStokes writes the export to filePath
func (w *CSVWriter) SaveStokes(filePath string, export StokesExport, bom bool) error {
	if export.Stokes == nil {
		return fmt.Errorf("no stokes table to export")
	}
	return w.WriteCSV(filePath, WriteOptions{
		Headers:   export.Headers(),
		Records:   export.Records(),
		BOMPrefix: bom,
	})
}
