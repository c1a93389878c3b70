package ingest

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	apperrors "polarcli/internal/errors"
	"polarcli/pkg/contracts/domain"
)

// WorkbookEncoding is recorded as the encoding of spreadsheet sources
const WorkbookEncoding = "xlsx"

// parseWorkbook reads the first sheet of an xlsx export with the same
// skip-rows and header rules as text exports
func (r *Resolver) parseWorkbook(data []byte) (*resolved, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.NewIngestionError(apperrors.ReasonMalformedRow,
			"cannot open workbook", err).
			WithHint("re-export the measurement as tab-separated text")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, apperrors.NewIngestionError(apperrors.ReasonMalformedRow, "workbook has no sheets", nil)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, apperrors.NewIngestionError(apperrors.ReasonMalformedRow,
			fmt.Sprintf("cannot read sheet %q", sheets[0]), err)
	}

	rec, err := fromRows(rows, r.opts.SkipRows)
	if err != nil {
		return nil, apperrors.NewIngestionError(apperrors.ReasonMalformedRow,
			fmt.Sprintf("sheet %q does not form a table", sheets[0]), err)
	}

	res, err := r.build(rec, WorkbookEncoding)
	if err != nil {
		return nil, err
	}
	res.resolution = domain.ResolutionWorkbook
	return res, nil
}
