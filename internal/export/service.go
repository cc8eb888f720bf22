package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/tenderflow/docpipe/internal/repository"
)

// Service is a tiny façade over the repository that produces XLSX bytes for
// extraction-result exports.
type Service struct {
	repo   repository.Store
	logger *slog.Logger
}

func NewService(repo repository.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// ExportResultsXLSX returns an XLSX workbook (as bytes) with the most recent
// extraction results for a tenant, newest first.
func (s *Service) ExportResultsXLSX(ctx context.Context, tenantID string, limit int) ([]byte, error) {
	start := time.Now()

	recs, err := s.repo.ListExtractionResults(ctx, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("query extraction results: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "Extractions"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		_, err := f.NewSheet(sheet)
		if err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"Submission",
		"Extractor",
		"Version",
		"Confidence",
		"Reference",
		"Amount",
		"Currency",
		"Deadline",
		"Processed At",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, r := range recs {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		write(1, r.SubmissionID)
		write(2, r.ExtractorType)
		write(3, r.ExtractorVersion)
		write(4, fmt.Sprintf("%.2f", r.Confidence))
		write(5, dataField(r.Data, "invoiceNumber", "announcementNumber", "confirmationNumber"))
		write(6, dataField(r.Data, "amount"))
		write(7, dataField(r.Data, "currency"))
		write(8, dataField(r.Data, "deadline"))
		if !r.UpdatedAt.IsZero() {
			write(9, r.UpdatedAt.Format("2006-01-02 15:04"))
		}

		row++
	}

	_ = f.SetColWidth(sheet, "A", "A", 38) // submission id
	_ = f.SetColWidth(sheet, "B", "C", 18) // extractor + version
	_ = f.SetColWidth(sheet, "D", "D", 12) // confidence
	_ = f.SetColWidth(sheet, "E", "E", 24) // reference
	_ = f.SetColWidth(sheet, "F", "G", 14) // amount + currency
	_ = f.SetColWidth(sheet, "H", "H", 20) // deadline
	_ = f.SetColWidth(sheet, "I", "I", 18) // timestamp

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"tenant_id", tenantID,
		"rows", len(recs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// dataField returns the first non-empty value among the named keys.
func dataField(data map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := data[k]; ok && v != nil {
			if s := fmt.Sprintf("%v", v); s != "" {
				return s
			}
		}
	}
	return ""
}
