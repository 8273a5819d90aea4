package subscriber

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/foxzi/letterbox/internal/metrics"
)

// ImportResult reports the outcome of a CSV import
type ImportResult struct {
	Total    int      `json:"total"`
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

var exportHeader = []string{"id", "email", "name", "status", "join_date"}

// ImportCSV adds subscribers from CSV data with a header row. Recognised
// columns are email (required), name, status and join_date. Blank and
// duplicate emails are skipped.
func (s *Service) ImportCSV(ctx context.Context, reader io.Reader) (*ImportResult, error) {
	result := &ImportResult{}

	csvReader := csv.NewReader(reader)
	csvReader.FieldsPerRecord = -1

	header, err := csvReader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	emailIdx, nameIdx, statusIdx, dateIdx := -1, -1, -1, -1
	for i, col := range header {
		col = strings.ToLower(strings.TrimSpace(col))
		switch col {
		case "email", "e-mail", "email_address":
			emailIdx = i
		case "name", "full_name", "fullname":
			nameIdx = i
		case "status":
			statusIdx = i
		case "join_date", "joindate", "joined":
			dateIdx = i
		}
	}

	if emailIdx == -1 {
		return nil, fmt.Errorf("email column not found in CSV")
	}

	column := func(record []string, idx int) string {
		if idx >= 0 && idx < len(record) {
			return strings.TrimSpace(record[idx])
		}
		return ""
	}

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Malformed rows are skipped; any other read error ends the import
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				return result, fmt.Errorf("failed to read CSV: %w", err)
			}
			result.Total++
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", result.Total, err))
			result.Skipped++
			continue
		}
		result.Total++

		email := column(record, emailIdx)
		if email == "" {
			result.Skipped++
			continue
		}

		status := StatusSubscribed
		if v := Status(strings.ToLower(column(record, statusIdx))); v.Valid() {
			status = v
		}

		if _, err := s.add(ctx, email, column(record, nameIdx), status, column(record, dateIdx)); err != nil {
			if !errors.Is(err, ErrDuplicateEmail) {
				result.Errors = append(result.Errors, fmt.Sprintf("row %d (%s): %v", result.Total, email, err))
			}
			result.Skipped++
			continue
		}

		metrics.IncSubscribersAdded("import")
		result.Imported++
	}

	s.logger.Info("subscribers imported",
		"total", result.Total,
		"imported", result.Imported,
		"skipped", result.Skipped,
	)

	return result, nil
}

// ExportCSV writes every subscriber as CSV with a header row
func (s *Service) ExportCSV(ctx context.Context, w io.Writer) error {
	all, err := s.store.List(ctx)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, sub := range all {
		row := []string{
			strconv.FormatInt(sub.ID, 10),
			sub.Email,
			sub.Name,
			string(sub.Status),
			sub.JoinDate,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
