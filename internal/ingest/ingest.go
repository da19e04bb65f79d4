// Package ingest turns an uploaded spreadsheet into normalized (phone, amount)
// rows. Ingestion is best-effort: malformed rows are skipped, only an empty
// sheet or an unreadable file is an error.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/kursadbilgin/batch-engine/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const (
	headerPhone  = "phone"
	headerAmount = "amount"
)

// Row is one surviving spreadsheet row.
type Row struct {
	RowNumber int
	Phone     string
	Amount    decimal.Decimal
}

type Ingestor struct {
	maxRows int
	logger  *zap.Logger
}

// New returns an Ingestor. maxRows <= 0 disables the row limit.
func New(maxRows int, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{maxRows: maxRows, logger: logger}
}

// Parse reads the first active sheet of the file. The format is chosen from
// the filename extension; anything that is not .csv is read as a workbook.
func (in *Ingestor) Parse(filename string, r io.Reader) ([]Row, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: file is required", domain.ErrValidation)
	}

	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		rows, err = readCSV(r)
	default:
		rows, err = readWorkbook(r)
	}
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, domain.ErrEmptyInput
	}

	return in.normalize(rows)
}

func (in *Ingestor) normalize(rows [][]string) ([]Row, error) {
	phoneCol, amountCol, hasHeader := locateColumns(rows[0])

	dataRows := rows
	if hasHeader {
		dataRows = rows[1:]
	}

	out := make([]Row, 0, len(dataRows))
	skipped := 0
	for i, raw := range dataRows {
		rowNumber := i + 1

		if len(raw) == 0 || strings.TrimSpace(raw[0]) == "" {
			skipped++
			continue
		}

		phone := normalizePhone(cell(raw, phoneCol))
		amountText := strings.TrimSpace(cell(raw, amountCol))
		if phone == "" || amountText == "" {
			skipped++
			continue
		}

		amount, err := domain.ParseAmount(amountText)
		if err != nil {
			in.logger.Debug("skipping row with unusable amount",
				zap.Int("row", rowNumber),
				zap.String("amount", amountText),
			)
			skipped++
			continue
		}

		out = append(out, Row{
			RowNumber: rowNumber,
			Phone:     phone,
			Amount:    amount,
		})

		if in.maxRows > 0 && len(out) > in.maxRows {
			return nil, fmt.Errorf("%w: limit is %d", domain.ErrTooManyRows, in.maxRows)
		}
	}

	in.logger.Debug("spreadsheet parsed",
		zap.Bool("hasHeader", hasHeader),
		zap.Int("rows", len(out)),
		zap.Int("skipped", skipped),
	)

	return out, nil
}

// locateColumns inspects the first row. When it names both phone and amount it
// is a header and the columns are located by name, otherwise the layout is
// positional.
func locateColumns(first []string) (phoneCol int, amountCol int, hasHeader bool) {
	phoneCol, amountCol = -1, -1
	for i, value := range first {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(value, "\ufeff")))
		if name == headerPhone && phoneCol < 0 {
			phoneCol = i
		}
		if name == headerAmount && amountCol < 0 {
			amountCol = i
		}
	}

	if phoneCol >= 0 && amountCol >= 0 {
		return phoneCol, amountCol, true
	}
	return 0, 1, false
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

// maxPhoneExponent caps the scientific notation expanded by normalizePhone.
const maxPhoneExponent = 20

// normalizePhone trims the value and expands numbers that a spreadsheet stored
// in scientific notation. Anything with a larger exponent is kept as text.
func normalizePhone(value string) string {
	phone := strings.TrimSpace(strings.TrimPrefix(value, "\ufeff"))
	if strings.ContainsAny(phone, "eE") {
		d, err := decimal.NewFromString(phone)
		if err == nil && d.Exponent() >= -maxPhoneExponent && d.Exponent() <= maxPhoneExponent {
			return d.String()
		}
	}
	return phone
}

func readWorkbook(r io.Reader) (_ [][]string, err error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open spreadsheet: %v", domain.ErrValidation, err)
	}
	defer func() { err = errors.Join(err, f.Close()) }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, domain.ErrEmptyInput
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read sheet %q: %v", domain.ErrValidation, sheet, err)
	}
	return rows, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read csv: %v", domain.ErrValidation, err)
	}
	return rows, nil
}
