package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/taxcredit-docflow/internal/application/port"
)

const (
	MimeTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	summarySheet = "Summary"
)

var placeholderPattern = regexp.MustCompile(`^\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}$`)

// ExcelRenderer fills spreadsheet templates. A template cell whose whole value
// is {{key}} is replaced by data[key]. Without a template file the data is
// written as a two-column summary sheet.
type ExcelRenderer struct {
	templateDir string
	logger      *zap.Logger
}

// NewExcelRenderer creates an ExcelRenderer reading templates from templateDir
func NewExcelRenderer(templateDir string, logger *zap.Logger) *ExcelRenderer {
	return &ExcelRenderer{templateDir: templateDir, logger: logger}
}

func (r *ExcelRenderer) Render(ctx context.Context, templateID string, data map[string]interface{}) (*port.RenderedDocument, error) {
	name := strings.TrimPrefix(templateID, PrefixXLSX)
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("invalid spreadsheet template id %q", templateID)
	}

	file, fromTemplate, err := r.open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if fromTemplate {
		filled, err := fillPlaceholders(file, data)
		if err != nil {
			return nil, fmt.Errorf("failed to fill template: %w", err)
		}
		r.logger.Debug("Spreadsheet template filled",
			zap.String("template", name),
			zap.Int("cells", filled))
	} else {
		if err := writeSummary(file, data); err != nil {
			return nil, fmt.Errorf("failed to write summary: %w", err)
		}
	}

	buf, err := file.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return &port.RenderedDocument{Content: buf.Bytes(), MimeType: MimeTypeXLSX}, nil
}

func (r *ExcelRenderer) open(name string) (*excelize.File, bool, error) {
	if r.templateDir != "" {
		path := filepath.Join(r.templateDir, name+".xlsx")
		if _, err := os.Stat(path); err == nil {
			f, err := excelize.OpenFile(path)
			if err != nil {
				return nil, false, fmt.Errorf("failed to open template: %w", err)
			}
			return f, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, false, fmt.Errorf("failed to stat template: %w", err)
		}
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		f.Close()
		return nil, false, err
	}
	return f, false, nil
}

func fillPlaceholders(f *excelize.File, data map[string]interface{}) (int, error) {
	filled := 0
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return filled, err
		}
		for ri, row := range rows {
			for ci, value := range row {
				m := placeholderPattern.FindStringSubmatch(value)
				if m == nil {
					continue
				}
				cell, err := excelize.CoordinatesToCellName(ci+1, ri+1)
				if err != nil {
					return filled, err
				}
				v, ok := data[m[1]]
				if !ok {
					v = ""
				}
				if err := f.SetCellValue(sheet, cell, cellValue(v)); err != nil {
					return filled, fmt.Errorf("failed to set %s!%s: %w", sheet, cell, err)
				}
				filled++
			}
		}
	}
	return filled, nil
}

func writeSummary(f *excelize.File, data map[string]interface{}) error {
	if err := f.SetSheetRow(summarySheet, "A1", &[]interface{}{"Field", "Value"}); err != nil {
		return err
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for i, k := range keys {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(summarySheet, cell, &[]interface{}{k, cellValue(data[k])}); err != nil {
			return err
		}
	}
	return f.SetColWidth(summarySheet, "A", "B", 28)
}

// cellValue keeps scalars as-is and encodes anything nested as JSON
func cellValue(v interface{}) interface{} {
	switch v.(type) {
	case nil:
		return ""
	case string, bool, int, int32, int64, float32, float64, json.Number:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

var _ port.Renderer = (*ExcelRenderer)(nil)
