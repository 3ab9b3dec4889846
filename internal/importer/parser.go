package importer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fieldops/opsimport/internal/audit"
	"github.com/fieldops/opsimport/internal/domain"
	"github.com/fieldops/opsimport/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

const (
	// headerScanLimit bounds the preamble scan; real-world exports prepend
	// summary rows before the true header.
	headerScanLimit = 30

	// raggedRowTolerance is how many trailing cells a data row may be short
	// of the header before it is rejected as malformed.
	raggedRowTolerance = 5

	previewRowLimit = 20
)

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// headerVocabulary is the fixed set of column-name fragments used to find the
// true header row inside a preamble. A line matching two or more fragments is
// taken as the header.
var headerVocabulary = []string{
	"ambassador",
	"event name",
	"event",
	"email",
	"phone",
	"budget/actual",
	"budget",
	"actual",
	"date",
	"amount",
	"hours",
	"rate",
	"salary",
	"operator",
	"cpa",
}

// categoryIndicators maps each data category to its disjoint keyword set.
var categoryIndicators = map[domain.DataCategory][]string{
	domain.CategorySignUps:       {"email", "phone", "ambassador", "referral"},
	domain.CategoryBudgetActuals: {"budget", "actual", "cost", "revenue", "spent"},
	domain.CategoryPayroll:       {"salary", "wage", "rate", "commission", "hours"},
}

// ParseRequest describes an upload handed to the parser.
type ParseRequest struct {
	FileName   string
	MediaType  string
	UploadedBy string
	Data       io.Reader
}

// ParseResult returns the staged handle and upload metadata to clients.
type ParseResult struct {
	Handle       uuid.UUID             `json:"handle"`
	FileName     string                `json:"file_name"`
	RowCount     int                   `json:"row_count"`
	Columns      []string              `json:"columns"`
	Categories   []domain.DataCategory `json:"categories"`
	PreviewRows  []domain.Row          `json:"preview_rows"`
	ParseErrors  []domain.ParseError   `json:"parse_errors"`
	SkippedLines int                   `json:"skipped_lines"`
	ExpiresAt    time.Time             `json:"expires_at"`
}

// Parser turns raw spreadsheet bytes into a staged file.
type Parser struct {
	staging  repository.StagingRepository
	recorder *audit.Recorder
	log      *logrus.Logger
	ttl      time.Duration
	maxSize  int64
}

// NewParser wires the ingestion parser. ttl bounds staged handle lifetime;
// maxSize bounds upload bytes (0 means unlimited).
func NewParser(staging repository.StagingRepository, recorder *audit.Recorder, log *logrus.Logger, ttl time.Duration, maxSize int64) *Parser {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Parser{staging: staging, recorder: recorder, log: log, ttl: ttl, maxSize: maxSize}
}

// Parse reads the upload, detects header and categories, coerces cells, and
// stages the result under a fresh handle. Malformed rows are recorded, not
// raised; only unsupported media types fail hard.
func (p *Parser) Parse(ctx context.Context, req ParseRequest) (ParseResult, error) {
	if req.Data == nil {
		return ParseResult{}, domain.ErrBadRequest("data reader is required")
	}

	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return ParseResult{}, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(payload) == 0 {
		return ParseResult{}, domain.ErrBadRequest("file is empty")
	}
	if p.maxSize > 0 && int64(len(payload)) > p.maxSize {
		return ParseResult{}, domain.ErrFileTooLarge(int64(len(payload)), p.maxSize)
	}

	lines, err := extractLines(req.FileName, req.MediaType, payload)
	if err != nil {
		return ParseResult{}, err
	}

	headerIndex, headers := detectHeader(lines)
	if headerIndex < 0 {
		return ParseResult{}, domain.NewError(domain.CodeParsingFailed, 422, "no header row detected in first %d lines", headerScanLimit)
	}

	rows, parseErrors := parseDataRows(lines, headerIndex, headers)
	categories := guessCategories(headers)

	file := domain.NewStagedFile(req.FileName, req.MediaType, req.UploadedBy, int64(len(payload)), p.ttl)
	file.Columns = headers
	file.Categories = categories
	file.Rows = rows
	file.RowCount = len(rows)
	file.ParseErrors = parseErrors

	if err := p.staging.Put(ctx, file); err != nil {
		return ParseResult{}, fmt.Errorf("failed to stage upload: %w", err)
	}

	p.recorder.Record(ctx, file.ID, domain.AuditFileUploaded, req.UploadedBy, map[string]any{
		"file_name":    req.FileName,
		"size":         len(payload),
		"rows":         len(rows),
		"categories":   categories,
		"parse_errors": len(parseErrors),
	})

	p.log.WithFields(logrus.Fields{
		"handle": file.ID,
		"file":   req.FileName,
		"rows":   len(rows),
	}).Info("staged upload")

	preview := rows
	if len(preview) > previewRowLimit {
		preview = preview[:previewRowLimit]
	}

	return ParseResult{
		Handle:       file.ID,
		FileName:     file.FileName,
		RowCount:     file.RowCount,
		Columns:      headers,
		Categories:   categories,
		PreviewRows:  preview,
		ParseErrors:  parseErrors,
		SkippedLines: headerIndex,
		ExpiresAt:    file.ExpiresAt,
	}, nil
}

// extractLines turns the raw payload into cell rows. CSV quoting is resolved
// here for text uploads; xlsx sheets come pre-split from excelize.
func extractLines(fileName, mediaType string, payload []byte) ([][]string, error) {
	switch {
	case isCSV(fileName, mediaType):
		return splitCSV(payload), nil
	case isExcel(fileName, mediaType):
		return splitExcel(payload)
	default:
		format := mediaType
		if format == "" {
			format = filepath.Ext(fileName)
		}
		return nil, domain.ErrInvalidFileFormat(format)
	}
}

func isCSV(fileName, mediaType string) bool {
	switch strings.ToLower(strings.TrimSpace(mediaType)) {
	case "text/csv", "application/csv", "text/plain":
		return true
	}
	return strings.EqualFold(filepath.Ext(fileName), ".csv")
}

func isExcel(fileName, mediaType string) bool {
	switch strings.ToLower(strings.TrimSpace(mediaType)) {
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return true
	}
	return strings.EqualFold(filepath.Ext(fileName), ".xlsx")
}

func splitCSV(payload []byte) [][]string {
	payload = bytes.TrimPrefix(payload, byteOrderMark)

	var lines [][]string
	scanner := bufio.NewScanner(bytes.NewReader(payload))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, splitCells(line))
	}
	return lines
}

// splitCells splits one line honoring quoted fields: a quote toggles quoted
// mode, a doubled quote inside quoted text is an escaped literal quote, and
// unquoted commas separate fields.
func splitCells(line string) []string {
	var cells []string
	var cell strings.Builder
	inQuotes := false

	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		switch {
		case ch == '"':
			if inQuotes && i+1 < len(runes) && runes[i+1] == '"' {
				cell.WriteRune('"')
				i++
				continue
			}
			inQuotes = !inQuotes
		case ch == ',' && !inQuotes:
			cells = append(cells, strings.TrimSpace(cell.String()))
			cell.Reset()
		default:
			cell.WriteRune(ch)
		}
	}
	cells = append(cells, strings.TrimSpace(cell.String()))
	return cells
}

func splitExcel(payload []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, domain.NewError(domain.CodeParsingFailed, 422, "failed to open xlsx: %v", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, domain.NewError(domain.CodeParsingFailed, 422, "excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}

	var lines [][]string
	for _, row := range rows {
		empty := true
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				empty = false
				break
			}
		}
		if !empty {
			lines = append(lines, row)
		}
	}
	return lines, nil
}

// detectHeader scans up to headerScanLimit lines for the first one matching
// two or more vocabulary fragments and returns its index and cleaned names.
func detectHeader(lines [][]string) (int, []string) {
	limit := len(lines)
	if limit > headerScanLimit {
		limit = headerScanLimit
	}

	for idx := 0; idx < limit; idx++ {
		joined := strings.ToLower(strings.Join(lines[idx], ","))
		hits := 0
		for _, fragment := range headerVocabulary {
			if strings.Contains(joined, fragment) {
				hits++
			}
			if hits >= 2 {
				return idx, cleanHeaders(lines[idx])
			}
		}
	}
	return -1, nil
}

func cleanHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)
	for idx, value := range raw {
		name := strings.TrimSpace(value)
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}
		base := name
		if count := seen[base]; count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base]++
		headers[idx] = name
	}
	return headers
}

// parseDataRows coerces every line after the header. Rows shorter than the
// header by more than the tolerance are recorded as parse errors and skipped,
// never raised.
func parseDataRows(lines [][]string, headerIndex int, headers []string) ([]domain.Row, []domain.ParseError) {
	rows := []domain.Row{}
	parseErrors := []domain.ParseError{}

	for idx := headerIndex + 1; idx < len(lines); idx++ {
		cells := lines[idx]
		rowNumber := idx - headerIndex

		if len(cells) < len(headers)-raggedRowTolerance {
			parseErrors = append(parseErrors, domain.ParseError{
				RowNumber: rowNumber,
				Message:   fmt.Sprintf("malformed row: %d cells for %d columns", len(cells), len(headers)),
			})
			continue
		}

		row := make(domain.Row, len(headers))
		for col, header := range headers {
			if col >= len(cells) {
				break
			}
			row[header] = coerceCell(cells[col])
		}
		rows = append(rows, row)
	}

	return rows, parseErrors
}

// coerceCell interprets integer and decimal patterns as numbers and true/false
// as booleans; everything else stays text.
func coerceCell(raw string) any {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	}
	return value
}

// guessCategories matches column names against each category's keyword set.
// A file may carry several categories at once.
func guessCategories(headers []string) []domain.DataCategory {
	joined := strings.ToLower(strings.Join(headers, ","))

	var categories []domain.DataCategory
	for _, category := range []domain.DataCategory{domain.CategorySignUps, domain.CategoryBudgetActuals, domain.CategoryPayroll} {
		for _, keyword := range categoryIndicators[category] {
			if strings.Contains(joined, keyword) {
				categories = append(categories, category)
				break
			}
		}
	}
	return categories
}
