// Package tabular decodes delimited submissions into ordered records. The
// primary decoder is encoding/csv; when it gives up before the end of the
// input, a quote-aware recovery scanner processes the unparsed tail so
// that every non-blank data line yields a record.
package tabular

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/feedworks/crypto-reports/internal/models"
)

// ErrNoRows reports an input where not a single data row could be decoded,
// as opposed to a partial decode which proceeds with what was recovered.
var ErrNoRows = errors.New("tabular input has no decodable rows")

type Parser struct {
	log *zap.Logger
}

func NewParser(log *zap.Logger) *Parser {
	return &Parser{log: log}
}

// Parse decodes content (one header line plus N data lines,
// comma-separated, double-quote-escaped) into ordered records.
func (p *Parser) Parse(content string) ([]models.Record, error) {
	nonBlank := nonBlankLines(content)
	if len(nonBlank) == 0 {
		return nil, &models.InputError{Reason: "tabular content is empty"}
	}
	if len(nonBlank) == 1 {
		return nil, &models.InputError{Reason: "tabular content has a header but no data lines"}
	}

	header := splitQuoted(nonBlank[0])
	for i, h := range header {
		header[i] = stripQuotes(strings.TrimSpace(h))
	}

	records := p.decodeCSV(content, header)

	expected := len(nonBlank) - 1
	if len(records) < expected {
		p.log.Warn("primary decoder stopped early, recovering remaining lines",
			zap.Int("decoded", len(records)),
			zap.Int("expected", expected))
		tail := nonBlank[1+len(records):]
		records = append(records, p.recoverLines(tail, header)...)
	}

	if len(records) == 0 {
		return nil, ErrNoRows
	}
	if len(records) != expected {
		p.log.Warn("row count discrepancy after recovery",
			zap.Int("decoded", len(records)),
			zap.Int("expected", expected))
	}
	return records, nil
}

// decodeCSV runs the standard header-driven decoder until EOF or the first
// hard error. Rows decoded before the error are kept.
func (p *Parser) decodeCSV(content string, header []string) []models.Record {
	reader := csv.NewReader(strings.NewReader(content))
	reader.FieldsPerRecord = len(header)

	// Skip the header line.
	if _, err := reader.Read(); err != nil {
		return nil
	}

	var records []models.Record
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			p.log.Warn("csv decode error, switching to recovery parser", zap.Error(err))
			break
		}
		rec := make(models.Record, len(header))
		for i, key := range header {
			if i < len(row) {
				rec[key] = row[i]
			} else {
				rec[key] = ""
			}
		}
		records = append(records, rec)
	}
	return records
}

// recoverLines parses the unparsed tail with a simple quote-aware scanner.
// A line that cannot be mapped to the header yields a degraded record: all
// fields empty except the first header field, which keeps the line's first
// comma-delimited token.
func (p *Parser) recoverLines(lines, header []string) []models.Record {
	var records []models.Record
	for _, line := range lines {
		values := splitQuoted(line)
		for i, v := range values {
			values[i] = stripQuotes(strings.TrimSpace(v))
		}

		rec := make(models.Record, len(header))
		if len(values) >= len(header) {
			for i, key := range header {
				rec[key] = values[i]
			}
			records = append(records, rec)
			continue
		}

		p.log.Warn("could not recover line, emitting degraded record",
			zap.Int("values", len(values)),
			zap.Int("expected", len(header)))
		for _, key := range header {
			rec[key] = ""
		}
		if len(header) > 0 && len(values) > 0 {
			rec[header[0]] = values[0]
		}
		records = append(records, rec)
	}
	return records
}

// splitQuoted splits line on commas outside double quotes.
func splitQuoted(line string) []string {
	var (
		values   []string
		current  strings.Builder
		inQuotes bool
	)
	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == ',' && !inQuotes:
			values = append(values, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	values = append(values, current.String())
	return values
}

func stripQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func nonBlankLines(content string) []string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
