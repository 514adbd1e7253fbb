// Package query evaluates path expressions and aggregations against the
// stored documents.
package query

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/feedworks/crypto-reports/internal/database"
	"github.com/feedworks/crypto-reports/internal/models"
)

var aggregateFuncs = map[string]bool{
	"count": true,
	"sum":   true,
	"avg":   true,
	"min":   true,
	"max":   true,
}

// Engine is the read-side contract exposed to the transport adapters.
type Engine interface {
	Query(expr string, filters models.QueryFilters) ([]models.QueryResult, error)
	Aggregate(expr, aggregateFunc string) models.AggregateResult
}

type Service struct {
	db  database.DBManager
	log *zap.Logger
}

func NewService(db database.DBManager, log *zap.Logger) *Service {
	return &Service{db: db, log: log}
}

// Query runs a path expression over every stored document matching the
// filters. Bare dates are widened to the full day and the status filter
// defaults to OK. Zero matches yield an empty list, not an error.
func (s *Service) Query(expr string, filters models.QueryFilters) ([]models.QueryResult, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, &models.QueryError{Err: fmt.Errorf("path expression is empty")}
	}

	filters.StartDate = widenDate(filters.StartDate, "00:00:00")
	filters.EndDate = widenDate(filters.EndDate, "23:59:59")
	if filters.Status == "" {
		filters.Status = models.StatusOK
	}

	raw, err := s.db.QueryXPath(expr, filters)
	if err != nil {
		return nil, &models.QueryError{Err: err}
	}

	results := make([]models.QueryResult, 0, len(raw))
	for _, r := range raw {
		r.Result = CleanExtracted(r.Result)
		if r.Result == "" {
			continue
		}
		results = append(results, r)
	}
	return results, nil
}

// Aggregate applies an aggregate function to the matches of expr in the
// latest OK document. Failures never propagate: the result degrades to
// "0" with the Degraded flag set, so a dashboard keeps rendering while a
// caller can still tell the fallback from a genuine zero.
func (s *Service) Aggregate(expr, aggregateFunc string) models.AggregateResult {
	if aggregateFunc == "" {
		aggregateFunc = "count"
	}
	if !aggregateFuncs[aggregateFunc] {
		return models.AggregateResult{
			Value:    "0",
			Func:     aggregateFunc,
			Degraded: true,
			Reason:   fmt.Sprintf("unsupported aggregate function %q", aggregateFunc),
		}
	}

	normalized := NormalizeAggregateExpr(expr)
	value, err := s.db.AggregateXPath(normalized, aggregateFunc)
	if err != nil {
		s.log.Warn("aggregate query degraded to zero",
			zap.String("expr", normalized),
			zap.String("func", aggregateFunc),
			zap.Error(err))
		return models.AggregateResult{
			Value:    "0",
			Func:     aggregateFunc,
			Degraded: true,
			Reason:   err.Error(),
		}
	}
	return models.AggregateResult{Value: value, Func: aggregateFunc}
}

// NormalizeAggregateExpr appends a text-extraction suffix when expr does
// not already end in one or select an attribute, so callers can aggregate
// over an element path without knowing the extraction syntax.
func NormalizeAggregateExpr(expr string) string {
	normalized := strings.TrimSpace(expr)
	if strings.HasSuffix(normalized, "/text()") {
		return normalized
	}
	segments := strings.Split(normalized, "/")
	if strings.Contains(segments[len(segments)-1], "@") {
		return normalized
	}
	return normalized + "/text()"
}

// CleanExtracted strips surrounding whitespace and one layer of matching
// straight or curly quotes from an extracted value.
func CleanExtracted(s string) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) < 2 {
		return s
	}
	first, last := runes[0], runes[len(runes)-1]
	for _, pair := range [][2]rune{
		{'"', '"'},
		{'\'', '\''},
		{'“', '”'},
		{'‘', '’'},
	} {
		if first == pair[0] && last == pair[1] {
			return string(runes[1 : len(runes)-1])
		}
	}
	return s
}

func widenDate(date, suffix string) string {
	if len(date) == 10 {
		return date + " " + suffix
	}
	return date
}
