package models

import (
	"fmt"
	"time"
)

// Document lifecycle statuses as persisted in the store and reported in
// webhook notifications.
const (
	StatusOK               = "OK"
	StatusValidationError  = "ERRO_VALIDACAO"
	StatusPersistenceError = "ERRO_PERSISTENCIA"
)

// Record is one tabular row: column name -> raw string value.
type Record map[string]string

// FieldMapping maps logical field names (ticker, preco_atual_usd, ...) to
// the column names actually present in the submitted CSV.
type FieldMapping map[string]string

// ProcessRequest is one submission handed to the processing pipeline.
type ProcessRequest struct {
	RequestID  string       `json:"request_id"`
	Mapping    FieldMapping `json:"mapper"`
	WebhookURL string       `json:"webhook_url"`
	CSVContent string       `json:"csv_content"`
}

// Ack is the immediate accept response returned by every transport before
// the pipeline runs.
type Ack struct {
	Accepted  bool   `json:"accepted"`
	RequestID string `json:"requestId"`
	Checksum  string `json:"checksum,omitempty"`
	Message   string `json:"message"`
}

// StoredDocument is a persisted XML document plus its store metadata.
type StoredDocument struct {
	ID            int       `json:"id"`
	XMLContent    string    `json:"xml_documento"`
	CreatedAt     time.Time `json:"data_criacao"`
	MapperVersion string    `json:"mapper_version"`
	RequestID     string    `json:"request_id"`
	Status        string    `json:"status"`
}

// QueryResult is one path-query match. A document with N matches yields N
// results sharing the document's id, request id and creation time.
type QueryResult struct {
	DocumentID int       `json:"id"`
	Result     string    `json:"result"`
	RequestID  string    `json:"request_id"`
	CreatedAt  time.Time `json:"data_criacao"`
}

// QueryFilters narrows a path query by creation time and status.
// Bare dates (YYYY-MM-DD) are widened to the full day by the query service.
type QueryFilters struct {
	StartDate string
	EndDate   string
	Status    string
}

// AggregateResult carries an aggregation outcome. Degraded marks a value
// that is a fallback zero rather than a computed result, so callers can
// tell a swallowed failure from a legitimate zero.
type AggregateResult struct {
	Value    string `json:"result"`
	Func     string `json:"aggregate_func"`
	Degraded bool   `json:"degraded,omitempty"`
	Reason   string `json:"degraded_reason,omitempty"`
}

// TopAssetResult is one row of the top-by-market-cap ranking.
type TopAssetResult struct {
	Ticker    string  `json:"ticker"`
	Name      string  `json:"nome"`
	Type      string  `json:"tipo"`
	MarketCap float64 `json:"market_cap"`
}

// GroupStatResult is the aggregate summary for one asset type.
type GroupStatResult struct {
	Type         string  `json:"tipo"`
	TotalAssets  int     `json:"total_ativos"`
	AvgPrice     float64 `json:"avg_preco"`
	TotalVolume  float64 `json:"total_volume"`
	AvgChangePct float64 `json:"avg_variacao_pct"`
}

// MoverResult is one row of the gainer/loser ranking.
type MoverResult struct {
	Ticker       string  `json:"ticker"`
	Name         string  `json:"nome"`
	CurrentPrice float64 `json:"preco_atual"`
	ChangePct    float64 `json:"variacao_pct"`
}

// AssetDetail is one fully-expanded asset of the latest valid document.
type AssetDetail struct {
	Ticker       string `json:"ticker"`
	Type         string `json:"tipo"`
	CurrentPrice string `json:"preco_atual"`
	Volume       string `json:"volume"`
	ChangePct    string `json:"variacao_24h_pct"`
	ChangeUSD    string `json:"variacao_24h_usd"`
	Name         string `json:"nome"`
	Rank         string `json:"rank"`
	MarketCap    string `json:"market_cap"`
	Supply       string `json:"supply"`
	ObservedAt   string `json:"data_observacao"`
	RequestID    string `json:"request_id"`
	CreatedAt    string `json:"data_criacao"`
}

// Notification is the webhook payload sent once per processed submission.
// Field names are part of the wire contract with the Processor.
type Notification struct {
	RequestID  string `json:"ID_Requisicao"`
	Status     string `json:"Status"`
	DocumentID int    `json:"ID_Documento,omitempty"`
	Message    string `json:"Mensagem,omitempty"`
}

// InputError rejects a submission before any document is built.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid input: %s", e.Reason)
}

// ValidationError marks a built document that failed well-formedness or
// schema validation. The document is never persisted.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("document validation failed: %s", e.Detail)
}

// PersistenceError marks a store rejection, e.g. a duplicate request id.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// QueryError marks a failed read operation (unsupported path expression or
// store failure).
type QueryError struct {
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed: %v", e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }
