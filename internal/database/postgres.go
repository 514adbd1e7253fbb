// Package database is the document store adapter: persisted XML report
// documents in PostgreSQL, with the xpath() primitive doing structural
// extraction inside SQL.
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/feedworks/crypto-reports/internal/models"
)

const uniqueViolationCode = "23505"

// ErrDuplicateRequestID reports an insert rejected by the request_id
// uniqueness constraint.
var ErrDuplicateRequestID = errors.New("duplicate request id")

// DBManager is the store contract the pipeline and the query engine rely
// on.
type DBManager interface {
	InitSchema() error
	InsertDocument(xmlContent, mapperVersion, requestID, status string) (int, error)
	GetDocumentByID(id int) (*models.StoredDocument, error)
	GetLatestOK() (*models.StoredDocument, error)
	QueryXPath(expr string, filters models.QueryFilters) ([]models.QueryResult, error)
	AggregateXPath(expr, aggregateFunc string) (string, error)
}

func ConnectDB(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return pool, nil
}

type PostgresDBManager struct {
	pool *pgxpool.Pool
	ctx  context.Context
	log  *zap.Logger
}

func NewPostgresDBManager(ctx context.Context, pool *pgxpool.Pool, log *zap.Logger) *PostgresDBManager {
	return &PostgresDBManager{pool: pool, ctx: ctx, log: log}
}

func (m *PostgresDBManager) InitSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS xml_documents (
		id SERIAL PRIMARY KEY,
		xml_documento XML NOT NULL,
		data_criacao TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		mapper_version VARCHAR(50),
		request_id VARCHAR(255) UNIQUE,
		status VARCHAR(50)
	);

	CREATE INDEX IF NOT EXISTS idx_request_id ON xml_documents(request_id);
	CREATE INDEX IF NOT EXISTS idx_data_criacao ON xml_documents(data_criacao);`

	if _, err := m.pool.Exec(m.ctx, query); err != nil {
		return fmt.Errorf("error initializing xml_documents schema: %w", err)
	}
	return nil
}

// InsertDocument persists one document in a single statement; the store's
// per-statement transaction is the only write serialization the service
// needs.
func (m *PostgresDBManager) InsertDocument(xmlContent, mapperVersion, requestID, status string) (int, error) {
	query := `
	INSERT INTO xml_documents (xml_documento, mapper_version, request_id, status)
	VALUES ($1, $2, $3, $4)
	RETURNING id;`

	var documentID int
	err := m.pool.QueryRow(m.ctx, query, xmlContent, mapperVersion, requestID, status).Scan(&documentID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateRequestID, requestID)
		}
		return 0, fmt.Errorf("error inserting xml document: %w", err)
	}

	m.log.Info("document inserted",
		zap.Int("document_id", documentID),
		zap.String("request_id", requestID),
		zap.String("status", status))
	return documentID, nil
}

func (m *PostgresDBManager) GetDocumentByID(id int) (*models.StoredDocument, error) {
	query := `
	SELECT id, xml_documento::text, data_criacao, mapper_version, request_id, status
	FROM xml_documents
	WHERE id = $1;`

	return m.scanDocument(m.pool.QueryRow(m.ctx, query, id))
}

// GetLatestOK returns the status=OK document with the greatest creation
// time, or nil when none exists.
func (m *PostgresDBManager) GetLatestOK() (*models.StoredDocument, error) {
	query := `
	SELECT id, xml_documento::text, data_criacao, mapper_version, request_id, status
	FROM xml_documents
	WHERE status = $1
	ORDER BY data_criacao DESC
	LIMIT 1;`

	return m.scanDocument(m.pool.QueryRow(m.ctx, query, models.StatusOK))
}

func (m *PostgresDBManager) scanDocument(row pgx.Row) (*models.StoredDocument, error) {
	var doc models.StoredDocument
	err := row.Scan(&doc.ID, &doc.XMLContent, &doc.CreatedAt, &doc.MapperVersion, &doc.RequestID, &doc.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("error reading xml document: %w", err)
	}
	return &doc, nil
}

// QueryXPath evaluates expr against every stored document matching the
// filters. unnest expands every match of a document into its own row, so
// multiple hits are never collapsed.
func (m *PostgresDBManager) QueryXPath(expr string, filters models.QueryFilters) ([]models.QueryResult, error) {
	var sb strings.Builder
	sb.WriteString(`
	SELECT doc.id, unnest(xpath($1, doc.xml_documento))::text AS result, doc.data_criacao, doc.request_id
	FROM xml_documents doc
	WHERE 1=1`)

	args := []any{expr}
	if filters.StartDate != "" {
		args = append(args, filters.StartDate)
		fmt.Fprintf(&sb, " AND doc.data_criacao >= $%d::timestamp", len(args))
	}
	if filters.EndDate != "" {
		args = append(args, filters.EndDate)
		fmt.Fprintf(&sb, " AND doc.data_criacao <= $%d::timestamp", len(args))
	}
	if filters.Status != "" {
		args = append(args, filters.Status)
		fmt.Fprintf(&sb, " AND doc.status = $%d", len(args))
	}
	sb.WriteString(" ORDER BY doc.data_criacao DESC;")

	rows, err := m.pool.Query(m.ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("error executing xpath query: %w", err)
	}
	defer rows.Close()

	var results []models.QueryResult
	for rows.Next() {
		var r models.QueryResult
		if err := rows.Scan(&r.DocumentID, &r.Result, &r.CreatedAt, &r.RequestID); err != nil {
			return nil, fmt.Errorf("error scanning xpath result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating xpath results: %w", err)
	}
	return results, nil
}

// AggregateXPath applies aggregateFunc to every numeric match of expr in
// the single latest OK document. The function name is interpolated into
// the statement and must come from the caller-side whitelist.
func (m *PostgresDBManager) AggregateXPath(expr, aggregateFunc string) (string, error) {
	query := fmt.Sprintf(`
	WITH latest_xml AS (
		SELECT xml_documento
		FROM xml_documents
		WHERE status = $2
		ORDER BY data_criacao DESC
		LIMIT 1
	)
	SELECT %s((unnest(xpath($1, xml_documento))::text)::numeric)::text AS result
	FROM latest_xml;`, aggregateFunc)

	var result *string
	err := m.pool.QueryRow(m.ctx, query, expr, models.StatusOK).Scan(&result)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "0", nil
		}
		return "", fmt.Errorf("error executing aggregate xpath query: %w", err)
	}
	if result == nil {
		return "0", nil
	}
	return *result, nil
}
