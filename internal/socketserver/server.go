// Package socketserver is the raw TCP front. Each connection carries one
// operation: a 4-byte big-endian length, a JSON header naming the
// operation and its parameters, and (for submissions only) the tabular
// payload until EOF. The response is framed the same way.
package socketserver

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"go.uber.org/zap"

	"github.com/feedworks/crypto-reports/internal/analytics"
	"github.com/feedworks/crypto-reports/internal/database"
	"github.com/feedworks/crypto-reports/internal/models"
	"github.com/feedworks/crypto-reports/internal/pipeline"
	"github.com/feedworks/crypto-reports/internal/query"
)

const maxHeaderBytes = 1 << 20

// Operations addressable through the header's "op" field. An empty op
// means submit, which keeps old submission-only clients working.
const (
	OpSubmit       = "submit"
	OpGetDocument  = "get_document"
	OpGetLatest    = "get_latest"
	OpPathQuery    = "xpath"
	OpAggregate    = "aggregate"
	OpTopMarketCap = "top_marketcap"
	OpGroupedStats = "grouped_stats"
	OpMovers       = "movers"
)

type frameHeader struct {
	Op         string              `json:"op"`
	RequestID  string              `json:"requestId"`
	Mapper     models.FieldMapping `json:"mapper"`
	WebhookURL string              `json:"webhookUrl"`
	DocumentID int                 `json:"documentId"`
	Expr       string              `json:"expr"`
	Func       string              `json:"func"`
	StartDate  string              `json:"data_inicio"`
	EndDate    string              `json:"data_fim"`
	Status     string              `json:"status"`
	Limit      int                 `json:"limit"`
	TypeFilter string              `json:"tipo"`
	Direction  string              `json:"direction"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Server struct {
	pipeline  pipeline.Submitter
	query     query.Engine
	analytics analytics.Views
	db        database.DBManager
	log       *zap.Logger
}

func NewServer(
	submitter pipeline.Submitter,
	engine query.Engine,
	views analytics.Views,
	dbManager database.DBManager,
	log *zap.Logger,
) *Server {
	return &Server{
		pipeline:  submitter,
		query:     engine,
		analytics: views,
		db:        dbManager,
		log:       log,
	}
}

// Serve accepts connections until the listener closes or the context is
// canceled. Each connection is handled on its own goroutine.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	header, payload, err := readFrame(conn)
	if err != nil {
		s.log.Warn("unreadable socket frame",
			zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
		writeFrame(conn, errorResponse{Error: err.Error()})
		return
	}

	op := header.Op
	if op == "" {
		op = OpSubmit
	}
	s.log.Info("socket operation",
		zap.String("op", op), zap.String("remote", conn.RemoteAddr().String()))

	writeFrame(conn, s.dispatch(op, header, payload))
}

func (s *Server) dispatch(op string, header frameHeader, payload string) any {
	switch op {
	case OpSubmit:
		ack, err := s.pipeline.Submit(models.ProcessRequest{
			RequestID:  header.RequestID,
			Mapping:    header.Mapper,
			WebhookURL: header.WebhookURL,
			CSVContent: payload,
		})
		if err != nil {
			return errorResponse{Error: err.Error()}
		}
		return ack

	case OpGetDocument:
		doc, err := s.db.GetDocumentByID(header.DocumentID)
		if err != nil {
			return errorResponse{Error: "failed to retrieve document"}
		}
		if doc == nil {
			return errorResponse{Error: "document not found"}
		}
		return doc

	case OpGetLatest:
		doc, err := s.db.GetLatestOK()
		if err != nil {
			return errorResponse{Error: "failed to retrieve latest document"}
		}
		if doc == nil {
			return errorResponse{Error: "no valid document available"}
		}
		return doc

	case OpPathQuery:
		results, err := s.query.Query(header.Expr, models.QueryFilters{
			StartDate: header.StartDate,
			EndDate:   header.EndDate,
			Status:    header.Status,
		})
		if err != nil {
			return errorResponse{Error: err.Error()}
		}
		return results

	case OpAggregate:
		if strings.TrimSpace(header.Expr) == "" {
			return errorResponse{Error: "expr is required"}
		}
		return s.query.Aggregate(header.Expr, header.Func)

	case OpTopMarketCap:
		results, err := s.analytics.TopByMarketCap(limitOrDefault(header.Limit), header.TypeFilter)
		if err != nil {
			return errorResponse{Error: "failed to rank assets"}
		}
		return results

	case OpGroupedStats:
		results, err := s.analytics.GroupedStats()
		if err != nil {
			return errorResponse{Error: "failed to compute grouped stats"}
		}
		return results

	case OpMovers:
		results, err := s.analytics.Movers(limitOrDefault(header.Limit), header.Direction)
		if err != nil {
			return errorResponse{Error: "failed to rank movers"}
		}
		return results
	}
	return errorResponse{Error: fmt.Sprintf("unknown operation %q", op)}
}

// readFrame reads the length-prefixed JSON header and, for submissions,
// the payload that follows it until EOF.
func readFrame(conn net.Conn) (frameHeader, string, error) {
	var lengthBytes [4]byte
	if _, err := io.ReadFull(conn, lengthBytes[:]); err != nil {
		return frameHeader{}, "", fmt.Errorf("failed to read header length: %w", err)
	}
	headerLen := binary.BigEndian.Uint32(lengthBytes[:])
	if headerLen == 0 || headerLen > maxHeaderBytes {
		return frameHeader{}, "", fmt.Errorf("invalid header length %d", headerLen)
	}

	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(conn, headerBytes); err != nil {
		return frameHeader{}, "", fmt.Errorf("failed to read header: %w", err)
	}

	var header frameHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return frameHeader{}, "", fmt.Errorf("malformed header: %w", err)
	}

	if header.Op != "" && header.Op != OpSubmit {
		return header, "", nil
	}

	payload, err := io.ReadAll(conn)
	if err != nil && !errors.Is(err, io.EOF) {
		return frameHeader{}, "", fmt.Errorf("failed to read payload: %w", err)
	}
	return header, string(payload), nil
}

func writeFrame(conn net.Conn, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	var lengthBytes [4]byte
	binary.BigEndian.PutUint32(lengthBytes[:], uint32(len(body)))
	if _, err := conn.Write(lengthBytes[:]); err != nil {
		return
	}
	conn.Write(body)
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 10
	}
	return limit
}
