// Package rpcserver is the gRPC front. The service is described by hand
// with a JSON codec on the wire, so the request and response messages are
// plain structs rather than generated types.
package rpcserver

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"go.uber.org/zap"

	"github.com/feedworks/crypto-reports/internal/analytics"
	"github.com/feedworks/crypto-reports/internal/database"
	"github.com/feedworks/crypto-reports/internal/models"
	"github.com/feedworks/crypto-reports/internal/pipeline"
	"github.com/feedworks/crypto-reports/internal/query"
)

const ServiceName = "cryptoreports.ReportService"

// CodecName identifies the JSON codec registered for this service.
const CodecName = "json"

type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (JSONCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(JSONCodec{})
}

type SubmitRequest struct {
	RequestID  string              `json:"requestId"`
	Mapper     models.FieldMapping `json:"mapper"`
	WebhookURL string              `json:"webhookUrl"`
	CSVContent string              `json:"csv_content"`
}

type DocumentRequest struct {
	ID int `json:"id"`
}

type XPathRequest struct {
	Expr string `json:"expr"`
}

type FilterRequest struct {
	Expr      string `json:"expr"`
	StartDate string `json:"data_inicio"`
	EndDate   string `json:"data_fim"`
	Status    string `json:"status"`
}

type AggregateRequest struct {
	Expr string `json:"expr"`
	Func string `json:"func"`
}

type TopRequest struct {
	Limit      int    `json:"limit"`
	TypeFilter string `json:"tipo"`
}

type MoversRequest struct {
	Limit     int    `json:"limit"`
	Direction string `json:"direction"`
}

type Empty struct{}

type QueryResponse struct {
	Results []models.QueryResult `json:"results"`
}

type TopResponse struct {
	Results []models.TopAssetResult `json:"results"`
}

type StatsResponse struct {
	Results []models.GroupStatResult `json:"results"`
}

type MoversResponse struct {
	Results []models.MoverResult `json:"results"`
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

// NewGRPCServer builds a grpc.Server speaking the JSON codec with the
// report service registered.
func NewGRPCServer(s *Server) *grpc.Server {
	grpcServer := grpc.NewServer(grpc.ForceServerCodec(JSONCodec{}))
	grpcServer.RegisterService(&serviceDesc, s)
	return grpcServer
}

func (s *Server) SubmitDocument(ctx context.Context, req *SubmitRequest) (*models.Ack, error) {
	ack, err := s.pipeline.Submit(models.ProcessRequest{
		RequestID:  req.RequestID,
		Mapping:    req.Mapper,
		WebhookURL: req.WebhookURL,
		CSVContent: req.CSVContent,
	})
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return &ack, nil
}

func (s *Server) GetDocument(ctx context.Context, req *DocumentRequest) (*models.StoredDocument, error) {
	doc, err := s.db.GetDocumentByID(req.ID)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to retrieve document")
	}
	if doc == nil {
		return nil, status.Errorf(codes.NotFound, "document %d not found", req.ID)
	}
	return doc, nil
}

func (s *Server) GetLatestDocument(ctx context.Context, _ *Empty) (*models.StoredDocument, error) {
	doc, err := s.db.GetLatestOK()
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to retrieve latest document")
	}
	if doc == nil {
		return nil, status.Error(codes.NotFound, "no valid document available")
	}
	return doc, nil
}

// ExecuteXPath evaluates a path expression with default filters.
func (s *Server) ExecuteXPath(ctx context.Context, req *XPathRequest) (*QueryResponse, error) {
	results, err := s.query.Query(req.Expr, models.QueryFilters{})
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return &QueryResponse{Results: results}, nil
}

// ExecuteFilter is ExecuteXPath with explicit time and status filters.
func (s *Server) ExecuteFilter(ctx context.Context, req *FilterRequest) (*QueryResponse, error) {
	results, err := s.query.Query(req.Expr, models.QueryFilters{
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Status:    req.Status,
	})
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return &QueryResponse{Results: results}, nil
}

func (s *Server) ExecuteAggregate(ctx context.Context, req *AggregateRequest) (*models.AggregateResult, error) {
	result := s.query.Aggregate(req.Expr, req.Func)
	return &result, nil
}

func (s *Server) TopByMarketCap(ctx context.Context, req *TopRequest) (*TopResponse, error) {
	results, err := s.analytics.TopByMarketCap(limitOrDefault(req.Limit), req.TypeFilter)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to rank assets")
	}
	return &TopResponse{Results: results}, nil
}

func (s *Server) GroupedStats(ctx context.Context, _ *Empty) (*StatsResponse, error) {
	results, err := s.analytics.GroupedStats()
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to compute grouped stats")
	}
	return &StatsResponse{Results: results}, nil
}

func (s *Server) Movers(ctx context.Context, req *MoversRequest) (*MoversResponse, error) {
	results, err := s.analytics.Movers(limitOrDefault(req.Limit), req.Direction)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to rank movers")
	}
	return &MoversResponse{Results: results}, nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 10
	}
	return limit
}

func unaryHandler[Req any](
	method string,
	invoke func(s *Server, ctx context.Context, req *Req) (any, error),
) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "malformed request: %v", err)
		}
		if interceptor == nil {
			return invoke(srv.(*Server), ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, req, info, func(ctx context.Context, r any) (any, error) {
			return invoke(srv.(*Server), ctx, r.(*Req))
		})
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SubmitDocument",
			Handler: unaryHandler("SubmitDocument", func(s *Server, ctx context.Context, req *SubmitRequest) (any, error) {
				return s.SubmitDocument(ctx, req)
			}),
		},
		{
			MethodName: "GetDocument",
			Handler: unaryHandler("GetDocument", func(s *Server, ctx context.Context, req *DocumentRequest) (any, error) {
				return s.GetDocument(ctx, req)
			}),
		},
		{
			MethodName: "GetLatestDocument",
			Handler: unaryHandler("GetLatestDocument", func(s *Server, ctx context.Context, req *Empty) (any, error) {
				return s.GetLatestDocument(ctx, req)
			}),
		},
		{
			MethodName: "ExecuteXPath",
			Handler: unaryHandler("ExecuteXPath", func(s *Server, ctx context.Context, req *XPathRequest) (any, error) {
				return s.ExecuteXPath(ctx, req)
			}),
		},
		{
			MethodName: "ExecuteFilter",
			Handler: unaryHandler("ExecuteFilter", func(s *Server, ctx context.Context, req *FilterRequest) (any, error) {
				return s.ExecuteFilter(ctx, req)
			}),
		},
		{
			MethodName: "ExecuteAggregate",
			Handler: unaryHandler("ExecuteAggregate", func(s *Server, ctx context.Context, req *AggregateRequest) (any, error) {
				return s.ExecuteAggregate(ctx, req)
			}),
		},
		{
			MethodName: "TopByMarketCap",
			Handler: unaryHandler("TopByMarketCap", func(s *Server, ctx context.Context, req *TopRequest) (any, error) {
				return s.TopByMarketCap(ctx, req)
			}),
		},
		{
			MethodName: "GroupedStats",
			Handler: unaryHandler("GroupedStats", func(s *Server, ctx context.Context, req *Empty) (any, error) {
				return s.GroupedStats(ctx, req)
			}),
		},
		{
			MethodName: "Movers",
			Handler: unaryHandler("Movers", func(s *Server, ctx context.Context, req *MoversRequest) (any, error) {
				return s.Movers(ctx, req)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cryptoreports",
}
