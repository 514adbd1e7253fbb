package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/feedworks/crypto-reports/internal/models"
)

type MockSubmitter struct {
	mock.Mock
}

func (m *MockSubmitter) Submit(req models.ProcessRequest) (models.Ack, error) {
	args := m.Called(req)
	return args.Get(0).(models.Ack), args.Error(1)
}

type MockQueryEngine struct {
	mock.Mock
}

func (m *MockQueryEngine) Query(expr string, filters models.QueryFilters) ([]models.QueryResult, error) {
	args := m.Called(expr, filters)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.QueryResult), args.Error(1)
}

func (m *MockQueryEngine) Aggregate(expr, aggregateFunc string) models.AggregateResult {
	args := m.Called(expr, aggregateFunc)
	return args.Get(0).(models.AggregateResult)
}

type MockViews struct {
	mock.Mock
}

func (m *MockViews) TopByMarketCap(limit int, typeFilter string) ([]models.TopAssetResult, error) {
	args := m.Called(limit, typeFilter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.TopAssetResult), args.Error(1)
}

func (m *MockViews) GroupedStats() ([]models.GroupStatResult, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.GroupStatResult), args.Error(1)
}

func (m *MockViews) Movers(limit int, direction string) ([]models.MoverResult, error) {
	args := m.Called(limit, direction)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.MoverResult), args.Error(1)
}

func (m *MockViews) ListAssets() ([]models.AssetDetail, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.AssetDetail), args.Error(1)
}

type MockDBManager struct {
	mock.Mock
}

func (m *MockDBManager) InitSchema() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockDBManager) InsertDocument(xmlContent, mapperVersion, requestID, status string) (int, error) {
	args := m.Called(xmlContent, mapperVersion, requestID, status)
	return args.Int(0), args.Error(1)
}

func (m *MockDBManager) GetDocumentByID(id int) (*models.StoredDocument, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StoredDocument), args.Error(1)
}

func (m *MockDBManager) GetLatestOK() (*models.StoredDocument, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StoredDocument), args.Error(1)
}

func (m *MockDBManager) QueryXPath(expr string, filters models.QueryFilters) ([]models.QueryResult, error) {
	args := m.Called(expr, filters)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.QueryResult), args.Error(1)
}

func (m *MockDBManager) AggregateXPath(expr, aggregateFunc string) (string, error) {
	args := m.Called(expr, aggregateFunc)
	return args.String(0), args.Error(1)
}

type serviceMocks struct {
	submitter *MockSubmitter
	engine    *MockQueryEngine
	views     *MockViews
	db        *MockDBManager
}

func newTestService() (*ReportService, serviceMocks) {
	mocks := serviceMocks{
		submitter: new(MockSubmitter),
		engine:    new(MockQueryEngine),
		views:     new(MockViews),
		db:        new(MockDBManager),
	}
	svc := NewReportService(mocks.submitter, mocks.engine, mocks.views, mocks.db, zap.NewNop())
	return svc, mocks
}

func multipartUpload(t *testing.T, fields map[string]string, csvContent string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for name, value := range fields {
		require.NoError(t, writer.WriteField(name, value))
	}
	if csvContent != "" {
		part, err := writer.CreateFormFile("file", "quotes.csv")
		require.NoError(t, err)
		_, err = io.WriteString(part, csvContent)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest("POST", "/api/upload", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestReportService_Upload(t *testing.T) {
	t.Run("should accept a valid submission with 202", func(t *testing.T) {
		svc, mocks := newTestService()

		mocks.submitter.On("Submit", models.ProcessRequest{
			RequestID:  "req-001",
			Mapping:    models.FieldMapping{"ticker": "symbol"},
			WebhookURL: "http://processor/webhook",
			CSVContent: "symbol\nBTC\n",
		}).Return(models.Ack{Accepted: true, RequestID: "req-001", Checksum: "abc"}, nil).Once()

		req := multipartUpload(t, map[string]string{
			"requestId":  "req-001",
			"mapper":     `{"ticker":"symbol"}`,
			"webhookUrl": "http://processor/webhook",
		}, "symbol\nBTC\n")
		rr := httptest.NewRecorder()

		svc.Upload(rr, req)

		assert.Equal(t, http.StatusAccepted, rr.Code)
		var ack models.Ack
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&ack))
		assert.True(t, ack.Accepted)
		assert.Equal(t, "req-001", ack.RequestID)
		mocks.submitter.AssertExpectations(t)
	})

	t.Run("should reject an invalid envelope with 400", func(t *testing.T) {
		svc, mocks := newTestService()

		mocks.submitter.On("Submit", mock.Anything).
			Return(models.Ack{}, &models.InputError{Reason: "requestId is required"}).Once()

		req := multipartUpload(t, map[string]string{
			"mapper":     `{"ticker":"symbol"}`,
			"webhookUrl": "http://processor/webhook",
		}, "symbol\nBTC\n")
		rr := httptest.NewRecorder()

		svc.Upload(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("should reject a malformed mapper with 400", func(t *testing.T) {
		svc, mocks := newTestService()

		req := multipartUpload(t, map[string]string{
			"requestId":  "req-001",
			"mapper":     "{not-json",
			"webhookUrl": "http://processor/webhook",
		}, "symbol\nBTC\n")
		rr := httptest.NewRecorder()

		svc.Upload(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		mocks.submitter.AssertNotCalled(t, "Submit", mock.Anything)
	})

	t.Run("should reject non-POST methods", func(t *testing.T) {
		svc, _ := newTestService()

		req := httptest.NewRequest("GET", "/api/upload", nil)
		rr := httptest.NewRecorder()

		svc.Upload(rr, req)

		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	})
}

func TestReportService_GetDocument(t *testing.T) {
	t.Run("should return a stored document", func(t *testing.T) {
		svc, mocks := newTestService()

		stored := &models.StoredDocument{
			ID:         42,
			XMLContent: "<ComplianceReport/>",
			CreatedAt:  time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
			RequestID:  "req-001",
			Status:     models.StatusOK,
		}
		mocks.db.On("GetDocumentByID", 42).Return(stored, nil).Once()

		req := httptest.NewRequest("GET", "/api/documents/42", nil)
		rr := httptest.NewRecorder()

		svc.GetDocument(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		var got models.StoredDocument
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
		assert.Equal(t, *stored, got)
		mocks.db.AssertExpectations(t)
	})

	t.Run("should return 404 for an unknown id", func(t *testing.T) {
		svc, mocks := newTestService()

		mocks.db.On("GetDocumentByID", 99).Return(nil, nil).Once()

		req := httptest.NewRequest("GET", "/api/documents/99", nil)
		rr := httptest.NewRecorder()

		svc.GetDocument(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("should return 400 for a non-numeric id", func(t *testing.T) {
		svc, _ := newTestService()

		req := httptest.NewRequest("GET", "/api/documents/abc", nil)
		rr := httptest.NewRecorder()

		svc.GetDocument(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestReportService_LatestXML(t *testing.T) {
	t.Run("should serve the latest document as xml", func(t *testing.T) {
		svc, mocks := newTestService()

		mocks.db.On("GetLatestOK").Return(&models.StoredDocument{
			ID:         7,
			XMLContent: "<ComplianceReport/>",
			Status:     models.StatusOK,
		}, nil).Once()

		req := httptest.NewRequest("GET", "/api/latest/xml", nil)
		rr := httptest.NewRecorder()

		svc.LatestXML(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "application/xml", rr.Header().Get("Content-Type"))
		assert.Equal(t, "<ComplianceReport/>", rr.Body.String())
	})

	t.Run("should return 404 when the store is empty", func(t *testing.T) {
		svc, mocks := newTestService()

		mocks.db.On("GetLatestOK").Return(nil, nil).Once()

		req := httptest.NewRequest("GET", "/api/latest/xml", nil)
		rr := httptest.NewRecorder()

		svc.LatestXML(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestReportService_PathQuery(t *testing.T) {
	t.Run("should pass filters through and return matches", func(t *testing.T) {
		svc, mocks := newTestService()

		expected := []models.QueryResult{{DocumentID: 1, Result: "BTC", RequestID: "r1"}}
		mocks.engine.On("Query", "//Asset/@Ticker", models.QueryFilters{
			StartDate: "2025-06-01",
			EndDate:   "2025-06-30",
			Status:    "OK",
		}).Return(expected, nil).Once()

		req := httptest.NewRequest("GET",
			"/api/xpath/query?expr=//Asset/@Ticker&data_inicio=2025-06-01&data_fim=2025-06-30&status=OK", nil)
		rr := httptest.NewRecorder()

		svc.PathQuery(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		var got []models.QueryResult
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
		assert.Equal(t, expected, got)
	})

	t.Run("should return 400 on a query error", func(t *testing.T) {
		svc, mocks := newTestService()

		mocks.engine.On("Query", mock.Anything, mock.Anything).
			Return(nil, &models.QueryError{Err: errors.New("path expression is empty")}).Once()

		req := httptest.NewRequest("GET", "/api/xpath/query", nil)
		rr := httptest.NewRecorder()

		svc.PathQuery(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestReportService_Aggregate(t *testing.T) {
	t.Run("should return the aggregate result even when degraded", func(t *testing.T) {
		svc, mocks := newTestService()

		mocks.engine.On("Aggregate", "//Asset/History/MarketCap", "sum").
			Return(models.AggregateResult{Value: "0", Func: "sum", Degraded: true, Reason: "cast failed"}).Once()

		req := httptest.NewRequest("GET", "/api/xpath/aggregate?expr=//Asset/History/MarketCap&func=sum", nil)
		rr := httptest.NewRecorder()

		svc.Aggregate(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		var got models.AggregateResult
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
		assert.Equal(t, "0", got.Value)
		assert.True(t, got.Degraded)
	})

	t.Run("should require the expr parameter", func(t *testing.T) {
		svc, _ := newTestService()

		req := httptest.NewRequest("GET", "/api/xpath/aggregate", nil)
		rr := httptest.NewRecorder()

		svc.Aggregate(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestReportService_Analytics(t *testing.T) {
	t.Run("should rank by market cap with limit and type filter", func(t *testing.T) {
		svc, mocks := newTestService()

		expected := []models.TopAssetResult{{Ticker: "BTC", MarketCap: 900}}
		mocks.views.On("TopByMarketCap", 2, "Cryptocurrency").Return(expected, nil).Once()

		req := httptest.NewRequest("GET", "/api/query/top-marketcap?limit=2&tipo=Cryptocurrency", nil)
		rr := httptest.NewRecorder()

		svc.TopMarketCap(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		mocks.views.AssertExpectations(t)
	})

	t.Run("should default the limit to 10", func(t *testing.T) {
		svc, mocks := newTestService()

		mocks.views.On("TopByMarketCap", 10, "").Return([]models.TopAssetResult{}, nil).Once()

		req := httptest.NewRequest("GET", "/api/query/top-marketcap", nil)
		rr := httptest.NewRecorder()

		svc.TopMarketCap(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		mocks.views.AssertExpectations(t)
	})

	t.Run("should return grouped stats", func(t *testing.T) {
		svc, mocks := newTestService()

		mocks.views.On("GroupedStats").Return([]models.GroupStatResult{
			{Type: "Cryptocurrency", TotalAssets: 3},
		}, nil).Once()

		req := httptest.NewRequest("GET", "/api/query/stats-by-tipo", nil)
		rr := httptest.NewRecorder()

		svc.StatsByType(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("should pass the direction to movers", func(t *testing.T) {
		svc, mocks := newTestService()

		mocks.views.On("Movers", 5, "down").Return([]models.MoverResult{}, nil).Once()

		req := httptest.NewRequest("GET", "/api/query/movers?limit=5&direction=down", nil)
		rr := httptest.NewRecorder()

		svc.Movers(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		mocks.views.AssertExpectations(t)
	})

	t.Run("should return 500 when a view fails", func(t *testing.T) {
		svc, mocks := newTestService()

		mocks.views.On("GroupedStats").Return(nil, errors.New("db error")).Once()

		req := httptest.NewRequest("GET", "/api/query/stats-by-tipo", nil)
		rr := httptest.NewRecorder()

		svc.StatsByType(rr, req)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})

	t.Run("should list latest assets as an empty array when none exist", func(t *testing.T) {
		svc, mocks := newTestService()

		mocks.views.On("ListAssets").Return(nil, nil).Once()

		req := httptest.NewRequest("GET", "/api/latest/ativos", nil)
		rr := httptest.NewRecorder()

		svc.LatestAssets(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, "[]", rr.Body.String())
	})
}
