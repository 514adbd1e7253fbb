// Package pipeline runs the write path: parse, build, validate, persist,
// notify. Submissions are accepted synchronously and handed to a worker
// pool; each unit of work runs to completion and sends exactly one
// notification.
package pipeline

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/feedworks/crypto-reports/internal/database"
	"github.com/feedworks/crypto-reports/internal/document"
	"github.com/feedworks/crypto-reports/internal/models"
	"github.com/feedworks/crypto-reports/internal/notify"
	"github.com/feedworks/crypto-reports/internal/tabular"
	"github.com/feedworks/crypto-reports/pkg/checksum"
)

type Config struct {
	NumWorkers   int
	JobQueueSize int
}

// Submitter accepts submissions on behalf of the transport adapters.
type Submitter interface {
	Submit(req models.ProcessRequest) (models.Ack, error)
}

type Service struct {
	db        database.DBManager
	parser    *tabular.Parser
	builder   *document.Builder
	validator *document.Validator
	notifier  notify.Notifier
	log       *zap.Logger

	jobs chan models.ProcessRequest
	wg   sync.WaitGroup
}

func NewService(
	db database.DBManager,
	parser *tabular.Parser,
	builder *document.Builder,
	validator *document.Validator,
	notifier notify.Notifier,
	cfg Config,
	log *zap.Logger,
) *Service {
	return &Service{
		db:        db,
		parser:    parser,
		builder:   builder,
		validator: validator,
		notifier:  notifier,
		log:       log,
		jobs:      make(chan models.ProcessRequest, cfg.JobQueueSize),
	}
}

// Start launches the worker pool.
func (s *Service) Start(numWorkers int) {
	for i := 1; i <= numWorkers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

// Stop drains in-flight work. No new submissions may arrive after Stop.
func (s *Service) Stop() {
	close(s.jobs)
	s.wg.Wait()
}

// Submit validates the request envelope and enqueues the unit of work.
// The acknowledgment returns before the pipeline runs; everything after
// this point is reported through the webhook only.
func (s *Service) Submit(req models.ProcessRequest) (models.Ack, error) {
	if strings.TrimSpace(req.RequestID) == "" {
		return models.Ack{}, &models.InputError{Reason: "requestId is required"}
	}
	if len(req.Mapping) == 0 {
		return models.Ack{}, &models.InputError{Reason: "field mapping is empty"}
	}
	if strings.TrimSpace(req.WebhookURL) == "" {
		return models.Ack{}, &models.InputError{Reason: "webhookUrl is required"}
	}
	if strings.TrimSpace(req.CSVContent) == "" {
		return models.Ack{}, &models.InputError{Reason: "tabular content is empty"}
	}

	sum := checksum.Content(req.CSVContent)
	s.log.Info("submission accepted",
		zap.String("request_id", req.RequestID),
		zap.String("content_checksum", sum),
		zap.Int("content_bytes", len(req.CSVContent)),
		zap.Int("mapping_fields", len(req.Mapping)))

	s.jobs <- req

	return models.Ack{
		Accepted:  true,
		RequestID: req.RequestID,
		Checksum:  sum,
		Message:   "Request accepted for processing",
	}, nil
}

func (s *Service) worker(id int) {
	defer s.wg.Done()
	log := s.log.With(zap.Int("worker", id))
	for req := range s.jobs {
		log.Info("processing submission", zap.String("request_id", req.RequestID))
		s.process(req)
	}
	log.Info("pipeline worker finished")
}

// process runs one unit of work to completion and sends exactly one
// notification, whatever the outcome.
func (s *Service) process(req models.ProcessRequest) {
	records, err := s.parser.Parse(req.CSVContent)
	if err != nil {
		s.log.Warn("tabular parse failed",
			zap.String("request_id", req.RequestID), zap.Error(err))
		s.notifier.Notify(req.WebhookURL, models.Notification{
			RequestID: req.RequestID,
			Status:    models.StatusValidationError,
			Message:   err.Error(),
		})
		return
	}

	xmlContent, err := s.builder.Build(records, req.Mapping, req.RequestID)
	if err != nil {
		s.log.Warn("document build failed",
			zap.String("request_id", req.RequestID), zap.Error(err))
		s.notifier.Notify(req.WebhookURL, models.Notification{
			RequestID: req.RequestID,
			Status:    models.StatusValidationError,
			Message:   err.Error(),
		})
		return
	}

	if ok, err := s.validator.Validate(xmlContent); !ok {
		s.log.Warn("document validation failed",
			zap.String("request_id", req.RequestID), zap.Error(err))
		s.notifier.Notify(req.WebhookURL, models.Notification{
			RequestID: req.RequestID,
			Status:    models.StatusValidationError,
			Message:   err.Error(),
		})
		return
	}

	documentID, err := s.db.InsertDocument(
		xmlContent, document.MapperVersion(req.Mapping), req.RequestID, models.StatusOK)
	if err != nil {
		s.log.Error("document persistence failed",
			zap.String("request_id", req.RequestID), zap.Error(err))
		s.notifier.Notify(req.WebhookURL, models.Notification{
			RequestID: req.RequestID,
			Status:    models.StatusPersistenceError,
			Message:   err.Error(),
		})
		return
	}

	s.notifier.Notify(req.WebhookURL, models.Notification{
		RequestID:  req.RequestID,
		Status:     models.StatusOK,
		DocumentID: documentID,
	})
}
