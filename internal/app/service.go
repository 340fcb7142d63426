// Package service provides the calculation service that implements the
// dependencies required by the HTTP API.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/calcstore/internal/adapters/repository"
	"github.com/okian/calcstore/internal/domain/calculation"
	"github.com/okian/calcstore/pkg/logger"
	"github.com/okian/calcstore/pkg/metrics"
	"go.mongodb.org/mongo-driver/mongo"
)

// Storage drivers.
const (
	DriverMongo  = "mongo"
	DriverMemory = "memory"
)

// Default service configuration constants.
const (
	defaultListLimit      = 10
	defaultMaxListLimit   = 100
	defaultConnectTimeout = 10 * time.Second
	defaultStorageTimeout = 5 * time.Second
	disconnectTimeout     = 5 * time.Second
)

// Service owns the storage connection and implements the calculation operations.
type Service struct {
	mu sync.RWMutex

	store  repository.Store
	client *mongo.Client
	// injected is true when the store was supplied with WithStore.
	injected bool

	// Configuration
	driver         string
	mongoURI       string
	database       string
	collection     string
	connectTimeout time.Duration
	storageTimeout time.Duration
	defaultLimit   int
	maxLimit       int

	// State
	started   bool
	startedAt time.Time

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore injects a ready store; Start then skips connecting.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
			s.injected = true
		}
	}
}

// WithStorageDriver selects "mongo" or "memory".
func WithStorageDriver(driver string) Option {
	return func(s *Service) {
		if driver != "" {
			s.driver = driver
		}
	}
}

// WithMongo sets the connection string, database override and collection.
func WithMongo(uri, database, collection string) Option {
	return func(s *Service) {
		s.mongoURI = uri
		s.database = database
		if collection != "" {
			s.collection = collection
		}
	}
}

// WithTimeouts sets the startup connect timeout and the per-call storage timeout.
func WithTimeouts(connect, storage time.Duration) Option {
	return func(s *Service) {
		if connect > 0 {
			s.connectTimeout = connect
		}
		if storage > 0 {
			s.storageTimeout = storage
		}
	}
}

// WithListLimits sets the default and maximum list sizes.
func WithListLimits(def, limit int) Option {
	return func(s *Service) {
		if def > 0 && limit >= def {
			s.defaultLimit = def
			s.maxLimit = limit
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		driver:         DriverMongo,
		collection:     repository.DefaultCollection,
		connectTimeout: defaultConnectTimeout,
		storageTimeout: defaultStorageTimeout,
		defaultLimit:   defaultListLimit,
		maxLimit:       defaultMaxListLimit,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start prepares the store. With the mongo driver it connects and pings the
// server, returning an error wrapping ErrStorageConnect on failure.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}

	if !s.injected {
		store, err := s.openStore(ctx)
		if err != nil {
			return err
		}
		s.store = store
	}

	s.started = true
	s.startedAt = time.Now()
	s.logger.Info(ctx, "calculation service started",
		logger.String("driver", s.driver),
		logger.Bool("injected_store", s.injected),
		logger.Int("default_list_limit", s.defaultLimit),
		logger.Int("max_list_limit", s.maxLimit),
	)
	return nil
}

func (s *Service) openStore(ctx context.Context) (repository.Store, error) {
	storeOpts := []repository.Option{
		repository.WithCollection(s.collection),
		repository.WithOperationTimeout(s.storageTimeout),
	}
	switch s.driver {
	case DriverMemory:
		s.logger.Warn(ctx, "using in-memory storage; records are lost on restart")
		return repository.NewMemoryStore(storeOpts...), nil
	case DriverMongo:
		client, db, err := repository.Connect(ctx, s.mongoURI, s.database, s.connectTimeout)
		if err != nil {
			metrics.UpdateStorageUp(false)
			return nil, fmt.Errorf("%w: %w", ErrStorageConnect, err)
		}
		metrics.UpdateStorageUp(true)
		s.client = client
		s.logger.Info(ctx, "mongodb connected",
			logger.String("database", db.Name()),
			logger.String("collection", s.collection),
		)
		return repository.NewMongoStore(db, storeOpts...), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, s.driver)
	}
}

// Stop disconnects from storage.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()

	if s.client != nil {
		if err := s.client.Disconnect(ctx); err != nil {
			s.logger.Error(ctx, "mongodb disconnect failed", logger.Error(err))
		}
		s.client = nil
	}
	s.started = false
	s.logger.Info(ctx, "calculation service stopped")
}

func (s *Service) storeOrErr() (repository.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.store, nil
}

// AddCalculation persists ops together with their sum.
func (s *Service) AddCalculation(ctx context.Context, ops calculation.Operands) (calculation.Calculation, error) {
	store, err := s.storeOrErr()
	if err != nil {
		return calculation.Calculation{}, err
	}
	c, err := store.Create(ctx, ops.Number1, ops.Number2, ops.Sum())
	if err != nil {
		return calculation.Calculation{}, err
	}
	metrics.RecordCalculationCreated()
	s.logger.Debug(ctx, "calculation saved", logger.String("id", c.ID), logger.Float64("sum", c.Sum))
	return c, nil
}

// ListCalculations returns the most recent calculations. A limit below 1
// selects the default; larger values are capped at the maximum.
func (s *Service) ListCalculations(ctx context.Context, limit int) ([]calculation.Calculation, error) {
	store, err := s.storeOrErr()
	if err != nil {
		return nil, err
	}
	list, err := store.ListRecent(ctx, s.EffectiveLimit(limit))
	if err != nil {
		return nil, err
	}
	metrics.RecordCalculationRead("list")
	return list, nil
}

// EffectiveLimit maps a requested list size to the one actually queried.
func (s *Service) EffectiveLimit(limit int) int {
	switch {
	case limit < 1:
		return s.defaultLimit
	case limit > s.maxLimit:
		return s.maxLimit
	default:
		return limit
	}
}

// GetCalculation returns the calculation with id or repository.ErrNotFound.
func (s *Service) GetCalculation(ctx context.Context, id string) (calculation.Calculation, error) {
	store, err := s.storeOrErr()
	if err != nil {
		return calculation.Calculation{}, err
	}
	c, err := store.GetByID(ctx, id)
	if err != nil {
		return calculation.Calculation{}, err
	}
	metrics.RecordCalculationRead("get")
	return c, nil
}

// DeleteCalculation removes and returns the calculation with id.
func (s *Service) DeleteCalculation(ctx context.Context, id string) (calculation.Calculation, error) {
	store, err := s.storeOrErr()
	if err != nil {
		return calculation.Calculation{}, err
	}
	c, err := store.DeleteByID(ctx, id)
	if err != nil {
		return calculation.Calculation{}, err
	}
	metrics.RecordCalculationDeleted()
	s.logger.Debug(ctx, "calculation deleted", logger.String("id", c.ID))
	return c, nil
}

// Ping checks storage reachability.
func (s *Service) Ping(ctx context.Context) error {
	store, err := s.storeOrErr()
	if err != nil {
		return err
	}
	return store.Ping(ctx)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	stats := map[string]any{
		"started":          s.started,
		"driver":           s.driver,
		"defaultListLimit": s.defaultLimit,
		"maxListLimit":     s.maxLimit,
	}
	started, startedAt, store := s.started, s.startedAt, s.store
	s.mu.RUnlock()

	if started {
		stats["uptimeSeconds"] = int64(time.Since(startedAt).Seconds())
		if n, err := store.Count(ctx); err == nil {
			stats["totalCalculations"] = n
			metrics.UpdateCalculationsTotal(n)
		} else {
			s.logger.Warn(ctx, "count calculations failed", logger.Error(err))
		}
	}
	return stats
}
