package service

import (
	"context"
	"errors"

	"restock-monitor/internal/assert"
	"restock-monitor/internal/components/chrono"
	"restock-monitor/internal/components/telemetry"
	"restock-monitor/internal/registry"
	"restock-monitor/internal/scheduler"
)

// Errors returned by the command surface, callers map them to their own
// presentation (http status codes, chat replies).
var (
	ErrNotFound        = registry.ErrNotFound
	ErrInvalidArgument = errors.New("invalid argument")
	ErrAlreadyExists   = errors.New("already exists")
)

const (
	report_service_add_product   = "service.add-product"
	report_service_remove        = "service.remove-product"
	report_service_subscribe     = "service.subscribe"
	report_service_prune         = "service.prune-orphaned"
	report_service_reset_status  = "service.reset-statuses"
	report_service_check_product = "service.check-product"
)

// Checker runs products through the monitoring pipeline on demand.
type Checker interface {
	Check(ctx context.Context, product registry.Product, notify bool) (scheduler.Result, error)
	RunCycle(ctx context.Context) scheduler.CycleReport
}

// Service is the command surface used by the chat layer and operators. Admin
// only commands are marked as such, the authorization check is made by the caller.
type Service struct {
	registry registry.Registry
	checker  Checker
	clock    chrono.TimeAPI
	tel      telemetry.API
}

type serviceConfig struct {
	clock chrono.TimeAPI
	tel   telemetry.API
}

type Option func(cfg *serviceConfig)

func WithTimeAPI(clock chrono.TimeAPI) Option {
	return func(cfg *serviceConfig) {
		cfg.clock = clock
	}
}

func WithTelemetryAPI(tel telemetry.API) Option {
	return func(cfg *serviceConfig) {
		cfg.tel = tel
	}
}

func New(reg registry.Registry, checker Checker, options ...Option) Service {
	assert.NotNil(checker, "checker")

	cfg := serviceConfig{}
	for _, opt := range options {
		opt(&cfg)
	}

	s := Service{
		registry: reg,
		checker:  checker,
		clock:    chrono.NewStandardTime(),
		tel:      telemetry.SlogAPI{},
	}
	if cfg.clock != nil {
		s.clock = cfg.clock
	}
	if cfg.tel != nil {
		s.tel = cfg.tel
	}
	s.tel = telemetry.NewScopedAPI("service", s.tel)

	return s
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
