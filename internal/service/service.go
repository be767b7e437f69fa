// Package service implements the assistant's turn orchestration, thread
// management and trace queries.
package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/xiaot623/gogo/assistant/internal/adapter/llm"
	"github.com/xiaot623/gogo/assistant/internal/config"
	"github.com/xiaot623/gogo/assistant/internal/domain"
	"github.com/xiaot623/gogo/assistant/internal/memory"
	"github.com/xiaot623/gogo/assistant/internal/observability"
	"github.com/xiaot623/gogo/assistant/internal/policy"
	"github.com/xiaot623/gogo/assistant/internal/repository"
	"github.com/xiaot623/gogo/assistant/internal/tools"
	"github.com/xiaot623/gogo/assistant/internal/tracing"
)

// CredentialResolver finds the tool credential of a user.
type CredentialResolver interface {
	Resolve(ctx context.Context, userID string) (*domain.Credential, error)
}

// ToolPolicy decides whether a tool call may run.
type ToolPolicy interface {
	Evaluate(ctx context.Context, input policy.Input) (policy.Decision, error)
}

type Service struct {
	store       repository.Store
	generator   llm.Generator
	tools       *tools.Registry
	policy      ToolPolicy
	credentials CredentialResolver
	memory      *memory.Store
	recorder    *tracing.Recorder
	metrics     *observability.Metrics
	config      *config.Config
	logger      zerolog.Logger
	now         func() time.Time
}

// New creates the service. policyEngine, credentials and metrics may be nil.
func New(store repository.Store, generator llm.Generator, registry *tools.Registry, policyEngine ToolPolicy, credentials CredentialResolver, recorder *tracing.Recorder, metrics *observability.Metrics, cfg *config.Config) *Service {
	return &Service{
		store:       store,
		generator:   generator,
		tools:       registry,
		policy:      policyEngine,
		credentials: credentials,
		memory:      memory.NewStore(store),
		recorder:    recorder,
		metrics:     metrics,
		config:      cfg,
		logger:      observability.Component("service"),
		now:         time.Now,
	}
}
