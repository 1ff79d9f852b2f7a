package core

import (
	"context"
	"time"

	"daoforge/internal/catalog"
	"daoforge/internal/infra/persistence/memory"
	"daoforge/pkg/domain"
)

// TemplateAddress is the identity the service acts as while it assembles an
// organization. A finalized organization grants it nothing.
var TemplateAddress = domain.PrincipalAddress("daoforge.template")

// Operation names used for tracing, metrics, audit and receipts.
const (
	OpPrepareInstance  = "prepare_instance"
	OpFinalizeInstance = "finalize_instance"
	OpCreateInstance   = "create_instance"
	OpNewToken         = "new_token"
	OpNewInstance      = "new_instance"
	OpRegisterAsset    = "register_asset"
	OpRegisterAccount  = "register_account"
)

type operationMeta struct {
	entity EntityType
	action Action
}

var operationMetadata = map[string]operationMeta{
	OpPrepareInstance:  {EntityOrganization, ActionCreate},
	OpFinalizeInstance: {EntityOrganization, ActionUpdate},
	OpCreateInstance:   {EntityOrganization, ActionCreate},
	OpNewToken:         {EntityToken, ActionCreate},
	OpNewInstance:      {EntityOrganization, ActionCreate},
	OpRegisterAsset:    {EntityAsset, ActionUpdate},
	OpRegisterAccount:  {EntityAccount, ActionUpdate},
}

const (
	// DefaultFinancePeriod applies when a finalize request leaves the period zero.
	DefaultFinancePeriod = 30 * 24 * time.Hour
	// MinFinancePeriod is the shortest accounting period finance accepts.
	MinFinancePeriod = 24 * time.Hour
)

// Service is the two-phase organization template. Every public mutation is a
// single ledger transaction: it commits entirely or leaves no trace.
type Service struct {
	store         PersistentStore
	clock         Clock
	logger        Logger
	audit         AuditRecorder
	metrics       MetricsRecorder
	tracer        Tracer
	catalog       *catalog.Catalog
	installer     ComponentInstaller
	registrar     NameRegistrar
	prober        AssetProber
	cache         *InstanceCache
	archive       *ReceiptArchive
	councilToken  TokenSpec
	financePeriod time.Duration
}

// ServiceOption customises a Service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	clock         Clock
	logger        Logger
	audit         AuditRecorder
	metrics       MetricsRecorder
	tracer        Tracer
	catalog       *catalog.Catalog
	installer     ComponentInstaller
	registrar     NameRegistrar
	prober        AssetProber
	cacheTTL      time.Duration
	archive       *ReceiptArchive
	councilToken  TokenSpec
	financePeriod time.Duration
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		clock:         systemClock{},
		logger:        noopLogger{},
		audit:         noopAuditRecorder{},
		metrics:       noopMetricsRecorder{},
		tracer:        noopTracer{},
		catalog:       catalog.Default(),
		registrar:     NewFIFSRegistrar(DefaultNameDomain),
		prober:        LedgerAssetProber{},
		councilToken:  TokenSpec{Name: "Council Token", Symbol: "CT", Decimals: 0, Transferable: false},
		financePeriod: DefaultFinancePeriod,
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the clock used for durations and audit timestamps.
func WithClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithAuditRecorder sets the audit sink.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.audit = recorder
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer sets the span factory.
func WithTracer(tracer Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithCatalog replaces the embedded app catalog.
func WithCatalog(c *catalog.Catalog) ServiceOption {
	return func(o *serviceOptions) {
		if c != nil {
			o.catalog = c
		}
	}
}

// WithInstaller replaces the ledger installer.
func WithInstaller(installer ComponentInstaller) ServiceOption {
	return func(o *serviceOptions) {
		if installer != nil {
			o.installer = installer
		}
	}
}

// WithNameRegistrar replaces the first-come registrar.
func WithNameRegistrar(registrar NameRegistrar) ServiceOption {
	return func(o *serviceOptions) {
		if registrar != nil {
			o.registrar = registrar
		}
	}
}

// WithAssetProber replaces the ledger asset prober.
func WithAssetProber(prober AssetProber) ServiceOption {
	return func(o *serviceOptions) {
		if prober != nil {
			o.prober = prober
		}
	}
}

// WithCacheTTL expires prepared instances that are not finalized within ttl.
// Zero keeps them until overwritten or consumed.
func WithCacheTTL(ttl time.Duration) ServiceOption {
	return func(o *serviceOptions) {
		if ttl >= 0 {
			o.cacheTTL = ttl
		}
	}
}

// WithReceiptArchive stores a copy of every committed receipt.
func WithReceiptArchive(archive *ReceiptArchive) ServiceOption {
	return func(o *serviceOptions) {
		o.archive = archive
	}
}

// WithCouncilToken sets the name and symbol of minted council tokens.
func WithCouncilToken(name, symbol string) ServiceOption {
	return func(o *serviceOptions) {
		if name != "" {
			o.councilToken.Name = name
		}
		if symbol != "" {
			o.councilToken.Symbol = symbol
		}
	}
}

// WithDefaultFinancePeriod changes the period used when a request leaves it zero.
func WithDefaultFinancePeriod(period time.Duration) ServiceOption {
	return func(o *serviceOptions) {
		if period > 0 {
			o.financePeriod = period
		}
	}
}

// NewService constructs a service backed by store.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	options := defaultServiceOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.installer == nil {
		options.installer = NewLedgerInstaller(options.catalog)
	}
	return &Service{
		store:         store,
		clock:         options.clock,
		logger:        options.logger,
		audit:         options.audit,
		metrics:       options.metrics,
		tracer:        options.tracer,
		catalog:       options.catalog,
		installer:     options.installer,
		registrar:     options.registrar,
		prober:        options.prober,
		cache:         NewInstanceCache(options.cacheTTL),
		archive:       options.archive,
		councilToken:  options.councilToken,
		financePeriod: options.financePeriod,
	}
}

// NewInMemoryService creates a service over a fresh in-memory ledger. A nil
// engine selects NewDefaultRulesEngine.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying ledger.
func (s *Service) Store() PersistentStore {
	return s.store
}

// Catalog returns the app catalog used to derive app IDs.
func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog
}

type principalKey struct{}

func withPrincipal(ctx context.Context, principal Address) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

func principalFrom(ctx context.Context) (Address, bool) {
	p, ok := ctx.Value(principalKey{}).(Address)
	return p, ok && !p.IsZero()
}

// run executes fn as one ledger transaction and reports it to every
// observability sink. fn returns the identifier of the entity it produced.
func (s *Service) run(ctx context.Context, op string, principal Address, fn func(tx Transaction) (string, error)) (Result, error) {
	ctx = withPrincipal(ctx, principal)
	ctx, span := s.tracer.Start(ctx, op)
	started := s.clock.Now()
	var entityID string
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		id, err := fn(tx)
		entityID = id
		return err
	})
	duration := s.clock.Now().Sub(started)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	for _, v := range res.Violations {
		if v.Severity == SeverityWarn {
			s.logger.Warn("rule warning", "operation", op, "rule", v.Rule, "entity", v.EntityID, "message", v.Message)
		}
	}
	if err != nil {
		s.logger.Error("operation failed", "operation", op, "principal", principal.Hex(), "error", err)
		s.recordAudit(ctx, op, principal, "", duration, err)
		return res, err
	}
	s.logger.Info("operation committed", "operation", op, "principal", principal.Hex(), "entity", entityID, "duration", duration)
	s.recordAudit(ctx, op, principal, entityID, duration, nil)
	return res, nil
}

func (s *Service) recordAudit(ctx context.Context, op string, principal Address, entityID string, duration time.Duration, err error) {
	meta, ok := operationMetadata[op]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: op,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Principal: principal,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}

// publish archives a committed receipt. Archive failures are logged only:
// the ledger has already committed.
func (s *Service) publish(ctx context.Context, receipt Receipt) {
	if s.archive == nil || len(receipt.Events) == 0 {
		return
	}
	info, err := s.archive.Store(ctx, receipt)
	if err != nil {
		s.logger.Warn("receipt archive failed", "operation", receipt.Operation, "org", receipt.Org().Hex(), "error", err)
		return
	}
	s.logger.Debug("receipt archived", "operation", receipt.Operation, "key", info.Key)
}
