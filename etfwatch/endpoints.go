package etfwatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hazyhaar/etfwatch/etfwatch/internal/scheduler"
	"github.com/hazyhaar/etfwatch/etfwatch/internal/store"
	"github.com/hazyhaar/etfwatch/kit"
	"github.com/hazyhaar/etfwatch/observability"
)

var (
	// ErrNotFound is returned by lookups of a missing record.
	ErrNotFound = errors.New("etfwatch: not found")
	// ErrBadRequest wraps invalid endpoint arguments.
	ErrBadRequest = errors.New("etfwatch: bad request")
)

// Requests shared by the HTTP and MCP transports.
type (
	BestIdeasRequest struct {
		EtfID int64 `json:"etf_id,omitempty"`
		Days  int   `json:"days,omitempty"`
	}
	FundRequest struct {
		FundID int64 `json:"fund_id"`
		Days   int   `json:"days,omitempty"`
	}
	BatchesRequest struct {
		Process string `json:"process,omitempty"`
		Limit   int    `json:"limit,omitempty"`
	}
	BatchLogsRequest struct {
		BatchID string `json:"batch_id"`
	}
	ValidateRequest struct {
		Mapping json.RawMessage `json:"mapping"`
	}
	RunRequest struct {
		Process string `json:"process"`
	}
)

// ProviderView is a provider with its enabled ETF pages.
type ProviderView struct {
	*store.Provider
	Etfs []*store.ProviderEtf `json:"etfs"`
}

// FundView is a fund's latest composition and recent changes.
type FundView struct {
	Fund     *store.Fund               `json:"fund"`
	Holdings []store.FundHolding       `json:"holdings"`
	Changes  []store.FundHoldingChange `json:"changes"`
}

// RunAccepted acknowledges a background run.
type RunAccepted struct {
	Process scheduler.Process `json:"process"`
	Status  string            `json:"status"`
}

// endpoints are the transport-independent operations of the service.
type endpoints struct {
	providers kit.Endpoint
	funds     kit.Endpoint
	bestIdeas kit.Endpoint
	fund      kit.Endpoint
	batches   kit.Endpoint
	batchLogs kit.Endpoint
	validate  kit.Endpoint
	run       kit.Endpoint
}

func (s *Service) endpoints() endpoints {
	wrap := func(name string, e kit.Endpoint) kit.Endpoint {
		return kit.Chain(kit.Logging(s.logger, name))(e)
	}
	return endpoints{
		providers: wrap("providers", s.providersEndpoint),
		funds:     wrap("funds", s.fundsEndpoint),
		bestIdeas: wrap("best_ideas", s.bestIdeasEndpoint),
		fund:      wrap("fund", s.fundEndpoint),
		batches:   wrap("batches", s.batchesEndpoint),
		batchLogs: wrap("batch_logs", s.batchLogsEndpoint),
		validate:  wrap("validate", s.validateEndpoint),
		run:       wrap("run", s.runEndpoint),
	}
}

func (s *Service) providersEndpoint(ctx context.Context, _ any) (any, error) {
	providers, err := s.store.ListProviders(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ProviderView, 0, len(providers))
	for _, p := range providers {
		etfs, err := s.store.ProviderEtfs(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, ProviderView{Provider: p, Etfs: etfs})
	}
	return out, nil
}

func (s *Service) fundsEndpoint(ctx context.Context, _ any) (any, error) {
	funds, err := s.store.Funds(ctx)
	if err != nil {
		return nil, err
	}
	if funds == nil {
		funds = []*store.Fund{}
	}
	return funds, nil
}

func (s *Service) bestIdeasEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(BestIdeasRequest)
	days := r.Days
	if days <= 0 {
		days = s.cfg.Ranking.CandidateDays
	}
	ideas, err := s.store.LatestBestIdeas(ctx, s.today().AddDate(0, 0, -days), r.EtfID)
	if err != nil {
		return nil, err
	}
	if ideas == nil {
		ideas = []store.BestIdea{}
	}
	return ideas, nil
}

func (s *Service) fundEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(FundRequest)
	f, err := s.store.GetFund(ctx, r.FundID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("%w: fund %d", ErrNotFound, r.FundID)
	}
	days := r.Days
	if days <= 0 {
		days = 30
	}
	v := FundView{Fund: f, Holdings: []store.FundHolding{}, Changes: []store.FundHoldingChange{}}
	holdings, err := s.store.LatestFundHoldings(ctx, f.ID)
	if err != nil {
		return nil, err
	}
	changes, err := s.store.FundChanges(ctx, f.ID, s.today().AddDate(0, 0, -days))
	if err != nil {
		return nil, err
	}
	v.Holdings = append(v.Holdings, holdings...)
	v.Changes = append(v.Changes, changes...)
	return v, nil
}

func (s *Service) batchesEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(BatchesRequest)
	if r.Process != "" {
		p, err := scheduler.ParseProcess(r.Process)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		r.Process = string(p)
	}
	limit := r.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	runs, err := s.recorder.BatchRuns(ctx, r.Process, limit)
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []observability.BatchRun{}
	}
	return runs, nil
}

func (s *Service) batchLogsEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(BatchLogsRequest)
	if r.BatchID == "" {
		return nil, fmt.Errorf("%w: batch_id is required", ErrBadRequest)
	}
	logs, err := s.recorder.BatchLogs(ctx, r.BatchID)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []observability.BatchLog{}
	}
	return logs, nil
}

func (s *Service) validateEndpoint(_ context.Context, req any) (any, error) {
	r := req.(ValidateRequest)
	if len(r.Mapping) == 0 {
		return nil, fmt.Errorf("%w: mapping is required", ErrBadRequest)
	}
	return ValidateMapping(r.Mapping)
}

func (s *Service) runEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(RunRequest)
	p, err := scheduler.ParseProcess(r.Process)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if err := s.Start(kit.WithActivation(ctx, kit.ActivationManual), p); err != nil {
		return nil, err
	}
	return RunAccepted{Process: p, Status: "started"}, nil
}
