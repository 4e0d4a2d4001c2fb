package core

import (
	"context"
	"log/slog"
)

// RecordSender delivers the records handed over by the host and reports one Outcome per record.
// Send blocks until every record reached a terminal outcome.
type RecordSender interface {
	Send(ctx context.Context, records []Record) Report
}

// NewRecordSender returns a *BatchRecordSender when cfg.Mode is batch, a *SingleRecordSender otherwise
func NewRecordSender(cfg Config, sender *HTTPSender, converter ValueConverter) RecordSender {
	p := pipeline{cfg: cfg, sender: sender, converter: converter}
	if cfg.Mode == ModeBatch {
		return &BatchRecordSender{pipeline: p}
	}
	p.cfg.Mode = ModeSingle
	return &SingleRecordSender{pipeline: p}
}

// SingleRecordSender sends one request per record
type SingleRecordSender struct {
	pipeline
}

func (s *SingleRecordSender) Send(ctx context.Context, records []Record) Report {
	return s.send(ctx, records, true)
}

// BatchRecordSender sends contiguous records bound for the same destination as one request, up
// to MaxBatchSize records or MaxBatchBytes bytes
type BatchRecordSender struct {
	pipeline
}

func (s *BatchRecordSender) Send(ctx context.Context, records []Record) Report {
	return s.send(ctx, records, false)
}

type pipeline struct {
	cfg       Config
	sender    *HTTPSender
	converter ValueConverter
}

func (p pipeline) send(ctx context.Context, records []Record, single bool) Report {
	report := Report{Outcomes: make([]Outcome, len(records))}
	if len(records) == 0 {
		return report
	}
	units := planner{cfg: p.cfg, defaultURL: p.sender.URL, converter: p.converter}.plan(records, &report)
	d := dispatcher{
		parallelism: p.cfg.Parallelism,
		failFast:    p.cfg.FailFast,
		format:      p.cfg.Format,
		single:      single,
		send:        p.sender.SendRecords,
	}
	d.run(ctx, units, &report)

	for _, status := range []OutcomeStatus{OutcomeDelivered, OutcomeFailed, OutcomeNotDelivered} {
		p.sender.metrics.outcome(status, report.Count(status))
	}
	p.sender.logger.Info("records sent",
		slog.String("mode", string(p.cfg.Mode)),
		slog.Int("records", len(records)),
		slog.Int("requests", len(units)),
		slog.Int("delivered", report.Count(OutcomeDelivered)),
		slog.Int("failed", report.Count(OutcomeFailed)),
		slog.Int("not_delivered", report.Count(OutcomeNotDelivered)))
	return report
}
