package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/actorauth"
	"github.com/MrEthical07/actorauth/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Source is what the exporter reads on every collection. *actorauth.Engine
// satisfies it.
type Source interface {
	MetricsSnapshot() actorauth.MetricsSnapshot
	AuditDropped() uint64
	AuditFailed() uint64
}

type counterBinding struct {
	id  actorauth.MetricID
	obs metric.Int64ObservableCounter
}

// histogramBinding reports cumulative bucket counts on one gauge, one data
// point per "le" bound, plus a separate sample count.
type histogramBinding struct {
	id      actorauth.MetricID
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// Exporter owns the callback registration. Close it to stop reporting.
type Exporter struct {
	source     Source
	counters   []counterBinding
	histograms []histogramBinding
	dropped    metric.Int64ObservableCounter
	failed     metric.Int64ObservableCounter
	leSets     []metric.MeasurementOption
	reg        metric.Registration
}

// New registers instruments for engine on meter.
func New(meter metric.Meter, engine *actorauth.Engine) (*Exporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return NewFromSource(meter, engine)
}

// NewFromSource registers instruments reading from src.
func NewFromSource(meter metric.Meter, src Source) (*Exporter, error) {
	switch {
	case meter == nil:
		return nil, ErrNilMeter
	case src == nil:
		return nil, ErrNilSource
	}

	exp := &Exporter{source: src}
	var all []metric.Observable

	for _, def := range internaldefs.CounterDefs {
		obs, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("otel: counter %s: %w", def.Name, err)
		}
		exp.counters = append(exp.counters, counterBinding{id: def.ID, obs: obs})
		all = append(all, obs)
	}

	for _, def := range internaldefs.HistogramDefs {
		buckets, err := meter.Int64ObservableGauge(def.Name+"_bucket",
			metric.WithDescription(def.Help+" Cumulative count per upper bound."))
		if err != nil {
			return nil, fmt.Errorf("otel: histogram %s: %w", def.Name, err)
		}
		count, err := meter.Int64ObservableGauge(def.Name+"_count",
			metric.WithDescription(def.Help+" Total samples."))
		if err != nil {
			return nil, fmt.Errorf("otel: histogram %s: %w", def.Name, err)
		}
		exp.histograms = append(exp.histograms, histogramBinding{id: def.ID, buckets: buckets, count: count})
		all = append(all, buckets, count)
	}

	var err error
	exp.dropped, err = meter.Int64ObservableCounter("actorauth_audit_dropped_total",
		metric.WithDescription("Audit entries dropped because the dispatcher buffer was full."))
	if err != nil {
		return nil, fmt.Errorf("otel: audit dropped: %w", err)
	}
	exp.failed, err = meter.Int64ObservableCounter("actorauth_audit_failed_total",
		metric.WithDescription("Audit entries the sink rejected."))
	if err != nil {
		return nil, fmt.Errorf("otel: audit failed: %w", err)
	}
	all = append(all, exp.dropped, exp.failed)

	exp.leSets = make([]metric.MeasurementOption, len(internaldefs.HistogramUpperBounds)+1)
	for i := range exp.leSets {
		exp.leSets[i] = metric.WithAttributeSet(attribute.NewSet(attribute.String("le", boundLabel(i))))
	}

	exp.reg, err = meter.RegisterCallback(exp.observe, all...)
	if err != nil {
		return nil, fmt.Errorf("otel: register callback: %w", err)
	}
	return exp, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		o.ObserveInt64(c.obs, int64(snap.Counters[c.id]))
	}
	for _, h := range e.histograms {
		raw, ok := snap.Histograms[h.id]
		if !ok {
			continue
		}
		cum := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		for i, v := range cum {
			o.ObserveInt64(h.buckets, int64(v), e.leSets[i])
		}
		o.ObserveInt64(h.count, int64(cum[len(cum)-1]))
	}
	o.ObserveInt64(e.dropped, int64(e.source.AuditDropped()))
	o.ObserveInt64(e.failed, int64(e.source.AuditFailed()))
	return nil
}

// Close unregisters the callback. It is safe on a nil Exporter.
func (e *Exporter) Close() error {
	if e == nil || e.reg == nil {
		return nil
	}
	return e.reg.Unregister()
}

func boundLabel(i int) string {
	if i >= len(internaldefs.HistogramUpperBounds) {
		return "+Inf"
	}
	return fmt.Sprintf("%g", internaldefs.HistogramUpperBounds[i])
}
