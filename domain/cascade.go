package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/sogeor/flow/domain"

// CascadeKind names the root type of a cascade.
type CascadeKind string

const (
	CascadeBoard   CascadeKind = "board"
	CascadeAccount CascadeKind = "account"
)

// CascadeIntent is written before the first child is deleted and completed
// after the root is gone, so an interrupted cascade can be replayed.
type CascadeIntent struct {
	Kind      CascadeKind `json:"kind"`
	RootID    string      `json:"rootId"`
	StartedAt time.Time   `json:"startedAt"`
}

// IntentLog records cascades in flight.
type IntentLog interface {
	// Begin records the intent and returns a receipt for Complete.
	Begin(ctx context.Context, intent CascadeIntent) (string, error)
	Complete(ctx context.Context, receipt string) error
}

// NopIntentLog keeps no record; cascades are then purely best effort.
type NopIntentLog struct{}

func (NopIntentLog) Begin(context.Context, CascadeIntent) (string, error) { return "", nil }
func (NopIntentLog) Complete(context.Context, string) error               { return nil }

// Orchestrator deletes a root entity together with everything that depends
// on it. Children go before parents; there is no transaction spanning the
// steps, so a crash between steps is recovered by replaying the intent.
type Orchestrator struct {
	accounts  AccountStore
	boards    BoardStore
	workflows WorkflowStore
	intents   IntentLog
	tracer    trace.Tracer
	log       *log.Logger
}

// OrchestratorOption customises an Orchestrator.
type OrchestratorOption func(*Orchestrator)

func WithIntentLog(l IntentLog) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.intents = l
		}
	}
}

func WithTracerProvider(tp trace.TracerProvider) OrchestratorOption {
	return func(o *Orchestrator) {
		if tp != nil {
			o.tracer = tp.Tracer(tracerName)
		}
	}
}

func WithLogger(l *log.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

func NewOrchestrator(st Store, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		accounts:  st,
		boards:    st,
		workflows: st,
		intents:   NopIntentLog{},
		tracer:    otel.Tracer(tracerName),
		log:       log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// DeleteWorkflow removes one workflow and, with it, its cards.
func (o *Orchestrator) DeleteWorkflow(ctx context.Context, id string) error {
	ctx, span := o.tracer.Start(ctx, "cascade.delete_workflow", trace.WithAttributes(attribute.String("cascade.root", id)))
	defer span.End()
	_, err := o.workflows.DeleteWorkflow(ctx, id)
	return endSpan(span, err)
}

// DeleteBoard removes the board's workflows, then the board. A missing board
// fails with NotFound before anything is deleted.
func (o *Orchestrator) DeleteBoard(ctx context.Context, id string) error {
	ctx, span := o.tracer.Start(ctx, "cascade.delete_board", trace.WithAttributes(attribute.String("cascade.root", id)))
	defer span.End()

	if _, err := o.boards.GetBoard(ctx, id); err != nil {
		return endSpan(span, err)
	}
	return endSpan(span, o.run(ctx, CascadeIntent{Kind: CascadeBoard, RootID: id, StartedAt: time.Now().UTC()}))
}

// DeleteAccount removes the workflows of every board the account owns, then
// those boards, then the account. A missing account fails with NotFound
// before anything is deleted.
func (o *Orchestrator) DeleteAccount(ctx context.Context, id string) error {
	ctx, span := o.tracer.Start(ctx, "cascade.delete_account", trace.WithAttributes(attribute.String("cascade.root", id)))
	defer span.End()

	if _, err := o.accounts.GetAccount(ctx, id); err != nil {
		return endSpan(span, err)
	}
	return endSpan(span, o.run(ctx, CascadeIntent{Kind: CascadeAccount, RootID: id, StartedAt: time.Now().UTC()}))
}

// Replay re-runs a recorded cascade. Every step tolerates work already done,
// and a root that is already gone means the cascade had finished.
func (o *Orchestrator) Replay(ctx context.Context, intent CascadeIntent) error {
	ctx, span := o.tracer.Start(ctx, "cascade.replay", trace.WithAttributes(
		attribute.String("cascade.kind", string(intent.Kind)),
		attribute.String("cascade.root", intent.RootID),
	))
	defer span.End()

	_, err := o.steps(ctx, intent)
	if errors.Is(err, ErrNotFound) {
		err = nil
	}
	return endSpan(span, err)
}

func (o *Orchestrator) run(ctx context.Context, intent CascadeIntent) error {
	fields := log.Fields{"cascade": intent.Kind, "root": intent.RootID}
	receipt, err := o.intents.Begin(ctx, intent)
	if err != nil {
		o.log.WithFields(fields).WithError(err).Warn("cascade intent not recorded")
	}

	counts, err := o.steps(ctx, intent)
	if err != nil && !errors.Is(err, ErrNotFound) {
		o.log.WithFields(fields).WithError(err).Error("cascade interrupted")
		return err
	}
	if cerr := o.intents.Complete(ctx, receipt); cerr != nil {
		o.log.WithFields(fields).WithError(cerr).Warn("cascade intent not completed")
	}
	if err != nil {
		return err
	}
	fields["boards"] = counts.boards
	fields["workflows"] = counts.workflows
	o.log.WithFields(fields).Info("cascade completed")
	return nil
}

type cascadeCounts struct {
	boards    int
	workflows int
}

func (o *Orchestrator) steps(ctx context.Context, intent CascadeIntent) (cascadeCounts, error) {
	var counts cascadeCounts
	switch intent.Kind {
	case CascadeBoard:
		err := o.step(ctx, "delete_workflows", func(ctx context.Context) error {
			n, err := o.workflows.DeleteWorkflowsByBoards(ctx, []string{intent.RootID})
			counts.workflows = n
			return err
		})
		if err != nil {
			return counts, err
		}
		return counts, o.step(ctx, "delete_board", func(ctx context.Context) error {
			_, err := o.boards.DeleteBoard(ctx, intent.RootID)
			return err
		})
	case CascadeAccount:
		var boardIDs []string
		err := o.step(ctx, "collect_boards", func(ctx context.Context) error {
			var err error
			boardIDs, err = o.boards.BoardIDs(ctx, intent.RootID)
			return err
		})
		if err != nil {
			return counts, err
		}
		if len(boardIDs) > 0 {
			err = o.step(ctx, "delete_workflows", func(ctx context.Context) error {
				n, err := o.workflows.DeleteWorkflowsByBoards(ctx, boardIDs)
				counts.workflows = n
				return err
			})
			if err != nil {
				return counts, err
			}
		}
		err = o.step(ctx, "delete_boards", func(ctx context.Context) error {
			ids, err := o.boards.DeleteBoardsByOwner(ctx, intent.RootID)
			counts.boards = len(ids)
			return err
		})
		if err != nil {
			return counts, err
		}
		return counts, o.step(ctx, "delete_account", func(ctx context.Context) error {
			_, err := o.accounts.DeleteAccount(ctx, intent.RootID)
			return err
		})
	default:
		return counts, fmt.Errorf("unknown cascade kind %q", intent.Kind)
	}
}

func (o *Orchestrator) step(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "cascade.step", trace.WithAttributes(attribute.String("cascade.step", name)))
	defer span.End()
	if err := fn(ctx); err != nil {
		return endSpan(span, fmt.Errorf("%s: %w", name, err))
	}
	return nil
}

func endSpan(span trace.Span, err error) error {
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
