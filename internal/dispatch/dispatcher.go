// Package dispatch serializes every inbound event, disconnect and read query
// through one goroutine that owns all coordinator state.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"chat-coordinator/internal/models"
	"chat-coordinator/internal/presence"
	"chat-coordinator/internal/repositories"
)

var ErrStopped = errors.New("dispatcher stopped")

// Router fans outbound events out to connections.
type Router interface {
	Emit(connID, event string, args ...any)
	EmitRoom(room, except, event string, args ...any)
	EmitAll(event string, args ...any)
	Reply(connID string, ack int64, args ...any)
	Join(connID, room string)
	Leave(connID, room string)
	Evict(room string) []string
}

// Auditor records notable state changes off the dispatcher loop.
type Auditor interface {
	Emit(ctx context.Context, level, text, connID, username string)
}

type job func(ctx context.Context)

// Dispatcher is the single writer of identities, rooms and messages.
type Dispatcher struct {
	log        *slog.Logger
	router     Router
	audit      Auditor
	presence   *presence.Coordinator
	identities *repositories.IdentityRegistry
	directory  *repositories.RoomDirectory
	ledger     *repositories.MessageLedger
	validate   *validator.Validate
	tracer     trace.Tracer
	now        func() time.Time

	jobs chan job
	done chan struct{}
}

// New wires a dispatcher over fresh registries.
func New(log *slog.Logger, router Router, audit Auditor, queueSize int) *Dispatcher {
	ledger := repositories.NewMessageLedger()
	identities := repositories.NewIdentityRegistry()
	directory := repositories.NewRoomDirectory(ledger)
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Dispatcher{
		log:        log,
		router:     router,
		audit:      audit,
		presence:   presence.NewCoordinator(identities, directory),
		identities: identities,
		directory:  directory,
		ledger:     ledger,
		validate:   validator.New(),
		tracer:     otel.Tracer("chat-coordinator/dispatch"),
		now:        time.Now,
		jobs:       make(chan job, queueSize),
		done:       make(chan struct{}),
	}
}

// Run drains the job queue until ctx is cancelled. Jobs still queued at that
// point are discarded.
func (d *Dispatcher) Run(ctx context.Context) {
	d.log.Info("dispatcher started", "queue_size", cap(d.jobs))
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			d.log.Info("dispatcher stopped", "pending", len(d.jobs))
			return
		case j := <-d.jobs:
			j(ctx)
		}
	}
}

// Done is closed once Run has returned.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Deliver queues an inbound frame from connID.
func (d *Dispatcher) Deliver(connID string, frame models.Frame) {
	d.submit(func(ctx context.Context) {
		d.handle(ctx, connID, frame)
	})
}

// Disconnect queues the departure of connID.
func (d *Dispatcher) Disconnect(connID string) {
	d.submit(func(ctx context.Context) {
		d.disconnect(ctx, connID)
	})
}

// Query runs fn on the dispatcher loop and waits for it, so fn observes
// state between two jobs.
func (d *Dispatcher) Query(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	j := func(context.Context) {
		defer close(finished)
		fn()
	}
	select {
	case d.jobs <- j:
	case <-d.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-d.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListRooms returns the directory in creation order.
func (d *Dispatcher) ListRooms(ctx context.Context) ([]models.RoomSummary, error) {
	var rooms []models.RoomSummary
	err := d.Query(ctx, func() {
		rooms = d.directory.ListRooms()
	})
	return rooms, err
}

// RoomMembers returns the members of room. The bool is false for unknown rooms.
func (d *Dispatcher) RoomMembers(ctx context.Context, room string) ([]string, bool, error) {
	var (
		members []string
		found   bool
	)
	err := d.Query(ctx, func() {
		members, found = d.directory.CurrentMembers(room)
	})
	return members, found, err
}

func (d *Dispatcher) submit(j job) {
	select {
	case d.jobs <- j:
	case <-d.done:
	}
}
