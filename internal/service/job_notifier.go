package service

import (
	"context"
	"fmt"
	"log/slog"

	"go-pcg-core/internal/event"
	"go-pcg-core/internal/model"
	"go-pcg-core/internal/notify"
	"go-pcg-core/internal/repository"
)

// JobNotifier tells job owners when their report jobs reach a terminal state.
type JobNotifier struct {
	bus        event.Bus
	notifier   notify.Notifier
	identities repository.IdentityStore
	logger     *slog.Logger
}

func NewJobNotifier(bus event.Bus, notifier notify.Notifier, identities repository.IdentityStore, logger *slog.Logger) *JobNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobNotifier{bus: bus, notifier: notifier, identities: identities, logger: logger}
}

// Run consumes job events until ctx is cancelled.
func (n *JobNotifier) Run(ctx context.Context) {
	events, unsubscribe := n.bus.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			n.handle(ctx, e)
		}
	}
}

func (n *JobNotifier) handle(ctx context.Context, e event.Event) {
	if !e.Type.Terminal() {
		return
	}
	job, ok := e.Payload.(model.Job)
	if !ok || job.Kind == model.JobKindNotification {
		return
	}

	owner, err := n.identities.FindByID(ctx, job.OwnerID)
	if err != nil {
		n.logger.Warn("resolve job owner", "job_id", job.ID, "error", err)
		return
	}

	body := fmt.Sprintf("Your %s job %s finished with state %s.", job.Kind, job.ID, job.State)
	if job.Error != nil {
		body += " Reason: " + *job.Error
	}

	err = n.notifier.Notify(ctx, notify.Message{
		Kind:      notify.KindJobFinished,
		Recipient: owner.Email,
		Subject:   fmt.Sprintf("Job %s", job.State),
		Body:      body,
		Data:      map[string]string{"job_id": job.ID, "state": string(job.State)},
	})
	if err != nil {
		n.logger.Warn("notify job owner", "job_id", job.ID, "error", err)
	}
}
