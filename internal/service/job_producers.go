package service

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"go-pcg-core/internal/model"
	"go-pcg-core/internal/notify"
	"go-pcg-core/internal/repository"
	"go-pcg-core/internal/storage"
	"go-pcg-core/internal/util"
	"go-pcg-core/pkg/apierror"
)

// ReportProducer renders a job's parameters into a JSON report artifact.
type ReportProducer struct {
	artifacts *storage.ArtifactStore
	now       func() time.Time
}

func NewReportProducer(artifacts *storage.ArtifactStore) *ReportProducer {
	return &ReportProducer{artifacts: artifacts, now: time.Now}
}

type reportDocument struct {
	JobID       string         `json:"job_id"`
	OwnerID     string         `json:"owner_id"`
	Title       string         `json:"title,omitempty"`
	Parameters  map[string]any `json:"parameters"`
	GeneratedAt time.Time      `json:"generated_at"`
}

func (p *ReportProducer) Produce(ctx context.Context, job model.Job) (string, error) {
	title, _ := job.Params["title"].(string)

	doc := reportDocument{
		JobID:       job.ID,
		OwnerID:     job.OwnerID,
		Title:       strings.TrimSpace(title),
		Parameters:  job.Params,
		GeneratedAt: p.now().UTC(),
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := job.ID
	if label := util.ArtifactLabel(title); label != "" {
		name += "-" + label
	}
	location := path.Join("reports", job.OwnerID, name+".json")

	if err := p.artifacts.Write(location, data); err != nil {
		return "", fmt.Errorf("store report: %w", err)
	}
	return location, nil
}

// NotificationProducer sends the job's message to its owner.
type NotificationProducer struct {
	notifier   notify.Notifier
	identities repository.IdentityStore
}

func NewNotificationProducer(notifier notify.Notifier, identities repository.IdentityStore) *NotificationProducer {
	return &NotificationProducer{notifier: notifier, identities: identities}
}

func (p *NotificationProducer) Produce(ctx context.Context, job model.Job) (string, error) {
	body, _ := job.Params["message"].(string)
	if strings.TrimSpace(body) == "" {
		return "", apierror.BadRequest("notification message is required", "params.message")
	}

	subject, _ := job.Params["subject"].(string)
	if strings.TrimSpace(subject) == "" {
		subject = "Notification"
	}

	owner, err := p.identities.FindByID(ctx, job.OwnerID)
	if err != nil {
		return "", fmt.Errorf("load notification recipient: %w", err)
	}

	err = p.notifier.Notify(ctx, notify.Message{
		Kind:      notify.KindJobMessage,
		Recipient: owner.Email,
		Subject:   subject,
		Body:      body,
		Data:      map[string]string{"job_id": job.ID},
	})
	if err != nil {
		return "", fmt.Errorf("dispatch notification: %w", err)
	}

	return "notification:" + job.ID, nil
}
