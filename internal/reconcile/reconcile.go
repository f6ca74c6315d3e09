// Package reconcile flags datasets that a source stopped publishing.
//
// After a harvest job walked its source to completion, every dataset still
// attributed to the source domain but not touched by the job is made private
// (a soft delete: data is kept, visibility changes) and a report is sent to
// the organization admins and global admins.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pbaille/geoharvest/internal/config"
	"github.com/pbaille/geoharvest/internal/domain"
	"github.com/pbaille/geoharvest/internal/notify"
)

// DatasetStore is the subset of the dataset repository the engine needs.
type DatasetStore interface {
	Query(ctx context.Context, f domain.DatasetFilter) ([]domain.Dataset, error)
	Save(ctx context.Context, ds *domain.Dataset) error
}

// UserDirectory resolves notification recipients.
type UserDirectory interface {
	OrganizationAdmins(ctx context.Context, organization string) ([]string, error)
	GlobalAdmins(ctx context.Context) ([]string, error)
}

// Config holds the report settings.
type Config struct {
	// Sender is the operational mailbox: From address and always in Cc.
	Sender     string
	ServerName string
	// Subject is a fmt pattern receiving the harvester display name.
	Subject string
}

// Engine computes and flags stale datasets.
type Engine struct {
	store  DatasetStore
	users  UserDirectory
	sink   notify.Sink
	cfg    Config
	logger *slog.Logger
}

// New creates an Engine. A nil sink disables notifications.
func New(store DatasetStore, users UserDirectory, sink notify.Sink, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Subject == "" {
		cfg.Subject = "Harvest report - %s."
	}
	return &Engine{store: store, users: users, sink: sink, cfg: cfg, logger: logger}
}

// Reconcile makes private every public dataset of the job's source domain
// that the job did not touch, and returns them. Already private datasets are
// not queried, so running it twice flags nothing new. On a save error the
// datasets flagged so far are returned with the error.
func (e *Engine) Reconcile(ctx context.Context, src config.Source, result *domain.JobResult) ([]domain.Dataset, error) {
	log := e.logger.With("source", src.Name, "domain", result.SourceDomain)

	public := false
	stored, err := e.store.Query(ctx, domain.DatasetFilter{
		Domain:  result.SourceDomain,
		Private: &public,
	})
	if err != nil {
		return nil, fmt.Errorf("query domain datasets: %w", err)
	}

	var missing []domain.Dataset
	for i := range stored {
		ds := &stored[i]
		if result.Has(ds.ID) {
			continue
		}
		ds.Private = true
		if err := e.store.Save(ctx, ds); err != nil {
			return missing, fmt.Errorf("flag dataset %s: %w", ds.ID, err)
		}
		log.Info("reconcile: dataset unpublished", "dataset_id", ds.ID, "remote_id", ds.RemoteID)
		missing = append(missing, *ds)
	}

	log.Info("reconcile: done", "stored", len(stored), "touched", len(result.Touched), "stale", len(missing))
	if len(missing) > 0 {
		e.notify(ctx, log, src, missing)
	}
	return missing, nil
}

// notify is best-effort: lookup, render and delivery failures are logged only.
func (e *Engine) notify(ctx context.Context, log *slog.Logger, src config.Source, missing []domain.Dataset) {
	if e.sink == nil {
		return
	}

	report := notify.Report{
		Subject:   fmt.Sprintf(e.cfg.Subject, src.Title()),
		Harvester: src.Title(),
		Server:    e.cfg.ServerName,
	}
	for _, ds := range missing {
		report.Datasets = append(report.Datasets, notify.ReportDataset{
			ID:       ds.ID,
			RemoteID: ds.RemoteID,
			Title:    ds.Title,
		})
	}

	text, html, err := notify.Render(report)
	if err != nil {
		log.Warn("reconcile: render report", "error", err)
		return
	}

	msg := notify.Message{
		Subject: report.Subject,
		From:    e.cfg.Sender,
		Cc:      []string{e.cfg.Sender},
		Text:    text,
		HTML:    html,
	}
	if e.users != nil {
		if src.Organization != "" {
			if msg.To, err = e.users.OrganizationAdmins(ctx, src.Organization); err != nil {
				log.Warn("reconcile: organization admins lookup", "organization", src.Organization, "error", err)
			}
		}
		if msg.Bcc, err = e.users.GlobalAdmins(ctx); err != nil {
			log.Warn("reconcile: global admins lookup", "error", err)
		}
	}

	if err := e.sink.Send(ctx, msg); err != nil {
		log.Warn("reconcile: notification not delivered", "error", err, "to", len(msg.To), "bcc", len(msg.Bcc))
		return
	}
	log.Info("reconcile: notification sent", "to", len(msg.To), "bcc", len(msg.Bcc), "datasets", len(missing))
}
