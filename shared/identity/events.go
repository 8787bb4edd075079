package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/netqr-tenant-identity/shared/metrics"
)

// EventType names a committed identity change
type EventType string

const (
	EventSubdomainAssigned         EventType = "subdomain.assigned"
	EventSubdomainChanged          EventType = "subdomain.changed"
	EventSubdomainRequestSubmitted EventType = "subdomain_request.submitted"
	EventSubdomainRequestApproved  EventType = "subdomain_request.approved"
	EventSubdomainRequestRejected  EventType = "subdomain_request.rejected"
	EventCustomDomainRequested     EventType = "custom_domain.requested"
	EventCustomDomainVerified      EventType = "custom_domain.verified"
	EventCustomDomainApproved      EventType = "custom_domain.approved"
	EventCustomDomainRejected      EventType = "custom_domain.rejected"
)

// Event describes a change after it has been committed
type Event struct {
	ID                uuid.UUID  `json:"id"`
	Type              EventType  `json:"type"`
	TenantID          uuid.UUID  `json:"tenant_id"`
	Subdomain         string     `json:"subdomain,omitempty"`
	PreviousSubdomain string     `json:"previous_subdomain,omitempty"`
	Domain            string     `json:"domain,omitempty"`
	RecordID          *uuid.UUID `json:"record_id,omitempty"`
	Actor             string     `json:"actor,omitempty"`
	OccurredAt        time.Time  `json:"occurred_at"`
}

// Publisher delivers events to interested parties, such as the gateway's host cache
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

// Options carries the collaborators shared by the identity services
type Options struct {
	Logger    logrus.FieldLogger
	Publisher Publisher
	Metrics   *metrics.Registry
	Now       func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.Publisher == nil {
		o.Publisher = nopPublisher{}
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// publish sends event after commit; delivery failures are logged, never returned
func (o Options) publish(ctx context.Context, event Event) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = o.Now()
	}
	if err := o.Publisher.Publish(ctx, event); err != nil {
		o.Logger.WithFields(logrus.Fields{
			"event_type": event.Type,
			"tenant_id":  event.TenantID,
			"error":      err,
		}).Warn("Failed to publish identity event")
	}
}
