package store

import (
	"context"
	"errors"
	"time"

	"fieldplan/internal/model"
)

// Store is the persistence interface used by the API server and the planner.
type Store interface {
	// Candidate loading. Both take the planning window: interventions are
	// filtered to it, technicians carry only the availability records that
	// overlap it.
	LoadInterventions(ctx context.Context, from, to time.Time) ([]model.Intervention, error)
	LoadTechnicians(ctx context.Context, from, to time.Time) ([]model.Technician, error)

	// Plannings
	CreatePlanning(ctx context.Context, p model.Planning) (model.Planning, error)
	GetPlanning(ctx context.Context, id string) (model.Planning, error)
	ListPlannings(ctx context.Context, status, cursor string, limit int) ([]model.Planning, string, error)
	// ApplyPlanning writes the planning's slots back to the interventions in
	// one transaction and marks the planning applied. Re-applying an already
	// applied planning reports alreadyApplied with zero updates.
	ApplyPlanning(ctx context.Context, id, appliedBy string) (p model.Planning, updated int, alreadyApplied bool, err error)

	// Parameter sets
	ListParameterSets(ctx context.Context) ([]model.ParameterSet, error)
	GetParameterSet(ctx context.Context, id string) (model.ParameterSet, error)
	SaveParameterSet(ctx context.Context, ps model.ParameterSet) (model.ParameterSet, error)

	// Travel cache persistence
	LoadTravelCache(ctx context.Context, notBefore time.Time) ([]model.TravelCacheEntry, error)
	SaveTravelCache(ctx context.Context, entries []model.TravelCacheEntry) error

	// Subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error)
	DeleteSubscription(ctx context.Context, id string) error

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
}

var ErrNotFound = errors.New("not found")
