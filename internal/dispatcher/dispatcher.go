// Package dispatcher sends one push notification and records the attempt.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"touchpoint-service/internal/logging"
	"touchpoint-service/internal/models"
	"touchpoint-service/internal/providers"
)

// ErrNoAddress is returned when a message has no push address. Nothing is
// sent and nothing is recorded.
var ErrNoAddress = errors.New("client has no push address")

// Gateway delivers one message to the push provider.
type Gateway interface {
	Send(ctx context.Context, msg providers.PushMessage) (providers.PushReceipt, error)
}

// RecordStore appends notification records.
type RecordStore interface {
	CreateNotification(ctx context.Context, n models.NotificationRecord) error
}

// Broadcaster fans a fresh record out to live agent dashboards.
type Broadcaster interface {
	Publish(agentID string, rec models.NotificationRecord)
}

// Message is one notification for one client device.
type Message struct {
	AgentID  string
	ClientID string
	Address  string
	Type     models.NotificationType
	Title    string
	Body     string
	Data     map[string]string
}

// Result is the outcome of a dispatch.
type Result struct {
	Status           models.DeliveryStatus
	ProviderResponse string
	Record           models.NotificationRecord
}

// Dispatcher sends through a Gateway and appends exactly one record per
// attempt, whatever the outcome. It never retries.
type Dispatcher struct {
	gateway     Gateway
	store       RecordStore
	broadcaster Broadcaster
	logger      *logging.Logger
	now         func() time.Time
}

// New constructs a Dispatcher. broadcaster may be nil.
func New(gateway Gateway, store RecordStore, broadcaster Broadcaster, logger *logging.Logger) *Dispatcher {
	return &Dispatcher{
		gateway:     gateway,
		store:       store,
		broadcaster: broadcaster,
		logger:      logger,
		now:         time.Now,
	}
}

// Dispatch sends msg. Delivery failures are reported through Result.Status,
// not the error; the error is non-nil only when the message had no address or
// the record could not be stored.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) (Result, error) {
	if msg.Address == "" {
		return Result{}, ErrNoAddress
	}

	data := map[string]string{
		"type":     string(msg.Type),
		"agentId":  msg.AgentID,
		"clientId": msg.ClientID,
	}
	for k, v := range msg.Data {
		data[k] = v
	}

	receipt, err := d.gateway.Send(ctx, providers.PushMessage{
		To:    msg.Address,
		Title: msg.Title,
		Body:  msg.Body,
		Sound: "default",
		Data:  data,
	})

	status := models.DeliverySent
	response := receipt.Raw
	switch {
	case err != nil:
		status = models.DeliveryFailed
		response = err.Error()
		if receipt.Raw != "" {
			response += ": " + receipt.Raw
		}
	case !receipt.OK():
		status = models.DeliveryFailed
		if response == "" {
			response = receipt.Message
		}
	}

	rec := models.NotificationRecord{
		ID:               ulid.Make().String(),
		ClientID:         msg.ClientID,
		AgentID:          msg.AgentID,
		Type:             msg.Type,
		Title:            msg.Title,
		Body:             msg.Body,
		Status:           status,
		ProviderResponse: response,
		SentAt:           d.now().UTC(),
	}
	res := Result{Status: status, ProviderResponse: response, Record: rec}

	if err := d.store.CreateNotification(ctx, rec); err != nil {
		return res, fmt.Errorf("record %s notification for client %s: %w", msg.Type, msg.ClientID, err)
	}

	log := d.logger.With("client_id", msg.ClientID)
	if status == models.DeliveryFailed {
		log.Warnf("Push %s failed: %s", msg.Type, response)
	} else {
		log.Debugf("Push %s sent", msg.Type)
	}

	if d.broadcaster != nil {
		d.broadcaster.Publish(msg.AgentID, rec)
	}
	return res, nil
}
