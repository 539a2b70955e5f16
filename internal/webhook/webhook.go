// Package webhook verifies, decrypts and routes the platform's
// subscription callbacks.
package webhook

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Subscription topics.
const (
	TopicCompany       = "wps.open.plus.company"
	TopicDept          = "wps.open.plus.dept"
	TopicMember        = "wps.open.plus.member"
	TopicMemberStatus  = "wps.open.plus.member.status"
	TopicOrgPermission = "wps.open.plus.app.org_permission_setting"
)

// Operations.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

var (
	// ErrBadSignature means the event was not signed with our app key.
	ErrBadSignature = errors.New("invalid signature")
	// ErrNoRoute means no handler is registered for the topic and operation.
	ErrNoRoute = errors.New("no handler")
)

// Event is the callback body.
type Event struct {
	Topic         string `json:"topic"`
	Operation     string `json:"operation"`
	Time          int64  `json:"time"`
	Nonce         string `json:"nonce"`
	Signature     string `json:"signature"`
	EncryptedData string `json:"encrypted_data"`
}

// Data is the decrypted business payload. Src and Dest hold the record
// before and after the change, as an object or a list of objects.
type Data struct {
	Src  json.RawMessage `json:"src,omitempty"`
	Dest json.RawMessage `json:"dest,omitempty"`
}

// Handler processes one decrypted event.
type Handler func(ctx context.Context, topic, operation string, data Data) error

// Dispatcher routes events by topic and operation.
type Dispatcher struct {
	appID  string
	appKey string
	logger *zap.Logger
	routes map[string]map[string]Handler
}

// NewDispatcher returns a dispatcher where every known topic and operation
// is accepted and ignored until a handler is registered.
func NewDispatcher(appID, appKey string, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		appID:  appID,
		appKey: appKey,
		logger: logger,
		routes: make(map[string]map[string]Handler),
	}
	crud := []string{OpCreate, OpUpdate, OpDelete}
	for _, topic := range []string{TopicCompany, TopicDept, TopicMember} {
		for _, op := range crud {
			d.Handle(topic, op, nop)
		}
	}
	d.Handle(TopicMemberStatus, OpUpdate, nop)
	d.Handle(TopicOrgPermission, OpUpdate, nop)
	return d
}

func nop(context.Context, string, string, Data) error { return nil }

// Handle registers h for topic and operation, replacing any previous one.
func (d *Dispatcher) Handle(topic, operation string, h Handler) {
	ops, ok := d.routes[topic]
	if !ok {
		ops = make(map[string]Handler)
		d.routes[topic] = ops
	}
	ops[operation] = h
}

// Verify reports whether ev carries a valid signature.
func (d *Dispatcher) Verify(ev Event) bool {
	want := Sign(d.appID, d.appKey, ev.Topic, ev.Nonce, ev.Time, ev.EncryptedData)
	return hmac.Equal([]byte(want), []byte(ev.Signature))
}

// Dispatch verifies, decrypts and handles ev, returning a message for the
// caller. The error wraps ErrBadSignature or ErrNoRoute where those apply.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) (string, error) {
	if !d.Verify(ev) {
		return "", ErrBadSignature
	}
	h, ok := d.routes[ev.Topic][ev.Operation]
	if !ok {
		return "", fmt.Errorf("%w for %s %s", ErrNoRoute, ev.Topic, ev.Operation)
	}

	plain, err := Decrypt(ev.EncryptedData, d.appKey, ev.Nonce)
	if err != nil {
		return "", fmt.Errorf("decrypt %s: %w", ev.Topic, err)
	}
	var data Data
	if err := json.Unmarshal(plain, &data); err != nil {
		return "", fmt.Errorf("decode %s payload: %w", ev.Topic, err)
	}
	if err := h(ctx, ev.Topic, ev.Operation, data); err != nil {
		return "", fmt.Errorf("handle %s %s: %w", ev.Topic, ev.Operation, err)
	}

	d.logger.Info("subscription event handled",
		zap.String("topic", ev.Topic),
		zap.String("operation", ev.Operation))
	return fmt.Sprintf("topic %s operation %s handled", ev.Topic, ev.Operation), nil
}

// Seal builds a signed, encrypted event the way the platform does.
func Seal(appID, appKey, topic, operation, nonce string, ts int64, data Data) (Event, error) {
	plain, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	enc, err := Encrypt(plain, appKey, nonce)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Topic:         topic,
		Operation:     operation,
		Time:          ts,
		Nonce:         nonce,
		Signature:     Sign(appID, appKey, topic, nonce, ts, enc),
		EncryptedData: enc,
	}, nil
}
