package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"workshop/bizerror"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	MaxKeyLength     = 255
	DefaultRetention = 24 * time.Hour
)

var (
	ErrEmptyOperation = errors.New("idempotency operation is required")
	ErrEmptySubject   = errors.New("idempotency subject is required")
	ErrKeyTooLong     = errors.New("idempotency key exceeds 255 characters")
)

type GuardTraits interface {
	Acquire(ctx context.Context, operation, subjectID string, payload interface{}, qualifiers ...string) (string, error)
	Pending(ctx context.Context, operation, subjectID string, payload interface{}) (bool, error)
	Clear(ctx context.Context, operation, subjectID string) error
	Do(ctx context.Context, operation, subjectID string, payload interface{}, qualifiers []string, fn func(key string) error) error
}

// Guard hands out one key per pending logical request and keeps it across retries.
type Guard struct {
	store MarkerStore
	now   func() time.Time
}

var NewUUIDFunc = func() string { return uuid.New().String() }

func NewGuard(store MarkerStore) *Guard {
	return &Guard{store: store, now: time.Now}
}

// GenerateKey builds <operation>-<subject>[-<qualifier>...]-<uuid>. Long prefixes are cut to keep the key within MaxKeyLength.
func GenerateKey(operation, subjectID string, qualifiers ...string) string {
	parts := append([]string{operation, subjectID}, qualifiers...)
	prefix := strings.Join(parts, "-")
	id := NewUUIDFunc()
	if limit := MaxKeyLength - len(id) - 1; len(prefix) > limit {
		prefix = prefix[:limit]
	}
	return prefix + "-" + id
}

// MarkerName is the storage name of the pending key of a subject, e.g. confirm-pending-OV-001.
func MarkerName(operation, subjectID string) string {
	return operation + "-pending-" + subjectID
}

// Acquire returns the pending key of the subject when it was issued for the same request,
// otherwise a new key which is persisted before it is returned.
func (g *Guard) Acquire(ctx context.Context, operation, subjectID string, payload interface{}, qualifiers ...string) (string, error) {
	if operation == "" {
		return "", ErrEmptyOperation
	}
	if subjectID == "" {
		return "", ErrEmptySubject
	}
	fingerprint, err := Fingerprint(payload, qualifiers...)
	if err != nil {
		return "", err
	}

	name := MarkerName(operation, subjectID)
	marker, err := g.store.Get(ctx, name)
	if err != nil {
		return "", err
	}
	if marker != nil {
		if marker.Fingerprint == fingerprint {
			logrus.WithFields(logrus.Fields{"marker": name, "key": marker.Key}).Info("reusing pending idempotency key")
			return marker.Key, nil
		}
		logrus.WithFields(logrus.Fields{"marker": name, "key": marker.Key}).
			Warn("pending idempotency key belongs to a different request, replacing it")
	}

	key := GenerateKey(operation, subjectID, qualifiers...)
	if len(key) > MaxKeyLength {
		return "", ErrKeyTooLong
	}
	var raw []byte
	if payload != nil {
		if raw, err = json.Marshal(payload); err != nil {
			return "", err
		}
	}
	marker = &Marker{Name: name, Key: key, Fingerprint: fingerprint, Payload: string(raw), CreatedAt: g.now()}
	if err := g.store.Put(ctx, marker); err != nil {
		return "", err
	}
	return key, nil
}

// Pending decodes the request of the subject's pending key into payload; false when nothing is pending.
func (g *Guard) Pending(ctx context.Context, operation, subjectID string, payload interface{}) (bool, error) {
	marker, err := g.store.Get(ctx, MarkerName(operation, subjectID))
	if err != nil || marker == nil {
		return false, err
	}
	if marker.Payload != "" && payload != nil {
		if err := json.Unmarshal([]byte(marker.Payload), payload); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (g *Guard) Clear(ctx context.Context, operation, subjectID string) error {
	return g.store.Delete(ctx, MarkerName(operation, subjectID))
}

// Do runs fn with the subject's key. The marker is cleared once fn reaches a terminal outcome;
// it survives when the outcome on the server is unknown so that a retry reuses the key.
func (g *Guard) Do(ctx context.Context, operation, subjectID string, payload interface{}, qualifiers []string,
	fn func(key string) error) error {
	key, err := g.Acquire(ctx, operation, subjectID, payload, qualifiers...)
	if err != nil {
		return err
	}

	callErr := fn(key)
	if callErr != nil && bizerror.IsOutcomeUnknown(callErr) {
		logrus.WithFields(logrus.Fields{"operation": operation, "subject": subjectID, "key": key}).
			Warn("outcome unknown, keeping idempotency key for retry")
		return callErr
	}
	if err := g.Clear(ctx, operation, subjectID); err != nil {
		logrus.WithFields(logrus.Fields{"operation": operation, "subject": subjectID}).
			Error("failed to clear idempotency marker: ", err)
	}
	return callErr
}

// Purge drops markers older than retention.
func (g *Guard) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	return g.store.Purge(ctx, g.now().Add(-retention))
}

// Fingerprint identifies a logical request by its payload and qualifiers.
func Fingerprint(payload interface{}, qualifiers ...string) (string, error) {
	h := sha256.New()
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return "", err
		}
		h.Write(b)
	}
	for _, q := range qualifiers {
		h.Write([]byte{0})
		h.Write([]byte(q))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
