package notify

import (
	"errors"
	"sort"
	"time"

	"workshop/bizerror"
	"workshop/common"

	"github.com/fundwit/go-commons/types"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"github.com/sony/sonyflake"
)

const DefaultToastTTL = 5 * time.Second

type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

type Toast struct {
	ID        types.ID          `json:"id"`
	Level     Level             `json:"level"`
	Category  bizerror.Category `json:"category,omitempty"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	CreatedAt time.Time         `json:"createdAt"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// Notifier is what operations use to report their outcome.
type Notifier interface {
	Success(title, message string)
	Failure(title string, err error)
}

// Center holds time-limited toasts; expired ones disappear on their own.
type Center struct {
	ttl      time.Duration
	toasts   *cache.Cache
	idWorker *sonyflake.Sonyflake
}

func NewCenter(ttl time.Duration) *Center {
	if ttl <= 0 {
		ttl = DefaultToastTTL
	}
	return &Center{ttl: ttl, toasts: cache.New(ttl, time.Minute), idWorker: common.NewIdWorker()}
}

func (c *Center) Success(title, message string) {
	c.raise(Toast{Level: LevelSuccess, Title: title, Message: message})
}

func (c *Center) Info(title, message string) {
	c.raise(Toast{Level: LevelInfo, Title: title, Message: message})
}

// Failure categorizes err; validation and conflict problems are warnings, the rest errors.
func (c *Center) Failure(title string, err error) {
	if err == nil {
		return
	}
	category := bizerror.CategoryOf(err)
	level := LevelError
	if category == bizerror.CategoryValidation || category == bizerror.CategoryConflict {
		level = LevelWarning
	}
	c.raise(Toast{Level: level, Category: category, Title: title, Message: failureMessage(category, err)})
}

func (c *Center) raise(t Toast) Toast {
	t.ID = common.NextId(c.idWorker)
	t.CreatedAt = time.Now()
	t.ExpiresAt = t.CreatedAt.Add(c.ttl)
	c.toasts.SetDefault(t.ID.String(), t)
	logrus.WithFields(logrus.Fields{"level": t.Level, "category": t.Category}).Info("toast: ", t.Title, ": ", t.Message)
	return t
}

// Active lists unexpired toasts, newest first.
func (c *Center) Active() []Toast {
	items := c.toasts.Items()
	toasts := make([]Toast, 0, len(items))
	for _, item := range items {
		toasts = append(toasts, item.Object.(Toast))
	}
	sort.Slice(toasts, func(i, j int) bool {
		return toasts[i].CreatedAt.After(toasts[j].CreatedAt) ||
			toasts[i].CreatedAt.Equal(toasts[j].CreatedAt) && toasts[i].ID > toasts[j].ID
	})
	return toasts
}

func (c *Center) Dismiss(id types.ID) {
	c.toasts.Delete(id.String())
}

func failureMessage(category bizerror.Category, err error) string {
	var validationErr *bizerror.ErrValidation
	switch category {
	case bizerror.CategoryValidation:
		if errors.As(err, &validationErr) {
			return validationErr.Error()
		}
		return err.Error()
	case bizerror.CategoryAuth:
		return "not allowed: " + err.Error()
	case bizerror.CategoryNetwork:
		return "server unreachable, please retry"
	default:
		return err.Error()
	}
}
