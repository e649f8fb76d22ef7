package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fortuna/pkg/db/pagination"
	"gorm.io/gorm"
)

type ConsumeRequest struct {
	AccountID string `json:"-"`
	Kind      string `json:"kind"`
	Prompt    string `json:"prompt"`
	Locale    string `json:"locale"`
}

type Outcome string

const (
	OutcomeAccepted            Outcome = "accepted"
	OutcomeInsufficientCredits Outcome = "insufficient_credits"
)

type ConsumeResult struct {
	Outcome     Outcome `json:"outcome"`
	UsageUnitID string  `json:"usage_unit_id,omitempty"`
}

type CompleteRequest struct {
	Text     string `json:"text"`
	AudioURL string `json:"audio_url"`
	// AudioError reports a failed synthesis; the unit still completes.
	AudioError string `json:"audio_error"`
}

type ListRequest struct {
	pagination.Pagination
	AccountID string
}

type ListResponse struct {
	pagination.PageInfo
	Units []Unit `json:"units"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, unit *Unit) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Unit, error)
	MarkProcessing(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	Finish(ctx context.Context, db *gorm.DB, id snowflake.ID, finish Finish, now time.Time) (bool, error)
	Touch(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Unit, error)
	// ListStale returns units in status last touched before the cutoff, oldest first.
	ListStale(ctx context.Context, db *gorm.DB, status Status, before time.Time, limit int) ([]Unit, error)
}

// Dispatcher hands a persisted unit to the content pipeline without waiting
// for the result.
type Dispatcher interface {
	Dispatch(ctx context.Context, unit *Unit) error
}

// Queue is the transport between Dispatcher and worker.
type Queue interface {
	Dispatcher
	Dequeue(ctx context.Context, wait time.Duration) (*Job, error)
}

type Service interface {
	Consume(ctx context.Context, req ConsumeRequest) (*ConsumeResult, error)
	// MarkProcessing reports false when the unit already left pending.
	MarkProcessing(ctx context.Context, unitID string) (bool, error)
	Complete(ctx context.Context, unitID string, req CompleteRequest) (*Unit, error)
	Fail(ctx context.Context, unitID string, message string) (*Unit, error)
	Get(ctx context.Context, unitID, accountID string) (*Unit, error)
	ListForAccount(ctx context.Context, req ListRequest) (ListResponse, error)
	// RequeueStale re-dispatches units stuck in pending.
	RequeueStale(ctx context.Context, olderThan time.Duration, limit int) (int, error)
	// FailStuck fails units left in processing by a worker that never
	// reported back.
	FailStuck(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

var (
	ErrInvalidKind     = errors.New("invalid_usage_kind")
	ErrInvalidPrompt   = errors.New("invalid_prompt")
	ErrInvalidLocale   = errors.New("invalid_locale")
	ErrInvalidUnitID   = errors.New("invalid_usage_unit_id")
	ErrInvalidResult   = errors.New("invalid_usage_result")
	ErrNotFound        = errors.New("usage_unit_not_found")
	ErrAlreadyFinished = errors.New("usage_unit_finished")
	ErrQueueEmpty      = errors.New("usage_queue_empty")
)
