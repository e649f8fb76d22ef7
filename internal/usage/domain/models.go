package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Kind string

const (
	KindCoffee Kind = "coffee"
	KindTarot  Kind = "tarot"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusFailed
}

const (
	MaxPromptRunes = 500
)

// Unit is one billable service invocation. Every unit is backed by exactly
// one usage debit in the credit journal.
type Unit struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	AccountID    snowflake.ID `json:"account_id" gorm:"not null;index"`
	Kind         Kind         `json:"kind" gorm:"type:text;not null"`
	Prompt       string       `json:"prompt" gorm:"type:text;not null"`
	Locale       string       `json:"locale" gorm:"type:text;not null"`
	Status       Status       `json:"status" gorm:"type:text;not null"`
	CreditsUsed  int64        `json:"credits_used" gorm:"not null"`
	ResultText   *string      `json:"result_text,omitempty"`
	AudioURL     *string      `json:"audio_url,omitempty"`
	ErrorMessage *string      `json:"error_message,omitempty"`
	CreatedAt    time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt    time.Time    `json:"updated_at" gorm:"not null"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
}

func (Unit) TableName() string { return "usage_units" }

type ListFilter struct {
	AccountID snowflake.ID
	Cursor    *Cursor
	Limit     int
}

type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

// Finish carries the columns written when a unit leaves processing.
type Finish struct {
	Status       Status
	ResultText   *string
	AudioURL     *string
	ErrorMessage *string
	CompletedAt  *time.Time
}

// Job is the queue message handed to the content pipeline.
type Job struct {
	ID         string       `json:"id"`
	UnitID     snowflake.ID `json:"unit_id"`
	AccountID  snowflake.ID `json:"account_id"`
	Kind       Kind         `json:"kind"`
	Prompt     string       `json:"prompt"`
	Locale     string       `json:"locale"`
	Attempt    int          `json:"attempt"`
	EnqueuedAt time.Time    `json:"enqueued_at"`
}
