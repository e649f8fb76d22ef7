package pagination

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
)

func TestKeysetRoundTrip(t *testing.T) {
	createdAt := time.Date(2026, 3, 1, 10, 0, 0, 123, time.UTC)
	token := EncodeKeyset(snowflake.ID(42), createdAt)

	keyset, err := DecodeKeyset(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if keyset.ID != 42 || !keyset.CreatedAt.Equal(createdAt) {
		t.Fatalf("unexpected keyset %+v", keyset)
	}
}

func TestDecodeKeysetRejectsGarbage(t *testing.T) {
	if _, err := DecodeKeyset("%%%"); err != ErrInvalidPageToken {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
	if keyset, err := DecodeKeyset(""); err != nil || keyset != nil {
		t.Fatalf("expected empty token to decode to nil, got %v %v", keyset, err)
	}
}

func TestTrim(t *testing.T) {
	items, info := Trim([]int{1, 2, 3}, 2, func(v int) string { return "c" })
	if len(items) != 2 || !info.HasMore || info.NextPageToken != "c" {
		t.Fatalf("unexpected trim result %v %+v", items, info)
	}

	items, info = Trim([]int{1}, 2, func(v int) string { return "c" })
	if len(items) != 1 || info.HasMore {
		t.Fatalf("unexpected trim result %v %+v", items, info)
	}
}

func TestLimitClamps(t *testing.T) {
	if got := (Pagination{}).Limit(); got != DefaultPageSize {
		t.Fatalf("expected default, got %d", got)
	}
	if got := (Pagination{PageSize: 1000}).Limit(); got != MaxPageSize {
		t.Fatalf("expected max, got %d", got)
	}
}
