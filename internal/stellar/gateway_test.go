package stellar

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestTruncateMemo(t *testing.T) {
	short := "abc123"
	if got := TruncateMemo(short); got != short {
		t.Errorf("TruncateMemo(%q) = %q, want unchanged", short, got)
	}

	exact := strings.Repeat("x", MemoMaxBytes)
	if got := TruncateMemo(exact); got != exact {
		t.Errorf("memo at the limit should be unchanged, got %q", got)
	}

	long := strings.Repeat("x", MemoMaxBytes+10)
	got := TruncateMemo(long)
	if len(got) != MemoMaxBytes {
		t.Errorf("truncated memo length = %d, want %d", len(got), MemoMaxBytes)
	}
	if !strings.HasPrefix(long, got) {
		t.Error("truncation must keep the memo prefix")
	}
}

func TestTruncateMemoUUID(t *testing.T) {
	// Transaction ids are 36-byte UUID strings; the memo keeps the first 28.
	id := uuid.New().String()
	got := TruncateMemo(id)
	if len(got) != MemoMaxBytes {
		t.Fatalf("length = %d, want %d", len(got), MemoMaxBytes)
	}
	if got != id[:MemoMaxBytes] {
		t.Errorf("got %q, want %q", got, id[:MemoMaxBytes])
	}
}
