package server

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestHistoryTail(t *testing.T) {
	h := NewHistory()
	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		h.Append("alice", msg)
	}

	tests := []struct {
		name     string
		user     string
		count    int
		expected []string
	}{
		{"tail of three", "alice", 3, []string{"c", "d", "e"}},
		{"exact length", "alice", 5, []string{"a", "b", "c", "d", "e"}},
		{"more than length", "alice", 99, []string{"a", "b", "c", "d", "e"}},
		{"zero", "alice", 0, []string{}},
		{"negative", "alice", -1, []string{}},
		{"unknown user", "bob", 3, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, h.Tail(tt.user, tt.count))
		})
	}
}

func TestHistoryTailReturnsCopy(t *testing.T) {
	h := NewHistory()
	h.Append("alice", "original")

	tail := h.Tail("alice", 1)
	tail[0] = "changed"

	assert.Equal(t, []string{"original"}, h.Tail("alice", 1))
}

func TestHistoryConcurrentAppend(t *testing.T) {
	h := NewHistory()

	const writers, perWriter = 10, 100
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				h.Append(user, fmt.Sprintf("%d", j))
				h.Tail(user, 5)
			}
		}(fmt.Sprintf("user%d", i%3))
	}
	wg.Wait()

	total := h.Len("user0") + h.Len("user1") + h.Len("user2")
	assert.Equal(t, writers*perWriter, total)
}

func TestHistoryPerUserOrder(t *testing.T) {
	h := NewHistory()

	var wg sync.WaitGroup
	for _, user := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				h.Append(user, fmt.Sprintf("%03d", i))
			}
		}(user)
	}
	wg.Wait()

	for _, user := range []string{"alice", "bob"} {
		entries := h.Tail(user, 200)
		require.Len(t, entries, 200)
		for i, entry := range entries {
			assert.Equal(t, fmt.Sprintf("%03d", i), entry)
		}
	}
}

func TestHistoryTailProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		messages := rapid.SliceOf(rapid.String()).Draw(t, "messages")
		count := rapid.IntRange(-5, 50).Draw(t, "count")

		h := NewHistory()
		for _, msg := range messages {
			h.Append("user", msg)
		}

		tail := h.Tail("user", count)

		want := count
		if want < 0 {
			want = 0
		}
		if want > len(messages) {
			want = len(messages)
		}
		if len(tail) != want {
			t.Fatalf("expected %d entries, got %d", want, len(tail))
		}
		for i, entry := range tail {
			if entry != messages[len(messages)-want+i] {
				t.Fatalf("entry %d: expected %q, got %q", i, messages[len(messages)-want+i], entry)
			}
		}
	})
}

func TestParseHistoryCount(t *testing.T) {
	tests := []struct {
		arg      string
		expected int
		wantErr  bool
	}{
		{"", DefaultHistoryCount, false},
		{"3", 3, false},
		{"0", 0, false},
		{"-4", -4, false},
		{"abc", 0, true},
		{"1.5", 0, true},
		{"99999999999999999999", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			count, err := ParseHistoryCount(tt.arg)
			if tt.wantErr {
				var cmdErr *CommandError
				require.ErrorAs(t, err, &cmdErr)
				assert.Equal(t, "Invalid history count: "+tt.arg, cmdErr.Reason)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, count)
		})
	}
}
