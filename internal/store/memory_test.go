package store

import (
	"context"
	"errors"
	"maps"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestMemoryStoreLoadAbsentSession(t *testing.T) {
	s := NewMemory()
	v, err := s.Load(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(v) != 0 {
		t.Errorf("expected empty values, got %v", v)
	}
	if _, ok := v.Get(KeyTranscript); ok {
		t.Error("absent key should read as unset")
	}
}

func TestMemoryStoreUpdateSetsAndDeletes(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	err := s.Update(ctx, "s1", func(Values) (Mutation, error) {
		return Mutation{Set: map[string]string{KeyTranscript: "t", KeyModel: "gpt-4o-mini"}}, nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	err = s.Update(ctx, "s1", func(cur Values) (Mutation, error) {
		if cur[KeyTranscript] != "t" {
			t.Errorf("update saw %q", cur[KeyTranscript])
		}
		return Mutation{Delete: []string{KeyModel}}, nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	v, _ := s.Load(ctx, "s1")
	if v[KeyTranscript] != "t" {
		t.Errorf("transcript = %q", v[KeyTranscript])
	}
	if _, ok := v[KeyModel]; ok {
		t.Error("model should be deleted")
	}
	if v[KeySchemaVersion] != SchemaVersion {
		t.Errorf("schema version = %q", v[KeySchemaVersion])
	}
}

func TestMemoryStoreUpdateErrorWritesNothing(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	boom := errors.New("boom")

	err := s.Update(ctx, "s1", func(cur Values) (Mutation, error) {
		cur[KeyTranscript] = "leaked"
		return Mutation{Set: map[string]string{KeyTranscript: "x"}}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	v, _ := s.Load(ctx, "s1")
	if len(v) != 0 {
		t.Errorf("expected nothing written, got %v", v)
	}
}

func TestMemoryStoreRejectsOtherSchemaVersion(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	s.sessions["old"] = Values{KeySchemaVersion: "0", KeyTranscript: "t"}

	if _, err := s.Load(ctx, "old"); !errors.Is(err, ErrSchemaVersion) {
		t.Errorf("Load: expected ErrSchemaVersion, got %v", err)
	}
	err := s.Update(ctx, "old", func(Values) (Mutation, error) {
		t.Error("fn must not run on incompatible state")
		return Mutation{}, nil
	})
	if !errors.Is(err, ErrSchemaVersion) {
		t.Errorf("Update: expected ErrSchemaVersion, got %v", err)
	}
}

func TestMemoryStoreConcurrentUpdatesAreAtomic(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	const writers = 50

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Update(ctx, "counter", func(cur Values) (Mutation, error) {
				n, _ := strconv.Atoi(cur[KeyEpoch])
				return Mutation{Set: map[string]string{KeyEpoch: strconv.Itoa(n + 1)}}, nil
			})
		}()
	}
	wg.Wait()

	v, _ := s.Load(ctx, "counter")
	if v[KeyEpoch] != strconv.Itoa(writers) {
		t.Errorf("counter = %s, want %d", v[KeyEpoch], writers)
	}
}

func TestStampAndApply(t *testing.T) {
	tests := []struct {
		name    string
		current Values
		m       Mutation
		want    Values
	}{
		{
			name:    "set stamps the version",
			current: Values{},
			m:       Mutation{Set: map[string]string{KeyModel: "gpt-4o-mini"}},
			want:    Values{KeyModel: "gpt-4o-mini", KeySchemaVersion: SchemaVersion},
		},
		{
			name:    "set keeps the version even when asked to delete it",
			current: Values{KeySchemaVersion: SchemaVersion, KeyMetrics: "[]"},
			m:       Mutation{Set: map[string]string{KeyModel: "m"}, Delete: []string{KeySchemaVersion, KeyMetrics}},
			want:    Values{KeyModel: "m", KeySchemaVersion: SchemaVersion},
		},
		{
			name:    "delete-only is not stamped",
			current: Values{KeySchemaVersion: SchemaVersion, KeyModel: "m", KeyTranscript: "t"},
			m:       Mutation{Delete: []string{KeyModel}},
			want:    Values{KeySchemaVersion: SchemaVersion, KeyTranscript: "t"},
		},
		{
			name:    "deleting every key leaves nothing",
			current: Values{KeySchemaVersion: SchemaVersion, KeyModel: "m", KeyEpoch: "e"},
			m:       Mutation{Delete: AllKeys},
			want:    Values{},
		},
		{
			name:    "set wins over delete of the same key",
			current: Values{KeyModel: "old"},
			m:       Mutation{Set: map[string]string{KeyModel: "new"}, Delete: []string{KeyModel}},
			want:    Values{KeyModel: "new", KeySchemaVersion: SchemaVersion},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := maps.Clone(tt.current)
			apply(got, stamp(tt.m))
			if !maps.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
	if !stamp(Mutation{}).Empty() {
		t.Error("empty mutation should stay empty")
	}
}

func TestMemoryStoreDeleteAllRemovesSession(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	err := s.Update(ctx, "s1", func(Values) (Mutation, error) {
		return Mutation{Set: map[string]string{KeyTranscript: "t", KeyEpoch: "e"}}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	err = s.Update(ctx, "s1", func(Values) (Mutation, error) {
		return Mutation{Delete: AllKeys}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 0 {
		t.Errorf("expected no sessions left, got %d", s.Len())
	}
}

func TestWatchRetry(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name      string
		results   []error
		wantErr   error
		wantCalls int
	}{
		{"first try", []error{nil}, nil, 1},
		{"wins after contention", []error{redis.TxFailedErr, redis.TxFailedErr, nil}, nil, 3},
		{"other errors are not retried", []error{boom}, boom, 1},
		{"gives up after every attempt loses", []error{redis.TxFailedErr, redis.TxFailedErr, redis.TxFailedErr}, ErrContention, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := watchRetry(context.Background(), 3, time.Microsecond, func() error {
				err := tt.results[calls]
				calls++
				return err
			})
			if !errors.Is(err, tt.wantErr) || (tt.wantErr == nil && err != nil) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestWatchRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := watchRetry(ctx, 5, time.Hour, func() error {
		calls++
		return redis.TxFailedErr
	})
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}
}

func TestRedisKey(t *testing.T) {
	if got := redisKey("abc"); got != "soap:session:abc" {
		t.Errorf("redisKey = %q", got)
	}
	args := hashArgs(map[string]string{"a": "1"})
	if args["a"] != "1" {
		t.Errorf("hashArgs = %v", args)
	}
}
