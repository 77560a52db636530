package store

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Set SOAP_TEST_REDIS_ADDR or SOAP_TEST_POSTGRES_DSN to run the backend
// contract against a live server.
func TestStoreContract(t *testing.T) {
	backends := []struct {
		name string
		open func(t *testing.T) Store
	}{
		{"memory", func(*testing.T) Store { return NewMemory() }},
		{"redis", func(t *testing.T) Store {
			addr := os.Getenv("SOAP_TEST_REDIS_ADDR")
			if addr == "" {
				t.Skip("SOAP_TEST_REDIS_ADDR not set")
			}
			s, err := NewRedis(addr, os.Getenv("SOAP_TEST_REDIS_PASSWORD"))
			require.NoError(t, err)
			return s
		}},
		{"postgres", func(t *testing.T) Store {
			dsn := os.Getenv("SOAP_TEST_POSTGRES_DSN")
			if dsn == "" {
				t.Skip("SOAP_TEST_POSTGRES_DSN not set")
			}
			s, err := NewPostgres(dsn)
			require.NoError(t, err)
			return s
		}},
	}

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			t.Cleanup(func() { _ = s.Close() })
			runContract(t, s)
		})
	}
}

func runContract(t *testing.T, s Store) {
	ctx := context.Background()
	session := func() string { return "contract-" + uuid.NewString() }

	t.Run("absent session loads empty", func(t *testing.T) {
		v, err := s.Load(ctx, session())
		require.NoError(t, err)
		assert.Empty(t, v)
	})

	t.Run("set then delete", func(t *testing.T) {
		id := session()
		require.NoError(t, s.Update(ctx, id, func(Values) (Mutation, error) {
			return Mutation{Set: map[string]string{KeyTranscript: "t", KeyModel: "gpt-4o-mini", KeyMetrics: "[]"}}, nil
		}))
		require.NoError(t, s.Update(ctx, id, func(cur Values) (Mutation, error) {
			assert.Equal(t, "t", cur[KeyTranscript])
			return Mutation{Set: map[string]string{KeyModel: "gemini-2.5-flash"}, Delete: []string{KeyMetrics}}, nil
		}))

		v, err := s.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, Values{
			KeyTranscript:    "t",
			KeyModel:         "gemini-2.5-flash",
			KeySchemaVersion: SchemaVersion,
		}, v)
	})

	t.Run("failed update writes nothing", func(t *testing.T) {
		id := session()
		boom := errors.New("boom")
		err := s.Update(ctx, id, func(Values) (Mutation, error) {
			return Mutation{Set: map[string]string{KeyTranscript: "x"}}, boom
		})
		require.ErrorIs(t, err, boom)
		v, err := s.Load(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, v)
	})

	t.Run("deleting every key removes the session", func(t *testing.T) {
		id := session()
		require.NoError(t, s.Update(ctx, id, func(Values) (Mutation, error) {
			return Mutation{Set: map[string]string{KeyTranscript: "t", KeyEpoch: "e"}}, nil
		}))
		require.NoError(t, s.Update(ctx, id, func(Values) (Mutation, error) {
			return Mutation{Delete: AllKeys}, nil
		}))
		v, err := s.Load(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, v)
	})
}
