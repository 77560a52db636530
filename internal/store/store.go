package store

import (
	"context"
	"errors"
	"fmt"
)

// SchemaVersion is written alongside every update.
const SchemaVersion = "1"

const (
	KeySchemaVersion        = "soap_schema_version"
	KeyTranscript           = "soap_transcript"
	KeyReference            = "soap_reference"
	KeyHasReference         = "soap_has_reference"
	KeyModel                = "soap_model"
	KeyResults              = "soap_results"
	KeyResultsFingerprint   = "soap_results_fingerprint"
	KeyMetrics              = "soap_metrics"
	KeyGenerationInProgress = "soap_generation_in_progress"
	KeyEvaluationInProgress = "soap_evaluation_in_progress"
	KeyEpoch                = "soap_epoch"
)

// AllKeys lists every logical key of a session.
var AllKeys = []string{
	KeySchemaVersion,
	KeyTranscript,
	KeyReference,
	KeyHasReference,
	KeyModel,
	KeyResults,
	KeyResultsFingerprint,
	KeyMetrics,
	KeyGenerationInProgress,
	KeyEvaluationInProgress,
	KeyEpoch,
}

var ErrSchemaVersion = errors.New("unsupported session schema version")

// Values is the raw string state of one session. A missing key is unset.
type Values map[string]string

// Get returns the value for key and whether it is set.
func (v Values) Get(key string) (string, bool) {
	s, ok := v[key]
	return s, ok
}

// Mutation is applied atomically by Update: deletes first, then sets.
type Mutation struct {
	Set    map[string]string
	Delete []string
}

// Empty reports whether the mutation changes nothing.
func (m Mutation) Empty() bool {
	return len(m.Set) == 0 && len(m.Delete) == 0
}

// UpdateFunc computes a mutation from the current values of a session.
// Returning an error aborts the update without writing.
type UpdateFunc func(current Values) (Mutation, error)

// Store persists per-session key/value state. Update is an atomic
// read-modify-write.
type Store interface {
	Load(ctx context.Context, session string) (Values, error)
	Update(ctx context.Context, session string, fn UpdateFunc) error
	Close() error
}

// CheckVersion rejects state written under another schema version. State
// without a version key is treated as empty-compatible.
func CheckVersion(v Values) error {
	got, ok := v[KeySchemaVersion]
	if !ok || got == SchemaVersion {
		return nil
	}
	return fmt.Errorf("%w: got %q, want %q", ErrSchemaVersion, got, SchemaVersion)
}

// stamp adds the schema version to a mutation that sets values. Delete-only
// mutations are returned unchanged, so deleting every key removes the
// session entirely.
func stamp(m Mutation) Mutation {
	if len(m.Set) == 0 {
		return m
	}
	set := make(map[string]string, len(m.Set)+1)
	for k, v := range m.Set {
		set[k] = v
	}
	set[KeySchemaVersion] = SchemaVersion
	del := make([]string, 0, len(m.Delete))
	for _, k := range m.Delete {
		if k != KeySchemaVersion {
			del = append(del, k)
		}
	}
	return Mutation{Set: set, Delete: del}
}

func apply(v Values, m Mutation) {
	for _, k := range m.Delete {
		delete(v, k)
	}
	for k, val := range m.Set {
		v[k] = val
	}
}
