package domain

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
)

var (
	// ErrNotFound is returned when a query that must return a document does
	// not match any.
	ErrNotFound = errors.New("document not found")
	// ErrMapperSealed is returned when a type is mapped after
	// [Mapper.Seal] was called.
	ErrMapperSealed = errors.New("mapper is sealed for registration")
	// ErrConflict is matched by every optimistic write failure.
	ErrConflict = errors.New("write conflict")
	// ErrVersionMismatch is matched by [VersionMismatchError].
	ErrVersionMismatch = errors.New("version mismatch")
	// ErrShardKeyMismatch is matched by [ShardKeyMismatchError].
	ErrShardKeyMismatch = errors.New("no shard key match")
	// ErrDuplicateKey is returned by drivers when a write violates a unique
	// index.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrNamespaceNotFound is returned by drivers for command error code 26.
	ErrNamespaceNotFound = errors.New("namespace not found")
	// ErrSessionEnded is returned when a session is used after being ended.
	ErrSessionEnded = errors.New("session ended")
	// ErrTargetNil is returned when a nil target is given to decode into.
	ErrTargetNil = errors.New("target is nil")
	// ErrCursorClosed is returned when a closed cursor is used.
	ErrCursorClosed = errors.New("cursor is closed")
)

// CodeNamespaceNotFound is the server error code reporting a missing
// collection.
const CodeNamespaceNotFound = 26

// MappingError is returned when a path cannot be resolved against an entity
// model.
type MappingError struct {
	Type    string
	Path    string
	Segment string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("could not resolve %q of path %q on type %s", e.Segment, e.Path, e.Type)
}

// NotMappedError is returned when a value cannot be mapped to an entity
// model.
type NotMappedError struct {
	Type   reflect.Type
	Reason string
}

func (e *NotMappedError) Error() string {
	if e.Type == nil {
		return "cannot map nil type: " + e.Reason
	}
	return fmt.Sprintf("cannot map type %s: %s", e.Type, e.Reason)
}

// MissingIDError is returned when an operation requires an entity id that is
// not set.
type MissingIDError struct {
	Type string
}

func (e *MissingIDError) Error() string {
	return fmt.Sprintf("entity of type %s has no id", e.Type)
}

// ValidationError is returned when a builder receives invalid arguments. It
// is always returned before any driver call.
type ValidationError struct {
	Operation string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Operation, e.Reason)
}

// MixedModesError is returned when a stage receives both a whole value
// expression and named fields.
type MixedModesError struct {
	Stage string
}

func (e *MixedModesError) Error() string {
	return fmt.Sprintf("mixed modes not allowed for %s", e.Stage)
}

// MixedProjectionError is returned when a projection includes and excludes
// fields other than _id at the same time.
type MixedProjectionError struct {
	Field string
}

func (e *MixedProjectionError) Error() string {
	return fmt.Sprintf("mixed projections: can't both keep and omit fields except for _id (field %q)", e.Field)
}

// NumericTypeError is returned when a numeric update receives an unsupported
// value type.
type NumericTypeError struct {
	Operation string
	Value     any
}

func (e *NumericTypeError) Error() string {
	return fmt.Sprintf("%s requires an int, int32, int64, float32 or float64 value, got %T", e.Operation, e.Value)
}

// UnsupportedOperationError is returned when an operator cannot be used the
// way it was requested.
type UnsupportedOperationError struct {
	Operation string
	Reason    string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("unsupported operation %s: %s", e.Operation, e.Reason)
}

// VersionMismatchError is returned when a versioned write does not match the
// stored version of the entity.
type VersionMismatchError struct {
	Type    string
	ID      any
	Version int64
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("entity of type %s with id %v was concurrently modified (version %d is stale)", e.Type, e.ID, e.Version)
}

// Is makes the error match [ErrConflict] and [ErrVersionMismatch].
func (e *VersionMismatchError) Is(target error) bool {
	return target == ErrConflict || target == ErrVersionMismatch
}

// ShardKeyMismatchError is returned when a targeted write on a sharded entity
// matches nothing.
type ShardKeyMismatchError struct {
	Type      string
	ID        any
	ShardKeys map[string]any
}

func (e *ShardKeyMismatchError) Error() string {
	keys := make([]string, 0, len(e.ShardKeys))
	for _, k := range slices.Sorted(maps.Keys(e.ShardKeys)) {
		keys = append(keys, fmt.Sprintf("%s=%v", k, e.ShardKeys[k]))
	}
	return fmt.Sprintf("no document of type %s with id %v matches shard key %s", e.Type, e.ID, strings.Join(keys, ","))
}

// Is makes the error match [ErrConflict] and [ErrShardKeyMismatch].
func (e *ShardKeyMismatchError) Is(target error) bool {
	return target == ErrConflict || target == ErrShardKeyMismatch
}

// CommandError is returned by drivers when the server rejects a command.
type CommandError struct {
	Code    int32
	Message string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command error %d: %s", e.Code, e.Message)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Is makes code 26 match [ErrNamespaceNotFound].
func (e *CommandError) Is(target error) bool {
	return target == ErrNamespaceNotFound && e.Code == CodeNamespaceNotFound
}

// CorruptFilesError is returned when loading a snapshot finds more
// unreadable lines than tolerated.
type CorruptFilesError struct {
	CorruptionRate        float64
	CorruptItems          int
	DataLength            int
	CorruptAlertThreshold float64
}

func (e *CorruptFilesError) Error() string {
	return fmt.Sprintf("corrupted %.2f%% (%d of %d) exceeded threshold %.2f%%",
		e.CorruptionRate*100, e.CorruptItems, e.DataLength, e.CorruptAlertThreshold*100)
}

// FlushToStorageError is returned when a file cannot be synced to disk.
type FlushToStorageError struct {
	ErrorOnFsync error
	ErrorOnClose error
}

func (e *FlushToStorageError) Error() string {
	return fmt.Sprintf("storage flush error: %v", e.Unwrap())
}

func (e *FlushToStorageError) Unwrap() error {
	if e.ErrorOnFsync != nil {
		return e.ErrorOnFsync
	}
	return e.ErrorOnClose
}
