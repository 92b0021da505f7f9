// Package transfer moves data between resources. An Order binds one source
// and one target with their properties, resolves the column mapping, runs
// the target pre-operations and streams the records through the pipeline.
// A Manager executes a batch of orders.
package transfer

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/tabulify/tabulify-sub009/internal/pipeline"
	"github.com/tabulify/tabulify-sub009/internal/resource"
)

// Operation is the data operation of a transfer.
type Operation int

const (
	OperationUnset Operation = iota
	OperationInsert
	OperationUpsert
	OperationUpdate
	OperationDelete
	OperationCopy
)

func (o Operation) String() string {
	switch o {
	case OperationInsert:
		return "INSERT"
	case OperationUpsert:
		return "UPSERT"
	case OperationUpdate:
		return "UPDATE"
	case OperationDelete:
		return "DELETE"
	case OperationCopy:
		return "COPY"
	default:
		return "UNSET"
	}
}

// ParseOperation parses an operation name, case-insensitively.
func ParseOperation(s string) (Operation, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INSERT":
		return OperationInsert, nil
	case "UPSERT", "MERGE":
		return OperationUpsert, nil
	case "UPDATE":
		return OperationUpdate, nil
	case "DELETE":
		return OperationDelete, nil
	case "COPY":
		return OperationCopy, nil
	}
	return OperationUnset, fmt.Errorf("unknown transfer operation %q (valid: insert, upsert, update, delete, copy)", s)
}

// StatementKind is the write statement of the operation.
func (o Operation) StatementKind() resource.StatementKind {
	switch o {
	case OperationUpsert:
		return resource.StatementMerge
	case OperationUpdate:
		return resource.StatementUpdate
	case OperationDelete:
		return resource.StatementDelete
	case OperationCopy:
		return resource.StatementCopy
	default:
		return resource.StatementInsert
	}
}

// requiresSameStructure reports whether source and target must have the
// same columns.
func (o Operation) requiresSameStructure() bool {
	return o == OperationCopy
}

// ResourceOperation is a structural operation applied to a resource before
// (target) or after (source) the data operation.
type ResourceOperation uint8

const (
	OpCreate ResourceOperation = 1 << iota
	OpDrop
	OpTruncate
)

func (o ResourceOperation) String() string {
	switch o {
	case OpCreate:
		return "CREATE"
	case OpDrop:
		return "DROP"
	case OpTruncate:
		return "TRUNCATE"
	}
	return "UNKNOWN"
}

// ResourceOperations is a set of resource operations.
type ResourceOperations uint8

// Has reports whether op is in the set.
func (s ResourceOperations) Has(op ResourceOperation) bool {
	return uint8(s)&uint8(op) != 0
}

// With returns the set plus op.
func (s ResourceOperations) With(op ResourceOperation) ResourceOperations {
	return ResourceOperations(uint8(s) | uint8(op))
}

// List returns the operations in CREATE, DROP, TRUNCATE order.
func (s ResourceOperations) List() []ResourceOperation {
	var out []ResourceOperation
	for _, op := range []ResourceOperation{OpCreate, OpDrop, OpTruncate} {
		if s.Has(op) {
			out = append(out, op)
		}
	}
	return out
}

func (s ResourceOperations) String() string {
	var names []string
	for _, op := range s.List() {
		names = append(names, op.String())
	}
	return strings.Join(names, ",")
}

// Ops builds a set.
func Ops(ops ...ResourceOperation) ResourceOperations {
	var s ResourceOperations
	for _, op := range ops {
		s = s.With(op)
	}
	return s
}

// ParseResourceOperations parses a comma separated list such as
// "drop,create". An empty string is the empty set.
func ParseResourceOperations(s string) (ResourceOperations, error) {
	var set ResourceOperations
	for _, part := range strings.Split(s, ",") {
		switch strings.ToUpper(strings.TrimSpace(part)) {
		case "":
		case "CREATE":
			set = set.With(OpCreate)
		case "DROP", "REPLACE":
			set = set.With(OpDrop)
		case "TRUNCATE":
			set = set.With(OpTruncate)
		default:
			return 0, fmt.Errorf("unknown resource operation %q (valid: create, drop, truncate)", part)
		}
	}
	return set, nil
}

// MappingMethod is how source columns are matched to target columns.
type MappingMethod int

const (
	MappingUnset MappingMethod = iota
	MappingPosition
	MappingName
	MappingMapByPosition
	MappingMapByName
)

func (m MappingMethod) String() string {
	switch m {
	case MappingPosition:
		return "POSITION"
	case MappingName:
		return "NAME"
	case MappingMapByPosition:
		return "MAP_BY_POSITION"
	case MappingMapByName:
		return "MAP_BY_NAME"
	}
	return "UNSET"
}

// ParseMappingMethod parses a mapping method name.
func ParseMappingMethod(s string) (MappingMethod, error) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "":
		return MappingUnset, nil
	case "POSITION":
		return MappingPosition, nil
	case "NAME":
		return MappingName, nil
	case "MAP_BY_POSITION":
		return MappingMapByPosition, nil
	case "MAP_BY_NAME":
		return MappingMapByName, nil
	}
	return MappingUnset, fmt.Errorf("unknown column mapping method %q (valid: position, name, map_by_position, map_by_name)", s)
}

// ParseUpsertType parses an upsert strategy name.
func ParseUpsertType(s string) (resource.UpsertType, error) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "", "MERGE":
		return resource.UpsertMerge, nil
	case "INSERT_UPDATE":
		return resource.UpsertInsertUpdate, nil
	case "UPDATE_INSERT":
		return resource.UpsertUpdateInsert, nil
	}
	return resource.UpsertMerge, fmt.Errorf("unknown upsert type %q (valid: merge, insert_update, update_insert)", s)
}

// CrossProperties tune the pipeline of every order. The zero value is not
// valid; use NewCrossProperties.
type CrossProperties struct {
	bufferSize        int
	targetWorkers     int
	fetchSize         int
	batchSize         int
	commitFrequency   int
	timeout           time.Duration
	feedbackFrequency int64
	metricsSink       string
}

// CrossOption sets a cross property.
type CrossOption func(*CrossProperties)

// WithBufferSize sets the queue capacity in rows.
func WithBufferSize(n int) CrossOption { return func(p *CrossProperties) { p.bufferSize = n } }

// WithTargetWorkers sets the number of writers.
func WithTargetWorkers(n int) CrossOption { return func(p *CrossProperties) { p.targetWorkers = n } }

func WithFetchSize(n int) CrossOption { return func(p *CrossProperties) { p.fetchSize = n } }

func WithBatchSize(n int) CrossOption { return func(p *CrossProperties) { p.batchSize = n } }

// WithCommitFrequency sets the number of batches between commits. 0
// commits only at the end.
func WithCommitFrequency(n int) CrossOption {
	return func(p *CrossProperties) { p.commitFrequency = n }
}

// WithTimeout bounds the queue waits. 0 waits forever.
func WithTimeout(d time.Duration) CrossOption { return func(p *CrossProperties) { p.timeout = d } }

func WithFeedbackFrequency(rows int64) CrossOption {
	return func(p *CrossProperties) { p.feedbackFrequency = rows }
}

// WithMetricsSink sets where pipeline metrics go (see metrics.Open).
func WithMetricsSink(spec string) CrossOption {
	return func(p *CrossProperties) { p.metricsSink = spec }
}

// NewCrossProperties applies opts over the defaults and validates the
// result.
func NewCrossProperties(opts ...CrossOption) (CrossProperties, error) {
	p := CrossProperties{
		targetWorkers: 1,
		fetchSize:     10000,
		batchSize:     10000,
	}
	for _, opt := range opts {
		opt(&p)
	}
	var errs []error
	if p.targetWorkers < 1 {
		errs = append(errs, fmt.Errorf("target workers must be at least 1, got %d", p.targetWorkers))
	}
	if p.fetchSize < 1 {
		errs = append(errs, fmt.Errorf("fetch size must be at least 1, got %d", p.fetchSize))
	}
	if p.batchSize < 1 {
		errs = append(errs, fmt.Errorf("batch size must be at least 1, got %d", p.batchSize))
	}
	if p.commitFrequency < 0 {
		errs = append(errs, fmt.Errorf("commit frequency cannot be negative, got %d", p.commitFrequency))
	}
	if p.bufferSize < 0 {
		errs = append(errs, fmt.Errorf("buffer size cannot be negative, got %d", p.bufferSize))
	}
	if p.timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout cannot be negative, got %s", p.timeout))
	}
	if p.feedbackFrequency < 0 {
		errs = append(errs, fmt.Errorf("feedback frequency cannot be negative, got %d", p.feedbackFrequency))
	}
	if err := errors.Join(errs...); err != nil {
		return CrossProperties{}, fmt.Errorf("invalid transfer properties: %w", err)
	}
	if p.bufferSize == 0 {
		p.bufferSize = 2 * p.targetWorkers * p.fetchSize
	}
	return p, nil
}

func (p CrossProperties) BufferSize() int          { return p.bufferSize }
func (p CrossProperties) TargetWorkers() int       { return p.targetWorkers }
func (p CrossProperties) FetchSize() int           { return p.fetchSize }
func (p CrossProperties) BatchSize() int           { return p.batchSize }
func (p CrossProperties) CommitFrequency() int     { return p.commitFrequency }
func (p CrossProperties) Timeout() time.Duration   { return p.timeout }
func (p CrossProperties) FeedbackFrequency() int64 { return p.feedbackFrequency }
func (p CrossProperties) MetricsSink() string      { return p.metricsSink }
func (p CrossProperties) pipelineConfig() pipeline.Config {
	return pipeline.Config{
		FetchSize:         p.fetchSize,
		BatchSize:         p.batchSize,
		CommitFrequency:   p.commitFrequency,
		TargetWorkers:     p.targetWorkers,
		BufferSize:        p.bufferSize,
		Timeout:           p.timeout,
		FeedbackFrequency: p.feedbackFrequency,
	}
}

// SystemProperties are the semantics of a transfer between two systems.
type SystemProperties struct {
	operation           Operation
	bindVariables       bool
	sourceOperations    ResourceOperations
	targetOperations    ResourceOperations
	mappingMethod       MappingMethod
	mapByPosition       map[int]int
	mapByName           map[string]string
	strictMapping       bool
	upsertType          resource.UpsertType
	runPreDataOperation bool
}

// SystemOption sets a system property.
type SystemOption func(*SystemProperties)

// WithBindVariables toggles prepared statement parameters.
func WithBindVariables(on bool) SystemOption {
	return func(p *SystemProperties) { p.bindVariables = on }
}

// WithSourceOperations sets the operations applied to the source after a
// successful load.
func WithSourceOperations(ops ResourceOperations) SystemOption {
	return func(p *SystemProperties) { p.sourceOperations = ops }
}

// WithTargetOperations sets the operations applied to the target before
// the load. The default is CREATE.
func WithTargetOperations(ops ResourceOperations) SystemOption {
	return func(p *SystemProperties) { p.targetOperations = ops }
}

func WithMappingMethod(m MappingMethod) SystemOption {
	return func(p *SystemProperties) { p.mappingMethod = m }
}

// WithMapByPosition maps source positions to target positions.
func WithMapByPosition(m map[int]int) SystemOption {
	return func(p *SystemProperties) {
		p.mapByPosition = maps.Clone(m)
		p.mappingMethod = MappingMapByPosition
	}
}

// WithMapByName maps source column names to target column names.
func WithMapByName(m map[string]string) SystemOption {
	return func(p *SystemProperties) {
		p.mapByName = maps.Clone(m)
		p.mappingMethod = MappingMapByName
	}
}

// WithStrictMapping makes an unmatched column fatal (the default).
func WithStrictMapping(strict bool) SystemOption {
	return func(p *SystemProperties) { p.strictMapping = strict }
}

func WithUpsertType(u resource.UpsertType) SystemOption {
	return func(p *SystemProperties) { p.upsertType = u }
}

// WithRunPreDataOperation gates the structural and destructive target
// operations.
func WithRunPreDataOperation(run bool) SystemOption {
	return func(p *SystemProperties) { p.runPreDataOperation = run }
}

// NewSystemProperties returns the properties for op. It fails when op is
// unset or when an explicit mapping method has no map.
func NewSystemProperties(op Operation, opts ...SystemOption) (SystemProperties, error) {
	if op == OperationUnset {
		return SystemProperties{}, errors.New("the transfer operation is mandatory")
	}
	p := SystemProperties{
		operation:           op,
		bindVariables:       true,
		targetOperations:    Ops(OpCreate),
		strictMapping:       true,
		upsertType:          resource.UpsertMerge,
		runPreDataOperation: true,
	}
	for _, opt := range opts {
		opt(&p)
	}
	switch {
	case p.mappingMethod == MappingMapByPosition && len(p.mapByPosition) == 0:
		return SystemProperties{}, errors.New("the column mapping method MAP_BY_POSITION requires a column map")
	case p.mappingMethod == MappingMapByName && len(p.mapByName) == 0:
		return SystemProperties{}, errors.New("the column mapping method MAP_BY_NAME requires a column map")
	}
	return p, nil
}

func (p SystemProperties) Operation() Operation                 { return p.operation }
func (p SystemProperties) BindVariables() bool                  { return p.bindVariables }
func (p SystemProperties) SourceOperations() ResourceOperations { return p.sourceOperations }
func (p SystemProperties) TargetOperations() ResourceOperations { return p.targetOperations }
func (p SystemProperties) MappingMethod() MappingMethod         { return p.mappingMethod }
func (p SystemProperties) MapByPosition() map[int]int           { return maps.Clone(p.mapByPosition) }
func (p SystemProperties) MapByName() map[string]string         { return maps.Clone(p.mapByName) }
func (p SystemProperties) StrictMapping() bool                  { return p.strictMapping }
func (p SystemProperties) UpsertType() resource.UpsertType      { return p.upsertType }
func (p SystemProperties) RunPreDataOperation() bool            { return p.runPreDataOperation }

// isMove reports whether the source is dropped after the load.
func (p SystemProperties) isMove() bool {
	return p.sourceOperations.Has(OpDrop)
}
