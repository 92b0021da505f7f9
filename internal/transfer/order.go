package transfer

import (
	"context"
	"fmt"
	"sync"

	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
	"github.com/tabulify/tabulify-sub009/internal/logging"
	"github.com/tabulify/tabulify-sub009/internal/resource"
)

// State is the progress of an order through the pre-operation protocol.
type State int

const (
	NotPrepared State = iota
	TargetChecked
	StructureEnsured
	Validated
)

func (s State) String() string {
	switch s {
	case TargetChecked:
		return "target-checked"
	case StructureEnsured:
		return "structure-ensured"
	case Validated:
		return "validated"
	}
	return "not-prepared"
}

// Order is the unit of transfer work: one source, one target and the
// properties of the transfer between their systems.
type Order struct {
	source *resource.DataPath
	target *resource.DataPath
	props  SystemProperties

	mu      sync.Mutex
	method  MappingMethod
	mapping *ColumnMapping
	state   State
}

// NewOrder binds source and target.
func NewOrder(source, target *resource.DataPath, props SystemProperties) *Order {
	return &Order{source: source, target: target, props: props}
}

func (o *Order) Source() *resource.DataPath   { return o.source }
func (o *Order) Target() *resource.DataPath   { return o.target }
func (o *Order) Properties() SystemProperties { return o.props }

func (o *Order) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Order) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Order) String() string {
	return o.source.String() + " -> " + o.target.String()
}

// IsRename reports whether the order moves the source within one service:
// the source is dropped after the load, the operation is an INSERT into a
// dropped target or a COPY, both resources live on the same service and the
// source is not the result of a script.
func (o *Order) IsRename() bool {
	op := o.props.Operation()
	move := o.props.isMove() &&
		((op == OperationInsert && o.props.TargetOperations().Has(OpDrop)) || op == OperationCopy)
	if !move || o.source.IsRuntime() {
		return false
	}
	return o.source.Connection().ServiceID() == o.target.Connection().ServiceID()
}

// renamer returns the data system that moves the source in place. A rename
// on a backend without one runs as a copy followed by the source drop.
func (o *Order) renamer() (resource.Renamer, bool) {
	if !o.IsRename() {
		return nil, false
	}
	r, ok := o.target.DataSystem().(resource.Renamer)
	return r, ok
}

// SourcePreChecks verifies that the source can be read: a script must exist
// for an executable source, the resource itself otherwise.
func (o *Order) SourcePreChecks(ctx context.Context) error {
	check := o.source
	if o.source.IsRuntime() {
		check = o.source.Script()
	}
	exists, err := check.Exists(ctx)
	if err != nil {
		return fmt.Errorf("checking the source %s: %w", check, err)
	}
	if !exists {
		return fmt.Errorf("the source (%s) does not exist: %w", check, exitcodes.ErrNotFound)
	}
	return nil
}

// TargetPreOperationsAndCheck prepares the target: it applies the DROP,
// CREATE and TRUNCATE operations, ensures the target has a structure and
// validates it against the source. With createTarget false the structure
// is left to the write path.
func (o *Order) TargetPreOperationsAndCheck(ctx context.Context, l *Listener, createTarget bool) error {
	target := o.target
	ds := target.DataSystem()
	ops := o.props.TargetOperations()

	if !o.props.RunPreDataOperation() {
		tdef, err := target.Relation(ctx)
		if err != nil {
			return err
		}
		if tdef.FreeForm {
			if err := o.recreateStructure(ctx); err != nil {
				return err
			}
		}
		o.setState(StructureEnsured)
		return o.validate(ctx)
	}

	exists, err := target.Exists(ctx)
	if err != nil {
		return fmt.Errorf("checking the target %s: %w", target, err)
	}
	if ops.Has(OpDrop) && exists {
		if err := supports(target, resource.CapDrop, OpDrop); err != nil {
			return err
		}
		if err := ds.Drop(ctx, target); err != nil {
			return fmt.Errorf("dropping the target %s: %w", target, err)
		}
		l.addTargetOperation(OpDrop)
		target.ForgetRelation()
		exists = false
	}
	o.setState(TargetChecked)

	if !createTarget {
		return nil
	}
	if _, ok := o.renamer(); ok {
		return nil
	}

	tdef, err := target.Relation(ctx)
	if err != nil {
		return err
	}
	recreate := tdef.FreeForm || !exists
	if !recreate && ops.Has(OpDrop) {
		empty, err := ds.IsEmpty(ctx, target)
		if err != nil {
			return fmt.Errorf("checking the target %s: %w", target, err)
		}
		if empty {
			if err := supports(target, resource.CapDrop, OpDrop); err != nil {
				return err
			}
			if err := ds.Drop(ctx, target); err != nil {
				return fmt.Errorf("dropping the target %s: %w", target, err)
			}
			l.addTargetOperation(OpDrop)
			target.ForgetRelation()
			recreate = true
		}
	}
	if recreate {
		if err := o.recreateStructure(ctx); err != nil {
			return err
		}
	}

	exists, err = target.Exists(ctx)
	if err != nil {
		return fmt.Errorf("checking the target %s: %w", target, err)
	}
	if !exists {
		if !ops.Has(OpCreate) && !ops.Has(OpDrop) {
			return fmt.Errorf("the target (%s) does not exist. Create it or add the %s target operation: %w",
				target, OpCreate, exitcodes.ErrStructure)
		}
		if err := supports(target, resource.CapCreate, OpCreate); err != nil {
			return err
		}
		if err := ds.Create(ctx, target, o.source); err != nil {
			return fmt.Errorf("creating the target %s: %w", target, err)
		}
		l.addTargetOperation(OpCreate)
	}
	o.setState(StructureEnsured)

	if ops.Has(OpTruncate) {
		if err := supports(target, resource.CapTruncate, OpTruncate); err != nil {
			return err
		}
		if err := ds.Truncate(ctx, target); err != nil {
			return fmt.Errorf("truncating the target %s: %w", target, err)
		}
		l.addTargetOperation(OpTruncate)
	}

	if o.props.Operation() == OperationCopy && !ops.Has(OpTruncate) && !ops.Has(OpDrop) {
		empty, err := ds.IsEmpty(ctx, target)
		if err != nil {
			return fmt.Errorf("checking the target %s: %w", target, err)
		}
		if !empty {
			return fmt.Errorf("the target (%s) is not empty. Add the %s or %s target operation to the %s operation: %w",
				target, OpTruncate, OpDrop, OperationCopy, exitcodes.ErrNotEmpty)
		}
	}

	return o.validate(ctx)
}

// supports fails when the connection of dp cannot run op.
func supports(dp *resource.DataPath, c resource.Capability, op ResourceOperation) error {
	conn := dp.Connection()
	if conn.Capabilities().Has(c) {
		return nil
	}
	return fmt.Errorf("the %s operation cannot run on %s: the connection (%s) only supports %s: %w",
		op, dp, conn.Name(), conn.Capabilities(), exitcodes.ErrUnsupported)
}

// recreateStructure declares the target columns again from the source.
func (o *Order) recreateStructure(ctx context.Context) error {
	src, err := o.source.Relation(ctx)
	if err != nil {
		return err
	}
	if src.Len() == 0 {
		return fmt.Errorf("the source (%s) has no columns, the structure of the target (%s) cannot be created: %w",
			o.source, o.target, exitcodes.ErrStructure)
	}
	tgt, err := o.target.Relation(ctx)
	if err != nil {
		return err
	}
	tgt.Reset()
	return o.buildTargetColumns(ctx, src, tgt)
}

// validate checks the target structure against the source and logs the
// columns whose types differ.
func (o *Order) validate(ctx context.Context) error {
	tgt, err := o.target.Relation(ctx)
	if err != nil {
		return err
	}
	if tgt.Len() == 0 {
		return fmt.Errorf("the target (%s) has no columns: %w", o.target, exitcodes.ErrInternal)
	}
	method, err := o.MappingMethod(ctx)
	if err != nil {
		return err
	}
	op := o.props.Operation()
	if op.requiresSameStructure() && method != MappingPosition && method != MappingName {
		return fmt.Errorf("the %s operation requires the same structure and does not support the %s column mapping. Remove the column mapping or use the %s operation: %w",
			op, method, OperationInsert, exitcodes.ErrStructure)
	}
	mapping, err := o.ColumnMapping(ctx)
	if err != nil {
		return err
	}
	if op.requiresSameStructure() {
		src, err := o.source.Relation(ctx)
		if err != nil {
			return err
		}
		for _, sc := range src.Columns() {
			if _, ok := mapping.Get(sc); !ok {
				return fmt.Errorf("the %s operation requires the same structure but the source column (%s) has no target column by %s in %s: %w",
					op, sc.Name, method, o.target, exitcodes.ErrStructure)
			}
		}
	}
	for _, sc := range mapping.Keys() {
		tc, _ := mapping.Get(sc)
		if sc.Type != tc.Type {
			logging.Debug("%s: the source column %s (%s) and the target column %s (%s) have different types, values are converted on write",
				o, sc.Name, sc.Type, tc.Name, tc.Type)
		}
	}
	o.setState(Validated)
	return nil
}

// SourcePostOperations applies the source operations after a successful
// load. A script source has no operation.
func (o *Order) SourcePostOperations(ctx context.Context, l *Listener) error {
	if o.source.IsRuntime() {
		return nil
	}
	ops := o.props.SourceOperations()
	ds := o.source.DataSystem()
	if ops.Has(OpTruncate) && !ops.Has(OpDrop) {
		if err := supports(o.source, resource.CapTruncate, OpTruncate); err != nil {
			return err
		}
		if err := ds.Truncate(ctx, o.source); err != nil {
			return fmt.Errorf("truncating the source %s: %w", o.source, err)
		}
		l.addSourceOperation(OpTruncate)
	}
	if ops.Has(OpDrop) {
		if err := supports(o.source, resource.CapDrop, OpDrop); err != nil {
			return err
		}
		if err := ds.Drop(ctx, o.source); err != nil {
			return fmt.Errorf("dropping the source %s: %w", o.source, err)
		}
		l.addSourceOperation(OpDrop)
	}
	return nil
}
