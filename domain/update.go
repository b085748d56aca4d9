package domain

// Update operator names.
const (
	OpSet         = "$set"
	OpSetOnInsert = "$setOnInsert"
	OpUnset       = "$unset"
	OpInc         = "$inc"
	OpMul         = "$mul"
	OpMin         = "$min"
	OpMax         = "$max"
	OpRename      = "$rename"
	OpCurrentDate = "$currentDate"
	OpPush        = "$push"
	OpAddToSet    = "$addToSet"
	OpPop         = "$pop"
	OpPull        = "$pull"
	OpPullAll     = "$pullAll"
)

// UpdateOperator is one pending update registration. Values are built by the
// updates package and consumed by the update renderer.
type UpdateOperator struct {
	// Operator is the update operator, such as [OpSet].
	Operator string
	// Field is the logical path, resolved when rendered. Empty for whole
	// entity sets.
	Field string
	// Value is the operand. For [OpPush] and [OpAddToSet] it is a list
	// wrapped in $each when Each is set.
	Value any
	Each  bool
	// Push modifiers.
	Position *int
	Slice    *int
	Sort     any

	// Entity is set for the whole entity $set mode.
	Entity any
	// StripVersion removes the version property from Entity.
	StripVersion bool

	// Err is the validation error recorded when the operator was built.
	Err error
}
