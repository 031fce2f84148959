package core

import "errors"

var (
	// ErrStage is returned when an impression setter is called out of lifecycle order.
	ErrStage = errors.New("impression stage violation")

	// ErrInvariant is returned when a resolution would break a record invariant,
	// e.g. a loss carrying a non-zero price.
	ErrInvariant = errors.New("impression invariant violation")

	// ErrOpenImpression is returned when an agent is asked to bid while its
	// previous record is still unresolved.
	ErrOpenImpression = errors.New("agent has an unresolved impression")

	// ErrNoOpenImpression is returned when a resolution step finds no open record.
	ErrNoOpenImpression = errors.New("agent has no open impression")

	// ErrAllocationContract is returned when an allocation mechanism returns a
	// result that violates its contract.
	ErrAllocationContract = errors.New("allocation mechanism contract violation")

	// ErrInvalidConfig is returned by constructors for unusable parameters.
	ErrInvalidConfig = errors.New("invalid configuration")
)
