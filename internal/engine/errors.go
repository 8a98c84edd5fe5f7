package engine

import "errors"

// Business-rule errors surfaced by the trade and settlement engines.
// Handlers map these to HTTP statuses with errors.Is; none of them leaves
// partial state behind.
var (
	// ErrInvalidAmount rejects non-positive stakes.
	ErrInvalidAmount = errors.New("engine: trade amount must be positive")

	// ErrEventNotTradeable rejects trades against resolved, cancelled, or
	// ended events.
	ErrEventNotTradeable = errors.New("engine: event is not open for trading")

	// ErrInvalidOption rejects options that do not belong to the event.
	ErrInvalidOption = errors.New("engine: option does not belong to event")

	// ErrUserInactive rejects trades from deactivated accounts.
	ErrUserInactive = errors.New("engine: user account is deactivated")

	// ErrNotCancellable rejects cancellation of settled trades or trades
	// past the event's lock time.
	ErrNotCancellable = errors.New("engine: trade can no longer be cancelled")

	// ErrAlreadySettled rejects a second settlement of the same event.
	ErrAlreadySettled = errors.New("engine: event already settled")

	// ErrAlreadyCancelled rejects operations on a cancelled event.
	ErrAlreadyCancelled = errors.New("engine: event already cancelled")

	// ErrSettlementIncomplete reports a settlement run that left some
	// trades pending after a transient failure. The run can be retried;
	// already-settled trades are not reprocessed.
	ErrSettlementIncomplete = errors.New("engine: settlement incomplete, retry to settle remaining trades")
)
