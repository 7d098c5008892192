// Package errors provides structured error handling for the resolution engine.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Action errors
	CodeActionCharacterRequired Code = "ACTION_CHARACTER_REQUIRED"
	CodeActionTypeRequired      Code = "ACTION_TYPE_REQUIRED"
	CodeActionUnknownType       Code = "ACTION_UNKNOWN_TYPE"
	CodeActionMissingTarget     Code = "ACTION_MISSING_TARGET"
	CodeActionNotCancelable     Code = "ACTION_NOT_CANCELABLE"

	// Battle errors
	CodeBattleNoTargets      Code = "BATTLE_NO_TARGETS"
	CodeBattleGroupNotFound  Code = "BATTLE_GROUP_NOT_FOUND"
	CodeBattleCharacterBusy  Code = "BATTLE_CHARACTER_BUSY"
	CodeBattleGroupsInvalid  Code = "BATTLE_GROUPS_INVALID"
	CodeBattleChannelFailure Code = "BATTLE_CHANNEL_FAILURE"

	// Settlement errors
	CodeSettlementNameEmpty  Code = "SETTLEMENT_NAME_EMPTY"
	CodeSettlementNotAllowed Code = "SETTLEMENT_NOT_ALLOWED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"

	// Random/seed errors
	CodeSeedFailure Code = "SEED_FAILURE"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeActionCharacterRequired,
		CodeActionTypeRequired,
		CodeActionMissingTarget,
		CodeBattleNoTargets,
		CodeSettlementNameEmpty:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeActionNotCancelable,
		CodeBattleCharacterBusy,
		CodeBattleGroupsInvalid,
		CodeSettlementNotAllowed:
		return codes.FailedPrecondition

	// NotFound - resource doesn't exist
	case CodeNotFound,
		CodeActionUnknownType,
		CodeBattleGroupNotFound:
		return codes.NotFound

	default:
		return codes.Internal
	}
}
