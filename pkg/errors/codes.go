// Package errors provides error code constants for palinor.
// Error codes are organized by category for consistent handling and lookup.
package errors

// -----------------------------------------------------------------------------
// Configuration Error Codes
// -----------------------------------------------------------------------------
// Surfaced immediately, never retried.

const (
	// ErrConfigNotFound indicates the configuration file does not exist.
	ErrConfigNotFound = "CONFIG_NOT_FOUND"

	// ErrConfigParseFailed indicates the configuration file could not be parsed.
	ErrConfigParseFailed = "CONFIG_PARSE_FAILED"

	// ErrConfigInvalid indicates configuration values are invalid.
	ErrConfigInvalid = "CONFIG_INVALID"

	// ErrConfigWriteFailed indicates the config file could not be written.
	ErrConfigWriteFailed = "CONFIG_WRITE_FAILED"

	// ErrLayerInvalid indicates a layer id does not resolve for the model depth.
	ErrLayerInvalid = "LAYER_INVALID"

	// ErrLayerDuplicate indicates two layer ids resolve to the same block.
	ErrLayerDuplicate = "LAYER_DUPLICATE"

	// ErrDatasetEmpty indicates a dataset produced no prompt pairs.
	ErrDatasetEmpty = "DATASET_EMPTY"

	// ErrVectorDimMismatch indicates a vector's hidden dim differs from the model's.
	ErrVectorDimMismatch = "VECTOR_DIM_MISMATCH"

	// ErrDirectionDegenerate indicates positive and negative activations were identical.
	ErrDirectionDegenerate = "DIRECTION_DEGENERATE"
)

// -----------------------------------------------------------------------------
// Device Error Codes
// -----------------------------------------------------------------------------

const (
	// ErrDeviceOutOfMemory indicates a forward pass exceeded device memory.
	// Capture retries it with smaller batches before surfacing it.
	ErrDeviceOutOfMemory = "DEVICE_OUT_OF_MEMORY"
)

// -----------------------------------------------------------------------------
// Serialization Error Codes
// -----------------------------------------------------------------------------

const (
	// ErrVectorCorrupt indicates a persisted vector could not be decoded or failed its checksum.
	ErrVectorCorrupt = "VECTOR_CORRUPT"

	// ErrVectorVersionUnsupported indicates an unknown format_version.
	ErrVectorVersionUnsupported = "VECTOR_VERSION_UNSUPPORTED"
)

// -----------------------------------------------------------------------------
// State Error Codes
// -----------------------------------------------------------------------------

const (
	// ErrVectorUntrained indicates an operation needs a trained vector.
	ErrVectorUntrained = "VECTOR_UNTRAINED"

	// ErrSteeringHooksMissing indicates a steering session lost its hooks.
	ErrSteeringHooksMissing = "STEERING_HOOKS_MISSING"

	// ErrSteeringClosed indicates the controller was closed.
	ErrSteeringClosed = "STEERING_CLOSED"

	// ErrHooksInconsistent indicates the host refused or lost a hook mid-attach.
	ErrHooksInconsistent = "HOOKS_INCONSISTENT"
)

// -----------------------------------------------------------------------------
// Validation, Command, IO and Internal Error Codes
// -----------------------------------------------------------------------------

const (
	// ErrValidationRequired indicates a required field is missing.
	ErrValidationRequired = "VALIDATION_REQUIRED"

	// ErrValidationInvalidValue indicates a value is invalid.
	ErrValidationInvalidValue = "VALIDATION_INVALID_VALUE"

	// ErrDatasetInvalid indicates a dataset record could not be parsed.
	ErrDatasetInvalid = "DATASET_INVALID"

	// ErrCommandMissingArgs indicates required arguments are missing.
	ErrCommandMissingArgs = "COMMAND_MISSING_ARGS"

	// ErrCommandInvalidArg indicates an argument value is invalid.
	ErrCommandInvalidArg = "COMMAND_INVALID_ARG"

	// ErrCommandNotFound indicates the command does not exist.
	ErrCommandNotFound = "COMMAND_NOT_FOUND"

	// ErrIOReadFailed indicates a file read failed.
	ErrIOReadFailed = "IO_READ_FAILED"

	// ErrIOWriteFailed indicates a file write failed.
	ErrIOWriteFailed = "IO_WRITE_FAILED"

	// ErrVectorNotFound indicates no catalog entry matched.
	ErrVectorNotFound = "VECTOR_NOT_FOUND"

	// ErrRegistryFailed indicates a catalog database operation failed.
	ErrRegistryFailed = "REGISTRY_FAILED"

	// ErrInternal indicates an unexpected failure.
	ErrInternal = "INTERNAL_ERROR"
)
