package errors

// Category groups errors by subsystem for logging and reporting.
type Category string

const (
	CategoryConfig     Category = "config"
	CategoryIO         Category = "io"
	CategoryProvider   Category = "provider"
	CategoryStore      Category = "store"
	CategoryIndexing   Category = "indexing"
	CategoryInternal   Category = "internal"
	CategoryValidation Category = "validation"
)

// Severity indicates how an error should be handled by the caller.
type Severity int

const (
	// SeverityWarning errors are recorded and processing continues.
	SeverityWarning Severity = iota
	// SeverityError errors fail the current operation.
	SeverityError
	// SeverityFatal errors abort the current job.
	SeverityFatal
)

// Error codes. The numeric band encodes the category:
// 1xx config, 2xx io, 3xx provider, 4xx store, 5xx indexing, 9xx internal.
const (
	ErrCodeConfigInvalid = "QRY_101_CONFIG_INVALID"

	ErrCodeFileNotFound   = "QRY_201_FILE_NOT_FOUND"
	ErrCodeFileUnreadable = "QRY_202_FILE_UNREADABLE"
	ErrCodeRootVanished   = "QRY_203_WORKSPACE_ROOT_VANISHED"

	ErrCodeProviderTimeout     = "QRY_301_PROVIDER_TIMEOUT"
	ErrCodeProviderRateLimited = "QRY_302_PROVIDER_RATE_LIMITED"
	ErrCodeProviderAuth        = "QRY_303_PROVIDER_AUTH"
	ErrCodeProviderResponse    = "QRY_304_PROVIDER_BAD_RESPONSE"

	ErrCodeStoreUnreachable    = "QRY_401_STORE_UNREACHABLE"
	ErrCodeCollectionCollision = "QRY_402_COLLECTION_COLLISION"

	ErrCodeAlreadyIndexing = "QRY_501_ALREADY_INDEXING"
	ErrCodeNotPaused       = "QRY_502_NOT_PAUSED"
	ErrCodeNotRunning      = "QRY_503_NOT_RUNNING"
	ErrCodeJobFailed       = "QRY_504_JOB_FAILED"

	ErrCodeInvalidInput = "QRY_901_INVALID_INPUT"
	ErrCodeInternal     = "QRY_902_INTERNAL"
)

// categoryFromCode derives the category from the code's numeric band.
func categoryFromCode(code string) Category {
	if len(code) < 5 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryProvider
	case '4':
		return CategoryStore
	case '5':
		return CategoryIndexing
	default:
		return CategoryInternal
	}
}

// severityFromCode derives the default severity for a code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeRootVanished, ErrCodeCollectionCollision:
		return SeverityFatal
	case ErrCodeFileNotFound, ErrCodeFileUnreadable:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// isRetryableCode reports whether operations failing with this code may be retried.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeProviderTimeout, ErrCodeProviderRateLimited, ErrCodeStoreUnreachable:
		return true
	default:
		return false
	}
}
