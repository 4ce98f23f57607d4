package core

import "errors"

// Error kinds shared across the core. Each message is the kind name so that
// wrapped errors read "Kind: detail" when persisted or returned.
var (
	ErrChatbotNotFound      = errors.New("ChatbotNotFound")
	ErrQuotaExceeded        = errors.New("QuotaExceeded")
	ErrUnsupportedFormat    = errors.New("UnsupportedFormat")
	ErrPayloadTooLarge      = errors.New("PayloadTooLarge")
	ErrFetchFailed          = errors.New("FetchFailed")
	ErrRetrievalUnavailable = errors.New("RetrievalUnavailable")
	ErrProviderTimeout      = errors.New("ProviderTimeout")
	ErrProviderRateLimited  = errors.New("ProviderRateLimited")
	ErrProviderUnavailable  = errors.New("ProviderUnavailable")
	ErrProviderRejected     = errors.New("ProviderRejected")

	ErrSourceNotFound       = errors.New("SourceNotFound")
	ErrConversationNotFound = errors.New("ConversationNotFound")
	ErrInvalidTransition    = errors.New("InvalidTransition")
	ErrForbidden            = errors.New("Forbidden")
	ErrUnknownProvider      = errors.New("UnknownProvider")
	ErrInvalidInput         = errors.New("InvalidInput")
)

// IsProviderError reports whether err is one of the gateway failure kinds.
func IsProviderError(err error) bool {
	return errors.Is(err, ErrProviderTimeout) ||
		errors.Is(err, ErrProviderRateLimited) ||
		errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrProviderRejected) ||
		errors.Is(err, ErrUnknownProvider)
}
