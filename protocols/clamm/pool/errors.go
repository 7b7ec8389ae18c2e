package pool

import "errors"

var (
	ErrAlreadyInitialized    = errors.New("pool already initialized")
	ErrNotInitialized        = errors.New("pool not initialized")
	ErrLocked                = errors.New("pool is locked")
	ErrInvalidTickRange      = errors.New("invalid tick range")
	ErrTickMisaligned        = errors.New("tick is not a multiple of tick spacing")
	ErrZeroLiquidity         = errors.New("liquidity must be greater than zero")
	ErrZeroAmount            = errors.New("amount must not be zero")
	ErrInvalidPriceLimit     = errors.New("invalid price limit")
	ErrZeroLiquiditySwap     = errors.New("swap consumed no input")
	ErrInsufficientInput     = errors.New("insufficient input amount")
	ErrFlashInsufficientPaid = errors.New("flash loan fee not paid")
	ErrInvalidFee            = errors.New("fee out of range")
	ErrInvalidCommunityFee   = errors.New("community fee out of range")
	ErrDynamicFeeActive      = errors.New("fee is set by the plugin")
	ErrUnauthorized          = errors.New("caller is not authorized")
	ErrInvalidPluginConfig   = errors.New("invalid plugin config")
)
