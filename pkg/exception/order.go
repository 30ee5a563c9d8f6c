package exception

import "github.com/yanun0323/errors"

var (
	ErrOrderUnsupportedAction  = errors.New("order: unsupported action")
	ErrOrderInvalidRequest     = errors.Wrap(ErrBadRequest, "order: invalid request")
	ErrOrderMismatchPlatform   = errors.Wrap(ErrConfiguration, "order: mismatch platform")
	ErrOrderUnsupportedType    = errors.Wrap(ErrBadRequest, "order: unsupported type")
	ErrOrderNilDelegator       = errors.Wrap(ErrConfiguration, "order: nil delegator")
	ErrOrderInvalidWorker      = errors.Wrap(ErrConfiguration, "order: invalid worker config")
	ErrOrderQueueFull          = errors.New("order: queue full")
	ErrOrderNotRunning         = errors.New("order: usecase not running")
	ErrOrderDecodeResponseBody = errors.Wrap(ErrProtocol, "order: decode response body")
	ErrOrderEmptyResponseID    = errors.Wrap(ErrProtocol, "order: empty response order id")
	ErrOrderNotFound           = errors.Wrap(ErrBadRequest, "order: not found")
	ErrOrderDuplicate          = errors.Wrap(ErrBadRequest, "order: duplicate client order id")
	ErrOrderInvalidTransition  = errors.New("order: invalid state transition")
)

var (
	ErrWalletInvalidMnemonic = errors.Wrap(ErrConfiguration, "wallet: invalid mnemonic")
	ErrWalletDerive          = errors.Wrap(ErrConfiguration, "wallet: key derivation failed")
	ErrWalletSequenceUnknown = errors.New("wallet: account sequence unknown")
)

var ErrRiskRejected = errors.Wrap(ErrBadRequest, "risk: order rejected")
