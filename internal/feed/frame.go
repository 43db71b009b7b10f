package feed

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"yield-router/internal/domain"
)

// ErrMalformedFrame is returned for frames that cannot be decoded into a
// well-formed observation event.
var ErrMalformedFrame = errors.New("malformed feed frame")

// frame is the wire shape of one observation. Amounts and rates travel
// as decimal strings.
type frame struct {
	Kind        string `json:"kind"`
	TimestampMs int64  `json:"timestamp_ms"`
	Domain      uint64 `json:"domain,omitempty"`
	PoolAddress string `json:"pool_address,omitempty"`
	Rate        string `json:"rate,omitempty"`
	Liquidity   string `json:"liquidity,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Depositor   string `json:"depositor,omitempty"`
}

// DecodeFrame parses one feed message into an observation event.
func DecodeFrame(data []byte) (*domain.Event, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	ev := &domain.Event{
		Kind:      domain.EventKind(f.Kind),
		Timestamp: f.TimestampMs,
	}

	switch ev.Kind {
	case domain.EventRateUpdated:
		if f.PoolAddress == "" {
			return nil, fmt.Errorf("%w: rate update without pool address", ErrMalformedFrame)
		}
		rate, err := parseDecimal(f.Rate)
		if err != nil {
			return nil, err
		}
		liquidity, err := parseDecimal(f.Liquidity)
		if err != nil {
			return nil, err
		}
		ev.Domain = domain.DomainID(f.Domain)
		ev.PoolAddress = domain.Address(f.PoolAddress)
		ev.Rate = rate
		ev.LiquidityIndex = liquidity

	case domain.EventCapitalDeposited:
		amount, err := parseDecimal(f.Amount)
		if err != nil {
			return nil, err
		}
		if amount.IsZero() {
			return nil, fmt.Errorf("%w: zero deposit", ErrMalformedFrame)
		}
		ev.Amount = amount
		ev.Depositor = domain.Address(f.Depositor)

	case domain.EventStrategyActivated, domain.EventStrategyDeactivated:
		// No payload beyond kind and timestamp.

	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedFrame, f.Kind)
	}

	return ev, nil
}

func parseDecimal(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: missing numeric field", ErrMalformedFrame)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return v, nil
}
