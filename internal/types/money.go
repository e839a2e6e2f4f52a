// README: Common money value object used across modules.
package types

type Money struct {
	Amount   int64
	Currency string
}

// MinorUnits converts a whole-unit amount to the gateway's minor units (paise, cents).
func (m Money) MinorUnits() int64 {
	return m.Amount * 100
}
