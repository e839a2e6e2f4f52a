// README: One-time numeric codes for the pickup handshake.
package otp

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
)

const DefaultLength = 6

// maxLength keeps 10^length inside int64.
const maxLength = 18

var ErrInvalidLength = errors.New("otp length out of range")

type Generator struct {
	source io.Reader
}

// NewGenerator reads from crypto/rand.
func NewGenerator() *Generator {
	return &Generator{source: rand.Reader}
}

// Generate returns exactly length ASCII digits drawn uniformly from [0, 10^length).
func (g *Generator) Generate(length int) (string, error) {
	if length <= 0 || length > maxLength {
		return "", ErrInvalidLength
	}
	src := g.source
	if src == nil {
		src = rand.Reader
	}
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(src, limit)
	if err != nil {
		return "", fmt.Errorf("reading random source: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n.Int64()), nil
}

// Generate uses the package-level crypto/rand generator.
func Generate(length int) (string, error) {
	return NewGenerator().Generate(length)
}
