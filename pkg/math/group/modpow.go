package group

import (
	"errors"
	"math/big"

	"github.com/cronokirby/saferith"
)

var (
	errNegativeExponent = errors.New("group.ModPow: negative exponent")
	errInvalidModulus   = errors.New("group.ModPow: modulus must be positive")
)

// ModPow returns baseᵉˣᵖ (mod modulus), in [0, modulus).
//
// A negative base is first reduced into [0, modulus).
// Odd moduli use constant-time exponentiation, even moduli fall back to big.Int.
func ModPow(base, exponent, modulus *big.Int) (*big.Int, error) {
	if modulus == nil || modulus.Sign() <= 0 {
		return nil, errInvalidModulus
	}
	if exponent == nil || exponent.Sign() < 0 {
		return nil, errNegativeExponent
	}
	if modulus.Cmp(big.NewInt(1)) == 0 {
		return new(big.Int), nil
	}
	x := new(big.Int).Mod(base, modulus)
	if exponent.Sign() == 0 {
		return big.NewInt(1), nil
	}
	if modulus.Bit(0) == 0 {
		return new(big.Int).Exp(x, exponent, modulus), nil
	}
	bits := modulus.BitLen()
	m := saferith.ModulusFromNat(new(saferith.Nat).SetBig(modulus, bits))
	xNat := new(saferith.Nat).SetBig(x, bits)
	eNat := new(saferith.Nat).SetBig(exponent, exponent.BitLen())
	return new(saferith.Nat).Exp(xNat, eNat, m).Big(), nil
}
