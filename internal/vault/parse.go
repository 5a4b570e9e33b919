package vault

import (
	"errors"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ParseAmount converts a decimal string such as a collateral or debt
// amount into a float. NaN and infinities are rejected.
func ParseAmount(field, value string) (float64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return 0, &ParseError{Field: field, Value: value, Err: err}
	}
	return d.InexactFloat64(), nil
}

// ParseTimestamp converts a string-encoded unix timestamp.
func ParseTimestamp(field, value string) (uint64, error) {
	ts, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, &ParseError{Field: field, Value: value, Err: err}
	}
	return ts, nil
}

// ParseHeight converts a string-encoded block height.
func ParseHeight(value string) (uint64, error) {
	h, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, &ParseError{Field: "block", Value: value, Err: err}
	}
	return h, nil
}

// ID is a vault identifier split into its urn address and collateral type,
// e.g. "0x0000485d124ca18832ebc0e0e3d1947ee4db8427-ETH-A".
type ID struct {
	Urn            common.Address
	CollateralType string
}

// ParseID splits a vault identifier into urn and collateral type.
func ParseID(id string) (ID, error) {
	urn, ilk, ok := strings.Cut(id, "-")
	if !ok || ilk == "" {
		return ID{}, &ParseError{Field: "vault id", Value: id, Err: errors.New("expected <urn>-<collateral type>")}
	}
	if !common.IsHexAddress(urn) {
		return ID{}, &ParseError{Field: "vault id", Value: id, Err: errors.New("urn is not a hex address")}
	}
	return ID{Urn: common.HexToAddress(urn), CollateralType: ilk}, nil
}

// String renders the identifier with a checksummed urn address.
func (id ID) String() string {
	return id.Urn.Hex() + "-" + id.CollateralType
}
