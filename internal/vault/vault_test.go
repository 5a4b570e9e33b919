package vault

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceAcceptsNumberAndString(t *testing.T) {
	var set struct {
		A Price `json:"a"`
		B Price `json:"b"`
		C Price `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": 1234.5, "b": "1234.5", "c": 900}`), &set))

	assert.Equal(t, 1234.5, set.A.Float64())
	assert.Equal(t, 1234.5, set.B.Float64())
	assert.Equal(t, "900", set.C.String())
}

func TestPriceRejectsGarbage(t *testing.T) {
	var p Price
	err := json.Unmarshal([]byte(`"abc"`), &p)
	require.Error(t, err)

	var perr *ParseError
	assert.True(t, errors.As(err, &perr))

	assert.Error(t, json.Unmarshal([]byte(`null`), &p))
	assert.Error(t, json.Unmarshal([]byte(`true`), &p))
}

func TestSetDecodesWireFormat(t *testing.T) {
	raw := `{
		"timestamp": "1671500000",
		"price": "1200.25",
		"rate": "1.05",
		"liquidationRatio": "1.45",
		"resultArray": [
			{"id": "0xabc-ETH-A", "collateral": "10", "debt": "5000", "cdpId": "12", "safetyLevel": "safe"}
		]
	}`

	var set Set
	require.NoError(t, json.Unmarshal([]byte(raw), &set))
	require.Len(t, set.Vaults, 1)
	assert.Equal(t, "0xabc-ETH-A", set.Vaults[0].ID)
	require.NotNil(t, set.Vaults[0].CdpID)
	assert.Equal(t, "12", *set.Vaults[0].CdpID)
	assert.Nil(t, set.Vaults[0].UpdatedAt)
	assert.Equal(t, 1200.25, set.Price.Float64())
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("debt", "1500.75")
	require.NoError(t, err)
	assert.Equal(t, 1500.75, v)

	for _, bad := range []string{"", "NaN", "Inf", "12abc"} {
		_, err := ParseAmount("debt", bad)
		assert.Error(t, err, bad)
	}
}

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp("timestamp", "1671500000")
	require.NoError(t, err)
	assert.Equal(t, uint64(1671500000), ts)

	_, err = ParseTimestamp("timestamp", "-1")
	assert.Error(t, err)
}

func TestParseID(t *testing.T) {
	id, err := ParseID("0x0000485d124ca18832ebc0e0e3d1947ee4db8427-ETH-A")
	require.NoError(t, err)
	assert.Equal(t, "ETH-A", id.CollateralType)
	assert.True(t, strings.EqualFold("0x0000485d124ca18832ebc0e0e3d1947ee4db8427", id.Urn.Hex()))
	assert.Equal(t, id.Urn.Hex()+"-ETH-A", id.String())

	_, err = ParseID("not-an-address")
	assert.Error(t, err)
	_, err = ParseID("0x0000485d124ca18832ebc0e0e3d1947ee4db8427")
	assert.Error(t, err)
}

func TestMissingCollateralTypeIs(t *testing.T) {
	err := error(&MissingCollateralTypeError{Block: "100", Symbol: "ETH-A"})
	assert.True(t, errors.Is(err, ErrMissingCollateralType))
	assert.Contains(t, err.Error(), "ETH-A")
}

func TestSetRejectsMissingFields(t *testing.T) {
	cases := map[string]string{
		"price":       `{"timestamp": "1", "rate": "1", "liquidationRatio": "1.5", "resultArray": []}`,
		"null price":  `{"timestamp": "1", "price": null, "rate": "1", "liquidationRatio": "1.5", "resultArray": []}`,
		"timestamp":   `{"price": 1, "rate": "1", "liquidationRatio": "1.5", "resultArray": []}`,
		"resultArray": `{"timestamp": "1", "price": 1, "rate": "1", "liquidationRatio": "1.5"}`,
		"record debt": `{"timestamp": "1", "price": 1, "rate": "1", "liquidationRatio": "1.5", "resultArray": [
			{"id": "v", "collateral": "1", "safetyLevel": "safe"}
		]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			var set Set
			err := json.Unmarshal([]byte(raw), &set)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMissingField)
		})
	}
}

func TestMissingFieldErrorNamesFields(t *testing.T) {
	var rec Record
	err := json.Unmarshal([]byte(`{"id": "v"}`), &rec)

	var mf *MissingFieldError
	require.True(t, errors.As(err, &mf))
	assert.Equal(t, []string{"collateral", "debt", "safetyLevel"}, mf.Fields)
	assert.Contains(t, err.Error(), "vault record")
}

func TestSetAcceptsEmptyVaultList(t *testing.T) {
	var set Set
	require.NoError(t, json.Unmarshal([]byte(`{"timestamp": "1", "price": "2", "rate": "1", "liquidationRatio": "1.5", "resultArray": []}`), &set))
	assert.Empty(t, set.Vaults)
	assert.Equal(t, 2.0, set.Price.Float64())
}
