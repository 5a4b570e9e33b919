package vault

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Log is one timed entry of a vault's event history.
type Log struct {
	TypeName  string `json:"__typename"`
	Timestamp string `json:"timestamp"`
}

// LoggedVault is a vault together with its ordered event log.
type LoggedVault struct {
	CdpID *string `json:"cdpId"`
	Logs  []Log   `json:"logs"`
}

// History is the event history recorded for a single vault identifier.
type History struct {
	Vaults []LoggedVault `json:"vaults"`
}

// Record is one vault's state at a snapshot. Amounts stay in their
// source string form and are parsed on use.
type Record struct {
	ID                   string  `json:"id"`
	Collateral           string  `json:"collateral"`
	Debt                 string  `json:"debt"`
	CdpID                *string `json:"cdpId"`
	UpdatedAt            *string `json:"updatedAt"`
	UpdatedAtBlock       *string `json:"updatedAtBlock"`
	UpdatedAtTransaction *string `json:"updatedAtTransaction"`
	SafetyLevel          string  `json:"safetyLevel"`
}

// Set is the state of one collateral type at one block.
type Set struct {
	Timestamp        string   `json:"timestamp"`
	Vaults           []Record `json:"resultArray"`
	Price            Price    `json:"price"`
	Rate             string   `json:"rate"`
	LiquidationRatio string   `json:"liquidationRatio"`
}

type setWire struct {
	Timestamp        *string   `json:"timestamp"`
	Vaults           *[]Record `json:"resultArray"`
	Price            *Price    `json:"price"`
	Rate             *string   `json:"rate"`
	LiquidationRatio *string   `json:"liquidationRatio"`
}

// UnmarshalJSON decodes a set and rejects it when a required field is
// missing or null.
func (s *Set) UnmarshalJSON(data []byte) error {
	var w setWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if err := requireFields("vault set", []field{
		{"timestamp", w.Timestamp != nil},
		{"resultArray", w.Vaults != nil},
		{"price", w.Price != nil},
		{"rate", w.Rate != nil},
		{"liquidationRatio", w.LiquidationRatio != nil},
	}); err != nil {
		return err
	}

	*s = Set{
		Timestamp:        *w.Timestamp,
		Vaults:           *w.Vaults,
		Price:            *w.Price,
		Rate:             *w.Rate,
		LiquidationRatio: *w.LiquidationRatio,
	}
	return nil
}

type recordWire struct {
	ID                   *string `json:"id"`
	Collateral           *string `json:"collateral"`
	Debt                 *string `json:"debt"`
	CdpID                *string `json:"cdpId"`
	UpdatedAt            *string `json:"updatedAt"`
	UpdatedAtBlock       *string `json:"updatedAtBlock"`
	UpdatedAtTransaction *string `json:"updatedAtTransaction"`
	SafetyLevel          *string `json:"safetyLevel"`
}

// UnmarshalJSON decodes a record and rejects it when a required field is
// missing or null. The cdp id and update metadata stay optional.
func (r *Record) UnmarshalJSON(data []byte) error {
	var w recordWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if err := requireFields("vault record", []field{
		{"id", w.ID != nil},
		{"collateral", w.Collateral != nil},
		{"debt", w.Debt != nil},
		{"safetyLevel", w.SafetyLevel != nil},
	}); err != nil {
		return err
	}

	*r = Record{
		ID:                   *w.ID,
		Collateral:           *w.Collateral,
		Debt:                 *w.Debt,
		CdpID:                w.CdpID,
		UpdatedAt:            w.UpdatedAt,
		UpdatedAtBlock:       w.UpdatedAtBlock,
		UpdatedAtTransaction: w.UpdatedAtTransaction,
		SafetyLevel:          *w.SafetyLevel,
	}
	return nil
}

type field struct {
	name    string
	present bool
}

func requireFields(kind string, fields []field) error {
	var missing []string
	for _, f := range fields {
		if !f.present {
			missing = append(missing, f.name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingFieldError{Kind: kind, Fields: missing}
}

// BlockSnapshot maps collateral type symbols (e.g. "ETH-A") to their set.
type BlockSnapshot map[string]*Set

// Snapshots maps string-encoded block heights to their snapshot.
type Snapshots map[string]BlockSnapshot

// BlockPair is one candidate analysis unit. It references the loaded
// snapshots and never copies them.
type BlockPair struct {
	FirstHeight  uint64
	SecondHeight uint64
	FirstBlock   string
	SecondBlock  string
	First        BlockSnapshot
	Second       BlockSnapshot
}

// Price is an oracle price that arrives either as a JSON number or as a
// numeric string.
type Price float64

// UnmarshalJSON accepts both number and string encodings.
func (p *Price) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("price must be a number or numeric string, got null")
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return &ParseError{Field: "price", Value: s, Err: err}
		}
		*p = Price(f)
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("price must be a number or numeric string: %w", err)
	}
	*p = Price(f)
	return nil
}

// Float64 returns the price as a float.
func (p Price) Float64() float64 {
	return float64(p)
}

// String renders the shortest decimal form that round-trips.
func (p Price) String() string {
	return strconv.FormatFloat(float64(p), 'f', -1, 64)
}
