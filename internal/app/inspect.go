package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"vault-risk-backtest/internal/liquidation"
	"vault-risk-backtest/internal/snapshot"
	"vault-risk-backtest/internal/vault"
)

// vaultObservation is one snapshot entry of an inspected vault.
type vaultObservation struct {
	Block  string
	Height uint64
	Time   string
	Record vault.Record
}

// Inspect prints the liquidation timestamps of one vault and its state in
// every loaded snapshot. The collateral type is taken from the vault id.
func (a *App) Inspect(ctx context.Context, opts InspectOptions) error {
	if opts.VaultID == "" {
		return errors.New("--vault is required")
	}
	id, err := vault.ParseID(opts.VaultID)
	if err != nil {
		return err
	}

	history, err := snapshot.LoadHistory(a.Config.Data.VaultHistoryPath, a.Logger)
	if err != nil {
		return fmt.Errorf("load vault history: %w", err)
	}
	tag := a.Config.Analysis.LiquidationTag
	if tag == "" {
		tag = liquidation.DefaultStartTag
	}
	index := liquidation.Build(history, tag)

	snaps, err := snapshot.Load(ctx, a.Config.Data.VaultSetDir, snapshot.Options{Concurrency: a.Config.Analysis.LoadConcurrency}, a.Logger)
	if err != nil {
		return fmt.Errorf("load snapshots: %w", err)
	}

	stamps := index.Timestamps(opts.VaultID)
	if len(stamps) == 0 {
		stamps = index.Timestamps(strings.ToLower(id.Urn.Hex()) + "-" + id.CollateralType)
	}
	observations := observe(snaps.Snapshots, id.CollateralType, opts.VaultID)
	writeInspection(a.out(), id, stamps, observations)
	return nil
}

func observe(snaps vault.Snapshots, collateralType, vaultID string) []vaultObservation {
	var out []vaultObservation
	for block, snap := range snaps {
		set, ok := snap[collateralType]
		if !ok || set == nil {
			continue
		}
		for _, rec := range set.Vaults {
			if !strings.EqualFold(rec.ID, vaultID) {
				continue
			}
			h, _ := vault.ParseHeight(block)
			out = append(out, vaultObservation{Block: block, Height: h, Time: set.Timestamp, Record: rec})
			break
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Height != out[j].Height {
			return out[i].Height < out[j].Height
		}
		return out[i].Block < out[j].Block
	})
	return out
}

func writeInspection(w io.Writer, id vault.ID, stamps []uint64, observations []vaultObservation) {
	fmt.Fprintf(w, "Urn: %s\nCollateral type: %s\n", id.Urn.Hex(), id.CollateralType)
	if len(stamps) == 0 {
		fmt.Fprintln(w, "Liquidations: none")
	} else {
		fmt.Fprint(w, "Liquidations:")
		for _, ts := range stamps {
			fmt.Fprintf(w, " %s", strconv.FormatUint(ts, 10))
		}
		fmt.Fprintln(w)
	}

	if len(observations) == 0 {
		fmt.Fprintln(w, "no snapshot contains this vault")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Block\tTimestamp\tCollateral\tDebt\tSafety level")
	for _, obs := range observations {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", obs.Block, obs.Time, obs.Record.Collateral, obs.Record.Debt, obs.Record.SafetyLevel)
	}
	tw.Flush()
}
