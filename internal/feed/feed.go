// Package feed holds the monitored data shapes and the diff engine that
// compares consecutive snapshots of them.
package feed

import (
	"github.com/shopspring/decimal"
)

// Kind identifies one monitored feed.
type Kind string

const (
	BlocksForged    Kind = "blocks_forged"
	DelegatorRoster Kind = "delegator_roster"
	PoolStakeFeed   Kind = "pool_stake"
)

// Kinds lists every monitored feed in a stable order.
var Kinds = []Kind{BlocksForged, DelegatorRoster, PoolStakeFeed}

func (k Kind) String() string { return string(k) }

// BlockRow is one epoch's forged-block count.
type BlockRow struct {
	Epoch  int64
	Forged int64
}

// DelegatorRow identifies a stake address currently delegated to the pool.
type DelegatorRow struct {
	Address string
}

// PoolStake is the singleton live stake snapshot.
type PoolStake struct {
	LiveStake decimal.Decimal
}

// AddressDetails describes where a stake address is delegated now and before.
type AddressDetails struct {
	StakeAddress string
	ADAValue     decimal.Decimal
	FromPool     string
	ToPool       string
}

// DecodeBlocks converts rows from the blocks-forged view.
func DecodeBlocks(rows []Row) ([]BlockRow, error) {
	out := make([]BlockRow, 0, len(rows))
	for _, r := range rows {
		epoch, err := r.Int(string(BlocksForged), "epoch_no")
		if err != nil {
			return nil, err
		}
		forged, err := r.Int(string(BlocksForged), "blocks_forged")
		if err != nil {
			return nil, err
		}
		out = append(out, BlockRow{Epoch: epoch, Forged: forged})
	}
	return out, nil
}

// DecodeDelegators converts rows from the delegator roster view.
func DecodeDelegators(rows []Row) ([]DelegatorRow, error) {
	out := make([]DelegatorRow, 0, len(rows))
	for _, r := range rows {
		addr, err := r.Text(string(DelegatorRoster), "addr_view")
		if err != nil {
			return nil, err
		}
		out = append(out, DelegatorRow{Address: addr})
	}
	return out, nil
}

// DecodePoolStake converts the single row of the live stake view.
func DecodePoolStake(rows []Row) (PoolStake, error) {
	if len(rows) != 1 {
		return PoolStake{}, decodeErr(string(PoolStakeFeed), "", "expected exactly one row, got %d", len(rows))
	}
	stake, err := rows[0].Decimal(string(PoolStakeFeed), "live_stake")
	if err != nil {
		return PoolStake{}, err
	}
	return PoolStake{LiveStake: stake}, nil
}

// DecodeAddress converts the first row of an address lookup.
func DecodeAddress(rows []Row) (AddressDetails, error) {
	const source = "address_value"
	if len(rows) == 0 {
		return AddressDetails{}, decodeErr(source, "", "no rows")
	}
	r := rows[0]
	addr, err := r.Text(source, "stake_address")
	if err != nil {
		return AddressDetails{}, err
	}
	ada, err := r.Decimal(source, "ada_value")
	if err != nil {
		return AddressDetails{}, err
	}
	from, err := r.Text(source, "from_pool")
	if err != nil {
		return AddressDetails{}, err
	}
	to, err := r.Text(source, "to_pool")
	if err != nil {
		return AddressDetails{}, err
	}
	return AddressDetails{StakeAddress: addr, ADAValue: ada, FromPool: from, ToPool: to}, nil
}
