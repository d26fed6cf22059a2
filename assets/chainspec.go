// Copyright (C) 2024-2026, CNUT Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package assets

import (
	"io"
	"time"

	"github.com/BurntSushi/toml"
)

// ChainSpec holds the network-wide genesis parameters shared by every node
// of one network instance. It is immutable once the network starts; a new
// ChainSpec implies a new network.
type ChainSpec struct {
	Network  NetworkSpec  `toml:"network"`
	Protocol ProtocolSpec `toml:"protocol"`
	Core     CoreSpec     `toml:"core"`

	// Validator set membership. Mirrored in the accounts ledger as bonded
	// accounts.
	Validators []ValidatorSpec `toml:"-"`
}

type NetworkSpec struct {
	Name string `toml:"name"`
}

type ProtocolSpec struct {
	Version string `toml:"version"`
	// When the network becomes active. Written as RFC 3339.
	ActivationPoint time.Time `toml:"activation_point"`
}

type CoreSpec struct {
	EraDuration          duration `toml:"era_duration"`
	MinimumBlockTime     duration `toml:"minimum_block_time"`
	ValidatorSlots       int      `toml:"validator_slots"`
	AuctionDelay         int      `toml:"auction_delay"`
	UnbondingDelayEras   int      `toml:"unbonding_delay"`
	RoundSeigniorageRate string   `toml:"round_seigniorage_rate"`
}

type ValidatorSpec struct {
	PublicKey    string
	BondedAmount string
}

// duration serializes as a human-readable string ("41s") in TOML.
type duration time.Duration

func (d duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

// EncodeTOML writes the chainspec in the format the node consumes.
// Persistence location is the caller's concern.
func (s *ChainSpec) EncodeTOML(w io.Writer) error {
	return toml.NewEncoder(w).Encode(s)
}

// DecodeChainSpecTOML parses a chainspec previously written with EncodeTOML.
// The validator set is not part of the TOML representation; it lives in the
// accounts ledger.
func DecodeChainSpecTOML(r io.Reader) (*ChainSpec, error) {
	spec := &ChainSpec{}
	if _, err := toml.NewDecoder(r).Decode(spec); err != nil {
		return nil, err
	}
	return spec, nil
}
