// Copyright (C) 2024-2026, CNUT Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package assets

import (
	"io"

	"github.com/BurntSushi/toml"
)

// Account is one entry of the initial balance ledger. Balances are motes
// expressed as decimal strings since they routinely exceed uint64.
type Account struct {
	PublicKey string     `toml:"public_key"`
	Balance   string     `toml:"balance"`
	Validator *Validator `toml:"validator,omitempty"`
}

// Validator marks an account as a bonded genesis validator.
type Validator struct {
	BondedAmount string `toml:"bonded_amount"`
}

// accountsFile is the on-disk shape of the ledger: an [[accounts]] array.
type accountsFile struct {
	Accounts []Account `toml:"accounts"`
}

// EncodeAccountsTOML writes the initial balance ledger in the format the
// node consumes alongside the chainspec.
func EncodeAccountsTOML(w io.Writer, accounts []Account) error {
	return toml.NewEncoder(w).Encode(accountsFile{Accounts: accounts})
}

// DecodeAccountsTOML parses a ledger previously written with
// EncodeAccountsTOML.
func DecodeAccountsTOML(r io.Reader) ([]Account, error) {
	file := accountsFile{}
	if _, err := toml.NewDecoder(r).Decode(&file); err != nil {
		return nil, err
	}
	return file.Accounts, nil
}
