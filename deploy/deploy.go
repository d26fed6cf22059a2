// Copyright (C) 2024-2026, CNUT Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package deploy builds and submits deploys to a running network. Only the
// native transfer session is constructed here; arbitrary session code is
// the node's business, not the orchestrator's.
package deploy

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/Boiethios/cnut/utils/crypto"
)

const (
	DefaultTTL           = 30 * time.Minute
	DefaultGasPrice      = 1
	DefaultPaymentAmount = "100000000"
)

// Deploy is the signed unit of work a node accepts over JSON-RPC. Hashes
// and signatures are fixed at construction; a Deploy is never mutated after
// signing.
type Deploy struct {
	Hash      string          `json:"hash"`
	Header    Header          `json:"header"`
	Payment   json.RawMessage `json:"payment"`
	Session   json.RawMessage `json:"session"`
	Approvals []Approval      `json:"approvals"`
}

type Header struct {
	Account      string    `json:"account"`
	Timestamp    time.Time `json:"timestamp"`
	TTL          string    `json:"ttl"`
	GasPrice     uint64    `json:"gas_price"`
	BodyHash     string    `json:"body_hash"`
	Dependencies []string  `json:"dependencies"`
	ChainName    string    `json:"chain_name"`
}

// Approval is one signature over the deploy hash.
type Approval struct {
	Signer    string `json:"signer"`
	Signature string `json:"signature"`
}

// TransferParams describes a native token transfer between two accounts.
type TransferParams struct {
	// From signs the deploy and funds the transfer.
	From *crypto.KeyPair

	// To is the tagged hex public key of the recipient.
	To string

	// Amount of motes to transfer.
	Amount string

	// ChainName of the target network. Nodes reject deploys for other
	// chains.
	ChainName string

	// ID tags the transfer for recipient-side reconciliation.
	ID uint64

	TTL           time.Duration
	GasPrice      uint64
	PaymentAmount string
}

// transfer session and payment shapes as the node's JSON-RPC expects them
type transferSession struct {
	Transfer struct {
		Args [][2]any `json:"args"`
	} `json:"Transfer"`
}

type moduleBytesPayment struct {
	ModuleBytes struct {
		ModuleBytes string   `json:"module_bytes"`
		Args        [][2]any `json:"args"`
	} `json:"ModuleBytes"`
}

func clArg(name, clType, parsed string) [2]any {
	return [2]any{name, map[string]string{"cl_type": clType, "parsed": parsed}}
}

// NewTransfer builds and signs a native transfer deploy.
func NewTransfer(params TransferParams) (*Deploy, error) {
	if params.From == nil {
		return nil, fmt.Errorf("transfer requires a signing key")
	}
	if params.To == "" || params.Amount == "" || params.ChainName == "" {
		return nil, fmt.Errorf("transfer requires a recipient, an amount, and a chain name")
	}
	if params.TTL == 0 {
		params.TTL = DefaultTTL
	}
	if params.GasPrice == 0 {
		params.GasPrice = DefaultGasPrice
	}
	if params.PaymentAmount == "" {
		params.PaymentAmount = DefaultPaymentAmount
	}

	session := transferSession{}
	session.Transfer.Args = [][2]any{
		clArg("amount", "U512", params.Amount),
		clArg("target", "PublicKey", params.To),
		clArg("id", "U64", fmt.Sprintf("%d", params.ID)),
	}
	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transfer session: %w", err)
	}

	payment := moduleBytesPayment{}
	payment.ModuleBytes.ModuleBytes = ""
	payment.ModuleBytes.Args = [][2]any{
		clArg("amount", "U512", params.PaymentAmount),
	}
	paymentJSON, err := json.Marshal(payment)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize payment: %w", err)
	}

	bodyHash := blake2b.Sum256(append(append([]byte{}, paymentJSON...), sessionJSON...))
	header := Header{
		Account:      params.From.PublicKeyHex(),
		Timestamp:    time.Now().UTC().Truncate(time.Millisecond),
		TTL:          params.TTL.String(),
		GasPrice:     params.GasPrice,
		BodyHash:     hex.EncodeToString(bodyHash[:]),
		Dependencies: []string{},
		ChainName:    params.ChainName,
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize deploy header: %w", err)
	}
	deployHash := blake2b.Sum256(headerJSON)

	signature, err := params.From.Sign(deployHash[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign deploy: %w", err)
	}

	return &Deploy{
		Hash:    hex.EncodeToString(deployHash[:]),
		Header:  header,
		Payment: paymentJSON,
		Session: sessionJSON,
		Approvals: []Approval{{
			Signer:    params.From.PublicKeyHex(),
			Signature: hex.EncodeToString(signature),
		}},
	}, nil
}

// Verify checks every approval against the deploy hash.
func (d *Deploy) Verify(key *crypto.KeyPair) bool {
	hash, err := hex.DecodeString(d.Hash)
	if err != nil {
		return false
	}
	for _, approval := range d.Approvals {
		sig, err := hex.DecodeString(approval.Signature)
		if err != nil || !key.Verify(hash, sig) {
			return false
		}
	}
	return len(d.Approvals) > 0
}
