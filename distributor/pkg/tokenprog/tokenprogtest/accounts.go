// Package tokenprogtest builds raw token account data for tests.
package tokenprogtest

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
)

// HolderAccountData encodes a 182-byte Token-2022 account with the
// TransferFeeAmount and ImmutableOwner extensions.
func HolderAccountData(mint, owner solana.PublicKey, amount, withheld uint64) []byte {
	data := make([]byte, 182)
	copy(data[0:32], mint[:])
	copy(data[32:64], owner[:])
	binary.LittleEndian.PutUint64(data[64:72], amount)
	data[108] = 1 // initialized
	data[165] = 2 // account type: account

	binary.LittleEndian.PutUint16(data[166:168], 2) // TransferFeeAmount
	binary.LittleEndian.PutUint16(data[168:170], 8)
	binary.LittleEndian.PutUint64(data[170:178], withheld)

	binary.LittleEndian.PutUint16(data[178:180], 7) // ImmutableOwner
	binary.LittleEndian.PutUint16(data[180:182], 0)
	return data
}

// BaseAccountData encodes a 165-byte legacy token account.
func BaseAccountData(mint, owner solana.PublicKey, amount uint64) []byte {
	data := make([]byte, 165)
	copy(data[0:32], mint[:])
	copy(data[32:64], owner[:])
	binary.LittleEndian.PutUint64(data[64:72], amount)
	data[108] = 1
	return data
}
