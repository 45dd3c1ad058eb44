// Package signer implements ECDSA signing over the Stark curve.
package signer

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"math/big"

	junocrypto "github.com/NethermindEth/juno/core/crypto"
	"github.com/NethermindEth/juno/core/felt"
	starkcurve "github.com/consensys/gnark-crypto/ecc/stark-curve"
	"github.com/consensys/gnark-crypto/ecc/stark-curve/ecdsa"
	"github.com/consensys/gnark-crypto/ecc/stark-curve/fr"
	"github.com/ethereum/go-ethereum/crypto"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"

	"github.com/0xmhha/starknet-hive/pkg/types"
)

var (
	// ErrInvalidKey is returned at construction time for unusable key material.
	ErrInvalidKey = errors.New("invalid private key")
	// ErrSigning is returned when a hash cannot be signed.
	ErrSigning = errors.New("signing failed")
)

// StarknetCoinType is the SLIP-44 coin type used by Starknet wallets.
const StarknetCoinType = 9004

const maxSignAttempts = 128

var (
	curveOrder = fr.Modulus()
	// Starknet rejects r, s^-1 and message hashes at or above 2^251.
	upperBound = new(big.Int).Lsh(big.NewInt(1), 251)
)

// Signer holds one Stark private key.
type Signer struct {
	pub    junocrypto.PublicKey
	signFn func(msg []byte, h hash.Hash) ([]byte, error)
}

// New creates a signer from a private key in [1, n).
func New(privateKey *felt.Felt) (*Signer, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("%w: nil key", ErrInvalidKey)
	}
	return newFromBig(types.FeltToBig(privateKey))
}

// NewFromHex creates a signer from a 0x-prefixed private key.
func NewFromHex(privateKeyHex string) (*Signer, error) {
	key, err := types.HexToFelt(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return New(key)
}

// NewFromMnemonic derives the Stark key at m/44'/9004'/0'/0/index from a
// BIP39 mnemonic and grinds it into the curve order.
func NewFromMnemonic(mnemonic string, index uint32) (*Signer, error) {
	wallet, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid mnemonic: %v", ErrInvalidKey, err)
	}

	path, err := hdwallet.ParseDerivationPath(DerivationPath(index))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	account, err := wallet.Derive(path, false)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to derive account %d: %v", ErrInvalidKey, index, err)
	}
	ecKey, err := wallet.PrivateKey(account)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get private key %d: %v", ErrInvalidKey, index, err)
	}

	return newFromBig(GrindKey(crypto.FromECDSA(ecKey)))
}

// DerivationPath returns the Starknet BIP44 path for an account index.
func DerivationPath(index uint32) string {
	return fmt.Sprintf("m/44'/%d'/0'/0/%d", StarknetCoinType, index)
}

// GrindKey maps arbitrary seed bytes to a key below the curve order without
// modulo bias, hashing seed||i with sha256 until the digest is usable.
func GrindKey(seed []byte) *big.Int {
	limit := new(big.Int).Lsh(big.NewInt(1), 256)
	limit.Sub(limit, new(big.Int).Mod(limit, curveOrder))

	for i := int64(0); ; i++ {
		idx := big.NewInt(i).Bytes()
		if len(idx) == 0 {
			idx = []byte{0}
		}
		digest := sha256.Sum256(append(append([]byte{}, seed...), idx...))
		key := new(big.Int).SetBytes(digest[:])
		if key.Cmp(limit) < 0 {
			return key.Mod(key, curveOrder)
		}
	}
}

func newFromBig(key *big.Int) (*Signer, error) {
	if key.Sign() <= 0 || key.Cmp(curveOrder) >= 0 {
		return nil, fmt.Errorf("%w: key outside [1, n)", ErrInvalidKey)
	}

	var pub starkcurve.G1Affine
	pub.ScalarMultiplicationBase(key)

	// gnark encodes a private key as compressed public point || scalar
	pubBytes := pub.Bytes()
	buf := make([]byte, 0, len(pubBytes)+fr.Bytes)
	buf = append(buf, pubBytes[:]...)
	buf = append(buf, key.FillBytes(make([]byte, fr.Bytes))...)

	priv := new(ecdsa.PrivateKey)
	if _, err := priv.SetBytes(buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	return &Signer{
		pub:    junocrypto.PublicKey(priv.PublicKey),
		signFn: priv.Sign,
	}, nil
}

// PublicKey returns the x-coordinate of the public point.
func (s *Signer) PublicKey() *felt.Felt {
	return felt.NewFelt(&s.pub.A.X)
}

// Sign produces an (r, s) pair over hash. Signatures whose r or s^-1 fall
// outside 251 bits are discarded and drawn again.
func (s *Signer) Sign(hash *felt.Felt) (*felt.Felt, *felt.Felt, error) {
	if types.FeltToBig(hash).Cmp(upperBound) >= 0 {
		return nil, nil, fmt.Errorf("%w: message hash %s exceeds 251 bits", ErrSigning, hash)
	}
	msg := hash.Bytes()

	for attempt := 0; attempt < maxSignAttempts; attempt++ {
		raw, err := s.signFn(msg[:], nil)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrSigning, err)
		}
		if len(raw) != 2*fr.Bytes {
			return nil, nil, fmt.Errorf("%w: signature is %d bytes", ErrSigning, len(raw))
		}

		r := new(big.Int).SetBytes(raw[:fr.Bytes])
		sig := new(big.Int).SetBytes(raw[fr.Bytes:])
		if r.Cmp(upperBound) >= 0 {
			continue
		}
		if w := new(big.Int).ModInverse(sig, curveOrder); w == nil || w.Cmp(upperBound) >= 0 {
			continue
		}

		return new(felt.Felt).SetBytes(raw[:fr.Bytes]), new(felt.Felt).SetBytes(raw[fr.Bytes:]), nil
	}
	return nil, nil, fmt.Errorf("%w: no valid signature after %d attempts", ErrSigning, maxSignAttempts)
}

// SignHash returns the signature as the [r, s] felt pair accounts expect.
func (s *Signer) SignHash(hash *felt.Felt) ([]*felt.Felt, error) {
	r, sig, err := s.Sign(hash)
	if err != nil {
		return nil, err
	}
	return []*felt.Felt{r, sig}, nil
}

// Verify checks an (r, s) pair against hash and this signer's public key.
func (s *Signer) Verify(hash, r, sig *felt.Felt) bool {
	pub := s.pub
	return verify(&pub, hash, r, sig)
}

// VerifyWithPublicKey checks an (r, s) pair against the public key given by
// its x-coordinate, as account contracts store it.
func VerifyWithPublicKey(publicKey, hash, r, sig *felt.Felt) (bool, error) {
	if publicKey == nil {
		return false, fmt.Errorf("%w: nil public key", ErrInvalidKey)
	}
	pub := junocrypto.NewPublicKey(publicKey)
	if hash == nil || r == nil || sig == nil {
		return false, nil
	}
	return pub.Verify(&junocrypto.Signature{R: *r, S: *sig}, hash)
}

func verify(pub *junocrypto.PublicKey, hash, r, sig *felt.Felt) bool {
	if hash == nil || r == nil || sig == nil {
		return false
	}
	ok, err := pub.Verify(&junocrypto.Signature{R: *r, S: *sig}, hash)
	return err == nil && ok
}
