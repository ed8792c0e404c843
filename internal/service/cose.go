package service

import (
	"crypto/ed25519"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"
)

// COSE constants used by CIP-30 wallets.
const (
	coseTagSign1   = 18
	coseAlgEdDSA   = -8
	coseKtyOKP     = 1
	coseCrvEd25519 = 6

	sigContextSign1 = "Signature1"
)

var (
	errMalformedEnvelope = errors.New("malformed COSE_Sign1 envelope")
	errMalformedKey      = errors.New("malformed COSE_Key")
)

type coseSign1 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected cbor.RawMessage
	Payload     []byte
	Signature   []byte
}

type protectedHeader struct {
	Alg     int64  `cbor:"1,keyasint,omitempty"`
	Address []byte `cbor:"address"`
}

type coseKey struct {
	Kty int64  `cbor:"1,keyasint"`
	Alg int64  `cbor:"3,keyasint,omitempty"`
	Crv int64  `cbor:"-1,keyasint"`
	X   []byte `cbor:"-2,keyasint"`
}

// SignedMessage is a decoded COSE_Sign1 produced by a wallet's signData.
type SignedMessage struct {
	Protected []byte // serialized protected header, signed as-is
	Address   []byte // raw address bytes from the protected header
	Payload   []byte
	Signature []byte
}

// DecodeSignedMessage parses a COSE_Sign1 structure, tagged or untagged.
// Every field the verifier relies on must be present.
func DecodeSignedMessage(raw []byte) (*SignedMessage, error) {
	if len(raw) > 0 && raw[0] == 0xc0|coseTagSign1 {
		raw = raw[1:]
	}

	var env coseSign1
	if err := cbor.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedEnvelope, err)
	}
	if len(env.Protected) == 0 {
		return nil, fmt.Errorf("%w: empty protected header", errMalformedEnvelope)
	}
	if env.Payload == nil {
		return nil, fmt.Errorf("%w: detached payload", errMalformedEnvelope)
	}
	if len(env.Signature) != ed25519.SignatureSize {
		return nil, fmt.Errorf("%w: signature length %d", errMalformedEnvelope, len(env.Signature))
	}

	var hdr protectedHeader
	if err := cbor.Unmarshal(env.Protected, &hdr); err != nil {
		return nil, fmt.Errorf("%w: protected header: %v", errMalformedEnvelope, err)
	}
	if hdr.Alg != 0 && hdr.Alg != coseAlgEdDSA {
		return nil, fmt.Errorf("%w: unsupported alg %d", errMalformedEnvelope, hdr.Alg)
	}
	if len(hdr.Address) == 0 {
		return nil, fmt.Errorf("%w: missing address header", errMalformedEnvelope)
	}

	return &SignedMessage{
		Protected: env.Protected,
		Address:   hdr.Address,
		Payload:   env.Payload,
		Signature: env.Signature,
	}, nil
}

// SigStructure returns the bytes the signer actually signed (RFC 8152 §4.4).
func (m *SignedMessage) SigStructure() ([]byte, error) {
	return cbor.Marshal([]interface{}{sigContextSign1, m.Protected, []byte{}, m.Payload})
}

// DecodeCOSEKey extracts an Ed25519 public key from a COSE_Key map.
func DecodeCOSEKey(raw []byte) (ed25519.PublicKey, error) {
	var k coseKey
	if err := cbor.Unmarshal(raw, &k); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedKey, err)
	}
	if k.Kty != coseKtyOKP || k.Crv != coseCrvEd25519 {
		return nil, fmt.Errorf("%w: kty=%d crv=%d is not Ed25519", errMalformedKey, k.Kty, k.Crv)
	}
	if k.Alg != 0 && k.Alg != coseAlgEdDSA {
		return nil, fmt.Errorf("%w: unsupported alg %d", errMalformedKey, k.Alg)
	}
	if len(k.X) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: key length %d", errMalformedKey, len(k.X))
	}
	return ed25519.PublicKey(k.X), nil
}

// AddressBytes decodes a bech32 wallet address into its raw bytes.
// Shelley addresses exceed the BIP-173 length limit, so no limit is applied.
func AddressBytes(address string) ([]byte, error) {
	_, data, err := bech32.DecodeNoLimit(address)
	if err != nil {
		return nil, fmt.Errorf("decoding bech32 address: %w", err)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("converting address bits: %w", err)
	}
	return raw, nil
}

// KeyControlsAddress reports whether pub hashes to the key credential
// embedded in a Shelley address (payment key for base, pointer and
// enterprise addresses; stake key for reward addresses).
func KeyControlsAddress(pub ed25519.PublicKey, addr []byte) bool {
	if len(addr) < 1+blake2b224Size {
		return false
	}
	switch addr[0] >> 4 {
	case 0x0, 0x2, 0x4, 0x6, 0xe:
	default:
		return false
	}
	h, err := blake2b.New(blake2b224Size, nil)
	if err != nil {
		return false
	}
	h.Write(pub)
	return subtle.ConstantTimeCompare(h.Sum(nil), addr[1:1+blake2b224Size]) == 1
}

const blake2b224Size = 28
