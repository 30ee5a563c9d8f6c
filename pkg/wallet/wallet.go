package wallet

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/bytedance/sonic"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
	"github.com/yanun0323/errors"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck

	"venuelink/pkg/exception"
)

const (
	_purpose  = 44
	_coinType = 118

	_redacted = "<redacted>"
)

// Wallet is a secp256k1 key derived from a BIP-39 mnemonic along
// m/44'/118'/0'/0/index. The private key never leaves the struct.
type Wallet struct {
	priv    *secp256k1.PrivateKey
	pub     []byte
	address string
	index   uint32
}

// FromMnemonic derives the wallet for hrp at the given address index.
func FromMnemonic(mnemonic, hrp string, index uint32) (*Wallet, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.Wrap(exception.ErrWalletInvalidMnemonic, "checksum or word list mismatch")
	}

	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, errors.Wrap(exception.ErrWalletInvalidMnemonic, err.Error())
	}

	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, errors.Wrap(exception.ErrWalletDerive, err.Error())
	}

	path := []uint32{
		bip32.FirstHardenedChild + _purpose,
		bip32.FirstHardenedChild + _coinType,
		bip32.FirstHardenedChild,
		0,
		index,
	}
	for _, child := range path {
		key, err = key.NewChildKey(child)
		if err != nil {
			return nil, errors.Wrap(exception.ErrWalletDerive, err.Error()).With("child", child)
		}
	}

	if len(key.Key) != 32 {
		return nil, errors.Wrap(exception.ErrWalletDerive, "unexpected private key length").With("len", len(key.Key))
	}

	priv := secp256k1.PrivKeyFromBytes(key.Key)
	pub := priv.PubKey().SerializeCompressed()

	address, err := Address(hrp, pub)
	if err != nil {
		return nil, err
	}

	return &Wallet{
		priv:    priv,
		pub:     pub,
		address: address,
		index:   index,
	}, nil
}

// Address encodes ripemd160(sha256(pub)) as bech32 with hrp.
func Address(hrp string, compressedPub []byte) (string, error) {
	sum := sha256.Sum256(compressedPub)
	h := ripemd160.New()
	_, _ = h.Write(sum[:])

	conv, err := bech32.ConvertBits(h.Sum(nil), 8, 5, true)
	if err != nil {
		return "", errors.Wrap(exception.ErrWalletDerive, err.Error())
	}

	address, err := bech32.Encode(hrp, conv)
	if err != nil {
		return "", errors.Wrap(exception.ErrWalletDerive, err.Error()).With("hrp", hrp)
	}

	return address, nil
}

func (w *Wallet) Address() string {
	return w.address
}

func (w *Wallet) Index() uint32 {
	return w.index
}

// PubKey returns the 33-byte compressed public key.
func (w *Wallet) PubKey() []byte {
	out := make([]byte, len(w.pub))
	copy(out, w.pub)
	return out
}

// Sign hashes msg with sha256 and returns the 64-byte r||s signature.
func (w *Wallet) Sign(msg []byte) []byte {
	hash := sha256.Sum256(msg)
	compact := ecdsa.SignCompact(w.priv, hash[:], true)
	// first byte is the recovery code
	return compact[1:]
}

// SignDoc signs the canonical sorted-key JSON of doc. It returns the
// signature and the signed bytes.
func (w *Wallet) SignDoc(doc SignDoc) ([]byte, []byte, error) {
	canonical, err := doc.Canonical()
	if err != nil {
		return nil, nil, err
	}
	return w.Sign(canonical), canonical, nil
}

// Zero wipes the private key from memory.
func (w *Wallet) Zero() {
	if w.priv != nil {
		w.priv.Zero()
	}
}

func (w *Wallet) String() string {
	return fmt.Sprintf("Wallet{address: %s, key: %s}", w.address, _redacted)
}

func (w *Wallet) GoString() string {
	return w.String()
}

func (w *Wallet) Format(f fmt.State, _ rune) {
	_, _ = f.Write([]byte(w.String()))
}

func (w *Wallet) MarshalJSON() ([]byte, error) {
	return sonic.ConfigStd.Marshal(map[string]string{
		"address": w.address,
		"key":     _redacted,
	})
}
