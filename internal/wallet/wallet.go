// ==================================
// File: internal/wallet/wallet.go
// ==================================
package wallet

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownWallet = errors.New("unknown wallet")
	ErrNoWallets     = errors.New("no wallets configured")
)

// Wallet is a named signing key.
type Wallet struct {
	Name       string
	PrivateKey solana.PrivateKey
	PublicKey  solana.PublicKey

	mu       sync.Mutex
	ataCache map[solana.PublicKey]solana.PublicKey
}

// NewWallet decodes a base58 encoded 64 byte private key.
func NewWallet(name, privateKeyBase58 string) (*Wallet, error) {
	raw, err := base58.Decode(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	if len(raw) != 64 {
		return nil, fmt.Errorf("invalid private key length: expected 64 bytes, got %d", len(raw))
	}
	key := solana.PrivateKey(raw)
	return &Wallet{
		Name:       name,
		PrivateKey: key,
		PublicKey:  key.PublicKey(),
		ataCache:   make(map[solana.PublicKey]solana.PublicKey),
	}, nil
}

// ATA returns the associated token account of the wallet for mint.
func (w *Wallet) ATA(mint solana.PublicKey) (solana.PublicKey, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ata, ok := w.ataCache[mint]; ok {
		return ata, nil
	}
	ata, _, err := solana.FindAssociatedTokenAddress(w.PublicKey, mint)
	if err != nil {
		return solana.PublicKey{}, err
	}
	w.ataCache[mint] = ata
	return ata, nil
}

// Sign adds the wallet's signature to tx.
func (w *Wallet) Sign(tx *solana.Transaction) error {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(w.PublicKey) {
			return &w.PrivateKey
		}
		return nil
	})
	return err
}

func (w *Wallet) String() string {
	return w.PublicKey.String()
}

// Store resolves wallet ids to keys.
type Store struct {
	wallets map[string]*Wallet
}

func NewStore(wallets ...*Wallet) (*Store, error) {
	s := &Store{wallets: make(map[string]*Wallet, len(wallets))}
	for _, w := range wallets {
		if _, dup := s.wallets[w.Name]; dup {
			return nil, fmt.Errorf("duplicate wallet name %q", w.Name)
		}
		s.wallets[w.Name] = w
	}
	return s, nil
}

type walletsFile struct {
	Wallets []struct {
		Name       string `yaml:"name"`
		PrivateKey string `yaml:"private_key"`
	} `yaml:"wallets"`
}

// Load reads a YAML wallets file:
//
//	wallets:
//	  - name: mm-1
//	    private_key: <base58>
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read wallets file: %w", err)
	}

	var file walletsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse wallets file: %w", err)
	}
	if len(file.Wallets) == 0 {
		return nil, ErrNoWallets
	}

	wallets := make([]*Wallet, 0, len(file.Wallets))
	for i, entry := range file.Wallets {
		if entry.Name == "" {
			return nil, fmt.Errorf("wallet %d: missing name", i)
		}
		w, err := NewWallet(entry.Name, entry.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("wallet %q: %w", entry.Name, err)
		}
		wallets = append(wallets, w)
	}
	return NewStore(wallets...)
}

// Get returns the wallet registered under name.
func (s *Store) Get(name string) (*Wallet, error) {
	w, ok := s.wallets[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownWallet)
	}
	return w, nil
}

// Names lists wallet names in sorted order.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.wallets))
	for name := range s.wallets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Store) Len() int {
	return len(s.wallets)
}
