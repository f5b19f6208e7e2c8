package chunkstore

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/siteforge/wttpd/internal/codec"
	"github.com/siteforge/wttpd/internal/keyValStore"
	"github.com/siteforge/wttpd/pkg/types"
)

// publisherShare is the fraction of a royalty credited to the original
// publisher; the rest is the protocol fee credited to the registry owner.
const publisherShareNumerator, publisherShareDenominator = 9, 10

// Payment is the value budget threaded through a verb call. Register draws
// royalties from Remaining; whatever is left after the call is the caller's
// refund.
type Payment struct {
	Caller    types.Identity
	Remaining uint64
	Spent     uint64
}

// RegistryConfig configures the royalty economics.
type RegistryConfig struct {
	// Owner is credited the protocol fee slice of every royalty.
	Owner types.Identity
	// RoyaltyRate scales a chunk's recorded cost into the fee a later
	// publisher pays to re-register the same bytes.
	RoyaltyRate float64
	Logger      *logrus.Logger
}

// Registry wraps Store with the publisher-incentive ledger: first writes
// record a cost basis, repeat writes by someone else cost a royalty that is
// mostly credited to the original publisher.
type Registry struct {
	store *Store
	kv    *keyValStore.KeyValStore
	conf  RegistryConfig
	log   *logrus.Logger
}

func NewRegistry(store *Store, kv *keyValStore.KeyValStore, conf RegistryConfig) *Registry {
	if conf.Logger == nil {
		conf.Logger = logrus.New()
	}
	if conf.RoyaltyRate < 0 {
		conf.RoyaltyRate = 0
	}
	return &Registry{
		store: store,
		kv:    kv,
		conf:  conf,
		log:   conf.Logger,
	}
}

func (r *Registry) Store() *Store {
	return r.store
}

func royaltyKey(addr types.Hash) []byte {
	return keyValStore.Key(prefixRoyalty, addr.Bytes())
}

func balanceKey(id types.Identity) []byte {
	return keyValStore.Key(prefixBalance, id.Bytes())
}

// Register stores data if it is new, recording its cost basis and publisher.
// Re-registering existing bytes published by someone else draws the royalty
// from pay and credits the original publisher and the registry owner.
// Chunks whose recorded publisher is the zero identity are royalty-free
// forever, as are re-registrations by the original publisher.
func (r *Registry) Register(txn *badger.Txn, data []byte, publisher types.Identity, pay *Payment) (types.Hash, uint64, error) {
	addr := types.ChunkAddress(data)

	record, found, err := r.RoyaltyRecord(txn, addr)
	if err != nil {
		return types.Hash{}, 0, err
	}

	if !found {
		if _, err := r.store.Write(txn, data); err != nil {
			return types.Hash{}, 0, err
		}
		record = types.RoyaltyRecord{
			Cost:      uint64(len(data)),
			Publisher: publisher,
		}
		raw, err := codec.Marshal(record)
		if err != nil {
			return types.Hash{}, 0, err
		}
		if err := keyValStore.Set(txn, royaltyKey(addr), raw); err != nil {
			return types.Hash{}, 0, err
		}
		return addr, 0, nil
	}

	if record.Publisher.IsZero() || record.Publisher == publisher {
		return addr, 0, nil
	}

	royalty := uint64(float64(record.Cost) * r.conf.RoyaltyRate)
	if royalty == 0 {
		return addr, 0, nil
	}
	if pay == nil || pay.Remaining < royalty {
		return types.Hash{}, 0, fmt.Errorf("%w: chunk %s requires %d", ErrInsufficientPayment, addr, royalty)
	}
	pay.Remaining -= royalty
	pay.Spent += royalty

	toPublisher := royalty * publisherShareNumerator / publisherShareDenominator
	fee := royalty - toPublisher

	if err := r.credit(txn, record.Publisher, toPublisher); err != nil {
		return types.Hash{}, 0, err
	}
	if err := r.credit(txn, r.conf.Owner, fee); err != nil {
		return types.Hash{}, 0, err
	}

	r.log.WithFields(logrus.Fields{
		"chunk":     addr.String()[:16],
		"publisher": record.Publisher,
		"royalty":   royalty,
	}).Debug("royalty charged")

	return addr, royalty, nil
}

// RoyaltyRecord reads the cost basis of addr, found=false if the chunk was
// never registered.
func (r *Registry) RoyaltyRecord(txn *badger.Txn, addr types.Hash) (types.RoyaltyRecord, bool, error) {
	raw, found, err := keyValStore.Get(txn, royaltyKey(addr))
	if err != nil || !found {
		return types.RoyaltyRecord{}, false, err
	}
	var record types.RoyaltyRecord
	if err := codec.Unmarshal(raw, &record); err != nil {
		return types.RoyaltyRecord{}, false, fmt.Errorf("error decoding royalty record %s: %w", addr, err)
	}
	return record, true, nil
}

func (r *Registry) balance(txn *badger.Txn, id types.Identity) (uint64, error) {
	raw, found, err := keyValStore.Get(txn, balanceKey(id))
	if err != nil || !found {
		return 0, err
	}
	var bal uint64
	if err := codec.Unmarshal(raw, &bal); err != nil {
		return 0, fmt.Errorf("error decoding balance of %s: %w", id, err)
	}
	return bal, nil
}

func (r *Registry) setBalance(txn *badger.Txn, id types.Identity, bal uint64) error {
	raw, err := codec.Marshal(bal)
	if err != nil {
		return err
	}
	return keyValStore.Set(txn, balanceKey(id), raw)
}

func (r *Registry) credit(txn *badger.Txn, id types.Identity, amount uint64) error {
	if amount == 0 || id.IsZero() {
		return nil
	}
	bal, err := r.balance(txn, id)
	if err != nil {
		return err
	}
	return r.setBalance(txn, id, bal+amount)
}

// Balance returns the credited royalty balance of id.
func (r *Registry) Balance(id types.Identity) (uint64, error) {
	var bal uint64
	err := r.kv.View(func(txn *badger.Txn) error {
		var err error
		bal, err = r.balance(txn, id)
		return err
	})
	return bal, err
}

// Collect moves amount from the caller's credited balance to destination.
// The whole transfer is one transaction.
func (r *Registry) Collect(caller types.Identity, amount uint64, destination types.Identity) error {
	return r.kv.Update(func(txn *badger.Txn) error {
		bal, err := r.balance(txn, caller)
		if err != nil {
			return err
		}
		if amount > bal {
			return fmt.Errorf("%w: have %d, want %d", ErrInsufficientBalance, bal, amount)
		}
		if err := r.setBalance(txn, caller, bal-amount); err != nil {
			return err
		}
		return r.credit(txn, destination, amount)
	})
}
