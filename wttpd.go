// Package wttpd assembles the content-addressed resource store behind one
// handle: chunk store and royalty registry on badger, resource catalog,
// access control, the WTTP protocol engine and the range-resolving gateway.
package wttpd

import (
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/siteforge/wttpd/internal/accesscontrol"
	"github.com/siteforge/wttpd/internal/catalog"
	"github.com/siteforge/wttpd/internal/chunkstore"
	"github.com/siteforge/wttpd/internal/engine"
	"github.com/siteforge/wttpd/internal/keyValStore"
	"github.com/siteforge/wttpd/pkg/chunker"
	"github.com/siteforge/wttpd/pkg/gateway"
	"github.com/siteforge/wttpd/pkg/types"
)

// Storefront is the main handle. It owns the key-value store and the
// lifecycle of the background value-log GC.
type Storefront struct {
	kv       *keyValStore.KeyValStore
	registry *chunkstore.Registry
	engine   *engine.Engine
	gateway  *gateway.Gateway
	ac       *accesscontrol.AccessControl
	log      *logrus.Logger
	config   Config
	done     chan struct{}
}

// New opens (or creates) a store under conf.Paths[0], seeds the
// super-admin and, on first open, the site-wide default header.
func New(conf Config) (*Storefront, error) {
	log := conf.Logger
	if log == nil {
		log = defaultLogger()
	}

	kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{
		Paths:            conf.Paths,
		MinimumFreeSpace: conf.MinimumFreeGB,
		Logger:           log,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating KeyValStore: %w", err)
	}

	registry := chunkstore.NewRegistry(chunkstore.NewStore(log), kv, chunkstore.RegistryConfig{
		Owner:       conf.Owner,
		RoyaltyRate: conf.RoyaltyRate,
		Logger:      log,
	})
	cat := catalog.New(registry, catalog.Config{
		RejectMalformed: conf.RejectMalformed,
		Logger:          log,
	})
	ac := accesscontrol.New(kv, log)
	eng := engine.New(kv, cat, ac, engine.Config{Logger: log})

	sf := &Storefront{
		kv:       kv,
		registry: registry,
		engine:   eng,
		gateway:  gateway.New(eng, kv, log),
		ac:       ac,
		log:      log,
		config:   conf,
		done:     make(chan struct{}),
	}

	if err := sf.bootstrap(); err != nil {
		kv.Close()
		return nil, err
	}

	go sf.runGarbageCollection()

	return sf, nil
}

func (sf *Storefront) bootstrap() error {
	if sf.config.SuperAdmin != "" {
		if err := sf.ac.SeedSuperAdmin(sf.config.SuperAdmin); err != nil {
			return fmt.Errorf("error seeding super admin: %w", err)
		}
	}

	// Install a default header on first open only; a site admin may have
	// replaced it since.
	var existing types.Header
	err := sf.kv.View(func(txn *badger.Txn) error {
		var err error
		existing, err = sf.engine.Catalog().ReadHeader(txn, types.Hash{})
		return err
	})
	if err != nil {
		return err
	}
	if existing.AllowedMethods != 0 {
		return nil
	}

	return sf.kv.Update(func(txn *badger.Txn) error {
		return sf.engine.Catalog().SetDefaultHeader(txn, types.Header{
			AllowedMethods: types.MaskRead | types.MaskWrite,
			ResourceAdmin:  types.SiteAdminRole,
		})
	})
}

// Engine exposes the authoritative protocol engine (write verbs live here).
func (sf *Storefront) Engine() *engine.Engine {
	return sf.engine
}

// Gateway exposes the range-resolving read façade.
func (sf *Storefront) Gateway() *gateway.Gateway {
	return sf.gateway
}

// AccessControl exposes role management.
func (sf *Storefront) AccessControl() *accesscontrol.AccessControl {
	return sf.ac
}

// Balance reports an identity's accumulated royalty balance.
func (sf *Storefront) Balance(id types.Identity) (uint64, error) {
	return sf.registry.Balance(id)
}

// Collect withdraws amount from the caller's balance to destination.
func (sf *Storefront) Collect(caller types.Identity, amount uint64, destination types.Identity) error {
	return sf.registry.Collect(caller, amount, destination)
}

// PutFile is the reference upload flow: the body is buzhash-chunked, the
// PUT carries the descriptive metadata and chunk 0, one follow-up PATCH
// carries the rest. payment budgets the whole upload; the unspent
// remainder comes back as Refund.
func (sf *Storefront) PutFile(caller types.Identity, payment uint64, path, mimeType, charset string, body []byte) (engine.WriteResponse, error) {
	regs, err := chunker.Split(body, caller)
	if err != nil {
		return engine.WriteResponse{}, err
	}

	line := engine.RequestLine{Protocol: types.ProtocolVersion, Path: path}

	var first []types.DataRegistration
	if len(regs) > 0 {
		first = regs[:1]
	}
	resp, err := sf.engine.Put(caller, payment, engine.PutRequest{
		RequestLine: line,
		MimeType:    mimeType,
		Charset:     charset,
		Chunks:      first,
	})
	if err != nil || resp.Status.IsRedirect() || resp.Status >= 400 || len(regs) <= 1 {
		return resp, err
	}

	royalty := resp.Royalty
	patch, err := sf.engine.Patch(caller, resp.Refund, engine.PatchRequest{
		RequestLine: line,
		Chunks:      regs[1:],
	})
	if err != nil {
		return engine.WriteResponse{}, err
	}
	patch.Status = resp.Status
	patch.Royalty += royalty
	return patch, nil
}

func (sf *Storefront) runGarbageCollection() {
	interval := sf.config.GarbageCollectionInterval
	if interval == 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-sf.done:
			return
		case <-ticker.C:
			if err := sf.kv.Clean(); err != nil {
				sf.log.WithError(err).Warn("value-log GC pass failed")
			}
		}
	}
}

// Close stops the GC loop and closes the underlying store.
func (sf *Storefront) Close() {
	close(sf.done)
	sf.kv.Close()
}
