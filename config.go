package wttpd

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/siteforge/wttpd/pkg/types"
)

// Config configures a Storefront instance.
type Config struct {
	// Paths contains data directories. Currently only Paths[0] is used.
	Paths []string
	// MinimumFreeGB is a free-space threshold checked on open.
	MinimumFreeGB int
	// GarbageCollectionInterval is the badger value-log GC cadence.
	// If 0, GC runs every 5 minutes.
	GarbageCollectionInterval time.Duration
	// Owner receives the site share of every royalty charge.
	Owner types.Identity
	// RoyaltyRate converts a chunk's recorded cost into the charge for
	// re-publication. If 0, re-publication is free.
	RoyaltyRate float64
	// SuperAdmin is seeded into the super-admin role on open.
	SuperAdmin types.Identity
	// RejectMalformed makes header validation fail instead of warn.
	RejectMalformed bool
	// Logger is an optional structured logger. If nil, a stderr logger is used.
	Logger *logrus.Logger
}

func defaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	return l
}
