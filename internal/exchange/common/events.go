// Package common defines the event vocabulary shared by exchange feed
// connectors and the processing pipeline. Connectors translate venue
// frames into these events; everything downstream is venue-agnostic.
package common

import (
	"context"
	"time"

	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/orderbook"
)

// Well-known exchange identifiers used for event attribution and metric labels.
const (
	ExchangeCoinbase = "coinbase"
	ExchangeBinance  = "binance"
)

// Kind discriminates event variants without reflection on the consumer side.
type Kind uint8

const (
	KindStatus Kind = iota + 1
	KindSnapshot
	KindUpdate
	KindPartialDepth
)

func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindSnapshot:
		return "snapshot"
	case KindUpdate:
		return "update"
	case KindPartialDepth:
		return "partial_depth"
	default:
		return "unknown"
	}
}

// Status is the connection state of a feed, reported in-band so the consumer
// observes state flips in stream order relative to book data.
type Status uint8

const (
	StatusConnecting Status = iota + 1
	StatusConnected
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// MarshalText renders the status as its name, so JSON carries "connected"
// rather than an enum ordinal.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Event is a single item on the feed-to-processor channel.
type Event interface {
	EventKind() Kind
	ExchangeID() string
	ProductID() string
}

// Base carries the attribution fields every event shares.
type Base struct {
	Exchange string
	Product  string
}

func (b Base) ExchangeID() string { return b.Exchange }
func (b Base) ProductID() string  { return b.Product }

// StatusEvent reports a feed connection state change.
type StatusEvent struct {
	Base
	Status Status
	At     time.Time
}

func (StatusEvent) EventKind() Kind { return KindStatus }

// SnapshotEvent carries a full book image that replaces all prior state.
type SnapshotEvent struct {
	Base
	Sequence int64
	Time     time.Time
	Entries  []orderbook.Entry
}

func (SnapshotEvent) EventKind() Kind { return KindSnapshot }

// UpdateEvent carries an incremental change set. A zero quantity removes
// the level at that price.
type UpdateEvent struct {
	Base
	Sequence int64
	Time     time.Time
	Entries  []orderbook.Entry
}

func (UpdateEvent) EventKind() Kind { return KindUpdate }

// PartialDepthEvent carries a depth-limited full replacement. Venues that
// publish top-N snapshots on a timer (Binance partial depth) use this
// instead of snapshot/update pairs.
type PartialDepthEvent struct {
	Base
	UpdateID int64
	Time     time.Time
	Entries  []orderbook.Entry
}

func (PartialDepthEvent) EventKind() Kind { return KindPartialDepth }

// Publish sends ev on out, giving up when ctx is done so a slow or stopped
// consumer never wedges a connector. Returns false if the send was abandoned.
func Publish(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Connector is a long-running feed worker. Run blocks until ctx is
// canceled, reconnecting internally on transport errors.
type Connector interface {
	Name() string
	Run(ctx context.Context) error
}
