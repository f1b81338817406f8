package database

import (
	"context"
	"math"
	"time"
)

// AddressFilter narrows and pages an address listing.
type AddressFilter struct {
	Source   Source // empty means all sources
	Page     int    // 1-based
	PageSize int
}

// offset saturates at math.MaxInt so a huge page number lands past the end
// instead of wrapping negative.
func (f AddressFilter) offset() int {
	page, size := f.normalized()
	if page-1 > math.MaxInt/size {
		return math.MaxInt
	}
	return (page - 1) * size
}

func (f AddressFilter) normalized() (page, size int) {
	page, size = f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	return page, size
}

// DefaultPageSize applies when a listing asks for no page size.
const DefaultPageSize = 50

// DeliveryFilter selects delivery records in [Since, Until), newest first.
type DeliveryFilter struct {
	Since time.Time
	Until time.Time
	Limit int
}

// AddressDirectory is the deduplicated store of every submitted address.
type AddressDirectory interface {
	Upsert(ctx context.Context, email string, source Source) error
	TouchLastUsed(ctx context.Context, email string) error
	List(ctx context.Context, filter AddressFilter) ([]AddressRecord, int, error)
}

// DeliveryLog is the append-only audit trail of send attempts.
type DeliveryLog interface {
	Append(ctx context.Context, rec DeliveryRecord) error
	List(ctx context.Context, filter DeliveryFilter) ([]DeliveryRecord, error)
	CountByStatus(ctx context.Context, since, until time.Time) (map[Status]int, error)
}

// Store bundles both collections behind one connection.
type Store interface {
	Addresses() AddressDirectory
	Deliveries() DeliveryLog
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
