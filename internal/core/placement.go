package core

import (
	"strconv"
	"time"
)

// PathAllocator maps an accepted upload to its storage key:
// {tenant_code}/{year}/{MonthName}/{filename}.
type PathAllocator struct {
	// Location selects the calendar used for year and month. Nil means time.Local.
	Location *time.Location
}

// Allocate is pure. The filename is used verbatim and never renamed on collision.
func (a PathAllocator) Allocate(tenantCode, filename string, ts time.Time) string {
	loc := a.Location
	if loc == nil {
		loc = time.Local
	}
	t := ts.In(loc)
	return tenantCode + "/" + strconv.Itoa(t.Year()) + "/" + t.Month().String() + "/" + filename
}

// TenantPrefix is the storage subtree owned by a tenant.
func TenantPrefix(tenantCode string) string {
	return tenantCode + "/"
}
