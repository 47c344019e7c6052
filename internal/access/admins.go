// Package access holds the allow-list that gates privileged ledger calls.
package access

import (
	"context"
	"fmt"
	"strings"

	"github.com/leafsii/leafsii-lending/internal/ledger"
)

// AdminList authorizes a fixed set of addresses. Matching is
// case-insensitive so hex addresses may be configured in any case.
type AdminList struct {
	admins map[string]struct{}
}

var _ ledger.Authorizer = (*AdminList)(nil)

func NewAdminList(addrs ...string) *AdminList {
	l := &AdminList{admins: make(map[string]struct{}, len(addrs))}
	for _, a := range addrs {
		a = normalize(a)
		if a != "" {
			l.admins[a] = struct{}{}
		}
	}
	return l
}

func normalize(a string) string {
	return strings.ToLower(strings.TrimSpace(a))
}

func (l *AdminList) Len() int { return len(l.admins) }

func (l *AdminList) IsAdmin(caller ledger.Address) bool {
	_, ok := l.admins[normalize(string(caller))]
	return ok
}

func (l *AdminList) Authorize(_ context.Context, caller ledger.Address) error {
	if !l.IsAdmin(caller) {
		return fmt.Errorf("%w: %q is not an admin", ledger.ErrUnauthorized, caller)
	}
	return nil
}
