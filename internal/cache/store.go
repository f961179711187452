package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrStoreUnavailable wraps every failure of the backing store. Callers
// treat it as a miss on read and log it on write.
var ErrStoreUnavailable = errors.New("cache store unavailable")

// Store is a byte-oriented key/value store with per-entry expiry.
// Get reports absent entries (including expired ones) with ok == false.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type Scope string

const (
	ScopeSystem Scope = "system"
	ScopeUser   Scope = "user"
)

// Key identifies one cached aggregation result.
type Key struct {
	Scope      Scope
	ContractID string
	Address    string
}

func SystemKey(contractID string) Key {
	return Key{Scope: ScopeSystem, ContractID: contractID}
}

func UserKey(contractID, address string) Key {
	return Key{Scope: ScopeUser, ContractID: contractID, Address: address}
}

// keyEscaper keeps the separator out of key parts so distinct keys never
// render to the same string.
var keyEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

func (k Key) String() string {
	contractID := keyEscaper.Replace(k.ContractID)
	if k.Scope == ScopeUser {
		return fmt.Sprintf("energy:user:%s:%s", contractID, keyEscaper.Replace(k.Address))
	}
	return fmt.Sprintf("energy:%s:%s", k.Scope, contractID)
}
