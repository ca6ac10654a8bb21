// Package cache implements the Cache/KV Store component of spec §4.1: an
// opaque key->value and key->set store with intrinsic per-kind TTLs and a
// keyspace subscription, backed by Redis the way original_source's
// integration/cache.rs and integration/redis.rs wire it, generalized from
// the teacher's store-adapter split (server/store/adapter) into a narrow
// Store interface instead of a full persistence adapter.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dcadea/eventfabric/internal/id"
	"github.com/dcadea/eventfabric/internal/model"
)

// KeyKind identifies which namespace a Key belongs to; it also determines
// the key's intrinsic TTL (spec §4.1).
type KeyKind int

const (
	KindUserInfo KeyKind = iota
	KindContacts
	KindTalk
	KindSession
	KindCSRF
	KindUsersOnline
)

// Key renders to the prefixed string form spec §6 names
// (userinfo:, contacts:, talk:, session:, csrf:, users:online).
type Key struct {
	Kind KeyKind
	Sub  model.UserSub
	Talk id.ID
	Raw  string
}

func UserInfo(sub model.UserSub) Key  { return Key{Kind: KindUserInfo, Sub: sub} }
func Contacts(sub model.UserSub) Key  { return Key{Kind: KindContacts, Sub: sub} }
func Talk(talkID id.ID) Key           { return Key{Kind: KindTalk, Talk: talkID} }
func Session(sid id.SessionID) Key    { return Key{Kind: KindSession, Raw: sid.String()} }
func CSRF(nonce string) Key           { return Key{Kind: KindCSRF, Raw: nonce} }
func UsersOnline() Key                { return Key{Kind: KindUsersOnline} }

func (k Key) String() string {
	switch k.Kind {
	case KindUserInfo:
		return fmt.Sprintf("userinfo:%s", k.Sub)
	case KindContacts:
		return fmt.Sprintf("contacts:%s", k.Sub)
	case KindTalk:
		return fmt.Sprintf("talk:%s", k.Talk)
	case KindSession:
		return fmt.Sprintf("session:%s", k.Raw)
	case KindCSRF:
		return fmt.Sprintf("csrf:%s", k.Raw)
	case KindUsersOnline:
		return "users:online"
	default:
		return "unknown"
	}
}

// TTL returns the intrinsic time-to-live of the key's kind (spec §4.1). A
// zero duration means the key is persistent (contacts, users:online).
// Session keys report a one-hour fallback; callers may supply their own
// token-derived TTL instead.
func (k Key) TTL() time.Duration {
	switch k.Kind {
	case KindUserInfo, KindTalk:
		return time.Hour
	case KindSession:
		// Fallback TTL if the caller doesn't supply a token-derived one.
		return time.Hour
	case KindCSRF:
		return 120 * time.Second
	case KindContacts, KindUsersOnline:
		return 0
	default:
		return 0
	}
}

// KeyOp is the kind of mutation observed on a key via keyspace notification.
type KeyOp string

const (
	OpSet  KeyOp = "set"
	OpDel  KeyOp = "del"
	OpSAdd KeyOp = "sadd"
	OpSRem KeyOp = "srem"
	OpExpired KeyOp = "expired"
)

// KeyEvent is one observed keyspace mutation.
type KeyEvent struct {
	Key string
	Op  KeyOp
}

// Store is the Cache/KV Store contract of spec §4.1. Errors on writes are
// logged and swallowed by implementations — the cache is never
// authoritative, so a write failure must never bubble up and fail a
// request; reads return the zero value/false on any failure ("absent").
type Store interface {
	Set(ctx context.Context, key Key, value string)
	SetEx(ctx context.Context, key Key, value string, ttl time.Duration)
	Get(ctx context.Context, key Key) (string, bool)
	GetDel(ctx context.Context, key Key) (string, bool)
	SAdd(ctx context.Context, key Key, member string)
	SRem(ctx context.Context, key Key, member string)
	SMembers(ctx context.Context, key Key) []string
	Expire(ctx context.Context, key Key, ttl time.Duration)

	// Subscribe yields a stream of KeyEvent for keys matching prefix,
	// restartable by calling Subscribe again; the stream ends only when
	// ctx is canceled.
	Subscribe(ctx context.Context, prefix string) (<-chan KeyEvent, error)

	Close() error
}
