package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"chat-server/models"
)

// ErrVersionConflict is returned by Save* when the document changed since it
// was read. Callers reload and re-apply their mutation.
var ErrVersionConflict = errors.New("store: version conflict")

// Store is the entity store adapter: per-document read/find/save over Users,
// Channels, Groups and Messages. Saves use optimistic concurrency: a document
// with Version 0 is inserted, anything else is a compare-and-swap against the
// version it was read at.
type Store interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	ExistsUserByUsername(ctx context.Context, username string) (bool, error)
	ExistsUserByEmail(ctx context.Context, email string) (bool, error)
	SaveUser(ctx context.Context, user *models.User) error
	FindUsers(ctx context.Context, filter Filter) ([]*models.User, error)

	GetChannel(ctx context.Context, id string) (*models.Channel, error)
	GetChannelByName(ctx context.Context, name string) (*models.Channel, error)
	ExistsChannelByName(ctx context.Context, name string) (bool, error)
	SaveChannel(ctx context.Context, channel *models.Channel) error
	FindChannels(ctx context.Context, filter Filter) ([]*models.Channel, error)

	GetGroup(ctx context.Context, id string) (*models.Group, error)
	SaveGroup(ctx context.Context, group *models.Group) error
	FindGroups(ctx context.Context, filter Filter) ([]*models.Group, error)

	GetMessage(ctx context.Context, id string) (*models.Message, error)
	SaveMessage(ctx context.Context, message *models.Message) error
	FindMessages(ctx context.Context, filter Filter, page Page) ([]*models.Message, error)
	CountMessages(ctx context.Context, filter Filter) (int64, error)

	Close() error
}

// Op is a filter predicate form. The set is intentionally small: everything
// the services need is expressible as a compound AND of these.
type Op int

const (
	// OpEq matches scalar equality; on a set-valued field it matches
	// containment (mongo semantics for array fields).
	OpEq Op = iota
	// OpIn matches when the field value is one of the candidates.
	OpIn
	// OpContains matches a case-insensitive substring.
	OpContains
	// OpGt matches values strictly greater than the operand.
	OpGt
)

type Cond struct {
	Field string
	Op    Op
	Value interface{}
}

// Filter is a conjunction of conditions. Field names are the document field
// names (bson tags on the models).
type Filter []Cond

func Where(field string, op Op, value interface{}) Filter {
	return Filter{{Field: field, Op: op, Value: value}}
}

func (f Filter) And(field string, op Op, value interface{}) Filter {
	return append(f, Cond{Field: field, Op: op, Value: value})
}

// Page bounds and orders a message query. The zero value returns everything
// in timestamp order.
type Page struct {
	Offset      int
	Limit       int
	NewestFirst bool
}

// Matches evaluates the filter against a document exposed through a field
// accessor. Backends without a native query engine use this.
func (f Filter) Matches(field func(name string) interface{}) bool {
	for _, c := range f {
		if !c.matches(field(c.Field)) {
			return false
		}
	}
	return true
}

func (c Cond) matches(v interface{}) bool {
	switch c.Op {
	case OpEq:
		if set, ok := v.([]string); ok {
			want, ok := c.Value.(string)
			return ok && models.Contains(set, want)
		}
		return v == c.Value
	case OpIn:
		candidates, ok := c.Value.([]string)
		if !ok {
			return false
		}
		s, ok := v.(string)
		return ok && models.Contains(candidates, s)
	case OpContains:
		s, ok := v.(string)
		sub, ok2 := c.Value.(string)
		return ok && ok2 && strings.Contains(strings.ToLower(s), strings.ToLower(sub))
	case OpGt:
		switch val := v.(type) {
		case time.Time:
			t, ok := c.Value.(time.Time)
			return ok && val.After(t)
		case int:
			n, ok := c.Value.(int)
			return ok && val > n
		case int64:
			n, ok := c.Value.(int64)
			return ok && val > n
		}
		return false
	}
	return false
}
