package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"chat-server/errs"
	"chat-server/models"
)

// Mongo is the production backend. The documents map one-to-one onto the
// models' bson tags, and filters translate directly to query documents.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

func NewMongo(ctx context.Context, uri, dbName string) (*Mongo, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	m := &Mongo{client: client, db: client.Database(dbName)}
	if err := m.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		"users": {
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
		"channels": {
			{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "memberIds", Value: 1}}},
		},
		"groups": {
			{Keys: bson.D{{Key: "memberIds", Value: 1}}},
		},
		"messages": {
			{Keys: bson.D{{Key: "channelId", Value: 1}, {Key: "timestamp", Value: -1}}},
			{Keys: bson.D{{Key: "groupId", Value: 1}, {Key: "timestamp", Value: -1}}},
			{Keys: bson.D{{Key: "recipientId", Value: 1}, {Key: "timestamp", Value: -1}}},
			{Keys: bson.D{{Key: "senderId", Value: 1}}},
		},
	}
	for coll, defs := range indexes {
		if _, err := m.db.Collection(coll).Indexes().CreateMany(ctx, defs); err != nil {
			return fmt.Errorf("mongo indexes for %s: %w", coll, err)
		}
	}
	return nil
}

func (m *Mongo) Close() error {
	return m.client.Disconnect(context.Background())
}

func toBSON(f Filter) bson.D {
	query := bson.D{}
	for _, c := range f {
		switch c.Op {
		case OpEq:
			query = append(query, bson.E{Key: c.Field, Value: c.Value})
		case OpIn:
			query = append(query, bson.E{Key: c.Field, Value: bson.D{{Key: "$in", Value: c.Value}}})
		case OpContains:
			pattern := regexp.QuoteMeta(fmt.Sprintf("%v", c.Value))
			query = append(query, bson.E{Key: c.Field, Value: bson.D{
				{Key: "$regex", Value: pattern},
				{Key: "$options", Value: "i"},
			}})
		case OpGt:
			query = append(query, bson.E{Key: c.Field, Value: bson.D{{Key: "$gt", Value: c.Value}}})
		}
	}
	return query
}

func idFilter(id string) bson.D {
	return bson.D{{Key: "_id", Value: id}}
}

// save inserts a fresh document or compare-and-swaps an existing one on its
// version field. The caller's version counter is bumped on success.
func (m *Mongo) save(ctx context.Context, coll, id string, version *int64, doc interface{}) error {
	c := m.db.Collection(coll)
	if *version == 0 {
		*version = 1
		if _, err := c.InsertOne(ctx, doc); err != nil {
			*version = 0
			if mongo.IsDuplicateKeyError(err) {
				return fmt.Errorf("%w: %v", errs.ErrConflict, err)
			}
			return err
		}
		return nil
	}

	old := *version
	*version = old + 1
	res, err := c.ReplaceOne(ctx, bson.D{
		{Key: "_id", Value: id},
		{Key: "version", Value: old},
	}, doc)
	if err != nil {
		*version = old
		return err
	}
	if res.MatchedCount == 0 {
		*version = old
		return ErrVersionConflict
	}
	return nil
}

// --- Users ---

func (m *Mongo) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := m.db.Collection("users").FindOne(ctx, idFilter(id)).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.NotFound("user", "id", id)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (m *Mongo) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	err := m.db.Collection("users").FindOne(ctx, bson.D{{Key: "username", Value: username}}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.NotFound("user", "username", username)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (m *Mongo) ExistsUserByUsername(ctx context.Context, username string) (bool, error) {
	n, err := m.db.Collection("users").CountDocuments(ctx, bson.D{{Key: "username", Value: username}})
	return n > 0, err
}

func (m *Mongo) ExistsUserByEmail(ctx context.Context, email string) (bool, error) {
	n, err := m.db.Collection("users").CountDocuments(ctx, bson.D{{Key: "email", Value: email}})
	return n > 0, err
}

func (m *Mongo) SaveUser(ctx context.Context, u *models.User) error {
	return m.save(ctx, "users", u.ID, &u.Version, u)
}

func (m *Mongo) FindUsers(ctx context.Context, filter Filter) ([]*models.User, error) {
	cursor, err := m.db.Collection("users").Find(ctx, toBSON(filter))
	if err != nil {
		return nil, err
	}
	var out []*models.User
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// --- Channels ---

func (m *Mongo) GetChannel(ctx context.Context, id string) (*models.Channel, error) {
	var c models.Channel
	err := m.db.Collection("channels").FindOne(ctx, idFilter(id)).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.NotFound("channel", "id", id)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (m *Mongo) GetChannelByName(ctx context.Context, name string) (*models.Channel, error) {
	var c models.Channel
	err := m.db.Collection("channels").FindOne(ctx, bson.D{{Key: "name", Value: name}}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.NotFound("channel", "name", name)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (m *Mongo) ExistsChannelByName(ctx context.Context, name string) (bool, error) {
	n, err := m.db.Collection("channels").CountDocuments(ctx, bson.D{{Key: "name", Value: name}})
	return n > 0, err
}

func (m *Mongo) SaveChannel(ctx context.Context, c *models.Channel) error {
	return m.save(ctx, "channels", c.ID, &c.Version, c)
}

func (m *Mongo) FindChannels(ctx context.Context, filter Filter) ([]*models.Channel, error) {
	cursor, err := m.db.Collection("channels").Find(ctx, toBSON(filter))
	if err != nil {
		return nil, err
	}
	var out []*models.Channel
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// --- Groups ---

func (m *Mongo) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	var g models.Group
	err := m.db.Collection("groups").FindOne(ctx, idFilter(id)).Decode(&g)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.NotFound("group", "id", id)
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (m *Mongo) SaveGroup(ctx context.Context, g *models.Group) error {
	return m.save(ctx, "groups", g.ID, &g.Version, g)
}

func (m *Mongo) FindGroups(ctx context.Context, filter Filter) ([]*models.Group, error) {
	cursor, err := m.db.Collection("groups").Find(ctx, toBSON(filter))
	if err != nil {
		return nil, err
	}
	var out []*models.Group
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// --- Messages ---

func (m *Mongo) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	err := m.db.Collection("messages").FindOne(ctx, idFilter(id)).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.NotFound("message", "id", id)
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (m *Mongo) SaveMessage(ctx context.Context, msg *models.Message) error {
	return m.save(ctx, "messages", msg.ID, &msg.Version, msg)
}

func (m *Mongo) FindMessages(ctx context.Context, filter Filter, page Page) ([]*models.Message, error) {
	opts := options.Find()
	dir := 1
	if page.NewestFirst {
		dir = -1
	}
	opts.SetSort(bson.D{{Key: "timestamp", Value: dir}})
	if page.Offset > 0 {
		opts.SetSkip(int64(page.Offset))
	}
	if page.Limit > 0 {
		opts.SetLimit(int64(page.Limit))
	}

	cursor, err := m.db.Collection("messages").Find(ctx, toBSON(filter), opts)
	if err != nil {
		return nil, err
	}
	var out []*models.Message
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Mongo) CountMessages(ctx context.Context, filter Filter) (int64, error) {
	return m.db.Collection("messages").CountDocuments(ctx, toBSON(filter))
}

var _ Store = (*Mongo)(nil)
