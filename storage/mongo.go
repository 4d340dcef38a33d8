package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"focusflow-api/domain"
)

const (
	mongoIDField     = "_id"
	mongoParentField = "_parent"
)

// Mongo stores documents in MongoDB. Each root collection maps to one Mongo
// collection; nesting is encoded in the _id and _parent keys.
type Mongo struct {
	client *mongo.Client
	colls  map[string]*mongo.Collection
}

// NewMongo connects, verifies the connection and binds the collections.
func NewMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetServerSelectionTimeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, domain.Unavailable(fmt.Errorf("ping mongo: %w", err))
	}
	m := newMongo(client.Database(database))
	m.client = client
	return m, nil
}

func newMongo(db *mongo.Database) *Mongo {
	m := &Mongo{colls: map[string]*mongo.Collection{}}
	for _, root := range []string{domain.ProjectsCollection, domain.TasksCollection} {
		m.colls[root] = db.Collection(mongoCollectionName(root))
	}
	return m
}

func mongoCollectionName(root string) string {
	return strings.ToLower(root)
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	return m.client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes backing List and the project queries.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	want := map[string][]string{
		domain.ProjectsCollection: {mongoParentField, domain.ProjectCreatedByField, domain.ProjectEmployeesField},
		domain.TasksCollection:    {mongoParentField},
	}
	for root, fields := range want {
		models := make([]mongo.IndexModel, 0, len(fields))
		for _, f := range fields {
			models = append(models, mongo.IndexModel{Keys: bson.D{{Key: f, Value: 1}}})
		}
		if _, err := m.colls[root].Indexes().CreateMany(ctx, models); err != nil {
			return classifyMongoErr(fmt.Errorf("create indexes on %s: %w", root, err))
		}
	}
	return nil
}

func (m *Mongo) collection(p domain.Path) (*mongo.Collection, error) {
	c, ok := m.colls[p.Root()]
	if !ok {
		return nil, fmt.Errorf("%w: unknown root collection %q", domain.ErrValidation, p.Root())
	}
	return c, nil
}

func (m *Mongo) Put(ctx context.Context, p domain.Path, f domain.Fields) error {
	if err := checkDocPath(p); err != nil {
		return err
	}
	c, err := m.collection(p)
	if err != nil {
		return err
	}
	_, err = c.ReplaceOne(ctx, bson.M{mongoIDField: p.Key()}, toMongoDoc(p, f), options.Replace().SetUpsert(true))
	return classifyMongoErr(err)
}

func (m *Mongo) Create(ctx context.Context, p domain.Path, f domain.Fields) error {
	if err := checkDocPath(p); err != nil {
		return err
	}
	c, err := m.collection(p)
	if err != nil {
		return err
	}
	if _, err := c.InsertOne(ctx, toMongoDoc(p, f)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%s: %w", p, domain.ErrAlreadyExists)
		}
		return classifyMongoErr(err)
	}
	return nil
}

func (m *Mongo) Get(ctx context.Context, p domain.Path) (domain.Document, bool, error) {
	if err := checkDocPath(p); err != nil {
		return domain.Document{}, false, err
	}
	c, err := m.collection(p)
	if err != nil {
		return domain.Document{}, false, err
	}
	var raw bson.M
	err = c.FindOne(ctx, bson.M{mongoIDField: p.Key()}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Document{}, false, nil
	}
	if err != nil {
		return domain.Document{}, false, classifyMongoErr(err)
	}
	return domain.Document{Path: append(domain.Path(nil), p...), Fields: fromMongoDoc(raw)}, true, nil
}

func (m *Mongo) find(ctx context.Context, p domain.Path, extra bson.M) ([]domain.Document, error) {
	if err := checkCollectionPath(p); err != nil {
		return nil, err
	}
	c, err := m.collection(p)
	if err != nil {
		return nil, err
	}
	filter := bson.M{mongoParentField: p.Key()}
	for k, v := range extra {
		filter[k] = v
	}
	cur, err := c.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: mongoIDField, Value: 1}}))
	if err != nil {
		return nil, classifyMongoErr(err)
	}
	defer cur.Close(ctx)
	out := []domain.Document{}
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, err
		}
		doc, err := documentFromMongo(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := cur.Err(); err != nil {
		return nil, classifyMongoErr(err)
	}
	return out, nil
}

func (m *Mongo) List(ctx context.Context, p domain.Path) ([]domain.Document, error) {
	return m.find(ctx, p, nil)
}

func (m *Mongo) QueryByEquality(ctx context.Context, p domain.Path, field, value string) ([]domain.Document, error) {
	return m.find(ctx, p, bson.M{field: value})
}

// QueryByArrayMembership relies on Mongo matching a scalar against array
// elements.
func (m *Mongo) QueryByArrayMembership(ctx context.Context, p domain.Path, field, value string) ([]domain.Document, error) {
	return m.find(ctx, p, bson.M{field: value})
}

func (m *Mongo) UpdateIf(ctx context.Context, p domain.Path, cond domain.Condition, f domain.Fields) (domain.Document, error) {
	if err := checkDocPath(p); err != nil {
		return domain.Document{}, err
	}
	c, err := m.collection(p)
	if err != nil {
		return domain.Document{}, err
	}
	filter := bson.M{mongoIDField: p.Key(), cond.Field: cond.Equals}
	set := bson.M{}
	for k, v := range f {
		set[k] = v
	}
	doc, err := m.findAndUpdate(ctx, c, p, filter, bson.M{"$set": set})
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return doc, err
	}
	// Nothing matched: either the document is missing or the condition failed.
	_, found, getErr := m.Get(ctx, p)
	switch {
	case getErr != nil:
		return domain.Document{}, getErr
	case !found:
		return domain.Document{}, fmt.Errorf("%s: %w", p, domain.ErrNotFound)
	default:
		return domain.Document{}, fmt.Errorf("%s: %w", p, domain.ErrPreconditionFailed)
	}
}

func (m *Mongo) AddToSet(ctx context.Context, p domain.Path, field string, values []string) (domain.Document, error) {
	if err := checkDocPath(p); err != nil {
		return domain.Document{}, err
	}
	c, err := m.collection(p)
	if err != nil {
		return domain.Document{}, err
	}
	update := bson.M{"$addToSet": bson.M{field: bson.M{"$each": values}}}
	doc, err := m.findAndUpdate(ctx, c, p, bson.M{mongoIDField: p.Key()}, update)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Document{}, fmt.Errorf("%s: %w", p, domain.ErrNotFound)
	}
	return doc, err
}

func (m *Mongo) findAndUpdate(ctx context.Context, c *mongo.Collection, p domain.Path, filter, update bson.M) (domain.Document, error) {
	var raw bson.M
	err := c.FindOneAndUpdate(ctx, filter, update, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Document{}, err
	}
	if err != nil {
		return domain.Document{}, classifyMongoErr(err)
	}
	return domain.Document{Path: append(domain.Path(nil), p...), Fields: fromMongoDoc(raw)}, nil
}

func toMongoDoc(p domain.Path, f domain.Fields) bson.M {
	doc := bson.M{mongoIDField: p.Key(), mongoParentField: p.Parent().Key()}
	for k, v := range f {
		doc[k] = v
	}
	return doc
}

func fromMongoDoc(raw bson.M) domain.Fields {
	f := domain.Fields{}
	for k, v := range raw {
		if k == mongoIDField || k == mongoParentField {
			continue
		}
		switch val := v.(type) {
		case bson.A:
			list := make([]string, 0, len(val))
			for _, item := range val {
				if s, ok := item.(string); ok {
					list = append(list, s)
				}
			}
			f[k] = list
		case int32:
			f[k] = int64(val)
		default:
			f[k] = v
		}
	}
	return f
}

func documentFromMongo(raw bson.M) (domain.Document, error) {
	key, _ := raw[mongoIDField].(string)
	p, err := domain.ParseKey(key)
	if err != nil || !p.IsDocument() {
		return domain.Document{}, fmt.Errorf("decode document key %q: invalid path", key)
	}
	return domain.Document{Path: p, Fields: fromMongoDoc(raw)}, nil
}

// classifyMongoErr marks network failures and timeouts as
// ErrStorageUnavailable.
func classifyMongoErr(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, mongo.ErrClientDisconnected) {
		return domain.Unavailable(err)
	}
	var se mongo.ServerError
	if errors.As(err, &se) && se.HasErrorLabel("RetryableWriteError") {
		return domain.Unavailable(err)
	}
	return err
}
