package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"focusflow-api/domain"
)

func TestMongoDocumentLayout(t *testing.T) {
	p := bucketCollection("Monday").Doc("t1")
	doc := toMongoDoc(p, domain.Fields{"taskDesc": "Draft memo", "status": 0})
	if doc["_id"] != p.Key() || doc["_parent"] != bucketCollection("Monday").Key() {
		t.Fatalf("unexpected keys %v", doc)
	}

	raw := bson.M{
		"_id":        p.Key(),
		"_parent":    bucketCollection("Monday").Key(),
		"taskDesc":   "Draft memo",
		"status":     int32(1),
		"assignedAt": int64(77),
		"employees":  bson.A{"a", "b"},
	}
	decoded, err := documentFromMongo(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID() != "t1" || decoded.Path.String() != p.String() {
		t.Fatalf("unexpected path %v", decoded.Path)
	}
	if _, ok := decoded.Fields["_id"]; ok {
		t.Fatalf("internal keys must not leak into fields")
	}
	if decoded.Fields.IntField("status") != 1 || decoded.Fields.IntField("assignedAt") != 77 {
		t.Fatalf("unexpected integers %v", decoded.Fields)
	}
	if got := decoded.Fields.StringsField("employees"); len(got) != 2 || got[0] != "a" {
		t.Fatalf("unexpected list %v", got)
	}
}

func TestMongoDocumentRejectsBadKey(t *testing.T) {
	if _, err := documentFromMongo(bson.M{"_id": "Projects"}); err == nil {
		t.Fatalf("expected collection key to be rejected")
	}
}

func TestClassifyMongoErr(t *testing.T) {
	if err := classifyMongoErr(context.DeadlineExceeded); !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("expected timeout to be unavailable, got %v", err)
	}
	plain := errors.New("bad query")
	if err := classifyMongoErr(plain); errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("expected plain error to pass through")
	}
	if classifyMongoErr(nil) != nil {
		t.Fatalf("expected nil")
	}
}

// TestMongoContract runs against a live server when FOCUSFLOW_TEST_MONGO_URI
// is set.
func TestMongoContract(t *testing.T) {
	uri := os.Getenv("FOCUSFLOW_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("FOCUSFLOW_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	dbName := "focusflow_test_" + uuid.NewString()[:8]
	m, err := NewMongo(ctx, uri, dbName)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		_ = m.client.Database(dbName).Drop(context.Background())
		_ = m.Close(context.Background())
	})
	if err := m.EnsureIndexes(ctx); err != nil {
		t.Fatalf("ensure indexes: %v", err)
	}
	runStoreContract(t, m)
}
