// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorse-io/socialrec/dataset"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var testRatings = []SQLRating{
	{UserId: "alice", ItemId: "cafe", Rating: 5},
	{UserId: "alice", ItemId: "diner", Rating: 3},
	{UserId: "bob", ItemId: "cafe", Rating: 4},
	{UserId: "bob", ItemId: "cafe", Rating: 2},
	{UserId: "carol", ItemId: "bar", Rating: 1},
}

func assertTestDataset(t *testing.T, data *dataset.Dataset) {
	// the rating of carol is filtered out, bob rated the cafe twice
	assert.Equal(t, 4, data.Records)
	assert.Equal(t, 2, data.Users.Count())
	assert.Equal(t, 2, data.Items.Count())
	alice, _ := data.Users.Lookup("alice")
	bob, _ := data.Users.Lookup("bob")
	cafe, _ := data.Items.Lookup("cafe")
	diner, _ := data.Items.Lookup("diner")
	assert.Equal(t, 5.0, data.Ratings.Get(alice, cafe))
	assert.Equal(t, 3.0, data.Ratings.Get(alice, diner))
	assert.Equal(t, 3.0, data.Ratings.Get(bob, cafe))
	assert.False(t, data.Ratings.Contains(bob, diner))
}

var testOptions = dataset.LoadOptions{Filter: "rating >= 2"}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviewsPhoenix.csv")
	require.NoError(t, os.WriteFile(path, []byte("alice,cafe,5\nalice,diner,3\nbob,cafe,4\nbob,cafe,2\ncarol,bar,1\n"), 0644))
	for _, uri := range []string{path, FilePrefix + path} {
		data, err := LoadDataset(context.Background(), uri, "", testOptions)
		require.NoError(t, err)
		assertTestDataset(t, data)
	}

	_, err := LoadDataset(context.Background(), filepath.Join(t.TempDir(), "missing.csv"), "", testOptions)
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestSQLSource(t *testing.T) {
	uri := SQLitePrefix + filepath.Join(t.TempDir(), "yelp.db")
	source, err := Open(uri, "reviewsPhoenix", testOptions)
	require.NoError(t, err)
	db := source.(*SQLSource).DB()
	require.NoError(t, db.Exec("CREATE TABLE reviewsPhoenix (user_id TEXT, item_id TEXT, rating REAL)").Error)
	rows := append([]SQLRating(nil), testRatings...)
	require.NoError(t, db.Table("reviewsPhoenix").Create(&rows).Error)
	require.NoError(t, source.Close())

	data, err := LoadDataset(context.Background(), uri, "reviewsPhoenix", testOptions)
	require.NoError(t, err)
	assertTestDataset(t, data)

	_, err = LoadDataset(context.Background(), uri, "reviewsToronto", testOptions)
	assert.Error(t, err)
}

func TestMongoSource(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI is not set")
	}
	ctx := context.Background()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	defer client.Disconnect(ctx)
	source, err := Open(uri, "reviewsPhoenix", testOptions)
	require.NoError(t, err)
	c := client.Database(source.(*MongoSource).dbName).Collection("reviewsPhoenix")
	require.NoError(t, c.Drop(ctx))
	for _, r := range testRatings {
		_, err = c.InsertOne(ctx, bson.M{"user_id": r.UserId, "item_id": r.ItemId, "rating": r.Rating})
		require.NoError(t, err)
	}
	b := dataset.NewBuilder()
	require.NoError(t, source.Load(ctx, b))
	assertTestDataset(t, b.Build())

	// numeric ids are loaded as their decimal strings
	require.NoError(t, c.Drop(ctx))
	_, err = c.InsertOne(ctx, bson.M{"user_id": int32(42), "item_id": int64(7), "rating": 4.0})
	require.NoError(t, err)
	b = dataset.NewBuilder()
	require.NoError(t, source.Load(ctx, b))
	require.NoError(t, source.Close())
	data := b.Build()
	_, ok := data.Users.Lookup("42")
	assert.True(t, ok)
	_, ok = data.Items.Lookup("7")
	assert.True(t, ok)
}

func TestFormatId(t *testing.T) {
	oid := primitive.NewObjectID()
	data, err := bson.Marshal(bson.D{
		{Key: "string", Value: "u1"},
		{Key: "int32", Value: int32(7)},
		{Key: "int64", Value: int64(1 << 40)},
		{Key: "double", Value: 9.0},
		{Key: "oid", Value: oid},
		{Key: "bool", Value: true},
	})
	require.NoError(t, err)
	doc := bson.Raw(data)
	for key, expected := range map[string]string{
		"string": "u1",
		"int32":  "7",
		"int64":  "1099511627776",
		"double": "9",
		"oid":    oid.Hex(),
	} {
		id, err := formatId(doc.Lookup(key))
		assert.NoError(t, err)
		assert.Equal(t, expected, id, key)
	}
	_, err = formatId(doc.Lookup("bool"))
	assert.True(t, errors.Is(err, errors.NotSupported))
}

func TestOpen_NotSupported(t *testing.T) {
	_, err := Open("redis://localhost:6379", "reviews", dataset.LoadOptions{})
	assert.True(t, errors.Is(err, errors.NotSupported))
}
