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

// Package storage reads ratings from files and databases.
package storage

import (
	"context"
	"database/sql"
	"os"
	"strconv"
	"strings"

	"github.com/gorse-io/socialrec/base/log"
	"github.com/gorse-io/socialrec/dataset"
	"github.com/juju/errors"
	_ "github.com/lib/pq"
	"github.com/samber/lo"
	"github.com/schollz/progressbar/v3"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

// Source produces (user, item, rating) records.
type Source interface {
	// Load adds every record kept by the filter of opts to a builder.
	Load(ctx context.Context, b *dataset.Builder) error
	Close() error
}

// Open a source. Database URLs read the given table (or collection); anything
// else is treated as the path of a delimited file.
func Open(uri, table string, opts dataset.LoadOptions) (Source, error) {
	switch {
	case strings.HasPrefix(uri, MySQLPrefix):
		name, err := AppendMySQLParams(uri[len(MySQLPrefix):], map[string]string{"parseTime": "true"})
		if err != nil {
			return nil, errors.Trace(err)
		}
		return openSQL("mysql", name, table, opts, func(conn *sql.DB) gorm.Dialector {
			return mysql.New(mysql.Config{Conn: conn})
		})
	case strings.HasPrefix(uri, PostgresPrefix), strings.HasPrefix(uri, PostgreSQLPrefix):
		return openSQL("postgres", uri, table, opts, func(conn *sql.DB) gorm.Dialector {
			return postgres.New(postgres.Config{Conn: conn})
		})
	case strings.HasPrefix(uri, SQLitePrefix):
		uri, err := AppendURLParams(uri, []lo.Tuple2[string, string]{
			{A: "_pragma", B: "busy_timeout(10000)"},
		})
		if err != nil {
			return nil, errors.Trace(err)
		}
		return openSQL("sqlite", uri[len(SQLitePrefix):], table, opts, func(conn *sql.DB) gorm.Dialector {
			return sqlite.Dialector{Conn: conn}
		})
	case strings.HasPrefix(uri, MongoPrefix), strings.HasPrefix(uri, MongoSrvPrefix):
		return openMongo(uri, table, opts)
	case strings.HasPrefix(uri, FilePrefix):
		return &FileSource{Path: uri[len(FilePrefix):], Options: opts}, nil
	case strings.Contains(uri, "://"):
		return nil, errors.NotSupportedf("ratings source %s", uri)
	default:
		return &FileSource{Path: uri, Options: opts}, nil
	}
}

// FileSource reads delimited records from a file.
type FileSource struct {
	Path    string
	Options dataset.LoadOptions
}

func (s *FileSource) Load(_ context.Context, b *dataset.Builder) error {
	file, err := os.Open(s.Path)
	if os.IsNotExist(err) {
		return errors.NewNotFound(err, s.Path)
	} else if err != nil {
		return errors.Trace(err)
	}
	defer file.Close()
	stat, err := file.Stat()
	if err != nil {
		return errors.Trace(err)
	}
	reader := progressbar.NewReader(file, progressbar.DefaultBytes(stat.Size(), "Loading "+s.Path))
	if err = dataset.ReadRatings(&reader, s.Options, b); err != nil {
		return errors.Annotate(err, s.Path)
	}
	return nil
}

func (s *FileSource) Close() error {
	return nil
}

// SQLRating is a row of a ratings table.
type SQLRating struct {
	UserId string  `gorm:"column:user_id"`
	ItemId string  `gorm:"column:item_id"`
	Rating float64 `gorm:"column:rating"`
}

// SQLSource reads the user_id, item_id and rating columns of a table.
type SQLSource struct {
	client *sql.DB
	gormDB *gorm.DB
	table  string
	filter *dataset.RecordFilter
}

func openSQL(driver, name, table string, opts dataset.LoadOptions, dialect func(*sql.DB) gorm.Dialector) (*SQLSource, error) {
	filter, err := dataset.NewRecordFilter(opts.Filter)
	if err != nil {
		return nil, errors.Trace(err)
	}
	source := &SQLSource{table: table, filter: filter}
	if source.client, err = sql.Open(driver, name); err != nil {
		return nil, errors.Trace(err)
	}
	if source.gormDB, err = gorm.Open(dialect(source.client), NewGORMConfig()); err != nil {
		return nil, errors.Trace(err)
	}
	return source, nil
}

// DB exposes the connection for schema setup.
func (s *SQLSource) DB() *gorm.DB {
	return s.gormDB
}

func (s *SQLSource) Load(ctx context.Context, b *dataset.Builder) error {
	rows, err := s.gormDB.WithContext(ctx).Table(s.table).Select("user_id, item_id, rating").Rows()
	if err != nil {
		return errors.Trace(err)
	}
	defer rows.Close()
	var n int
	for rows.Next() {
		var rating SQLRating
		if err = s.gormDB.ScanRows(rows, &rating); err != nil {
			return errors.Trace(err)
		}
		if err = add(b, s.filter, rating); err != nil {
			return errors.Annotatef(err, "table %s", s.table)
		}
		n++
	}
	if err = rows.Err(); err != nil {
		return errors.Trace(err)
	}
	log.Logger().Info("load ratings from table", zap.String("table", s.table), zap.Int("n_rows", n))
	return nil
}

func (s *SQLSource) Close() error {
	return s.client.Close()
}

// MongoSource reads documents {user_id, item_id, rating} from a collection.
type MongoSource struct {
	client     *mongo.Client
	dbName     string
	collection string
	filter     *dataset.RecordFilter
}

func openMongo(uri, collection string, opts dataset.LoadOptions) (*MongoSource, error) {
	filter, err := dataset.NewRecordFilter(opts.Filter)
	if err != nil {
		return nil, errors.Trace(err)
	}
	cs, err := connstring.ParseAndValidate(uri)
	if err != nil {
		return nil, errors.Trace(err)
	}
	source := &MongoSource{dbName: cs.Database, collection: collection, filter: filter}
	if source.client, err = mongo.Connect(context.Background(), options.Client().ApplyURI(uri)); err != nil {
		return nil, errors.Trace(err)
	}
	return source, nil
}

func (s *MongoSource) Load(ctx context.Context, b *dataset.Builder) error {
	c := s.client.Database(s.dbName).Collection(s.collection)
	r, err := c.Find(ctx, bson.M{})
	if err != nil {
		return errors.Trace(err)
	}
	defer r.Close(ctx)
	var n int
	for r.Next(ctx) {
		var doc struct {
			UserId bson.RawValue `bson:"user_id"`
			ItemId bson.RawValue `bson:"item_id"`
			Rating float64       `bson:"rating"`
		}
		if err = r.Decode(&doc); err != nil {
			return errors.Trace(err)
		}
		rating := SQLRating{Rating: doc.Rating}
		if rating.UserId, err = formatId(doc.UserId); err != nil {
			return errors.Annotate(err, "user_id")
		}
		if rating.ItemId, err = formatId(doc.ItemId); err != nil {
			return errors.Annotate(err, "item_id")
		}
		if err = add(b, s.filter, rating); err != nil {
			return errors.Annotatef(err, "collection %s", s.collection)
		}
		n++
	}
	if err = r.Err(); err != nil {
		return errors.Trace(err)
	}
	log.Logger().Info("load ratings from collection", zap.String("collection", s.collection), zap.Int("n_documents", n))
	return nil
}

func (s *MongoSource) Close() error {
	return s.client.Disconnect(context.Background())
}

// formatId converts a string, integral or object id to the string form used by the
// dictionaries.
func formatId(v bson.RawValue) (string, error) {
	switch v.Type {
	case bsontype.String:
		return v.StringValue(), nil
	case bsontype.Int32:
		return strconv.FormatInt(int64(v.Int32()), 10), nil
	case bsontype.Int64:
		return strconv.FormatInt(v.Int64(), 10), nil
	case bsontype.Double:
		return strconv.FormatFloat(v.Double(), 'f', -1, 64), nil
	case bsontype.ObjectID:
		return v.ObjectID().Hex(), nil
	default:
		return "", errors.NotSupportedf("id of type %s", v.Type)
	}
}

func add(b *dataset.Builder, filter *dataset.RecordFilter, r SQLRating) error {
	keep, err := filter.Keep(r.UserId, r.ItemId, r.Rating)
	if err != nil {
		return errors.Trace(err)
	}
	if !keep {
		return nil
	}
	return b.Add(r.UserId, r.ItemId, r.Rating)
}

// LoadDataset opens a source, loads it and builds the dataset.
func LoadDataset(ctx context.Context, uri, table string, opts dataset.LoadOptions) (*dataset.Dataset, error) {
	source, err := Open(uri, table, opts)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer source.Close()
	b := dataset.NewBuilder()
	if err = source.Load(ctx, b); err != nil {
		return nil, errors.Trace(err)
	}
	return b.Build(), nil
}
