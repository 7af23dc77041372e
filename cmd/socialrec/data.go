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

package main

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/gorse-io/socialrec/base/log"
	"github.com/gorse-io/socialrec/config"
	"github.com/gorse-io/socialrec/cv"
	"github.com/gorse-io/socialrec/dataset"
	"github.com/gorse-io/socialrec/model"
	"github.com/gorse-io/socialrec/model/mf"
	"github.com/gorse-io/socialrec/storage"
	"github.com/gorse-io/socialrec/storage/blob"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// loadDataset reads the ratings of a city from the configured source.
func loadDataset(ctx context.Context, conf *config.Config, city string) (*dataset.Dataset, error) {
	opts := dataset.LoadOptions{Sep: conf.Data.Separator(), Filter: conf.Data.Filter}
	uri, table := conf.Data.RatingsPath(city), ""
	if conf.Data.RatingsSource != "" {
		uri, table = conf.Data.RatingsSource, conf.Data.RatingsTable(city)
	}
	data, err := storage.LoadDataset(ctx, uri, table, opts)
	if err != nil {
		return nil, errors.Annotatef(err, "load ratings of %s", city)
	}
	nUsers, nItems := data.Ratings.Shape()
	log.Logger().Info("load ratings",
		zap.String("city", city),
		zap.String("source", log.RedactDBURL(uri)),
		zap.Int("n_users", nUsers),
		zap.Int("n_items", nItems),
		zap.Int("n_ratings", data.Ratings.Count()),
		zap.Int("n_records", data.Records))
	return data, nil
}

// loadNetwork reads the friendship network of a city over the users of a dataset.
func loadNetwork(conf *config.Config, city string, data *dataset.Dataset) (*dataset.Network, error) {
	path := conf.Data.NetworkPath(city)
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Annotatef(err, "load network of %s", city)
	}
	defer file.Close()
	raw, err := dataset.LoadNetwork(file)
	if err != nil {
		return nil, errors.Annotate(err, path)
	}
	network, notCounted := raw.Reindex(data.Users)
	if notCounted > 0 {
		log.Logger().Warn("users in network without ratings",
			zap.String("city", city), zap.Int("not_counted", notCounted))
	}
	log.Logger().Info("load network", zap.String("city", city), zap.Int("n_users", network.Len()))
	return network, nil
}

// openValidator loads a city and splits it. The network is empty unless withNetwork.
func openValidator(ctx context.Context, conf *config.Config, city string, withNetwork bool) (*cv.Validator, error) {
	data, err := loadDataset(ctx, conf, city)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var network *dataset.Network
	if withNetwork {
		if network, err = loadNetwork(conf, city, data); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return cv.NewValidator(data, network, cv.ValidatorOptions{
		K:         conf.CV.K,
		TestRatio: conf.CV.TestRatio,
		Seed:      conf.CV.Seed,
		RunAll:    conf.CV.RunAll,
		Jobs:      conf.CV.Jobs,
	})
}

// matrixStores opens the blob store factors are saved to or loaded from.
// Both are nil unless enabled.
func matrixStores(conf *config.Config) (saveTo, loadFrom blob.Store, err error) {
	if !conf.MF.SaveMatrices && !conf.MF.UseSavedMatrices {
		return nil, nil, nil
	}
	store, err := blob.Open(conf.Blob)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	if conf.MF.SaveMatrices {
		saveTo = store
	}
	if conf.MF.UseSavedMatrices {
		loadFrom = store
	}
	return saveTo, loadFrom, nil
}

func newMatrixFactorization(params model.Params, saveTo, loadFrom blob.Store) *mf.MatrixFactorization {
	m := mf.NewMatrixFactorization(params)
	if saveTo != nil {
		m.SaveMatrices(saveTo)
	}
	if loadFrom != nil {
		m.UseSavedMatrices(loadFrom)
	}
	return m
}

// parseFlag parses a 0 or 1 argument.
func parseFlag(name, arg string) (bool, error) {
	switch strings.TrimSpace(arg) {
	case "0":
		return false, nil
	case "1":
		return true, nil
	}
	if v, err := strconv.ParseBool(arg); err == nil {
		return v, nil
	}
	return false, errors.NotValidf("%s %q (expect 0 or 1)", name, arg)
}
