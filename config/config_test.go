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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gorse-io/socialrec/model"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	config, err := LoadConfig("config.toml.template")
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), config)

	// [data]
	assert.Equal(t, filepath.Join("data", "reviewsPhoenix"), (&DataConfig{Dir: "data", RatingsPattern: "reviews%s"}).RatingsPath("Phoenix"))
	assert.Equal(t, "networkb.csv", config.Data.NetworkPath(""))
	assert.Equal(t, "reviewsLas Vegas", config.Data.RatingsTable("Las Vegas"))
	assert.Equal(t, ',', config.Data.Separator())
	// [mf]
	assert.Equal(t, model.Params{
		model.NFactors:    8,
		model.Lr:          0.005,
		model.Reg:         0.02,
		model.Threshold:   2.0,
		model.NEpochs:     1000,
		model.RandomState: int64(0),
		model.UserBias:    true,
		model.ItemBias:    false,
	}, config.MF.Params(true, false))
	// [friends]
	params := config.Friends.Params(true)
	assert.Equal(t, 3, params.GetInt(model.LowerLimit1, -1))
	assert.Equal(t, int64(789), params.GetInt64(model.RandomState, -1))
	assert.True(t, params.GetBool(model.IfAverage, false))
}

func TestSetDefault(t *testing.T) {
	config, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), config)
}

func TestBindEnv(t *testing.T) {
	t.Setenv("SOCIALREC_DATA_DIR", "/data/yelp")
	t.Setenv("SOCIALREC_CV_K", "5")
	t.Setenv("SOCIALREC_CV_RUN_ALL", "false")
	t.Setenv("SOCIALREC_MF_LR", "0.01")
	t.Setenv("SOCIALREC_BLOB_URI", "s3://factors/socialrec")
	t.Setenv("SOCIALREC_BLOB_S3_ENDPOINT", "localhost:9000")

	config, err := LoadConfig("config.toml.template")
	require.NoError(t, err)
	assert.Equal(t, "/data/yelp", config.Data.Dir)
	assert.Equal(t, 5, config.CV.K)
	assert.False(t, config.CV.RunAll)
	assert.Equal(t, 0.01, config.MF.Lr)
	assert.Equal(t, "s3://factors/socialrec", config.Blob.URI)
	assert.Equal(t, "localhost:9000", config.Blob.S3.Endpoint)

	// check default values
	assert.Equal(t, 8, config.MF.NFactors)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	write := func(text string) string {
		path := filepath.Join(dir, "config.toml")
		require.NoError(t, os.WriteFile(path, []byte(text), 0644))
		return path
	}

	_, err := LoadConfig(write("[cv]\nk = 1\n"))
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = LoadConfig(write("[cv]\ntest_ratio = 1.0\n"))
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = LoadConfig(write("[mf]\nmax_epochs = 1\n"))
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = LoadConfig(write("[data]\nratings_pattern = \"reviews\"\n"))
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = LoadConfig(write("[mf]\nuse_saved_matrices = true\n"))
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = LoadConfig(write("[metrics]\nport = 70000\n"))
	assert.True(t, errors.Is(err, errors.NotValid))

	config, err := LoadConfig(write("[cv]\nk = 3\ntest_ratio = 0.2\n[data]\nsep = \"\\t\"\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, config.CV.K)
	assert.Equal(t, 0.2, config.CV.TestRatio)
	assert.Equal(t, '\t', config.Data.Separator())

	_, err = LoadConfig(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)
}
