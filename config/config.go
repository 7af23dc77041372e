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
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/gorse-io/socialrec/model"
	"github.com/juju/errors"
	"github.com/spf13/viper"
)

// Config is the configuration of socialrec.
type Config struct {
	Data    DataConfig    `mapstructure:"data"`
	CV      CVConfig      `mapstructure:"cv"`
	MF      MFConfig      `mapstructure:"mf"`
	Friends FriendsConfig `mapstructure:"friends"`
	Search  SearchConfig  `mapstructure:"search"`
	Blob    BlobConfig    `mapstructure:"blob"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// DataConfig locates the ratings and the network of a city. Patterns take the
// city name through fmt.
type DataConfig struct {
	Dir            string `mapstructure:"dir"`
	RatingsPattern string `mapstructure:"ratings_pattern" validate:"required"`
	NetworkPattern string `mapstructure:"network_pattern" validate:"required"`
	// RatingsSource is a database URL. When set, ratings are read from the table
	// named by RatingsPattern instead of a file.
	RatingsSource string `mapstructure:"ratings_source"`
	Sep           string `mapstructure:"sep" validate:"len=1"`
	Filter        string `mapstructure:"filter"`
}

// RatingsPath returns the ratings file of a city.
func (c *DataConfig) RatingsPath(city string) string {
	return filepath.Join(c.Dir, fmt.Sprintf(c.RatingsPattern, city))
}

// RatingsTable returns the ratings table of a city.
func (c *DataConfig) RatingsTable(city string) string {
	return fmt.Sprintf(c.RatingsPattern, city)
}

// NetworkPath returns the friendship file of a city.
func (c *DataConfig) NetworkPath(city string) string {
	return filepath.Join(c.Dir, fmt.Sprintf(c.NetworkPattern, city))
}

func (c *DataConfig) Separator() rune {
	return []rune(c.Sep)[0]
}

type CVConfig struct {
	K         int     `mapstructure:"k" validate:"gte=2"`
	TestRatio float64 `mapstructure:"test_ratio" validate:"gte=0,lt=1"`
	Seed      int64   `mapstructure:"seed"`
	RunAll    bool    `mapstructure:"run_all"`
	Jobs      int     `mapstructure:"jobs" validate:"gte=1"`
}

type MFConfig struct {
	NFactors    int     `mapstructure:"n_factors" validate:"gt=0"`
	Lr          float64 `mapstructure:"lr" validate:"gt=0"`
	Reg         float64 `mapstructure:"reg" validate:"gte=0"`
	Threshold   float64 `mapstructure:"threshold"`
	MaxEpochs   int     `mapstructure:"max_epochs" validate:"gte=2"`
	RandomState int64   `mapstructure:"random_state"`
	// SaveMatrices writes factors to the blob store after each fit.
	SaveMatrices bool `mapstructure:"save_matrices"`
	// UseSavedMatrices reads factors from the blob store instead of training.
	UseSavedMatrices bool `mapstructure:"use_saved_matrices"`
}

// Params converts the section to model parameters.
func (c *MFConfig) Params(userBias, itemBias bool) model.Params {
	return model.Params{
		model.NFactors:    c.NFactors,
		model.Lr:          c.Lr,
		model.Reg:         c.Reg,
		model.Threshold:   c.Threshold,
		model.NEpochs:     c.MaxEpochs,
		model.RandomState: c.RandomState,
		model.UserBias:    userBias,
		model.ItemBias:    itemBias,
	}
}

type FriendsConfig struct {
	LowerLimit1  int     `mapstructure:"lower_limit1" validate:"gte=0"`
	UpperLimit1  int     `mapstructure:"upper_limit1" validate:"gte=0"`
	LowerLimit2  int     `mapstructure:"lower_limit2" validate:"gte=0"`
	UpperLimit2  int     `mapstructure:"upper_limit2" validate:"gte=0"`
	WeightDepth2 float64 `mapstructure:"weight_depth2" validate:"gte=0"`
	RandomState  int64   `mapstructure:"random_state"`
}

// Params converts the section to model parameters.
func (c *FriendsConfig) Params(ifAverage bool) model.Params {
	return model.Params{
		model.LowerLimit1:  c.LowerLimit1,
		model.UpperLimit1:  c.UpperLimit1,
		model.LowerLimit2:  c.LowerLimit2,
		model.UpperLimit2:  c.UpperLimit2,
		model.WeightDepth2: c.WeightDepth2,
		model.RandomState:  c.RandomState,
		model.IfAverage:    ifAverage,
	}
}

type SearchConfig struct {
	Trials int   `mapstructure:"trials" validate:"gt=0"`
	Seed   int64 `mapstructure:"seed"`
}

// BlobConfig selects where factor matrices are kept. URI is a directory, a
// file:// URL, s3://bucket/prefix, gcs://bucket/prefix or azblob://container/prefix.
type BlobConfig struct {
	URI   string          `mapstructure:"uri"`
	S3    S3Config        `mapstructure:"s3"`
	GCS   GCSConfig       `mapstructure:"gcs"`
	Azure AzureBlobConfig `mapstructure:"azure"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

type GCSConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
}

type AzureBlobConfig struct {
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	Endpoint         string `mapstructure:"endpoint"`
	ConnectionString string `mapstructure:"connection_string"`
}

type MetricsConfig struct {
	// Port of the Prometheus endpoint. Zero disables it.
	Port int `mapstructure:"port" validate:"gte=0,lte=65535"`
}

func GetDefaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			Dir:            ".",
			RatingsPattern: "reviews%s",
			NetworkPattern: "network%sb.csv",
			Sep:            ",",
		},
		CV: CVConfig{
			K:      10,
			RunAll: true,
			Jobs:   1,
		},
		MF: MFConfig{
			NFactors:  8,
			Lr:        0.005,
			Reg:       0.02,
			Threshold: 2,
			MaxEpochs: 1000,
		},
		Friends: FriendsConfig{
			LowerLimit1:  3,
			UpperLimit1:  100,
			LowerLimit2:  10,
			UpperLimit2:  100,
			WeightDepth2: 0.5,
			RandomState:  789,
		},
		Search: SearchConfig{
			Trials: 20,
		},
	}
}

func setDefault(v *viper.Viper) {
	defaultConfig := GetDefaultConfig()
	// [data]
	v.SetDefault("data.dir", defaultConfig.Data.Dir)
	v.SetDefault("data.ratings_pattern", defaultConfig.Data.RatingsPattern)
	v.SetDefault("data.network_pattern", defaultConfig.Data.NetworkPattern)
	v.SetDefault("data.ratings_source", defaultConfig.Data.RatingsSource)
	v.SetDefault("data.sep", defaultConfig.Data.Sep)
	v.SetDefault("data.filter", defaultConfig.Data.Filter)
	// [cv]
	v.SetDefault("cv.k", defaultConfig.CV.K)
	v.SetDefault("cv.test_ratio", defaultConfig.CV.TestRatio)
	v.SetDefault("cv.seed", defaultConfig.CV.Seed)
	v.SetDefault("cv.run_all", defaultConfig.CV.RunAll)
	v.SetDefault("cv.jobs", defaultConfig.CV.Jobs)
	// [mf]
	v.SetDefault("mf.n_factors", defaultConfig.MF.NFactors)
	v.SetDefault("mf.lr", defaultConfig.MF.Lr)
	v.SetDefault("mf.reg", defaultConfig.MF.Reg)
	v.SetDefault("mf.threshold", defaultConfig.MF.Threshold)
	v.SetDefault("mf.max_epochs", defaultConfig.MF.MaxEpochs)
	v.SetDefault("mf.random_state", defaultConfig.MF.RandomState)
	v.SetDefault("mf.save_matrices", defaultConfig.MF.SaveMatrices)
	v.SetDefault("mf.use_saved_matrices", defaultConfig.MF.UseSavedMatrices)
	// [friends]
	v.SetDefault("friends.lower_limit1", defaultConfig.Friends.LowerLimit1)
	v.SetDefault("friends.upper_limit1", defaultConfig.Friends.UpperLimit1)
	v.SetDefault("friends.lower_limit2", defaultConfig.Friends.LowerLimit2)
	v.SetDefault("friends.upper_limit2", defaultConfig.Friends.UpperLimit2)
	v.SetDefault("friends.weight_depth2", defaultConfig.Friends.WeightDepth2)
	v.SetDefault("friends.random_state", defaultConfig.Friends.RandomState)
	// [search]
	v.SetDefault("search.trials", defaultConfig.Search.Trials)
	v.SetDefault("search.seed", defaultConfig.Search.Seed)
	// [blob]
	v.SetDefault("blob.uri", defaultConfig.Blob.URI)
	v.SetDefault("blob.s3.endpoint", defaultConfig.Blob.S3.Endpoint)
	v.SetDefault("blob.s3.access_key_id", defaultConfig.Blob.S3.AccessKeyID)
	v.SetDefault("blob.s3.secret_access_key", defaultConfig.Blob.S3.SecretAccessKey)
	v.SetDefault("blob.s3.use_ssl", defaultConfig.Blob.S3.UseSSL)
	v.SetDefault("blob.gcs.credentials_file", defaultConfig.Blob.GCS.CredentialsFile)
	v.SetDefault("blob.azure.account_name", defaultConfig.Blob.Azure.AccountName)
	v.SetDefault("blob.azure.account_key", defaultConfig.Blob.Azure.AccountKey)
	v.SetDefault("blob.azure.endpoint", defaultConfig.Blob.Azure.Endpoint)
	v.SetDefault("blob.azure.connection_string", defaultConfig.Blob.Azure.ConnectionString)
	// [metrics]
	v.SetDefault("metrics.port", defaultConfig.Metrics.Port)
}

// LoadConfig reads a TOML file and applies SOCIALREC_* environment variables on
// top of it, such as SOCIALREC_CV_K for cv.k. An empty path loads defaults only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefault(v)
	v.SetEnvPrefix("SOCIALREC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Annotatef(err, "failed to read config %s", path)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, errors.Trace(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &cfg, nil
}

// Validate checks value ranges. Violations are NotValid errors.
func (config *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(config); err != nil {
		return errors.NewNotValid(err, "invalid config")
	}
	if strings.Count(config.Data.RatingsPattern, "%s") != 1 {
		return errors.NotValidf("ratings pattern %q", config.Data.RatingsPattern)
	}
	if strings.Count(config.Data.NetworkPattern, "%s") != 1 {
		return errors.NotValidf("network pattern %q", config.Data.NetworkPattern)
	}
	if config.MF.UseSavedMatrices && config.Blob.URI == "" {
		return errors.NotValidf("use_saved_matrices without blob uri")
	}
	return nil
}
