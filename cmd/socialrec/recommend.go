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
	"os"
	"strconv"

	"github.com/gorse-io/socialrec/base/log"
	"github.com/gorse-io/socialrec/dataset"
	"github.com/gorse-io/socialrec/model"
	"github.com/gorse-io/socialrec/model/mf"
	"github.com/gorse-io/socialrec/model/social"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var recommendCommand = &cobra.Command{
	Use:   "recommend <city> <user-id>",
	Short: "Fit on every rating of a city and recommend items to a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		city, userId := args[0], args[1]
		modelName, _ := cmd.Flags().GetString("model")
		n, _ := cmd.Flags().GetInt("n")
		userBias, _ := cmd.Flags().GetBool("user-bias")
		itemBias, _ := cmd.Flags().GetBool("item-bias")
		ifAverage, _ := cmd.Flags().GetBool("if-average")
		dump, _ := cmd.Flags().GetString("dump")

		data, err := loadDataset(cmd.Context(), globalConfig, city)
		if err != nil {
			return err
		}
		user, ok := data.Users.Lookup(userId)
		if !ok {
			return errors.NotFoundf("user %s in %s", userId, city)
		}
		var m model.Model
		switch modelName {
		case "mf":
			saveTo, loadFrom, err := matrixStores(globalConfig)
			if err != nil {
				return err
			}
			m = newMatrixFactorization(globalConfig.MF.Params(userBias, itemBias), saveTo, loadFrom)
		case "nf":
			var network *dataset.Network
			if network, err = loadNetwork(globalConfig, city, data); err != nil {
				return err
			}
			m = social.NewUsingFriends(network, globalConfig.Friends.Params(ifAverage))
		default:
			return errors.NotSupportedf("model %s", modelName)
		}
		p, err := m.Fit(cmd.Context(), data.Ratings)
		if err != nil {
			return err
		}
		if dump != "" {
			if err = dumpPredictor(p, dump); err != nil {
				return err
			}
		}

		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.Header("Rank", "Item", "Prediction")
		for rank, item := range model.Recommend(p, data.Ratings, user, n) {
			itemId, _ := data.Items.String(item)
			_ = table.Append([]string{
				strconv.Itoa(rank + 1),
				itemId,
				strconv.FormatFloat(p.PredictOne(user, item).Value, 'f', 4, 64),
			})
		}
		return table.Render()
	},
}

func init() {
	recommendCommand.Flags().String("model", "mf", "model to fit (mf or nf)")
	recommendCommand.Flags().Int("n", 10, "number of recommended items")
	recommendCommand.Flags().Bool("user-bias", false, "remove user biases (mf)")
	recommendCommand.Flags().Bool("item-bias", false, "remove item biases (mf)")
	recommendCommand.Flags().Bool("if-average", false, "fall back to item averages (nf)")
	recommendCommand.Flags().String("dump", "", "write the fitted predictor to a file (mf)")
	rootCommand.AddCommand(recommendCommand)
}

func dumpPredictor(p model.Predictor, path string) error {
	fitted, ok := p.(*mf.Fitted)
	if !ok {
		return errors.NotSupportedf("dump of %T", p)
	}
	data, err := fitted.MarshalBinary()
	if err != nil {
		return errors.Trace(err)
	}
	if err = os.WriteFile(path, data, 0644); err != nil {
		return errors.Trace(err)
	}
	log.Logger().Info("dump predictor", zap.String("path", path), zap.Int("n_bytes", len(data)))
	return nil
}
