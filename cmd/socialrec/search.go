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
	"fmt"
	"strconv"

	"github.com/gorse-io/socialrec/cv"
	"github.com/gorse-io/socialrec/model/social"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var searchCommand = &cobra.Command{
	Use:   "search <city>",
	Short: "Search hyper-parameters by TPE",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		city := args[0]
		modelName, _ := cmd.Flags().GetString("model")
		trials, _ := cmd.Flags().GetInt("trials")
		if !cmd.Flags().Changed("trials") {
			trials = globalConfig.Search.Trials
		}
		userBias, _ := cmd.Flags().GetBool("user-bias")
		itemBias, _ := cmd.Flags().GetBool("item-bias")
		ifAverage, _ := cmd.Flags().GetBool("if-average")

		var create func(v *cv.Validator) cv.SearchableModel
		switch modelName {
		case "mf":
			create = func(*cv.Validator) cv.SearchableModel {
				return newMatrixFactorization(globalConfig.MF.Params(userBias, itemBias), nil, nil)
			}
		case "nf":
			create = func(v *cv.Validator) cv.SearchableModel {
				return social.NewUsingFriends(v.Network(), globalConfig.Friends.Params(ifAverage))
			}
		default:
			return errors.NotSupportedf("model %s", modelName)
		}

		v, err := openValidator(cmd.Context(), globalConfig, city, modelName == "nf")
		if err != nil {
			return err
		}
		result, err := cv.Search(cmd.Context(), v, func() cv.SearchableModel { return create(v) },
			trials, globalConfig.Search.Seed)
		if err != nil {
			return err
		}
		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.Header("City", "Model", "Trials", "Params", "Mean RMSE", "Baseline")
		_ = table.Append([]string{
			city,
			modelName,
			strconv.Itoa(result.Trials),
			result.Params.ToString(),
			result.Result.FormatMeanRMSE(),
			fmt.Sprintf("%.4f", v.Baseline()),
		})
		return table.Render()
	},
}

func init() {
	searchCommand.Flags().String("model", "mf", "model to search (mf or nf)")
	searchCommand.Flags().Int("trials", 20, "number of trials")
	searchCommand.Flags().Bool("user-bias", false, "remove user biases (mf)")
	searchCommand.Flags().Bool("item-bias", false, "remove item biases (mf)")
	searchCommand.Flags().Bool("if-average", false, "fall back to item averages (nf)")
	rootCommand.AddCommand(searchCommand)
}
