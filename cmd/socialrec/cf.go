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
	"io"
	"os"
	"strings"
	"time"

	"github.com/gorse-io/socialrec/base/log"
	"github.com/gorse-io/socialrec/base/progress"
	"github.com/gorse-io/socialrec/cv"
	"github.com/gorse-io/socialrec/model"
	"github.com/gorse-io/socialrec/model/social"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cfCommand = &cobra.Command{
	Use:   "cf <param-file> <user_bias 0|1> <item_bias 0|1>",
	Short: "Cross validate matrix factorization over a parameter grid",
	Long: `Cross validate matrix factorization over a parameter grid.

The parameter file lists cities on the first line, then the numbers of
factors, the learning rates and the regularization strengths.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		userBias, err := parseFlag("user_bias", args[1])
		if err != nil {
			return err
		}
		itemBias, err := parseFlag("item_bias", args[2])
		if err != nil {
			return err
		}
		file, err := readParamFile(args[0], cv.CFParamLines)
		if err != nil {
			return err
		}
		saveTo, loadFrom, err := matrixStores(globalConfig)
		if err != nil {
			return err
		}
		sweep := &cv.Sweep{
			File:  file,
			Fixed: globalConfig.MF.Params(userBias, itemBias),
			Open: func(ctx context.Context, city string) (*cv.Validator, error) {
				return openValidator(ctx, globalConfig, city, false)
			},
			Create: func(_ *cv.Validator, params model.Params) model.Model {
				return newMatrixFactorization(params, saveTo, loadFrom)
			},
		}
		return runSweep(cmd.Context(), cmd.OutOrStdout(), sweep)
	},
}

var nfCommand = &cobra.Command{
	Use:   "nf <param-file> <if_average 0|1>",
	Short: "Cross validate predictions from friends over a parameter grid",
	Long: `Cross validate predictions from friends over a parameter grid.

The parameter file lists cities on the first line, then the lower limits and
the upper limits of friend ratings.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ifAverage, err := parseFlag("if_average", args[1])
		if err != nil {
			return err
		}
		useAverage, _ := cmd.Flags().GetBool("use-average")
		file, err := readParamFile(args[0], cv.NFParamLines)
		if err != nil {
			return err
		}
		sweep := &cv.Sweep{
			File:  file,
			Fixed: globalConfig.Friends.Params(ifAverage),
			Open: func(ctx context.Context, city string) (*cv.Validator, error) {
				return openValidator(ctx, globalConfig, city, true)
			},
			Create: func(v *cv.Validator, params model.Params) model.Model {
				return social.NewUsingFriends(v.Network(), params)
			},
			UseAverage: useAverage,
		}
		return runSweep(cmd.Context(), cmd.OutOrStdout(), sweep)
	},
}

func init() {
	nfCommand.Flags().Bool("use-average", false, "score item averages instead of friend predictions")
	rootCommand.AddCommand(cfCommand, nfCommand)
}

func readParamFile(path string, lines []cv.ParamLine) (*cv.ParamFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer f.Close()
	file, err := cv.ReadParamFile(f, lines)
	if err != nil {
		return nil, errors.Annotate(err, path)
	}
	return file, nil
}

// runSweep prints a table row per city and combination.
func runSweep(ctx context.Context, w io.Writer, sweep *cv.Sweep) error {
	start := time.Now()
	table := tablewriter.NewWriter(w)
	table.Header("City", "Params", "Ratios", "RMSEs", "Mean RMSE")
	tracer := progress.NewTracer("sweep")
	total := len(sweep.File.Cities) * len(sweep.File.Grid.Combinations(sweep.File.Order...))
	ctx, span := tracer.Start(ctx, "Sweep", total)
	var failed int
	err := sweep.Run(ctx, func(row cv.SweepRow) {
		span.Add(1)
		for _, p := range tracer.List() {
			log.Logger().Debug("sweep progress", zap.String("city", row.City),
				zap.Int("count", p.Count), zap.Int("total", p.Total))
		}
		if row.Err != nil {
			failed++
			params := ""
			if row.Params != nil {
				params = row.Params.ToString()
			}
			_ = table.Append([]string{row.City, params, "", "", row.Err.Error()})
			return
		}
		ratios := make([]string, len(row.Result.Scores))
		rmses := make([]string, len(row.Result.Scores))
		for j, score := range row.Result.Scores {
			ratios[j] = score.FormatRatio()
			rmses[j] = score.FormatRMSE()
		}
		_ = table.Append([]string{
			row.City,
			row.Params.ToString(),
			strings.Join(ratios, " "),
			strings.Join(rmses, " "),
			row.Result.FormatMeanRMSE(),
		})
	})
	if err != nil {
		span.Fail(err)
		return errors.Trace(err)
	}
	span.End()
	if err = table.Render(); err != nil {
		return errors.Trace(err)
	}
	log.Logger().Info("complete sweep",
		zap.Int("n_failed", failed),
		zap.Duration("duration", time.Since(start)))
	return nil
}
