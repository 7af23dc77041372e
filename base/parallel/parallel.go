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

package parallel

import (
	"sync"

	"github.com/gorse-io/socialrec/base/log"
	"github.com/juju/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"modernc.org/mathutil"
)

// Parallel runs nJobs jobs on at most nWorkers goroutines. The first error by job
// order is returned after all workers stop. A panicking job is reported as an error.
func Parallel(nJobs, nWorkers int, worker func(workerId, jobId int) error) error {
	nWorkers = mathutil.Max(1, mathutil.Min(nWorkers, nJobs))
	if nWorkers == 1 {
		for i := 0; i < nJobs; i++ {
			if err := worker(0, i); err != nil {
				return errors.Trace(err)
			}
		}
		return nil
	}
	c := make(chan int, nJobs)
	for i := 0; i < nJobs; i++ {
		c <- i
	}
	close(c)
	var (
		wg     sync.WaitGroup
		failed atomic.Bool
	)
	errs := make([]error, nJobs)
	wg.Add(nWorkers)
	for j := 0; j < nWorkers; j++ {
		go func(workerId int) {
			defer wg.Done()
			for jobId := range c {
				if failed.Load() {
					return
				}
				if err := run(worker, workerId, jobId); err != nil {
					errs[jobId] = err
					failed.Store(true)
					return
				}
			}
		}(j)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func run(worker func(workerId, jobId int) error, workerId, jobId int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Logger().Error("panic recovered", zap.Int("job_id", jobId), zap.Any("panic", r))
			err = errors.Errorf("job %d panicked: %v", jobId, r)
		}
	}()
	return worker(workerId, jobId)
}
