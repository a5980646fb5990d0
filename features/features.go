/*
 *  Copyright 2011 Daniel Arndt
 *
 *  Licensed under the Apache License, Version 2.0 (the "License");
 *  you may not use this file except in compliance with the License.
 *  You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 *  Unless required by applicable law or agreed to in writing, software
 *  distributed under the License is distributed on an "AS IS" BASIS,
 *  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *  See the License for the specific language governing permissions and
 *  limitations under the License.
 *
 */

// Package features holds the per-conversation statistics accumulators.
package features

import (
	"fmt"
	"math"

	"github.com/google/differential-privacy/go/v2/dpagg"
	"github.com/sirupsen/logrus"
)

// Bounds applied to every differentially private aggregation.
const (
	dpEpsilon = 100
	dpLower   = -1
	dpUpper   = 65535
)

func getBSF() *dpagg.BoundedSumFloat64 {
	bs, err := dpagg.NewBoundedSumFloat64(&dpagg.BoundedSumFloat64Options{
		Epsilon:                  dpEpsilon,
		MaxPartitionsContributed: 1,
		Lower:                    dpLower,
		Upper:                    dpUpper,
	})
	if err != nil {
		logrus.WithError(err).Error("Creating bounded sum")
	}
	return bs
}

func getBSD() *dpagg.BoundedStandardDeviation {
	bs, err := dpagg.NewBoundedStandardDeviation(&dpagg.BoundedStandardDeviationOptions{
		Epsilon:                      dpEpsilon,
		MaxPartitionsContributed:     1,
		MaxContributionsPerPartition: 1,
		Lower:                        dpLower,
		Upper:                        dpUpper,
	})
	if err != nil {
		logrus.WithError(err).Error("Creating bounded standard deviation")
	}
	return bs
}

func getC() *dpagg.Count {
	bs, err := dpagg.NewCount(&dpagg.CountOptions{
		Epsilon:                  dpEpsilon,
		MaxPartitionsContributed: 1,
	})
	if err != nil {
		logrus.WithError(err).Error("Creating count")
	}
	return bs
}

func getBM() *dpagg.BoundedMean {
	bs, err := dpagg.NewBoundedMean(&dpagg.BoundedMeanOptions{
		Epsilon:                      dpEpsilon,
		MaxPartitionsContributed:     1,
		Lower:                        dpLower,
		MaxContributionsPerPartition: 1,
		Upper:                        dpUpper,
	})
	if err != nil {
		logrus.WithError(err).Error("Creating bounded mean")
	}
	return bs
}

func getBQ() *dpagg.BoundedQuantiles {
	bs, err := dpagg.NewBoundedQuantiles(&dpagg.BoundedQuantilesOptions{
		Epsilon:                      dpEpsilon,
		MaxPartitionsContributed:     1,
		MaxContributionsPerPartition: 1,
		Lower:                        dpLower,
		Upper:                        dpUpper,
	})
	if err != nil {
		logrus.WithError(err).Error("Creating bounded quantiles")
	}
	return bs
}

// Defines the minimum set of functions needed for a Feature.
type Feature interface {
	Add(int64)      // Add a particular value to a feature
	Export() string // Export the contents of a feature in string form
	Get() int64
	Set(int64) // Reset the feature to a particular value
}

// Distribution is a Feature that can also summarise the values it saw.
type Distribution interface {
	Feature
	Summary() (min, mean, max, stddev float64)
}

// NewDistribution returns a plain or a differentially private
// distribution.
func NewDistribution(diffPriv bool) Distribution {
	if diffPriv {
		f := new(DiffPrivFeature)
		f.Init()
		return f
	}
	return new(DistributionFeature)
}

type DistributionFeature struct {
	sum   int64
	sumsq int64
	count int64
	min   int64
	max   int64
}

func (f *DistributionFeature) Init(val int64) {
	f.Set(val)
}

func (f *DistributionFeature) Add(val int64) {
	if f.count == 0 || val < f.min {
		f.min = val
	}
	if f.count == 0 || val > f.max {
		f.max = val
	}
	f.sum += val
	f.sumsq += val * val
	f.count++
}

func (f *DistributionFeature) Summary() (min, mean, max, stdDev float64) {
	if f.count == 0 {
		return 0, 0, 0, 0
	}
	return float64(f.min), float64(f.sum) / float64(f.count), float64(f.max),
		stddev(float64(f.sumsq), float64(f.sum), f.count)
}

func (f *DistributionFeature) Export() string {
	min, mean, max, stdDev := f.Summary()
	return fmt.Sprintf("%d,%d,%d,%d", int64(min), int64(mean), int64(max), int64(stdDev))
}

// Get returns the number of values added.
func (f *DistributionFeature) Get() int64 {
	return f.count
}

// Set the DistributionFeature to include val as the single value in the Feature.
func (f *DistributionFeature) Set(val int64) {
	f.sum = val
	f.sumsq = val * val
	f.count = 1
	f.min = val
	f.max = val
}

// stddev is the population standard deviation from running sums.
func stddev(sumsq, sum float64, count int64) float64 {
	if count < 2 {
		return 0
	}
	n := float64(count)
	v := (sumsq - sum*sum/n) / n
	if v < 0 {
		return 0
	}
	return math.Sqrt(v)
}

type ValueFeature struct {
	value int64
}

func (f *ValueFeature) Init(val int64) {
	f.Set(val)
}

func (f *ValueFeature) Add(val int64) {
	f.value += val
}

func (f *ValueFeature) Export() string {
	return fmt.Sprintf("%d", f.value)
}

func (f *ValueFeature) Get() int64 {
	return f.value
}

func (f *ValueFeature) Set(val int64) {
	f.value = val
}

// DiffPrivFeature summarises values through the Laplace mechanism. Results
// are only computed once; the first Get or Summary call finalises it.
type DiffPrivFeature struct {
	storedCount int64
	finalised   bool
	summary     [4]float64
	sum         *dpagg.BoundedSumFloat64
	standdev    *dpagg.BoundedStandardDeviation
	mean        *dpagg.BoundedMean
	count       *dpagg.Count
	quantile    *dpagg.BoundedQuantiles
}

func (f *DiffPrivFeature) Init() {
	f.sum = getBSF()
	f.standdev = getBSD()
	f.mean = getBM()
	f.count = getC()
	f.quantile = getBQ()
}

func (f *DiffPrivFeature) Set(val int64) {
	if f.finalised {
		return
	}
	val64 := float64(val)
	if f.sum == nil {
		f.sum = getBSF()
	}
	f.sum.Add(val64)
	if f.standdev == nil {
		f.standdev = getBSD()
	}
	f.standdev.Add(val64)
	if f.mean == nil {
		f.mean = getBM()
	}
	f.mean.Add(val64)
	if f.count == nil {
		f.count = getC()
	}
	f.count.Increment()
	if f.quantile == nil {
		f.quantile = getBQ()
	}
	f.quantile.Add(val64)
}

func (f *DiffPrivFeature) Add(val int64) {
	f.Set(val)
}

func (f *DiffPrivFeature) finalise() {
	if f.finalised {
		return
	}
	f.finalised = true
	if f.count != nil {
		f.storedCount, _ = f.count.Result()
	}
	if f.quantile != nil {
		f.summary[0], _ = f.quantile.Result(0)
		f.summary[2], _ = f.quantile.Result(1)
	}
	if f.mean != nil {
		f.summary[1], _ = f.mean.Result()
	}
	if f.standdev != nil {
		f.summary[3], _ = f.standdev.Result()
	}
}

func (f *DiffPrivFeature) Get() int64 {
	f.finalise()
	return f.storedCount
}

func (f *DiffPrivFeature) Summary() (min, mean, max, stdDev float64) {
	f.finalise()
	return f.summary[0], f.summary[1], f.summary[2], f.summary[3]
}

func (f *DiffPrivFeature) Export() string {
	min, mean, max, stdDev := f.Summary()
	return fmt.Sprintf("%f,%f,%f,%f", min, mean, max, stdDev)
}
