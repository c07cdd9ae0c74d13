// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package megatron

import (
	"fmt"

	"github.com/kaito-project/pretrain/api/v1alpha1"
)

// BatchPlan is the batch arithmetic of a job as the framework will see it.
type BatchPlan struct {
	WorldSize          int
	DataParallelSize   int
	MicroBatchSize     int
	GlobalBatchSize    int
	GradientAccumSteps int
	// TokensPerStep counts the tokens of one optimizer step at the final batch size.
	TokensPerStep int64
	// TotalTokens is zero when the budget is given in iterations with a rampup.
	TotalTokens int64
	TotalSteps  int64
}

// PlanBatch derives the batch plan of a defaulted job.
func PlanBatch(job *v1alpha1.PretrainJob) (*BatchPlan, error) {
	dp := job.DataParallelSize()
	if dp < 1 {
		return nil, fmt.Errorf("world size %d is not divisible by the model parallel size", job.WorldSize())
	}
	t := job.Spec.Training
	unit := t.MicroBatchSize * dp
	if unit < 1 || t.GlobalBatchSize%unit != 0 {
		return nil, fmt.Errorf("global batch %d is not a multiple of micro batch %d x data parallel %d", t.GlobalBatchSize, t.MicroBatchSize, dp)
	}

	p := &BatchPlan{
		WorldSize:          job.WorldSize(),
		DataParallelSize:   dp,
		MicroBatchSize:     t.MicroBatchSize,
		GlobalBatchSize:    t.GlobalBatchSize,
		GradientAccumSteps: t.GlobalBatchSize / unit,
		TokensPerStep:      int64(t.GlobalBatchSize) * int64(job.Spec.Model.SeqLength),
	}
	switch {
	case t.TrainSamples > 0:
		p.TotalTokens = t.TrainSamples * int64(job.Spec.Model.SeqLength)
		p.TotalSteps = stepsForSamples(t.TrainSamples, t.RampupBatchSize, t.GlobalBatchSize)
	case t.TrainIters > 0 && len(t.RampupBatchSize) == 0:
		p.TotalSteps = t.TrainIters
		p.TotalTokens = t.TrainIters * p.TokensPerStep
	}
	return p, nil
}

// stepsForSamples counts optimizer steps to consume samples the way the framework sets
// train iters. The rampup <start> <increment> <ramp-up samples> phase runs while the
// consumed samples do not exceed the ramp-up samples, and the partial last batch of the
// constant phase is dropped.
func stepsForSamples(samples int64, rampup []int, global int) int64 {
	if global < 1 {
		return 0
	}
	if len(rampup) != 3 || rampup[1] < 1 || rampup[0] < 1 || rampup[0] > global {
		return samples / int64(global)
	}
	start, incr, rampSamples := rampup[0], rampup[1], int64(rampup[2])
	increments := (global - start) / incr
	var consumed, steps int64
	for consumed <= rampSamples {
		batch := global
		if increments > 0 {
			perIncrement := float64(rampSamples) / float64(increments)
			batch = start + int(float64(consumed)/perIncrement)*incr
		}
		consumed += int64(batch)
		steps++
	}
	return steps + floorDiv(samples-consumed, int64(global))
}

// floorDiv rounds toward negative infinity, so a budget smaller than the rampup lowers
// the step count.
func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func (p *BatchPlan) String() string {
	return fmt.Sprintf("world=%d dp=%d micro=%d global=%d accum=%d tokens/step=%d steps=%d tokens=%d",
		p.WorldSize, p.DataParallelSize, p.MicroBatchSize, p.GlobalBatchSize, p.GradientAccumSteps,
		p.TokensPerStep, p.TotalSteps, p.TotalTokens)
}
