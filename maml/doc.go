// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package maml provides model-agnostic meta-learning for few-shot
// classification.
//
// # Overview
//
// A meta model learns an initialization that adapts to a new task after a
// few gradient steps. Every outer iteration:
//   - clones the meta model once per task
//   - adapts the clone on the task's support set with a fresh optimizer
//   - backpropagates the query loss into the clone
//   - sums the clone gradients position by position into the meta model
//
// One meta optimizer step then consumes the summed gradients.
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/fsmaml/maml"
//	)
//
//	func main() {
//	    engine := maml.NewEngine(maml.NewCPUBackend())
//	    model := maml.NewMLP(784, []int{64}, 10, engine, rand.New(rand.NewSource(1)))
//
//	    inner, _ := maml.OptimizerFromName("adam", 0.01, 1e-4)
//	    meta, _ := maml.OptimizerFromName("adam", 0.001, 1e-4)
//
//	    trainer, err := maml.NewTrainer(model, maml.NewCrossEntropyLoss(engine), engine,
//	        maml.Config{KShot: 5, KQuery: 5, Inner: inner, Meta: meta, OuterEpochs: 10})
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    history, err := trainer.Fit(ctx, sampler, testLoader)
//	}
//
// # Episodes
//
// A task batch maps each class id to k_shot + k_query examples. The first
// k_shot examples form the support set and the rest the query set. In
// single mode a task is labelled with its class id; in binary mode every
// task of the batch is relabelled 1 (this task) or 0 (any other).
package maml
