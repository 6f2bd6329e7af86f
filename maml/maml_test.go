// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package maml_test

import (
	"bytes"
	"context"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/fsmaml/internal/dataset"
	"github.com/born-ml/fsmaml/maml"
)

func TestTrainer_Fit(t *testing.T) {
	engine := maml.NewEngine(maml.NewCPUBackend())
	model := maml.NewMLP(4, []int{8}, 3, engine, rand.New(rand.NewSource(1)))

	inner, err := maml.OptimizerFromName("sgd", 0.1, 0)
	require.NoError(t, err)
	meta, err := maml.OptimizerFromName("adam", 0.01, 1e-4)
	require.NoError(t, err)

	var out bytes.Buffer
	trainer, err := maml.NewTrainer(model, maml.NewCrossEntropyLoss(engine), engine,
		maml.Config{KShot: 2, KQuery: 3, Inner: inner, Meta: meta, OuterEpochs: 2},
		maml.WithOutput(&out))
	require.NoError(t, err)

	train, err := dataset.NewSynthetic(dataset.SyntheticConfig{Classes: 3, PerClass: 10, Dim: 4, Seed: 1})
	require.NoError(t, err)
	test, err := dataset.NewSynthetic(dataset.SyntheticConfig{Classes: 3, PerClass: 3, Dim: 4, Seed: 2})
	require.NoError(t, err)

	sampler, err := maml.NewSampler(train, maml.SamplerConfig{KShot: 2, KQuery: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, sampler.NumTasks())
	assert.Equal(t, 2, sampler.Len())

	history, err := trainer.Fit(context.Background(), sampler, maml.NewTestLoader(test, 1))
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Len(t, strings.Split(strings.TrimSpace(out.String()), "\n"), 2)

	for _, p := range model.Parameters() {
		assert.Nil(t, p.Grad())
	}
}

func TestNewTrainer_InvalidConfig(t *testing.T) {
	engine := maml.NewEngine(maml.NewCPUBackend())
	model := maml.NewMLP(2, nil, 1, engine, rand.New(rand.NewSource(1)))
	_, err := maml.NewTrainer(model, maml.NewBCEWithLogitsLoss(engine), engine, maml.Config{})
	assert.ErrorIs(t, err, maml.ErrConfiguration)
}

func TestOptimizerFromName_Unknown(t *testing.T) {
	_, err := maml.OptimizerFromName("lion", 0.1, 0)
	assert.Error(t, err)
}
