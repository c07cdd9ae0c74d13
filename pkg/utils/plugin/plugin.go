// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package plugin

import (
	"sort"
	"sync"

	"github.com/kaito-project/pretrain/pkg/model"
)

type Registration struct {
	Name     string
	Instance model.Model
}

type ModelRegister struct {
	sync.RWMutex
	models map[string]*Registration
}

var PresetRegister ModelRegister

// Register allows model to be added
func (reg *ModelRegister) Register(r *Registration) {
	reg.Lock()
	defer reg.Unlock()
	if r.Name == "" {
		panic("model name is not specified")
	}

	if reg.models == nil {
		reg.models = make(map[string]*Registration)
	}

	reg.models[r.Name] = r
}

func (reg *ModelRegister) MustGet(name string) model.Model {
	m, ok := reg.Get(name)
	if !ok {
		panic("model is not registered")
	}
	return m
}

func (reg *ModelRegister) Get(name string) (model.Model, bool) {
	reg.RLock()
	defer reg.RUnlock()
	r, ok := reg.models[name]
	if !ok {
		return nil, false
	}
	return r.Instance, true
}

// ListModelNames returns the registered preset names in lexical order.
func (reg *ModelRegister) ListModelNames() []string {
	reg.RLock()
	defer reg.RUnlock()
	n := make([]string, 0, len(reg.models))
	for k := range reg.models {
		n = append(n, k)
	}
	sort.Strings(n)
	return n
}

func (reg *ModelRegister) Has(name string) bool {
	_, ok := reg.Get(name)
	return ok
}

func IsValidPreset(preset string) bool {
	return PresetRegister.Has(preset)
}
