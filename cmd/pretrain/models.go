// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package main

import (
	_ "github.com/kaito-project/pretrain/presets/pretrain/models/gpt"
	_ "github.com/kaito-project/pretrain/presets/pretrain/models/llama2"
)
