// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package v1alpha1 contains the PretrainJob document read by the pretrain launcher.
// +groupName=pretrain.kaito.sh
package v1alpha1
