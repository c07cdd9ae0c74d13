// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package v1alpha1

import (
	"github.com/kaito-project/pretrain/pkg/utils/consts"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

var (
	// GroupVersion is group version of the PretrainJob document.
	GroupVersion = schema.GroupVersion{Group: consts.APIGroup, Version: "v1alpha1"}
	// PretrainJobKind is the only kind accepted in job files.
	PretrainJobKind = GroupVersion.WithKind(consts.KindPretrain)
)
