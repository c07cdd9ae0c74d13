// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package main

import (
	"errors"
	"os"

	"github.com/kaito-project/pretrain/pkg/launcher"
	"k8s.io/klog/v2"
	ctrl "sigs.k8s.io/controller-runtime"
)

var exitWithErrorFunc = func(code int) {
	klog.Flush()
	os.Exit(code)
}

func main() {
	cmd := NewRootCommand(newRootOptions())
	// The first SIGINT or SIGTERM cancels the command context, a second one exits.
	if err := cmd.ExecuteContext(ctrl.SetupSignalHandler()); err != nil {
		var exitErr *launcher.ExitError
		if errors.As(err, &exitErr) {
			klog.ErrorS(err, "training launcher failed")
			exitWithErrorFunc(exitErr.Code)
		}
		klog.ErrorS(err, "pretrain failed")
		exitWithErrorFunc(1)
	}
	klog.Flush()
}
