/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package common

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/kaito-project/pretrain/api/v1alpha1"
	"github.com/kaito-project/pretrain/pkg/kube"
	"github.com/onsi/gomega"
	"github.com/samber/lo"
	"k8s.io/client-go/rest"
	loggingtesting "knative.dev/pkg/logging/testing"
	controllerruntime "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

type Environment struct {
	context.Context

	Client    client.Client
	Config    *rest.Config
	Namespace string
	Image     string
}

func NewEnvironment(t *testing.T) *Environment {
	ctx := loggingtesting.TestContextWithLogger(t)
	config := NewConfig()

	gomega.SetDefaultEventuallyTimeout(5 * time.Minute)
	gomega.SetDefaultEventuallyPollingInterval(1 * time.Second)
	return &Environment{
		Context:   ctx,
		Config:    config,
		Client:    lo.Must(client.New(config, client.Options{Scheme: kube.NewScheme()})),
		Namespace: lo.CoalesceOrEmpty(os.Getenv("E2E_NAMESPACE"), "default"),
		Image:     lo.CoalesceOrEmpty(os.Getenv("E2E_IMAGE"), "nvcr.io/nvidia/pytorch:24.05-py3"),
	}
}

func NewConfig() *rest.Config {
	config := controllerruntime.GetConfigOrDie()
	config.UserAgent = fmt.Sprintf("%s-%s-e2e", v1alpha1.GroupVersion.Group, v1alpha1.GroupVersion.Version)
	config.QPS = 1e6
	config.Burst = 1e6
	return config
}
