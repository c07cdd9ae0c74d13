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
	"github.com/kaito-project/pretrain/pkg/kube"
	. "github.com/onsi/gomega" //nolint:revive,stylecheck
	"sigs.k8s.io/controller-runtime/pkg/client"
)

func (env *Environment) EventuallyExpectExists(objects ...client.Object) {
	for _, object := range objects {
		EventuallyWithOffset(1, func() error {
			return env.Client.Get(env, client.ObjectKeyFromObject(object), object)
		}).Should(Succeed())
	}
}

func (env *Environment) EventuallyExpectDeleted(objects ...client.Object) {
	for _, object := range objects {
		ExpectWithOffset(1, kube.DeleteResource(env, object, env.Client)).To(Succeed())
		EventuallyWithOffset(1, func() bool {
			err := env.Client.Get(env, client.ObjectKeyFromObject(object), object)
			return client.IgnoreNotFound(err) == nil && err != nil
		}).Should(BeTrue())
	}
}
