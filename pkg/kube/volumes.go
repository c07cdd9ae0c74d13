// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package kube

import (
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"
)

const DefaultSHMMountPath = "/dev/shm"

// ConfigSHMVolume returns a memory backed /dev/shm for multi node jobs, where NCCL
// needs more shared memory than the container runtime's default.
func ConfigSHMVolume(nodes int) (corev1.Volume, corev1.VolumeMount, bool) {
	if nodes <= 1 {
		return corev1.Volume{}, corev1.VolumeMount{}, false
	}
	volume := corev1.Volume{
		Name: "dshm",
		VolumeSource: corev1.VolumeSource{
			EmptyDir: &corev1.EmptyDirVolumeSource{
				Medium: corev1.StorageMediumMemory,
			},
		},
	}
	volumeMount := corev1.VolumeMount{
		Name:      volume.Name,
		MountPath: DefaultSHMMountPath,
	}
	return volume, volumeMount, true
}

// ConfigDataVolumes turns container mounts of the form host[:container[:ro]] into
// host path volumes.
func ConfigDataVolumes(mounts []string) ([]corev1.Volume, []corev1.VolumeMount, error) {
	var volumes []corev1.Volume
	var volumeMounts []corev1.VolumeMount
	for i, m := range mounts {
		parts := strings.Split(m, ":")
		if len(parts) > 3 || parts[0] == "" {
			return nil, nil, fmt.Errorf("invalid mount %q", m)
		}
		hostPath, mountPath := parts[0], parts[0]
		if len(parts) > 1 && parts[1] != "" {
			mountPath = parts[1]
		}
		readOnly := false
		if len(parts) == 3 {
			if parts[2] != "ro" && parts[2] != "rw" {
				return nil, nil, fmt.Errorf("invalid mount option %q in %q", parts[2], m)
			}
			readOnly = parts[2] == "ro"
		}

		name := fmt.Sprintf("data-volume-%d", i)
		volumes = append(volumes, corev1.Volume{
			Name: name,
			VolumeSource: corev1.VolumeSource{
				HostPath: &corev1.HostPathVolumeSource{
					Path: hostPath,
				},
			},
		})
		volumeMounts = append(volumeMounts, corev1.VolumeMount{
			Name:      name,
			MountPath: mountPath,
			ReadOnly:  readOnly,
		})
	}
	return volumes, volumeMounts, nil
}
