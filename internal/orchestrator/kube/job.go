package kube

import (
	"impulse/internal/task"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// NewJob renders a descriptor as a batch/v1 Job: no retries, pod restart
// policy Never, deleted by the TTL controller after it finishes.
func NewJob(desc *task.Descriptor) *batchv1.Job {
	backoffLimit := int32(0)
	ttl := desc.TTLSecondsAfterFinished
	privileged := desc.Privileged
	hostPathType := corev1.HostPathFile

	env := make([]corev1.EnvVar, 0, len(desc.Env))
	for _, e := range desc.Env {
		if e.SecretRef != nil {
			env = append(env, corev1.EnvVar{
				Name: e.Name,
				ValueFrom: &corev1.EnvVarSource{
					SecretKeyRef: &corev1.SecretKeySelector{
						LocalObjectReference: corev1.LocalObjectReference{Name: e.SecretRef.Name},
						Key:                  e.SecretRef.Key,
					},
				},
			})
			continue
		}
		env = append(env, corev1.EnvVar{Name: e.Name, Value: e.Value})
	}

	var envFrom []corev1.EnvFromSource
	if desc.EnvFromConfigMap != "" {
		envFrom = append(envFrom, corev1.EnvFromSource{
			ConfigMapRef: &corev1.ConfigMapEnvSource{
				LocalObjectReference: corev1.LocalObjectReference{Name: desc.EnvFromConfigMap},
			},
		})
	}

	mounts := make([]corev1.VolumeMount, 0, len(desc.Volumes))
	volumes := make([]corev1.Volume, 0, len(desc.Volumes))
	for _, v := range desc.Volumes {
		mounts = append(mounts, corev1.VolumeMount{Name: v.Name, MountPath: v.MountPath})
		source := corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}}
		if v.HostPath != "" {
			source = corev1.VolumeSource{HostPath: &corev1.HostPathVolumeSource{Path: v.HostPath, Type: &hostPathType}}
		}
		volumes = append(volumes, corev1.Volume{Name: v.Name, VolumeSource: source})
	}

	labels := make(map[string]string, len(desc.Labels))
	for k, v := range desc.Labels {
		labels[k] = v
	}

	return &batchv1.Job{
		TypeMeta: metav1.TypeMeta{APIVersion: "batch/v1", Kind: "Job"},
		ObjectMeta: metav1.ObjectMeta{
			Name:   desc.Name,
			Labels: labels,
		},
		Spec: batchv1.JobSpec{
			TTLSecondsAfterFinished: &ttl,
			BackoffLimit:            &backoffLimit,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{
						{
							Name:            desc.ContainerName,
							Image:           desc.Image,
							Args:            desc.Args,
							ImagePullPolicy: corev1.PullPolicy(desc.ImagePullPolicy),
							Env:             env,
							EnvFrom:         envFrom,
							VolumeMounts:    mounts,
							SecurityContext: &corev1.SecurityContext{Privileged: &privileged},
						},
					},
					Volumes: volumes,
				},
			},
		},
	}
}
