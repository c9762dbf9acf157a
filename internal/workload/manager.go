// Copyright 2025 The Tenantd Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package workload

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/mikelane/tenantd/internal/errdefs"
	"github.com/mikelane/tenantd/internal/naming"
	"github.com/mikelane/tenantd/internal/readiness"
)

const (
	// MinReplicas and MaxReplicas bound every replica count the platform writes
	MinReplicas int32 = 0
	MaxReplicas int32 = 10

	// RestartedAtAnnotation is the pod template annotation bumped to force a rollout
	RestartedAtAnnotation = "kubectl.kubernetes.io/restartedAt"

	containerName = "app"
	portName      = "http"
)

// DeploymentSpec is the desired state of one tenant component.
type DeploymentSpec struct {
	Namespace string
	Name      string
	Tenant    string
	Component string
	Image     string
	Port      int32
	Replicas  int32

	// Env is injected as literal variables, sorted by key
	Env map[string]string
	// SecretRef, when set, is wired through envFrom in addition to Env
	SecretRef string

	Resources       corev1.ResourceRequirements
	SecurityContext *corev1.SecurityContext
}

// DeploymentState is the observed state reported by tenant details.
type DeploymentState struct {
	Name              string `json:"name"`
	Component         string `json:"component,omitempty"`
	Image             string `json:"image,omitempty"`
	Replicas          int32  `json:"replicas"`
	ReadyReplicas     int32  `json:"readyReplicas"`
	AvailableReplicas int32  `json:"availableReplicas"`
}

// Readiness is the outcome of a bounded wait on a deployment.
type Readiness struct {
	Ready             bool  `json:"ready"`
	DesiredReplicas   int32 `json:"desiredReplicas"`
	AvailableReplicas int32 `json:"availableReplicas"`
}

// Manager reconciles tenant deployments and services
type Manager struct {
	client client.Client
	now    func() time.Time
}

// NewManager creates a new workload manager
func NewManager(c client.Client) *Manager {
	return &Manager{
		client: c,
		now:    time.Now,
	}
}

// ValidateReplicas rejects counts outside [MinReplicas, MaxReplicas].
func ValidateReplicas(replicas int32) error {
	if replicas < MinReplicas || replicas > MaxReplicas {
		return &errdefs.ValidationError{
			Kind:   "replicas",
			Value:  fmt.Sprintf("%d", replicas),
			Reason: fmt.Sprintf("must be between %d and %d", MinReplicas, MaxReplicas),
		}
	}
	return nil
}

// EnsureDeployment creates or replaces a single-container deployment keyed by
// (namespace, name).
func (m *Manager) EnsureDeployment(ctx context.Context, spec DeploymentSpec) (*appsv1.Deployment, error) {
	name, err := naming.ValidateName(spec.Name, naming.KindDeployment)
	if err != nil {
		return nil, err
	}
	if err := ValidateReplicas(spec.Replicas); err != nil {
		return nil, err
	}
	if spec.Image == "" {
		return nil, &errdefs.ValidationError{Kind: "image", Reason: "must not be empty"}
	}

	labels := naming.ComponentLabels(spec.Tenant, spec.Component)
	selector := map[string]string{
		naming.LabelTenant:    spec.Tenant,
		naming.LabelComponent: spec.Component,
	}

	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: spec.Namespace,
		},
	}

	op, err := controllerutil.CreateOrUpdate(ctx, m.client, deployment, func() error {
		deployment.Labels = naming.MergeLabels(deployment.Labels, labels)

		// Keep the restart marker across replaces so an update does not cause an extra rollout.
		var templateAnnotations map[string]string
		if at, ok := deployment.Spec.Template.Annotations[RestartedAtAnnotation]; ok {
			templateAnnotations = map[string]string{RestartedAtAnnotation: at}
		}

		deployment.Spec = appsv1.DeploymentSpec{
			Replicas: ptr.To(spec.Replicas),
			Selector: &metav1.LabelSelector{MatchLabels: selector},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels:      labels,
					Annotations: templateAnnotations,
				},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{buildContainer(spec)},
				},
			},
		}
		return nil
	})
	if err != nil {
		return nil, errdefs.FromAPI("deployment", spec.Namespace+"/"+name, err)
	}

	logf.FromContext(ctx).Info("Reconciled deployment", "namespace", spec.Namespace, "name", name, "operation", op)
	return deployment, nil
}

func buildContainer(spec DeploymentSpec) corev1.Container {
	container := corev1.Container{
		Name:            containerName,
		Image:           spec.Image,
		Resources:       spec.Resources,
		SecurityContext: spec.SecurityContext,
		Env:             buildEnv(spec.Env),
	}

	if spec.Port > 0 {
		container.Ports = []corev1.ContainerPort{{
			Name:          portName,
			ContainerPort: spec.Port,
			Protocol:      corev1.ProtocolTCP,
		}}
	}

	if spec.SecretRef != "" {
		container.EnvFrom = []corev1.EnvFromSource{{
			SecretRef: &corev1.SecretEnvSource{
				LocalObjectReference: corev1.LocalObjectReference{Name: spec.SecretRef},
			},
		}}
	}

	return container
}

func buildEnv(env map[string]string) []corev1.EnvVar {
	if len(env) == 0 {
		return nil
	}
	vars := make([]corev1.EnvVar, 0, len(env))
	for _, k := range slices.Sorted(maps.Keys(env)) {
		vars = append(vars, corev1.EnvVar{Name: k, Value: env[k]})
	}
	return vars
}

// EnsureService creates or replaces a ClusterIP service selecting the pods of
// one tenant component.
func (m *Manager) EnsureService(ctx context.Context, namespace, name, tenant, component string, port int32) (*corev1.Service, error) {
	name, err := naming.ValidateName(name, naming.KindService)
	if err != nil {
		return nil, err
	}

	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
		},
	}

	_, err = controllerutil.CreateOrUpdate(ctx, m.client, svc, func() error {
		svc.Labels = naming.MergeLabels(svc.Labels, naming.ComponentLabels(tenant, component))
		svc.Spec.Type = corev1.ServiceTypeClusterIP
		svc.Spec.Selector = map[string]string{
			naming.LabelTenant:    tenant,
			naming.LabelComponent: component,
		}
		svc.Spec.Ports = []corev1.ServicePort{{
			Name:       portName,
			Port:       port,
			TargetPort: intstr.FromInt32(port),
			Protocol:   corev1.ProtocolTCP,
		}}
		return nil
	})
	if err != nil {
		return nil, errdefs.FromAPI("service", namespace+"/"+name, err)
	}

	return svc, nil
}

// RestartDeployment bumps the restart annotation on the pod template. A
// deployment that does not exist yet is not an error.
func (m *Manager) RestartDeployment(ctx context.Context, namespace, name string) error {
	deployment := &appsv1.Deployment{}
	if err := m.client.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, deployment); err != nil {
		if apierrors.IsNotFound(err) {
			logf.FromContext(ctx).V(1).Info("Deployment not found, skipping restart", "namespace", namespace, "name", name)
			return nil
		}
		return errdefs.FromAPI("deployment", namespace+"/"+name, err)
	}

	patch := client.MergeFrom(deployment.DeepCopy())
	if deployment.Spec.Template.Annotations == nil {
		deployment.Spec.Template.Annotations = map[string]string{}
	}
	deployment.Spec.Template.Annotations[RestartedAtAnnotation] = m.now().UTC().Format(time.RFC3339)

	if err := m.client.Patch(ctx, deployment, patch); err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return errdefs.FromAPI("deployment", namespace+"/"+name, err)
	}
	return nil
}

// AttachSecret wires secretName into the deployment's envFrom, if not already
// present, and bumps the restart annotation so pods pick it up. A missing
// deployment is not an error.
func (m *Manager) AttachSecret(ctx context.Context, namespace, name, secretName string) (bool, error) {
	deployment := &appsv1.Deployment{}
	if err := m.client.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, deployment); err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, errdefs.FromAPI("deployment", namespace+"/"+name, err)
	}

	containers := deployment.Spec.Template.Spec.Containers
	if len(containers) == 0 {
		return false, nil
	}
	for _, src := range containers[0].EnvFrom {
		if src.SecretRef != nil && src.SecretRef.Name == secretName {
			return false, nil
		}
	}

	patch := client.MergeFrom(deployment.DeepCopy())
	containers[0].EnvFrom = append(containers[0].EnvFrom, corev1.EnvFromSource{
		SecretRef: &corev1.SecretEnvSource{
			LocalObjectReference: corev1.LocalObjectReference{Name: secretName},
		},
	})
	if deployment.Spec.Template.Annotations == nil {
		deployment.Spec.Template.Annotations = map[string]string{}
	}
	deployment.Spec.Template.Annotations[RestartedAtAnnotation] = m.now().UTC().Format(time.RFC3339)

	if err := m.client.Patch(ctx, deployment, patch); err != nil {
		return false, errdefs.FromAPI("deployment", namespace+"/"+name, err)
	}
	return true, nil
}

// ScaleDeployment sets the replica count. Unlike restarts, scaling a missing
// deployment is reported as not found.
func (m *Manager) ScaleDeployment(ctx context.Context, namespace, name string, replicas int32) error {
	if err := ValidateReplicas(replicas); err != nil {
		return err
	}

	deployment := &appsv1.Deployment{}
	if err := m.client.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, deployment); err != nil {
		return errdefs.FromAPI("deployment", namespace+"/"+name, err)
	}

	patch := client.MergeFrom(deployment.DeepCopy())
	deployment.Spec.Replicas = ptr.To(replicas)
	if err := m.client.Patch(ctx, deployment, patch); err != nil {
		return errdefs.FromAPI("deployment", namespace+"/"+name, err)
	}
	return nil
}

// WaitForDeploymentReady polls until the available replica count reaches the
// desired count. Expiry, including a deployment that never becomes visible,
// yields a not-ready result rather than an error.
func (m *Manager) WaitForDeploymentReady(ctx context.Context, namespace, name string, timeout, interval time.Duration) (Readiness, error) {
	var last Readiness

	ready, err := readiness.Poll(ctx, interval, timeout, func(ctx context.Context) (bool, error) {
		deployment := &appsv1.Deployment{}
		if err := m.client.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, deployment); err != nil {
			// A lagging read of a just-written deployment is not ready yet
			if apierrors.IsNotFound(err) {
				return false, nil
			}
			return false, errdefs.FromAPI("deployment", namespace+"/"+name, err)
		}

		desired := ptr.Deref(deployment.Spec.Replicas, 1)
		last = Readiness{
			DesiredReplicas:   desired,
			AvailableReplicas: deployment.Status.AvailableReplicas,
		}
		return deployment.Status.AvailableReplicas >= desired, nil
	})
	if err != nil {
		return last, err
	}

	last.Ready = ready
	return last, nil
}

// ListTenantDeployments reports every platform deployment in the tenant's namespace.
func (m *Manager) ListTenantDeployments(ctx context.Context, tenant string) ([]DeploymentState, error) {
	var list appsv1.DeploymentList
	if err := m.client.List(ctx, &list, client.InNamespace(tenant), naming.TenantSelector(tenant)); err != nil {
		return nil, fmt.Errorf("failed to list deployments for tenant %s: %w", tenant, err)
	}

	states := make([]DeploymentState, 0, len(list.Items))
	for i := range list.Items {
		states = append(states, stateOf(&list.Items[i]))
	}
	slices.SortFunc(states, func(a, b DeploymentState) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return states, nil
}

func stateOf(d *appsv1.Deployment) DeploymentState {
	state := DeploymentState{
		Name:              d.Name,
		Component:         d.Labels[naming.LabelComponent],
		Replicas:          ptr.Deref(d.Spec.Replicas, 1),
		ReadyReplicas:     d.Status.ReadyReplicas,
		AvailableReplicas: d.Status.AvailableReplicas,
	}
	if cs := d.Spec.Template.Spec.Containers; len(cs) > 0 {
		state.Image = cs[0].Image
	}
	return state
}
