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

// Package namespace provides functionality for managing tenant namespaces,
// including creation, resource quotas, network isolation and cleanup.
package namespace

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/mikelane/tenantd/internal/errdefs"
	"github.com/mikelane/tenantd/internal/naming"
)

const (
	// QuotaName is the name of the ResourceQuota attached to every tenant namespace
	QuotaName = "tenant-quota"

	// DefaultPodLimit bounds the number of pods in a tenant namespace
	DefaultPodLimit = "20"

	// DefaultPVCLimit bounds the number of persistent volume claims in a tenant namespace
	DefaultPVCLimit = "5"

	policyDefaultDeny   = "default-deny-all"
	policyAllowIngress  = "allow-ingress-controller"
	policyAllowSameNS   = "allow-same-namespace"
	policyAllowEgress   = "allow-egress"
	namespaceNameLabel  = "kubernetes.io/metadata.name"
	kubeSystemNamespace = "kube-system"
)

// Quota is the tenant's resource budget. Empty fields are left unlimited
// where the cluster allows it.
type Quota struct {
	// CPU in cores, e.g. "2" or "500m"
	CPU string `json:"cpu,omitempty"`
	// Memory in bytes; "4GB"-style input is accepted and canonicalized to "4Gi"
	Memory string `json:"memory,omitempty"`
	// Pods overrides DefaultPodLimit
	Pods string `json:"pods,omitempty"`
	// PersistentVolumeClaims overrides DefaultPVCLimit
	PersistentVolumeClaims string `json:"persistentVolumeClaims,omitempty"`
}

// IsZero reports whether neither CPU nor memory was specified.
func (q Quota) IsZero() bool {
	return strings.TrimSpace(q.CPU) == "" && strings.TrimSpace(q.Memory) == ""
}

// NetworkOptions configures the isolation policies.
type NetworkOptions struct {
	// IngressControllerNamespace is allowed to reach tenant pods
	IngressControllerNamespace string
	// DatabaseEgressPorts are TCP ports tenant pods may reach outside the namespace
	DatabaseEgressPorts []int32
}

// Manager handles namespace lifecycle for tenants
type Manager struct {
	client  client.Client
	network NetworkOptions
}

// NewManager creates a new namespace manager
func NewManager(c client.Client, network NetworkOptions) *Manager {
	return &Manager{
		client:  c,
		network: network,
	}
}

// EnsureNamespace creates the tenant namespace. If it already exists the
// existing object is read back and returned unchanged. The quota is applied
// only when cpu or memory was specified.
func (m *Manager) EnsureNamespace(ctx context.Context, name string, quota Quota, appType string) (*corev1.Namespace, error) {
	log := logf.FromContext(ctx)

	name, err := naming.ValidateName(name, naming.KindNamespace)
	if err != nil {
		return nil, err
	}

	labels := naming.TenantLabels(name)
	labels[naming.LabelPhase] = string(naming.PhaseProvisioning)
	if appType != "" {
		labels[naming.LabelAppType] = appType
	}

	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: labels,
		},
	}

	err = m.client.Create(ctx, ns)
	switch {
	case err == nil:
		log.Info("Created namespace", "namespace", name)
	case apierrors.IsAlreadyExists(err):
		existing := &corev1.Namespace{}
		if err := m.client.Get(ctx, types.NamespacedName{Name: name}, existing); err != nil {
			return nil, errdefs.FromAPI("namespace", name, err)
		}
		log.Info("Namespace already exists, reusing it", "namespace", name)
		ns = existing
	default:
		return nil, errdefs.FromAPI("namespace", name, err)
	}

	if !quota.IsZero() {
		if _, err := m.EnsureResourceQuota(ctx, name, quota); err != nil {
			return nil, err
		}
	}

	return ns, nil
}

// EnsureResourceQuota creates or replaces the namespace's resource quota. The
// whole hard-limit list is rewritten on every call so a later call fully
// supersedes the previous values.
func (m *Manager) EnsureResourceQuota(ctx context.Context, namespace string, quota Quota) (*corev1.ResourceQuota, error) {
	hard, err := buildHardLimits(quota)
	if err != nil {
		return nil, err
	}

	rq := &corev1.ResourceQuota{
		ObjectMeta: metav1.ObjectMeta{
			Name:      QuotaName,
			Namespace: namespace,
		},
	}

	_, err = controllerutil.CreateOrUpdate(ctx, m.client, rq, func() error {
		rq.Spec = corev1.ResourceQuotaSpec{Hard: hard}
		rq.Labels = naming.MergeLabels(rq.Labels, naming.TenantLabels(namespace))
		return nil
	})
	if err != nil {
		return nil, errdefs.FromAPI("resource quota", namespace+"/"+QuotaName, err)
	}

	return rq, nil
}

// GetResourceQuota returns the tenant quota, or a NotFoundError.
func (m *Manager) GetResourceQuota(ctx context.Context, namespace string) (*corev1.ResourceQuota, error) {
	rq := &corev1.ResourceQuota{}
	if err := m.client.Get(ctx, types.NamespacedName{Name: QuotaName, Namespace: namespace}, rq); err != nil {
		return nil, errdefs.FromAPI("resource quota", namespace+"/"+QuotaName, err)
	}
	return rq, nil
}

// ValidateQuota checks every quantity in quota without touching the cluster.
func ValidateQuota(quota Quota) error {
	_, err := buildHardLimits(quota)
	return err
}

func buildHardLimits(quota Quota) (corev1.ResourceList, error) {
	hard := corev1.ResourceList{}

	pods := quota.Pods
	if pods == "" {
		pods = DefaultPodLimit
	}
	pvcs := quota.PersistentVolumeClaims
	if pvcs == "" {
		pvcs = DefaultPVCLimit
	}

	if cpu := strings.TrimSpace(quota.CPU); cpu != "" {
		q, err := resource.ParseQuantity(cpu)
		if err != nil {
			return nil, &errdefs.ValidationError{Kind: "cpu quota", Value: quota.CPU, Reason: err.Error()}
		}
		hard[corev1.ResourceRequestsCPU] = q
		hard[corev1.ResourceLimitsCPU] = q
	}

	if mem := strings.TrimSpace(quota.Memory); mem != "" {
		normalized := NormalizeMemory(mem)
		q, err := resource.ParseQuantity(normalized)
		if err != nil {
			return nil, &errdefs.ValidationError{Kind: "memory quota", Value: quota.Memory, Reason: err.Error()}
		}
		hard[corev1.ResourceRequestsMemory] = q
		hard[corev1.ResourceLimitsMemory] = q
	}

	for name, value := range map[corev1.ResourceName]string{
		corev1.ResourcePods:                   pods,
		corev1.ResourcePersistentVolumeClaims: pvcs,
	} {
		q, err := resource.ParseQuantity(value)
		if err != nil {
			return nil, &errdefs.ValidationError{Kind: string(name) + " quota", Value: value, Reason: err.Error()}
		}
		hard[name] = q
	}

	return hard, nil
}

var (
	// byteMemory matches any case as long as the unit ends in B
	byteMemory = regexp.MustCompile(`(?i)^([0-9]+(?:\.[0-9]+)?)\s*([KMGTPE])B$`)
	// bareMemory is upper-case only; a lone "m" is the milli suffix
	bareMemory = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)\s*([KMGTPE])$`)
)

// NormalizeMemory rewrites "4GB", "4G" and "512mb" style values into the
// cluster's binary-unit notation ("4Gi", "512Mi"). Values already in a form the
// cluster understands, "500m" included, are returned as-is.
func NormalizeMemory(raw string) string {
	s := strings.TrimSpace(raw)
	for _, re := range []*regexp.Regexp{byteMemory, bareMemory} {
		if m := re.FindStringSubmatch(s); m != nil {
			return m[1] + strings.ToUpper(m[2]) + "i"
		}
	}
	return s
}

// EnsureNetworkPolicies isolates the tenant namespace: everything is denied
// except traffic from the ingress controller, traffic inside the namespace,
// DNS, HTTPS and the configured database ports.
func (m *Manager) EnsureNetworkPolicies(ctx context.Context, namespace string) error {
	if err := m.ensurePolicy(ctx, namespace, policyDefaultDeny, func(spec *networkingv1.NetworkPolicySpec) {
		spec.PolicyTypes = []networkingv1.PolicyType{networkingv1.PolicyTypeIngress, networkingv1.PolicyTypeEgress}
		spec.Ingress = []networkingv1.NetworkPolicyIngressRule{}
		spec.Egress = []networkingv1.NetworkPolicyEgressRule{}
	}); err != nil {
		return fmt.Errorf("failed to ensure default deny policy: %w", err)
	}

	if err := m.ensurePolicy(ctx, namespace, policyAllowIngress, func(spec *networkingv1.NetworkPolicySpec) {
		spec.PolicyTypes = []networkingv1.PolicyType{networkingv1.PolicyTypeIngress}
		spec.Ingress = []networkingv1.NetworkPolicyIngressRule{{
			From: []networkingv1.NetworkPolicyPeer{{
				NamespaceSelector: &metav1.LabelSelector{
					MatchLabels: map[string]string{namespaceNameLabel: m.network.IngressControllerNamespace},
				},
			}},
		}}
	}); err != nil {
		return fmt.Errorf("failed to ensure allow ingress policy: %w", err)
	}

	if err := m.ensurePolicy(ctx, namespace, policyAllowSameNS, func(spec *networkingv1.NetworkPolicySpec) {
		spec.PolicyTypes = []networkingv1.PolicyType{networkingv1.PolicyTypeIngress}
		spec.Ingress = []networkingv1.NetworkPolicyIngressRule{{
			From: []networkingv1.NetworkPolicyPeer{{PodSelector: &metav1.LabelSelector{}}},
		}}
	}); err != nil {
		return fmt.Errorf("failed to ensure same-namespace policy: %w", err)
	}

	if err := m.ensurePolicy(ctx, namespace, policyAllowEgress, func(spec *networkingv1.NetworkPolicySpec) {
		spec.PolicyTypes = []networkingv1.PolicyType{networkingv1.PolicyTypeEgress}
		spec.Egress = m.egressRules()
	}); err != nil {
		return fmt.Errorf("failed to ensure allow egress policy: %w", err)
	}

	return nil
}

func (m *Manager) egressRules() []networkingv1.NetworkPolicyEgressRule {
	tcp := corev1.ProtocolTCP
	udp := corev1.ProtocolUDP

	rules := []networkingv1.NetworkPolicyEgressRule{
		// DNS
		{
			To: []networkingv1.NetworkPolicyPeer{{
				NamespaceSelector: &metav1.LabelSelector{
					MatchLabels: map[string]string{namespaceNameLabel: kubeSystemNamespace},
				},
			}},
			Ports: []networkingv1.NetworkPolicyPort{
				{Protocol: &udp, Port: ptr.To(intstr.FromInt32(53))},
				{Protocol: &tcp, Port: ptr.To(intstr.FromInt32(53))},
			},
		},
		// Intra-namespace
		{
			To: []networkingv1.NetworkPolicyPeer{{PodSelector: &metav1.LabelSelector{}}},
		},
	}

	external := []networkingv1.NetworkPolicyPort{{Protocol: &tcp, Port: ptr.To(intstr.FromInt32(443))}}
	for _, port := range m.network.DatabaseEgressPorts {
		external = append(external, networkingv1.NetworkPolicyPort{Protocol: &tcp, Port: ptr.To(intstr.FromInt32(port))})
	}

	return append(rules, networkingv1.NetworkPolicyEgressRule{Ports: external})
}

func (m *Manager) ensurePolicy(ctx context.Context, namespace, name string, mutate func(*networkingv1.NetworkPolicySpec)) error {
	policy := &networkingv1.NetworkPolicy{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
		},
	}

	_, err := controllerutil.CreateOrUpdate(ctx, m.client, policy, func() error {
		policy.Spec = networkingv1.NetworkPolicySpec{PodSelector: metav1.LabelSelector{}}
		mutate(&policy.Spec)
		policy.Labels = naming.MergeLabels(policy.Labels, naming.TenantLabels(namespace))
		return nil
	})

	return errdefs.FromAPI("network policy", namespace+"/"+name, err)
}

// SetPhase records the tenant lifecycle phase on the namespace.
func (m *Manager) SetPhase(ctx context.Context, name string, phase naming.Phase) error {
	ns := &corev1.Namespace{}
	if err := m.client.Get(ctx, types.NamespacedName{Name: name}, ns); err != nil {
		return errdefs.FromAPI("namespace", name, err)
	}

	patch := client.MergeFrom(ns.DeepCopy())
	ns.Labels = naming.MergeLabels(ns.Labels, map[string]string{naming.LabelPhase: string(phase)})
	if err := m.client.Patch(ctx, ns, patch); err != nil {
		return errdefs.FromAPI("namespace", name, err)
	}

	return nil
}

// GetTenantNamespace returns the namespace of a platform-managed tenant. A
// namespace that exists but is not managed by the platform is reported as
// not found so it can never be mistaken for a tenant.
func (m *Manager) GetTenantNamespace(ctx context.Context, name string) (*corev1.Namespace, error) {
	ns := &corev1.Namespace{}
	if err := m.client.Get(ctx, types.NamespacedName{Name: name}, ns); err != nil {
		return nil, errdefs.FromAPI("tenant", name, err)
	}
	if ns.Labels[naming.LabelManagedBy] != naming.ManagedBy {
		return nil, &errdefs.NotFoundError{Kind: "tenant", Name: name}
	}
	return ns, nil
}

// Exists reports whether a namespace with this name exists, managed or not.
func (m *Manager) Exists(ctx context.Context, name string) (bool, error) {
	ns := &corev1.Namespace{}
	err := m.client.Get(ctx, types.NamespacedName{Name: name}, ns)
	switch {
	case err == nil:
		return true, nil
	case apierrors.IsNotFound(err):
		return false, nil
	default:
		return false, errdefs.FromAPI("namespace", name, err)
	}
}

// ListTenantNamespaces lists every platform-managed namespace, optionally
// filtered by phase.
func (m *Manager) ListTenantNamespaces(ctx context.Context, phase naming.Phase) ([]corev1.Namespace, error) {
	selector := naming.ManagedSelector()
	if phase != "" {
		selector[naming.LabelPhase] = string(phase)
	}

	var list corev1.NamespaceList
	if err := m.client.List(ctx, &list, selector); err != nil {
		return nil, fmt.Errorf("failed to list tenant namespaces: %w", err)
	}
	return list.Items, nil
}

// DeleteNamespace deletes the namespace; the cluster cascades the deletion to
// the quota, secrets, deployments and services inside it. A missing namespace
// is a success.
func (m *Manager) DeleteNamespace(ctx context.Context, name string) error {
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: name}}

	if err := m.client.Delete(ctx, ns); err != nil && !apierrors.IsNotFound(err) {
		return errdefs.FromAPI("namespace", name, err)
	}

	logf.FromContext(ctx).Info("Deleted namespace", "namespace", name)
	return nil
}
