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

// Package traefik holds the subset of the Traefik CRD API the platform writes:
// IngressRoute for path-routed API traffic and Middleware for prefix stripping.
//
// Field names and JSON tags follow the traefik.io/v1alpha1 CRDs.
package traefik

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/intstr"
)

// GroupVersion is group version used to register these objects
var GroupVersion = schema.GroupVersion{Group: "traefik.io", Version: "v1alpha1"}

// SchemeBuilder is used to add go types to the GroupVersionKind scheme
var SchemeBuilder = runtime.NewSchemeBuilder(addKnownTypes)

// AddToScheme adds the types in this group-version to the given scheme.
var AddToScheme = SchemeBuilder.AddToScheme

func addKnownTypes(scheme *runtime.Scheme) error {
	scheme.AddKnownTypes(GroupVersion,
		&IngressRoute{},
		&IngressRouteList{},
		&Middleware{},
		&MiddlewareList{},
	)
	metav1.AddToGroupVersion(scheme, GroupVersion)
	return nil
}

// IngressRoute is a Traefik HTTP router
// +kubebuilder:object:root=true
type IngressRoute struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`
	Spec              IngressRouteSpec `json:"spec"`
}

// DeepCopyObject returns a deep copy of the IngressRoute
func (in *IngressRoute) DeepCopyObject() runtime.Object {
	if in == nil {
		return nil
	}
	return in.DeepCopy()
}

// DeepCopyInto copies all properties of this object into another object of the same type
func (in *IngressRoute) DeepCopyInto(out *IngressRoute) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ObjectMeta.DeepCopyInto(&out.ObjectMeta)
	in.Spec.DeepCopyInto(&out.Spec)
}

// DeepCopy returns a deep copy of the IngressRoute
func (in *IngressRoute) DeepCopy() *IngressRoute {
	if in == nil {
		return nil
	}
	out := new(IngressRoute)
	in.DeepCopyInto(out)
	return out
}

// IngressRouteList is a list of IngressRoute resources
// +kubebuilder:object:root=true
type IngressRouteList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []IngressRoute `json:"items"`
}

// DeepCopyObject returns a deep copy of the IngressRouteList
func (in *IngressRouteList) DeepCopyObject() runtime.Object {
	if in == nil {
		return nil
	}
	out := new(IngressRouteList)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyInto copies all properties of this object into another object of the same type
func (in *IngressRouteList) DeepCopyInto(out *IngressRouteList) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ListMeta.DeepCopyInto(&out.ListMeta)
	if in.Items != nil {
		in, out := &in.Items, &out.Items
		*out = make([]IngressRoute, len(*in))
		for i := range *in {
			(*in)[i].DeepCopyInto(&(*out)[i])
		}
	}
}

// IngressRouteSpec defines the routes served on a set of entry points
type IngressRouteSpec struct {
	// EntryPoints restricts the route to the named Traefik entry points
	EntryPoints []string `json:"entryPoints,omitempty"`
	// Routes is the list of matching rules
	Routes []Route `json:"routes"`
	// TLS enables TLS termination with the given secret
	TLS *TLS `json:"tls,omitempty"`
}

// DeepCopyInto copies all properties of this object into another object of the same type
func (in *IngressRouteSpec) DeepCopyInto(out *IngressRouteSpec) {
	*out = *in
	if in.EntryPoints != nil {
		out.EntryPoints = append([]string(nil), in.EntryPoints...)
	}
	if in.Routes != nil {
		out.Routes = make([]Route, len(in.Routes))
		for i := range in.Routes {
			in.Routes[i].DeepCopyInto(&out.Routes[i])
		}
	}
	if in.TLS != nil {
		out.TLS = new(TLS)
		*out.TLS = *in.TLS
	}
}

// Route is one rule of an IngressRoute
type Route struct {
	// Match is the Traefik rule, e.g. Host(`a.example.com`) && PathPrefix(`/api`)
	Match string `json:"match"`
	// Kind is always "Rule"
	Kind     string `json:"kind"`
	Priority int    `json:"priority,omitempty"`
	// Services receive the matched traffic
	Services []Service `json:"services,omitempty"`
	// Middlewares run in order before the request is forwarded
	Middlewares []MiddlewareRef `json:"middlewares,omitempty"`
}

// DeepCopyInto copies all properties of this object into another object of the same type
func (in *Route) DeepCopyInto(out *Route) {
	*out = *in
	if in.Services != nil {
		out.Services = append([]Service(nil), in.Services...)
	}
	if in.Middlewares != nil {
		out.Middlewares = append([]MiddlewareRef(nil), in.Middlewares...)
	}
}

// Service is a Kubernetes service backend
type Service struct {
	Name      string             `json:"name"`
	Namespace string             `json:"namespace,omitempty"`
	Port      intstr.IntOrString `json:"port"`
}

// MiddlewareRef references a Middleware by name
type MiddlewareRef struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace,omitempty"`
}

// TLS configures certificate-based termination
type TLS struct {
	SecretName string `json:"secretName,omitempty"`
}

// Middleware is a Traefik HTTP middleware
// +kubebuilder:object:root=true
type Middleware struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`
	Spec              MiddlewareSpec `json:"spec"`
}

// DeepCopyObject returns a deep copy of the Middleware
func (in *Middleware) DeepCopyObject() runtime.Object {
	if in == nil {
		return nil
	}
	return in.DeepCopy()
}

// DeepCopyInto copies all properties of this object into another object of the same type
func (in *Middleware) DeepCopyInto(out *Middleware) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ObjectMeta.DeepCopyInto(&out.ObjectMeta)
	in.Spec.DeepCopyInto(&out.Spec)
}

// DeepCopy returns a deep copy of the Middleware
func (in *Middleware) DeepCopy() *Middleware {
	if in == nil {
		return nil
	}
	out := new(Middleware)
	in.DeepCopyInto(out)
	return out
}

// MiddlewareList is a list of Middleware resources
// +kubebuilder:object:root=true
type MiddlewareList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Middleware `json:"items"`
}

// DeepCopyObject returns a deep copy of the MiddlewareList
func (in *MiddlewareList) DeepCopyObject() runtime.Object {
	if in == nil {
		return nil
	}
	out := new(MiddlewareList)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyInto copies all properties of this object into another object of the same type
func (in *MiddlewareList) DeepCopyInto(out *MiddlewareList) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ListMeta.DeepCopyInto(&out.ListMeta)
	if in.Items != nil {
		in, out := &in.Items, &out.Items
		*out = make([]Middleware, len(*in))
		for i := range *in {
			(*in)[i].DeepCopyInto(&(*out)[i])
		}
	}
}

// MiddlewareSpec holds exactly one middleware configuration
type MiddlewareSpec struct {
	StripPrefix *StripPrefix `json:"stripPrefix,omitempty"`
}

// DeepCopyInto copies all properties of this object into another object of the same type
func (in *MiddlewareSpec) DeepCopyInto(out *MiddlewareSpec) {
	*out = *in
	if in.StripPrefix != nil {
		out.StripPrefix = &StripPrefix{Prefixes: append([]string(nil), in.StripPrefix.Prefixes...)}
	}
}

// StripPrefix removes path prefixes before forwarding
type StripPrefix struct {
	Prefixes []string `json:"prefixes"`
}
