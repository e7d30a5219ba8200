/*
Copyright 2024 NSL Labs

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

// Package router contains constants shared across the nsl-router
// control plane.
package router

import "strings"

const (
	// ComponentKey is the log field that carries the component name.
	ComponentKey = "component"

	// ComponentWeb is the HTTP API server.
	ComponentWeb = "web"

	// ComponentAuthority is the certificate authority.
	ComponentAuthority = "ca"

	// ComponentAuth is the signature and token authenticators.
	ComponentAuth = "auth"

	// ComponentRoutes is the route lease store.
	ComponentRoutes = "routes"

	// ComponentIdentity is the identity registry.
	ComponentIdentity = "identity"

	// ComponentCleanup is the inactive domain cleanup controller.
	ComponentCleanup = "cleanup"

	// ComponentEvents is the domain audit log.
	ComponentEvents = "events"
)

const (
	// ProductName is used as the CA certificate common name.
	ProductName = "nsl-router"

	// OrgName is used as the CA certificate organization.
	OrgName = "NSL Labs"

	// OrgUnit is used as the CA certificate organizational unit.
	OrgUnit = "mesh"
)

// Component generates "component:subcomponent1:subcomponent2" strings
// used in logging.
func Component(components ...string) string {
	return strings.Join(components, ":")
}
