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

// Package credentials shapes database credentials into tenant secrets and
// resolves shared credential keys.
//
// The engine is inferred once from the connection string scheme and then
// drives which environment aliases are written:
//
//	postgres:// or postgresql://   POSTGRES_URL, POSTGRESQL_URL, POSTGRES_USER,
//	                               POSTGRES_PASSWORD, POSTGRES_DB, PGDATABASE
//	anything else (Mongo-style)    MONGODB_URI, MONGO_URL, MONGO_URI,
//	                               MONGO_USERNAME, MONGO_PASSWORD, MONGO_DATABASE
//
// DATABASE_URL and DB_USERNAME/DB_PASSWORD/DB_NAME are always written, so an
// application can read either the generic or the engine-specific names.
//
// A Source resolves a shared credential key. SecretStore reads a Secret of
// the same name from the platform namespace, Static serves a fixed map and
// Chain falls through a list of sources.
package credentials
