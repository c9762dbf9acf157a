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

package credentials

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mikelane/tenantd/internal/errdefs"
)

// Engine is the database engine inferred from a connection string.
type Engine int

const (
	EngineMongo Engine = iota
	EnginePostgres
)

func (e Engine) String() string {
	switch e {
	case EnginePostgres:
		return "postgres"
	default:
		return "mongo"
	}
}

// DetectEngine infers the engine from the connection string's scheme.
// postgres:// and postgresql:// mean Postgres; anything else is Mongo-style.
func DetectEngine(connectionString string) Engine {
	s := strings.ToLower(strings.TrimSpace(connectionString))
	if strings.HasPrefix(s, "postgres://") || strings.HasPrefix(s, "postgresql://") {
		return EnginePostgres
	}
	return EngineMongo
}

// Credentials is the connection information for a tenant's data store.
type Credentials struct {
	ConnectionString string `json:"connectionString"`
	Username         string `json:"username,omitempty"`
	Password         string `json:"password,omitempty"`
	DatabaseName     string `json:"databaseName,omitempty"`
}

// Engine returns the engine inferred from the connection string.
func (c Credentials) Engine() Engine {
	return DetectEngine(c.ConnectionString)
}

// Validate rejects credentials without a connection string.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.ConnectionString) == "" {
		return &errdefs.ValidationError{Kind: "database credentials", Reason: "connection string is required"}
	}
	return nil
}

// Generic environment keys every consumer can rely on.
const (
	KeyDatabaseURL = "DATABASE_URL"
	KeyDBUsername  = "DB_USERNAME"
	KeyDBPassword  = "DB_PASSWORD"
	KeyDBName      = "DB_NAME"
)

type aliasSet struct {
	urls     []string
	username string
	password string
	database []string
}

var engineAliases = map[Engine]aliasSet{
	EnginePostgres: {
		urls:     []string{"POSTGRES_URL", "POSTGRESQL_URL"},
		username: "POSTGRES_USER",
		password: "POSTGRES_PASSWORD",
		database: []string{"POSTGRES_DB", "PGDATABASE"},
	},
	EngineMongo: {
		urls:     []string{"MONGODB_URI", "MONGO_URL", "MONGO_URI"},
		username: "MONGO_USERNAME",
		password: "MONGO_PASSWORD",
		database: []string{"MONGO_DATABASE"},
	},
}

// Keys shapes credentials into environment variables: DATABASE_URL and the
// generic DB_* keys, plus the aliases of the detected engine. Empty optional
// values are omitted; DATABASE_URL is always present.
func Keys(c Credentials) map[string]string {
	engine := c.Engine()
	aliases := engineAliases[engine]

	keys := map[string]string{KeyDatabaseURL: c.ConnectionString}
	for _, k := range aliases.urls {
		keys[k] = c.ConnectionString
	}

	set := func(value string, names ...string) {
		if value == "" {
			return
		}
		for _, n := range names {
			keys[n] = value
		}
	}
	set(c.Username, KeyDBUsername, aliases.username)
	set(c.Password, KeyDBPassword, aliases.password)
	set(c.DatabaseName, append([]string{KeyDBName}, aliases.database...)...)

	return keys
}

// GenerateSecret returns n random bytes, hex encoded. Used for per-tenant JWT
// and session secrets.
func GenerateSecret(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
