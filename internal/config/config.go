// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config is the ambient configuration layer (SPEC_FULL.md AMBIENT
// STACK), adapted from the teacher's internal/config: a package-level Keys
// struct populated from a JSON file and validated eagerly against an
// embedded jsonschema document before any of C3/C4/C6/C7 start up.
package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/icsfxd/icsfx/internal/log"
	"github.com/icsfxd/icsfx/internal/natsbus"
	"github.com/icsfxd/icsfx/store/memstore"
)

// configSchema validates the on-disk config document. Only the fields a
// process actually needs at startup are required; everything else carries a
// conservative zero-value default below.
const configSchema = `{
  "type": "object",
  "required": ["replicaStore"],
  "properties": {
    "replicaStore": {"type": "string"},
    "namedPropStore": {"type": "string"},
    "logLevel": {"type": "string", "enum": ["debug", "info", "notice", "warn", "err", "crit"]},
    "logDate": {"type": "boolean"},
    "metricsAddr": {"type": "string"},
    "checkpointInterval": {"type": "string"},
    "cacheWarmUpInterval": {"type": "string"},
    "cacheWarmUpMaxMappedID": {"type": "integer", "minimum": 0, "maximum": 65535},
    "seedFile": {"type": "string"},
    "nats": {
      "type": "object",
      "properties": {
        "address": {"type": "string"},
        "username": {"type": "string"},
        "password": {"type": "string"},
        "credsFilePath": {"type": "string"}
      }
    },
    "attachmentBlobStore": {
      "type": "object",
      "properties": {
        "bucket": {"type": "string"},
        "endpoint": {"type": "string"}
      }
    }
  }
}`

// Config is the full set of keys a icsfxd process reads at startup.
type Config struct {
	ReplicaStore   string `json:"replicaStore"`   // memstore sqlite3 DB path (spec §6 reference store)
	NamedPropStore string `json:"namedPropStore"` // namedprop registry sqlite3 DB path (spec §4.3)

	LogLevel string `json:"logLevel"`
	LogDate  bool   `json:"logDate"`

	// MetricsAddr, when non-empty, is where the Prometheus registry built
	// around metrics.Registry is exposed (e.g. "localhost:9469"). Empty
	// disables the endpoint entirely.
	MetricsAddr string `json:"metricsAddr"`

	// CheckpointInterval and CacheWarmUpInterval are time.ParseDuration
	// strings driving the maintenance scheduler's two jobs (spec §5 "cn
	// allocator must be atomic" + "process-wide mutable state").
	CheckpointInterval     string `json:"checkpointInterval"`
	CacheWarmUpInterval    string `json:"cacheWarmUpInterval"`
	CacheWarmUpMaxMappedID uint16 `json:"cacheWarmUpMaxMappedID"`

	SeedFile string `json:"seedFile"` // optional namedprop.Bootstrap seed descriptor (spec §4.3)

	NATS                natsbus.Config      `json:"nats"`
	AttachmentBlobStore AttachmentBlobStore `json:"attachmentBlobStore"`
}

// AttachmentBlobStore configures the optional S3-compatible large-attachment
// offload (SPEC_FULL.md DOMAIN STACK, store/memstore.S3BlobStore). Bucket
// empty means no blob store: attachments stay inline regardless of size.
type AttachmentBlobStore struct {
	Bucket   string `json:"bucket"`
	Endpoint string `json:"endpoint"`
}

// Keys holds the process-wide configuration, populated by Init. Defaults are
// conservative enough that a process can start against a throwaway sqlite
// file with no config at all.
var Keys = Config{
	ReplicaStore:           "./var/replica.db",
	NamedPropStore:         "./var/namedprop.db",
	LogLevel:               "info",
	CheckpointInterval:     "5m",
	CacheWarmUpInterval:    "15m",
	CacheWarmUpMaxMappedID: 0x8400, // first 1024 assignable mapped ids
}

// Init loads flagConfigFile into Keys, validating it against configSchema.
// A missing file is not an error: Init leaves the built-in defaults above in
// place, mirroring the teacher's internal/config.Init behavior for an absent
// cluster config.
func Init(flagConfigFile string) error {
	raw, err := os.ReadFile(flagConfigFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if err := validate(raw); err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		return err
	}

	log.SetLogLevel(Keys.LogLevel)
	log.SetLogDateTime(Keys.LogDate)
	return nil
}

var compiledConfigSchema *jsonschema.Schema

func init() {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("config.json", bytes.NewReader([]byte(configSchema))); err != nil {
		panic(fmt.Sprintf("config: invalid embedded config schema: %v", err))
	}
	s, err := c.Compile("config.json")
	if err != nil {
		panic(fmt.Sprintf("config: config schema compile: %v", err))
	}
	compiledConfigSchema = s
}

func validate(raw []byte) error {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return compiledConfigSchema.Validate(doc)
}

// OpenReplicaStore opens (and migrates) the configured reference store
// backend database.
func OpenReplicaStore() (*memstore.Store, error) {
	db, err := memstore.Open(Keys.ReplicaStore)
	if err != nil {
		return nil, err
	}

	var blobs memstore.BlobStore
	if Keys.AttachmentBlobStore.Bucket != "" {
		b, err := memstore.NewS3BlobStore(context.Background(), Keys.AttachmentBlobStore.Bucket, Keys.AttachmentBlobStore.Endpoint)
		if err != nil {
			db.Close()
			return nil, err
		}
		blobs = b
	}
	return memstore.New(db, blobs), nil
}
