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

package identity

import (
	"context"
	"errors"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nsl-labs/router/lib/defaults"
	"github.com/nsl-labs/router/lib/services"
)

// identityDocument is the wire shape of one record in the identity
// collection. The user id is the document id.
type identityDocument struct {
	UserID                  string `bson:"_id"`
	services.IdentityRecord `bson:",inline"`
}

// MongoRegistry implements services.Identities over a mongo
// collection. Uniqueness of domainName is enforced at write time by
// querying before writing; races are the store's responsibility.
type MongoRegistry struct {
	coll  *mongo.Collection
	clock clockwork.Clock
}

// MongoRegistryConfig configures a MongoRegistry.
type MongoRegistryConfig struct {
	// Database is the mongo database holding the identity collection.
	Database *mongo.Database
	// Clock overrides the time source, used in tests.
	Clock clockwork.Clock
}

// NewMongoRegistry returns a registry reading and writing the
// nsl-router collection of the given database.
func NewMongoRegistry(cfg MongoRegistryConfig) (*MongoRegistry, error) {
	if cfg.Database == nil {
		return nil, trace.BadParameter("missing parameter Database")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &MongoRegistry{
		coll:  cfg.Database.Collection(defaults.IdentityCollection),
		clock: cfg.Clock,
	}, nil
}

// GetByID returns the record for a user id.
func (r *MongoRegistry) GetByID(ctx context.Context, userID string) (*services.IdentityRecord, error) {
	var doc identityDocument
	err := r.coll.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, trace.NotFound("user %q not found", userID)
		}
		return nil, trace.Wrap(err)
	}
	return &doc.IdentityRecord, nil
}

// GetByDomain returns the user id and record owning a label.
func (r *MongoRegistry) GetByDomain(ctx context.Context, label string) (string, *services.IdentityRecord, error) {
	var doc identityDocument
	err := r.coll.FindOne(ctx, bson.M{"domainName": label}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", nil, trace.NotFound("domain %q not found", label)
		}
		return "", nil, trace.Wrap(err)
	}
	return doc.UserID, &doc.IdentityRecord, nil
}

// CheckAvailability reports whether a label can be allocated.
func (r *MongoRegistry) CheckAvailability(ctx context.Context, label string) (*services.Availability, error) {
	return checkAvailability(ctx, r, label)
}

// Upsert merge-writes a partial update, creating the record if needed.
func (r *MongoRegistry) Upsert(ctx context.Context, userID string, update *services.IdentityUpdate) error {
	if update == nil || update.IsEmpty() {
		return trace.BadParameter("empty identity update for user %q", userID)
	}
	if update.DomainName != nil && *update.DomainName != "" {
		if err := checkDomainOwnership(ctx, r, userID, *update.DomainName); err != nil {
			return trace.Wrap(err)
		}
	}
	set := bson.M{}
	if update.DomainName != nil {
		set["domainName"] = *update.DomainName
	}
	if update.ServerDomain != nil {
		set["serverDomain"] = *update.ServerDomain
	}
	if update.PublicKey != nil {
		set["publicKey"] = *update.PublicKey
	}
	if update.LastSeenOnline != nil {
		set["lastSeenOnline"] = *update.LastSeenOnline
	}
	if update.LastRouteRegistration != nil {
		set["lastRouteRegistration"] = *update.LastRouteRegistration
	}
	_, err := r.coll.UpdateByID(ctx, userID, bson.M{"$set": set}, options.Update().SetUpsert(true))
	return trace.Wrap(err)
}

// Delete removes the record entirely.
func (r *MongoRegistry) Delete(ctx context.Context, userID string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": userID})
	if err != nil {
		return trace.Wrap(err)
	}
	if res.DeletedCount == 0 {
		return trace.NotFound("user %q not found", userID)
	}
	return nil
}

// ClearDomainAssignment unsets the domain name and public key while
// keeping the record.
func (r *MongoRegistry) ClearDomainAssignment(ctx context.Context, userID string) error {
	res, err := r.coll.UpdateByID(ctx, userID, bson.M{
		"$unset": bson.M{"domainName": "", "publicKey": ""},
	})
	if err != nil {
		return trace.Wrap(err)
	}
	if res.MatchedCount == 0 {
		return trace.NotFound("user %q not found", userID)
	}
	return nil
}

// TouchHeartbeat stamps LastSeenOnline with the current time.
func (r *MongoRegistry) TouchHeartbeat(ctx context.Context, userID string) (time.Time, error) {
	return r.touch(ctx, userID, "lastSeenOnline")
}

// TouchRouteRegistration stamps LastRouteRegistration.
func (r *MongoRegistry) TouchRouteRegistration(ctx context.Context, userID string) (time.Time, error) {
	return r.touch(ctx, userID, "lastRouteRegistration")
}

func (r *MongoRegistry) touch(ctx context.Context, userID, field string) (time.Time, error) {
	now := r.clock.Now().UTC()
	res, err := r.coll.UpdateByID(ctx, userID, bson.M{"$set": bson.M{field: now}})
	if err != nil {
		return time.Time{}, trace.Wrap(err)
	}
	if res.MatchedCount == 0 {
		return time.Time{}, trace.NotFound("user %q not found", userID)
	}
	return now, nil
}
