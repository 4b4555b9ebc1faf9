// uProxy-p2p - Social network based peer-to-peer proxying
// Copyright (c) 2026 The uProxy-p2p Authors. All rights reserved.

package uproxy

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gitee-cn/uProxy-p2p/store"
	"github.com/google/uuid"
)

const (
	// dbInstancePrefix is the database key prefix for the local user's own
	// instance record, keyed by network and user id.
	dbInstancePrefix = "instance-"

	// dbRosterPrefix is the database key prefix for roster membership
	// records, keyed by network, local user id and contact id.
	dbRosterPrefix = "roster-"
)

// instanceRecord is the local user's application-level identity on one
// network. It is minted once on first login and reused afterwards.
type instanceRecord struct {
	InstanceID string `json:"instanceId"` // Stable application-level identity
	ClientID   string `json:"clientId"`   // Transport assigned client id of the last login
	Created    int64  `json:"created"`    // Unix millis the record was minted at
}

// rosterRecord is the persisted membership entry for one remote contact,
// enough to restore a skeleton roster before any live event arrives.
type rosterRecord struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// instanceKey derives the storage key of the local instance record.
func instanceKey(network, userID string) string {
	return dbInstancePrefix + network + "-" + userID
}

// rosterKeyPrefix derives the storage namespace of one session's roster.
func rosterKeyPrefix(network, userID string) string {
	return dbRosterPrefix + network + "-" + userID + "-"
}

// loadOrCreateInstance retrieves the previously persisted local instance
// record for a (network, user) pair, minting and persisting a fresh one if
// none exists. This is a single best-effort attempt: a failing store does not
// block the login, it only costs instance stability across restarts.
func loadOrCreateInstance(db store.Store, network, userID string, now int64, logger log.Logger) *instanceRecord {
	if db == nil {
		return &instanceRecord{InstanceID: uuid.NewString(), Created: now}
	}
	key := instanceKey(network, userID)

	if blob, err := db.Get(key); err == nil {
		record := new(instanceRecord)
		if err := json.Unmarshal(blob, record); err == nil {
			logger.Debug("Loaded local instance record", "instance", record.InstanceID)
			return record
		}
		logger.Warn("Corrupted local instance record, reminting", "key", key)
	}
	record := &instanceRecord{
		InstanceID: uuid.NewString(),
		Created:    now,
	}
	saveInstance(db, network, userID, record, logger)

	logger.Info("Minted local instance record", "instance", record.InstanceID)
	return record
}

// saveInstance persists the local instance record, best effort.
func saveInstance(db store.Store, network, userID string, record *instanceRecord, logger log.Logger) {
	if db == nil {
		return
	}
	blob, err := json.Marshal(record)
	if err != nil {
		logger.Error("Failed to marshal instance record", "err", err)
		return
	}
	if err := db.Put(instanceKey(network, userID), blob); err != nil {
		logger.Warn("Failed to persist instance record", "err", err)
	}
}
