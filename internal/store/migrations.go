// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package store

import (
	"github.com/blang/semver"
)

type migration struct {
	fromVersion   semver.Version
	toVersion     semver.Version
	migrationFunc func(execer) error
}

// migrations defines the set of migrations necessary to advance the database
// to the latest expected version.
//
// Note that the canonical schema is currently obtained by applying all
// migrations to an empty database.
var migrations = []migration{
	{semver.MustParse("0.0.0"), semver.MustParse("0.1.0"), func(e execer) error {
		_, err := e.Exec(`
			CREATE TABLE System (
				Key VARCHAR(64) PRIMARY KEY,
				Value VARCHAR(1024) NULL
			);
		`)
		if err != nil {
			return err
		}

		_, err = e.Exec(`
			CREATE TABLE CacheEntry (
				Key VARCHAR(256) NOT NULL,
				Kind VARCHAR(32) NOT NULL,
				Layer VARCHAR(16) NOT NULL,
				SizeBytes BIGINT NOT NULL,
				CreatedAt BIGINT NOT NULL,
				LastAccessAt BIGINT NOT NULL,
				Hits BIGINT NOT NULL,
				TTLSeconds BIGINT NOT NULL,
				Priority INTEGER NOT NULL,
				PRIMARY KEY (Key, Kind)
			);
		`)
		if err != nil {
			return err
		}

		_, err = e.Exec(`
			CREATE TABLE StateChangeEvent (
				ID CHAR(26) PRIMARY KEY,
				ResourceID VARCHAR(64) NOT NULL,
				ResourceType VARCHAR(32) NOT NULL,
				OldState VARCHAR(32) NOT NULL,
				NewState VARCHAR(32) NOT NULL,
				Timestamp BIGINT NOT NULL,
				ExtraData BYTEA NULL
			);
		`)
		if err != nil {
			return err
		}
		_, err = e.Exec(`
			CREATE INDEX StateChangeEvent_ResourceID ON StateChangeEvent (ResourceID);
		`)
		if err != nil {
			return err
		}

		_, err = e.Exec(`
			CREATE TABLE Webhook (
				ID CHAR(26) PRIMARY KEY,
				OwnerID VARCHAR(64) NULL,
				URL VARCHAR(1024) NOT NULL,
				CreateAt BIGINT NOT NULL,
				DeleteAt BIGINT NOT NULL
			);
		`)
		if err != nil {
			return err
		}

		_, err = e.Exec(`
			CREATE TABLE RecoveryResult (
				ID CHAR(26) PRIMARY KEY,
				PatternID VARCHAR(64) NOT NULL,
				AppID VARCHAR(64) NULL,
				Action VARCHAR(128) NOT NULL,
				Category VARCHAR(32) NOT NULL,
				Severity VARCHAR(16) NOT NULL,
				Succeeded BOOLEAN NOT NULL,
				Message VARCHAR(1024) NULL,
				StartedAt BIGINT NOT NULL,
				ElapsedMS BIGINT NOT NULL
			);
		`)
		if err != nil {
			return err
		}

		return nil
	}},
}
