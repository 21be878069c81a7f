// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package store

import (
	"github.com/blang/semver"
	"github.com/pkg/errors"
)

// LatestVersion returns the version to which the last migration migrates.
func LatestVersion() semver.Version {
	return migrations[len(migrations)-1].toVersion
}

// Migrate advances the schema of the configured database to the latest version.
func (sqlStore *SQLStore) Migrate() error {
	var currentVersion semver.Version
	if systemTableExists, err := sqlStore.tableExists("System"); err != nil {
		return errors.Wrap(err, "failed to check if system table exists")
	} else if systemTableExists {
		currentVersion, err = sqlStore.getCurrentVersion()
		if err != nil {
			return err
		}
	}

	sqlStore.logger.Infof(
		"Schema version is %s, latest version is %s",
		currentVersion,
		LatestVersion(),
	)

	applied := 0
	for _, migration := range migrations {
		if !currentVersion.EQ(migration.fromVersion) {
			continue
		}

		err := func() error {
			sqlStore.logger.Infof("Migrating schema from %s to %s", currentVersion, migration.toVersion)
			tx, err := sqlStore.db.Beginx()
			if err != nil {
				return errors.Wrapf(err, "failed to begin applying target version %s", migration.toVersion)
			}
			defer tx.Rollback()

			err = migration.migrationFunc(tx)
			if err != nil {
				return errors.Wrapf(err, "failed to apply target version %s", migration.toVersion)
			}

			err = sqlStore.setSystemValue(tx, "DatabaseVersion", migration.toVersion.String())
			if err != nil {
				return errors.Wrapf(err, "failed to record target version %s", migration.toVersion)
			}

			err = tx.Commit()
			if err != nil {
				return errors.Wrapf(err, "failed to commit target version %s", migration.toVersion)
			}

			return nil
		}()
		if err != nil {
			return err
		}

		currentVersion = migration.toVersion
		applied++
	}

	if applied > 0 {
		sqlStore.logger.Infof("Applied %d migrations", applied)
	}

	return nil
}

// getCurrentVersion queries the System table for the current schema version.
func (sqlStore *SQLStore) getCurrentVersion() (semver.Version, error) {
	value, err := sqlStore.getSystemValue(sqlStore.db, "DatabaseVersion")
	if err != nil {
		return semver.Version{}, errors.Wrap(err, "failed to query database version")
	}
	if value == "" {
		return semver.Version{}, nil
	}

	version, err := semver.Parse(value)
	if err != nil {
		return semver.Version{}, errors.Wrapf(err, "failed to parse database version %s", value)
	}

	return version, nil
}
