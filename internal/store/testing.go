// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package store

import (
	"fmt"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

// MakeTestSQLStore creates a migrated, in-memory store for tests.
func MakeTestSQLStore(tb testing.TB, logger log.FieldLogger) *SQLStore {
	dsn := fmt.Sprintf("sqlite3://file:%s.db?mode=memory&cache=shared", model.NewID())

	sqlStore, err := New(dsn, logger)
	require.NoError(tb, err)

	err = sqlStore.Migrate()
	require.NoError(tb, err)

	return sqlStore
}
