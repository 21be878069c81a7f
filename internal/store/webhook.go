// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package store

import (
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

const webhookTable = "Webhook"

var webhookSelect = sq.Select("ID", "OwnerID", "URL", "CreateAt", "DeleteAt").From(webhookTable)

// CreateWebhook records the given webhook.
func (sqlStore *SQLStore) CreateWebhook(webhook *model.Webhook) error {
	webhook.ID = model.NewID()
	webhook.CreateAt = model.GetMillis()

	_, err := sqlStore.execBuilder(sqlStore.db, sq.
		Insert(webhookTable).
		SetMap(map[string]interface{}{
			"ID":       webhook.ID,
			"OwnerID":  webhook.OwnerID,
			"URL":      webhook.URL,
			"CreateAt": webhook.CreateAt,
			"DeleteAt": 0,
		}),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create webhook")
	}

	return nil
}

// GetWebhook fetches the given webhook by id.
func (sqlStore *SQLStore) GetWebhook(id string) (*model.Webhook, error) {
	var webhook model.Webhook
	err := sqlStore.getBuilder(sqlStore.db, &webhook, webhookSelect.Where("ID = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "failed to get webhook by id")
	}

	return &webhook, nil
}

// GetWebhooks fetches the webhooks matching the filter.
func (sqlStore *SQLStore) GetWebhooks(filter *model.WebhookFilter) ([]*model.Webhook, error) {
	builder := webhookSelect.OrderBy("CreateAt ASC")
	if filter != nil {
		if filter.OwnerID != "" {
			builder = builder.Where("OwnerID = ?", filter.OwnerID)
		}
		if !filter.IncludeDeleted {
			builder = builder.Where("DeleteAt = 0")
		}
	} else {
		builder = builder.Where("DeleteAt = 0")
	}

	var webhooks []*model.Webhook
	err := sqlStore.selectBuilder(sqlStore.db, &webhooks, builder)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query webhooks")
	}

	return webhooks, nil
}

// DeleteWebhook marks the given webhook as deleted, but does not remove the
// record from the database.
func (sqlStore *SQLStore) DeleteWebhook(id string) error {
	_, err := sqlStore.execBuilder(sqlStore.db, sq.
		Update(webhookTable).
		Set("DeleteAt", model.GetMillis()).
		Where("ID = ?", id).
		Where("DeleteAt = 0"),
	)
	if err != nil {
		return errors.Wrap(err, "failed to mark webhook as deleted")
	}

	return nil
}
