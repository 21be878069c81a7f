// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package events

import (
	"bytes"
	"net/http"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

type webhookStore interface {
	GetWebhooks(filter *model.WebhookFilter) ([]*model.Webhook, error)
}

// SendToAllWebhooks sends a given payload to all webhooks.
func SendToAllWebhooks(store webhookStore, payload *model.WebhookPayload, logger log.FieldLogger) error {
	hooks, err := store.GetWebhooks(&model.WebhookFilter{})
	if err != nil {
		return errors.Wrap(err, "failed to find webhooks")
	}

	sendWebhooks(hooks, payload, logger)

	return nil
}

// sendWebhooks sends webhooks via fire-and-forget goroutines. The
// send-webhook failures are logged, but not handled.
func sendWebhooks(hooks []*model.Webhook, payload *model.WebhookPayload, logger log.FieldLogger) {
	if len(hooks) == 0 {
		return
	}

	logger.Debugf("Sending %d webhook(s)", len(hooks))

	for _, hook := range hooks {
		go func(hook *model.Webhook) {
			_ = sendWebhook(hook, payload, logger)
		}(hook)
	}
}

func sendWebhook(hook *model.Webhook, payload *model.WebhookPayload, logger log.FieldLogger) error {
	payloadStr, err := payload.ToJSON()
	if err != nil {
		logger.WithField("webhookURL", hook.URL).WithError(err).Error("Unable to create payload string to send to webhook")
		return errors.Wrap(err, "unable to create payload string to send to webhook")
	}

	req, err := http.NewRequest(http.MethodPost, hook.URL, bytes.NewBufferString(payloadStr))
	if err != nil {
		logger.WithField("webhookURL", hook.URL).WithError(err).Error("Unable to create request")
		return errors.Wrap(err, "unable to create request from payload")
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		logger.WithField("webhookURL", hook.URL).WithError(err).Error("Unable to send webhook")
		return errors.Wrap(err, "unable to send webhook")
	}
	defer resp.Body.Close()

	return nil
}
