// Package handlers implements the JSON HTTP interface on top of services.
package handlers

import (
	"errors"

	"sure_app_go/services"
	"sure_app_go/services/queue"
)

var (
	errQueueMissing   = errors.New("no task queue configured")
	errStorageMissing = errors.New("no storage provider configured")
)

var (
	smsSender services.SMSSender = services.LogSender{}
	taskQueue queue.Queue
)

// Configure sets the SMS gateway and task queue used by the handlers
func Configure(sender services.SMSSender, q queue.Queue) {
	if sender != nil {
		smsSender = sender
	}
	taskQueue = q
}
